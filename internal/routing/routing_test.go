package routing

import (
	"testing"

	"github.com/conversa/engine/internal/registry"
	"github.com/conversa/engine/internal/session"
	"github.com/conversa/engine/internal/state"
)

func newTestHandler(t *testing.T) (*Handler, *registry.Registry) {
	t.Helper()
	reg := registry.New(nil)
	agents := []*registry.AgentConfig{
		{
			ConfigID: "root",
			Tools: []registry.ToolConfig{
				{Name: "enter_topups", Routing: &registry.RoutingConfig{Type: registry.RoutingEnterAgent, Target: "topups"}},
				{Name: "start_flow_verify_phone", Routing: &registry.RoutingConfig{Type: registry.RoutingStartFlow, Target: "verify_phone"}},
				{Name: "go_up", Routing: &registry.RoutingConfig{Type: registry.RoutingNavigation, Target: registry.NavUpOneLevel}},
				{Name: "go_home", Routing: &registry.RoutingConfig{Type: registry.RoutingNavigation, Target: registry.NavGoHome}},
				{Name: "escalate", Routing: &registry.RoutingConfig{Type: registry.RoutingNavigation, Target: registry.NavEscalateToHuman}},
				{Name: "get_balance"},
			},
			Subflows: []registry.SubflowConfig{
				{
					ConfigID:     "verify_phone",
					InitialState: "ask_number",
					DataSchema:   map[string]any{"carrier_id": "string"},
					StatesList: []registry.SubflowStateConfig{
						{StateID: "ask_number"},
					},
				},
			},
			ContextRequirements: []string{"root_ctx"},
		},
		{ConfigID: "topups", ParentAgentID: "root", ContextRequirements: []string{"topups_ctx"}},
	}
	if err := reg.Initialise(agents); err != nil {
		t.Fatalf("unexpected registry init error: %v", err)
	}
	mgr := state.New(reg, nil)
	return New(reg, mgr, nil), reg
}

func TestHandleToolRoutingServicePassesThrough(t *testing.T) {
	h, _ := newTestHandler(t)
	s := session.NewSession("user-1", "root")

	outcome := h.HandleToolRouting("get_balance", nil, s, nil, "en", nil)
	if outcome.Handled {
		t.Fatalf("expected a plain service tool to be unhandled by routing")
	}
}

func TestHandleToolRoutingEnterAgent(t *testing.T) {
	h, _ := newTestHandler(t)
	s := session.NewSession("user-1", "root")

	outcome := h.HandleToolRouting("enter_topups", nil, s, nil, "en", nil)
	if !outcome.Handled || !outcome.StateChanged {
		t.Fatalf("expected enter_agent routing to be handled and change state, got %+v", outcome)
	}
	if s.CurrentAgentID() != "topups" {
		t.Fatalf("expected current agent to be topups, got %q", s.CurrentAgentID())
	}
	if len(outcome.ContextRequirements) != 1 || outcome.ContextRequirements[0] != "topups_ctx" {
		t.Fatalf("expected topups_ctx context requirement, got %+v", outcome.ContextRequirements)
	}
}

func TestHandleToolRoutingStartFlowExtractsInitialData(t *testing.T) {
	h, reg := newTestHandler(t)
	s := session.NewSession("user-1", "root")
	rootAgent, _ := reg.GetAgent("root")

	outcome := h.HandleToolRouting("start_flow_verify_phone", map[string]any{"carrier_id": "telcel", "phone_number": "5551234"}, s, rootAgent, "en", nil)

	if !outcome.Handled || !outcome.StateChanged {
		t.Fatalf("expected start_flow routing to be handled and change state, got %+v", outcome)
	}
	if s.CurrentFlow == nil || s.CurrentFlow.CurrentStateID != "ask_number" {
		t.Fatalf("expected flow to start at ask_number, got %+v", s.CurrentFlow)
	}
	if s.CurrentFlow.StateData["carrier_id"] != "telcel" {
		t.Fatalf("expected carrier_id seeded from data_schema, got %+v", s.CurrentFlow.StateData)
	}
	if s.CurrentFlow.StateData["phone_number"] != "5551234" {
		t.Fatalf("expected phone_number seeded from fallback aliases, got %+v", s.CurrentFlow.StateData)
	}
}

func TestHandleToolRoutingNavigationUpAndHome(t *testing.T) {
	h, reg := newTestHandler(t)
	s := session.NewSession("user-1", "root")
	rootAgent, _ := reg.GetAgent("root")

	h.HandleToolRouting("enter_topups", nil, s, rootAgent, "en", nil)
	if s.CurrentAgentID() != "topups" {
		t.Fatalf("expected topups after enter_agent, got %q", s.CurrentAgentID())
	}

	outcome := h.HandleToolRouting("go_up", nil, s, nil, "en", nil)
	if !outcome.Handled || !outcome.StateChanged {
		t.Fatalf("expected up_one_level to be handled and change state")
	}
	if s.CurrentAgentID() != "root" {
		t.Fatalf("expected root after up_one_level, got %q", s.CurrentAgentID())
	}

	h.HandleToolRouting("enter_topups", nil, s, rootAgent, "en", nil)
	outcome = h.HandleToolRouting("go_home", nil, s, nil, "en", nil)
	if !outcome.Handled || !outcome.StateChanged {
		t.Fatalf("expected go_home to be handled and change state")
	}
	if s.CurrentAgentID() != "root" || len(s.AgentStack) != 1 {
		t.Fatalf("expected a single root frame after go_home, got %+v", s.AgentStack)
	}
}

func TestHandleToolRoutingEscalation(t *testing.T) {
	h, _ := newTestHandler(t)
	s := session.NewSession("user-1", "root")

	outcome := h.HandleToolRouting("escalate", map[string]any{"reason": "wants a human"}, s, nil, "es", nil)

	if !outcome.Handled {
		t.Fatalf("expected escalation to be handled")
	}
	if outcome.StateChanged {
		t.Fatalf("expected escalation to not report a state change (conversation ends)")
	}
	if outcome.ResponseText == "" {
		t.Fatalf("expected a non-empty escalation response text")
	}
	if s.Status != session.StatusEscalated {
		t.Fatalf("expected session status escalated, got %q", s.Status)
	}
}
