package state

import (
	"testing"
	"time"

	"github.com/conversa/engine/internal/registry"
	"github.com/conversa/engine/internal/session"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	reg := registry.New(nil)
	agents := []*registry.AgentConfig{
		{
			ConfigID: "root",
			Name:     "Root",
			Subflows: []registry.SubflowConfig{
				{
					ConfigID:     "verify_phone",
					InitialState: "ask_number",
					StatesList: []registry.SubflowStateConfig{
						{StateID: "ask_number"},
						{StateID: "done", IsFinal: true},
					},
				},
			},
		},
		{ConfigID: "child", ParentAgentID: "root"},
	}
	if err := reg.Initialise(agents); err != nil {
		t.Fatalf("unexpected registry init error: %v", err)
	}
	return New(reg, nil)
}

func TestPushPopAgentClearsFlowAndConfirmation(t *testing.T) {
	m := newTestManager(t)
	s := session.NewSession("user-1", "root")
	s.CurrentFlow = &session.FlowState{FlowConfigID: "verify_phone", CurrentStateID: "ask_number"}
	s.PendingConfirmation = &session.PendingConfirmation{ToolName: "create_transfer"}

	m.PushAgent(s, "child", "user asked about child topic")

	if s.CurrentAgentID() != "child" {
		t.Fatalf("expected current agent child, got %q", s.CurrentAgentID())
	}
	if s.CurrentFlow != nil {
		t.Fatalf("expected flow to be cleared on push")
	}
	if s.PendingConfirmation != nil {
		t.Fatalf("expected pending confirmation to be cleared on push")
	}

	next := m.PopAgent(s)
	if next != "root" {
		t.Fatalf("expected pop to return root, got %q", next)
	}
	if len(s.AgentStack) != 1 {
		t.Fatalf("expected stack depth 1 after pop, got %d", len(s.AgentStack))
	}
}

func TestPopAgentNeverEmptiesStack(t *testing.T) {
	m := newTestManager(t)
	s := session.NewSession("user-1", "root")

	got := m.PopAgent(s)
	if got != "root" {
		t.Fatalf("expected popping the root frame to be a no-op, got %q", got)
	}
	if len(s.AgentStack) != 1 {
		t.Fatalf("expected agent stack to remain non-empty (I1), got depth %d", len(s.AgentStack))
	}
}

func TestGoHomeTruncatesStack(t *testing.T) {
	m := newTestManager(t)
	s := session.NewSession("user-1", "root")
	m.PushAgent(s, "child", "r1")
	m.PushAgent(s, "grandchild", "r2")

	got := m.GoHome(s)
	if got != "root" {
		t.Fatalf("expected go_home to land on root, got %q", got)
	}
	if len(s.AgentStack) != 1 {
		t.Fatalf("expected single-frame stack after go_home, got %d", len(s.AgentStack))
	}
}

func TestEscalateSetsStatusAndClearsState(t *testing.T) {
	m := newTestManager(t)
	s := session.NewSession("user-1", "root")
	s.CurrentFlow = &session.FlowState{FlowConfigID: "verify_phone"}

	m.Escalate(s, "user requested human")

	if s.Status != session.StatusEscalated {
		t.Fatalf("expected status escalated, got %q", s.Status)
	}
	if s.CurrentFlow != nil {
		t.Fatalf("expected flow cleared on escalation")
	}
}

func TestEnterAndTransitionSubflow(t *testing.T) {
	m := newTestManager(t)
	s := session.NewSession("user-1", "root")
	sf, ok := m.reg.GetSubflow("root", "verify_phone")
	if !ok {
		t.Fatalf("expected test subflow to resolve")
	}

	m.EnterSubflow(s, sf, map[string]any{"carrier_id": "telcel"})
	if s.CurrentFlow == nil || s.CurrentFlow.CurrentStateID != "ask_number" {
		t.Fatalf("expected flow to start at ask_number, got %+v", s.CurrentFlow)
	}
	if s.CurrentFlow.StateData["carrier_id"] != "telcel" {
		t.Fatalf("expected initial data to seed state data, got %+v", s.CurrentFlow.StateData)
	}

	doneState, ok := m.reg.GetFlowState("root", "verify_phone", "done")
	if !ok {
		t.Fatalf("expected done state to resolve")
	}
	if err := m.TransitionState(s, "done", doneState); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.CurrentFlow != nil {
		t.Fatalf("expected flow to exit after reaching a final state, got %+v", s.CurrentFlow)
	}
}

func TestTransitionStateWithoutFlowErrors(t *testing.T) {
	m := newTestManager(t)
	s := session.NewSession("user-1", "root")

	err := m.TransitionState(s, "anything", nil)
	if err == nil {
		t.Fatalf("expected an error when transitioning outside a flow")
	}
}

func TestUpdateFlowDataMergesWithoutClobbering(t *testing.T) {
	m := newTestManager(t)
	s := session.NewSession("user-1", "root")
	s.CurrentFlow = &session.FlowState{StateData: map[string]any{"carrier_id": "telcel"}}

	m.UpdateFlowData(s, map[string]any{"phone_number": "5551234"})

	if s.CurrentFlow.StateData["carrier_id"] != "telcel" {
		t.Fatalf("expected existing key to survive the merge")
	}
	if s.CurrentFlow.StateData["phone_number"] != "5551234" {
		t.Fatalf("expected new key to be merged in")
	}
}

func TestPendingConfirmationLifecycle(t *testing.T) {
	m := newTestManager(t)
	s := session.NewSession("user-1", "root")

	if !m.IsConfirmationExpired(s) {
		t.Fatalf("expected no pending confirmation to report expired")
	}

	m.SetPendingConfirmation(s, "create_transfer", map[string]any{"amount": 100}, "Confirm transfer?", 0)
	if m.IsConfirmationExpired(s) {
		t.Fatalf("expected freshly set confirmation to not be expired")
	}

	m.ClearPendingConfirmation(s)
	if s.PendingConfirmation != nil {
		t.Fatalf("expected pending confirmation to be cleared")
	}

	m.SetPendingConfirmation(s, "create_transfer", nil, "Confirm?", time.Millisecond)
	time.Sleep(2 * time.Millisecond)
	if !m.IsConfirmationExpired(s) {
		t.Fatalf("expected short-TTL confirmation to be expired")
	}
}

func TestIncrementMessageCount(t *testing.T) {
	m := newTestManager(t)
	s := session.NewSession("user-1", "root")
	before := s.LastInteractionAt

	m.IncrementMessageCount(s)

	if s.MessageCount != 1 {
		t.Fatalf("expected message count 1, got %d", s.MessageCount)
	}
	if !s.LastInteractionAt.After(before) && s.LastInteractionAt != before {
		t.Fatalf("expected last interaction timestamp to advance")
	}
}
