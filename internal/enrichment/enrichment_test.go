package enrichment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/conversa/engine/internal/registry"
	"github.com/conversa/engine/internal/session"
	"github.com/conversa/engine/internal/template"
	"github.com/conversa/engine/internal/toolexec"
)

func newTestEnricher(t *testing.T, handler http.HandlerFunc) (*Enricher, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	gateway := toolexec.NewGatewayClient(srv.URL, 0, nil)
	executor := toolexec.New(gateway, template.New(nil), nil)
	return New(executor, nil), srv
}

func TestEnrichAgentLevelRequirement(t *testing.T) {
	e, srv := newTestEnricher(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": true, "data": {"numbers": ["5551234"]}}`))
	})
	defer srv.Close()

	agent := &registry.AgentConfig{
		ConfigID:            "topups",
		ContextRequirements: []string{"frequent_numbers"},
		Tools: []registry.ToolConfig{
			{Name: "get_frequent_numbers"},
		},
	}
	s := session.NewSession("user-1", "topups")

	data := e.Enrich(context.Background(), s, agent, nil, nil)
	if _, ok := data["frequent_numbers"]; !ok {
		t.Fatalf("expected frequent_numbers to be enriched, got %+v", data)
	}
}

func TestEnrichUnknownRequirementIsSoftFailure(t *testing.T) {
	e, srv := newTestEnricher(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": true, "data": {}}`))
	})
	defer srv.Close()

	agent := &registry.AgentConfig{ConfigID: "root", ContextRequirements: []string{"mystery_requirement"}}
	s := session.NewSession("user-1", "root")

	data := e.Enrich(context.Background(), s, agent, nil, nil)
	if len(data) != 0 {
		t.Fatalf("expected no enrichment for an unmapped requirement, got %+v", data)
	}
}

func TestEnrichOnEnterCallTool(t *testing.T) {
	e, srv := newTestEnricher(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": true, "data": {"rate": 17.5}}`))
	})
	defer srv.Close()

	agent := &registry.AgentConfig{
		ConfigID: "remittances",
		Tools:    []registry.ToolConfig{{Name: "get_exchange_rate"}},
	}
	state := &registry.SubflowStateConfig{
		StateID: "ask_amount",
		OnEnter: &registry.OnEnter{CallTool: "get_exchange_rate", StoreAs: "fx_rate"},
	}
	s := session.NewSession("user-1", "remittances")

	data := e.Enrich(context.Background(), s, agent, state, nil)
	if _, ok := data["fx_rate"]; !ok {
		t.Fatalf("expected on_enter.call_tool result stored under fx_rate, got %+v", data)
	}
}

func TestEnrichRoutingRequirementsSkipAlreadySatisfied(t *testing.T) {
	calls := 0
	e, srv := newTestEnricher(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"success": true, "data": {"list": []}}`))
	})
	defer srv.Close()

	agent := &registry.AgentConfig{
		ConfigID:            "remittances",
		ContextRequirements: []string{"recipient_list"},
		Tools:               []registry.ToolConfig{{Name: "list_recipients"}},
	}
	s := session.NewSession("user-1", "remittances")

	data := e.Enrich(context.Background(), s, agent, nil, []string{"recipient_list"})
	if calls != 1 {
		t.Fatalf("expected the routing-layer duplicate fetch to be skipped, got %d calls", calls)
	}
	if _, ok := data["recipient_list"]; !ok {
		t.Fatalf("expected recipient_list present from layer 1, got %+v", data)
	}
}
