package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/conversa/engine/internal/condition"
	"github.com/conversa/engine/internal/contextasm"
	"github.com/conversa/engine/internal/enrichment"
	"github.com/conversa/engine/internal/llm"
	"github.com/conversa/engine/internal/orchestrator"
	"github.com/conversa/engine/internal/registry"
	"github.com/conversa/engine/internal/routing"
	"github.com/conversa/engine/internal/session"
	"github.com/conversa/engine/internal/state"
	"github.com/conversa/engine/internal/template"
	"github.com/conversa/engine/internal/toolexec"
)

// stubLLM always replies with the same plain-text response, enough to
// exercise the HTTP layer without any tool-call dispatch.
type stubLLM struct{ text string }

func (s stubLLM) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	return llm.Response{Text: s.text, StopReason: llm.StopReasonStop}, nil
}
func (s stubLLM) GetName() string { return "stub" }

func testAgents() []*registry.AgentConfig {
	return []*registry.AgentConfig{
		{
			ConfigID:    "felix",
			Name:        "Felix",
			Description: "root assistant",
			ModelConfig: registry.DefaultModelConfig(),
			Tools:       []registry.ToolConfig{{Name: "get_balance"}},
		},
	}
}

func newTestServer(t *testing.T) (*Server, *session.MemoryStore) {
	t.Helper()

	reg := registry.New(nil)
	if err := reg.Initialise(testAgents()); err != nil {
		t.Fatalf("registry init: %v", err)
	}

	gateway := toolexec.NewGatewayClient("http://localhost:0", time.Second, nil)
	renderer := template.New(nil)
	cond := condition.New(nil)
	stateMgr := state.New(reg, nil)
	tools := toolexec.New(gateway, renderer, nil)
	routingHandler := routing.New(reg, stateMgr, nil)
	enricher := enrichment.New(tools, nil)
	assembler := contextasm.New(contextasm.DefaultBudgets(), renderer, nil)
	store := session.NewMemoryStore(time.Hour, 100, nil)

	eng := orchestrator.New(reg, store, stateMgr, tools, routingHandler, enricher, assembler,
		stubLLM{text: "hello from felix"}, renderer, cond, nil, orchestrator.Config{RootAgentID: "felix"}, nil)

	chat := NewChatHandler(eng, store, reg, "felix")
	conversations := NewConversationsHandler(store)
	srv := NewServer(chat, conversations, HealthInfo{
		LLMModel:       "gpt-5.2",
		GatewayBaseURL: "http://localhost:0",
		AgentCount:     1,
		SessionCount:   store.Count,
	})
	return srv, store
}

func doRequest(srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.mux.ServeHTTP(rec, req)
	return rec
}

func TestHandleMessageEndToEnd(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodPost, "/chat/message", chatMessageRequest{UserID: "user-1", Message: "hi"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp orchestrator.TurnResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if resp.AssistantMessage != "hello from felix" {
		t.Fatalf("unexpected assistant message: %q", resp.AssistantMessage)
	}
	if resp.SessionID == "" {
		t.Fatalf("expected a session id")
	}
}

func TestHandleMessageRejectsMissingFields(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodPost, "/chat/message", chatMessageRequest{UserID: "", Message: ""})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSessionLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	createRec := doRequest(srv, http.MethodPost, "/chat/session", sessionCreateRequest{UserID: "user-2"})
	if createRec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", createRec.Code, createRec.Body.String())
	}
	var created sessionResponse
	if err := json.Unmarshal(createRec.Body.Bytes(), &created); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if created.CurrentAgentID != "felix" {
		t.Fatalf("expected root agent felix, got %q", created.CurrentAgentID)
	}

	getRec := doRequest(srv, http.MethodGet, "/chat/session/"+created.SessionID, nil)
	if getRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", getRec.Code)
	}

	endRec := doRequest(srv, http.MethodPost, "/chat/session/"+created.SessionID+"/end", nil)
	if endRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", endRec.Code)
	}
	var ended sessionResponse
	if err := json.Unmarshal(endRec.Body.Bytes(), &ended); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if ended.Status != "completed" {
		t.Fatalf("expected status completed, got %q", ended.Status)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/chat/session/does-not-exist", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestConversationsListAndDetailAndEvents(t *testing.T) {
	srv, _ := newTestServer(t)

	msgRec := doRequest(srv, http.MethodPost, "/chat/message", chatMessageRequest{UserID: "user-3", Message: "hi"})
	var turn orchestrator.TurnResponse
	if err := json.Unmarshal(msgRec.Body.Bytes(), &turn); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}

	listRec := doRequest(srv, http.MethodGet, "/conversations?user_id=user-3", nil)
	if listRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", listRec.Code)
	}
	var items []conversationListItem
	if err := json.Unmarshal(listRec.Body.Bytes(), &items); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if len(items) != 1 || items[0].SessionID != turn.SessionID {
		t.Fatalf("expected exactly the one session for user-3, got %+v", items)
	}

	detailRec := doRequest(srv, http.MethodGet, "/conversations/"+turn.SessionID, nil)
	if detailRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", detailRec.Code)
	}
	var detail conversationDetailResponse
	if err := json.Unmarshal(detailRec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if len(detail.Messages) != 2 {
		t.Fatalf("expected a user message and an assistant message, got %d", len(detail.Messages))
	}

	eventsRec := doRequest(srv, http.MethodGet, "/conversations/"+turn.SessionID+"/events", nil)
	if eventsRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", eventsRec.Code)
	}
	var events conversationEventsResponse
	if err := json.Unmarshal(eventsRec.Body.Bytes(), &events); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if len(events.Events) == 0 {
		t.Fatalf("expected at least one trace event")
	}
}

func TestConversationsNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/conversations/does-not-exist", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if resp.Status != "ok" {
		t.Fatalf("expected status ok, got %q", resp.Status)
	}
}
