package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/conversa/engine/internal/llm"
)

func newTestClient(t *testing.T, srv *httptest.Server, maxRetries int) *Client {
	t.Helper()
	cfg := &Config{
		APIKey:      "test-key",
		BaseURL:     srv.URL,
		HTTPTimeout: 5 * time.Second,
		MaxRetries:  maxRetries,
		RetryBase:   time.Millisecond,
	}
	c, err := NewClient(cfg, nil)
	if err != nil {
		t.Fatalf("unexpected error building client: %v", err)
	}
	return c
}

func TestCompleteReturnsTextResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"1","object":"chat.completion","model":"gpt-5.2","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"hello there"}}],"usage":{"prompt_tokens":10,"completion_tokens":5}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 3)
	resp, err := c.Complete(context.Background(), llm.Request{SystemPrompt: "sys", Model: "gpt-5.2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "hello there" {
		t.Fatalf("expected text %q, got %q", "hello there", resp.Text)
	}
	if resp.StopReason != llm.StopReasonStop {
		t.Fatalf("expected stop reason stop, got %q", resp.StopReason)
	}
	if resp.InputTokens != 10 || resp.OutputTokens != 5 {
		t.Fatalf("expected token counts 10/5, got %d/%d", resp.InputTokens, resp.OutputTokens)
	}
}

func TestCompleteDecodesToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"1","object":"chat.completion","model":"gpt-5.2","choices":[{"index":0,"finish_reason":"tool_calls","message":{"role":"assistant","tool_calls":[{"id":"call_1","type":"function","function":{"name":"create_transfer","arguments":"{\"amount\":100}"}}]}}],"usage":{}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 3)
	resp, err := c.Complete(context.Background(), llm.Request{Model: "gpt-5.2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "create_transfer" {
		t.Fatalf("expected one create_transfer tool call, got %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].Arguments["amount"] != float64(100) {
		t.Fatalf("expected decoded amount 100, got %+v", resp.ToolCalls[0].Arguments)
	}
	if resp.StopReason != llm.StopReasonToolCalls {
		t.Fatalf("expected stop reason tool_calls, got %q", resp.StopReason)
	}
}

func TestCompleteMalformedToolArgumentsBecomeEmptyMap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"1","object":"chat.completion","model":"gpt-5.2","choices":[{"index":0,"finish_reason":"tool_calls","message":{"role":"assistant","tool_calls":[{"id":"call_1","type":"function","function":{"name":"create_transfer","arguments":"not json"}}]}}],"usage":{}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 3)
	resp, err := c.Complete(context.Background(), llm.Request{Model: "gpt-5.2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.ToolCalls[0].Arguments) != 0 {
		t.Fatalf("expected empty arguments map for malformed JSON, got %+v", resp.ToolCalls[0].Arguments)
	}
}

func TestCompleteRetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":{"message":"upstream unavailable"}}`))
			return
		}
		w.Write([]byte(`{"id":"1","object":"chat.completion","model":"gpt-5.2","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"recovered"}}],"usage":{}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 3)
	resp, err := c.Complete(context.Background(), llm.Request{Model: "gpt-5.2"})
	if err != nil {
		t.Fatalf("expected eventual success, got error: %v", err)
	}
	if resp.Text != "recovered" {
		t.Fatalf("expected recovered response text, got %q", resp.Text)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected 3 calls (2 failures + 1 success), got %d", calls)
	}
}

func TestCompleteDoesNotRetry4xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"bad request"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 3)
	_, err := c.Complete(context.Background(), llm.Request{Model: "gpt-5.2"})
	if err == nil {
		t.Fatalf("expected an error for a 4xx response")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected exactly one call (no retry on 4xx), got %d", calls)
	}
}
