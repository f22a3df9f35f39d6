// Package orchestrator implements the per-turn executor (spec.md §4.K):
// the single entry point that loads a session, assembles context, calls
// the LLM, dispatches the tool calls it returns, and persists the
// result. It is grounded on
// original_source/backend/app/core/orchestrator.py's handle_message, but
// its internal re-dispatch after a routing tool call (enter_agent,
// start_flow, navigation) carries an explicit depth counter: processTurn
// calls itself with depth+1 and returns a fixed fallback reply once the
// depth exceeds Config.RecursionMaxDepth, which keeps the bound testable.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/conversa/engine/internal/condition"
	"github.com/conversa/engine/internal/contextasm"
	"github.com/conversa/engine/internal/enrichment"
	"github.com/conversa/engine/internal/llm"
	"github.com/conversa/engine/internal/locale"
	"github.com/conversa/engine/internal/registry"
	"github.com/conversa/engine/internal/routing"
	"github.com/conversa/engine/internal/session"
	"github.com/conversa/engine/internal/state"
	"github.com/conversa/engine/internal/template"
	"github.com/conversa/engine/internal/toolexec"
	"github.com/conversa/engine/internal/trace"
)

// Default policy knobs, overridable per deployment via Config and
// internal/config.EngineConfig (configs/engine.yaml).
const (
	DefaultRecentMessageWindow        = 20
	DefaultCompactionMessageThreshold = 30
	DefaultRecursionMaxDepth          = 4
)

// Config holds the orchestrator's per-process policy knobs, distinct
// from any single agent's ModelConfig.
type Config struct {
	RootAgentID                string
	RecentMessageWindow        int
	CompactionMessageThreshold int
	RecursionMaxDepth          int
}

func (c Config) withDefaults() Config {
	if c.RecentMessageWindow <= 0 {
		c.RecentMessageWindow = DefaultRecentMessageWindow
	}
	if c.CompactionMessageThreshold <= 0 {
		c.CompactionMessageThreshold = DefaultCompactionMessageThreshold
	}
	if c.RecursionMaxDepth <= 0 {
		c.RecursionMaxDepth = DefaultRecursionMaxDepth
	}
	return c
}

// ToolCallRecord is the public summary of one dispatched tool call,
// surfaced on TurnResponse for callers (the web layer, tests) that don't
// need the tracer's full event detail.
type ToolCallRecord struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// TurnResponse is the result of one HandleMessage call, shaped for
// direct JSON encoding by internal/web's chat endpoints (spec.md §4.K,
// §6).
type TurnResponse struct {
	SessionID           string                       `json:"session_id"`
	AssistantMessage    string                       `json:"assistant_message"`
	AgentID             string                       `json:"agent_id"`
	AgentName           string                       `json:"agent_name"`
	ToolCalls           []ToolCallRecord             `json:"tool_calls,omitempty"`
	PendingConfirmation *session.PendingConfirmation `json:"pending_confirmation,omitempty"`
	FlowState           *session.FlowState           `json:"flow_state,omitempty"`
	Escalated           bool                         `json:"escalated"`
	DebugInfo           map[string]any               `json:"debug_info,omitempty"`
}

// Engine wires every turn-scoped collaborator together. It holds no
// per-turn state itself; HandleMessage acquires the session's lock for
// the whole of one turn, satisfying spec.md I1-I4.
type Engine struct {
	reg       *registry.Registry
	store     session.Store
	state     *state.Manager
	tools     *toolexec.Executor
	routing   *routing.Handler
	enrich    *enrichment.Enricher
	assembler *contextasm.Assembler
	llmClient llm.Client
	renderer  *template.Renderer
	cond      *condition.Evaluator
	compactor session.HistoryCompactor
	cfg       Config
	log       *zap.Logger
}

// New constructs an Engine from its collaborators. A nil compactor
// defaults to session.NoopCompactor{}, matching spec.md §1's framing of
// history compaction as an optional external collaborator.
func New(
	reg *registry.Registry,
	store session.Store,
	stateMgr *state.Manager,
	tools *toolexec.Executor,
	routingHandler *routing.Handler,
	enricher *enrichment.Enricher,
	assembler *contextasm.Assembler,
	llmClient llm.Client,
	renderer *template.Renderer,
	cond *condition.Evaluator,
	compactor session.HistoryCompactor,
	cfg Config,
	log *zap.Logger,
) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if compactor == nil {
		compactor = session.NoopCompactor{}
	}
	return &Engine{
		reg:       reg,
		store:     store,
		state:     stateMgr,
		tools:     tools,
		routing:   routingHandler,
		enrich:    enricher,
		assembler: assembler,
		llmClient: llmClient,
		renderer:  renderer,
		cond:      cond,
		compactor: compactor,
		cfg:       cfg.withDefaults(),
		log:       log,
	}
}

// HandleMessage processes one inbound user message end to end: session
// resolution, the pending-confirmation short-circuit, context assembly,
// the LLM call, tool-call dispatch (including the bounded internal
// re-dispatch after a routing tool fires), and persistence.
func (e *Engine) HandleMessage(ctx context.Context, userID, sessionID, message, acceptLanguage string) (TurnResponse, error) {
	sess, err := e.store.GetOrCreateSession(sessionID, userID, e.cfg.RootAgentID)
	if err != nil {
		return TurnResponse{}, fmt.Errorf("orchestrator: loading session: %w", err)
	}

	unlock := e.store.Lock(sess.SessionID)
	defer unlock()

	if sess.Language == "" {
		sess.Language = locale.Negotiate(acceptLanguage)
	}
	lang := sess.Language

	tr := trace.New("", message)
	tr.Trace(trace.CategorySession, "turn_started", "turn started", trace.WithData(map[string]any{
		"user_id":  userID,
		"agent_id": sess.CurrentAgentID(),
	}))

	if err := e.persistUserMessage(sess, message); err != nil {
		e.log.Warn("failed to persist user message", zap.String("session_id", sess.SessionID), zap.Error(err))
	}

	e.maybeCompact(sess)

	resp := e.processTurn(ctx, sess, message, lang, tr, 0, nil)

	e.state.IncrementMessageCount(sess)

	if err := e.persistAssistantMessage(sess, resp, tr); err != nil {
		e.log.Warn("failed to persist assistant message", zap.String("session_id", sess.SessionID), zap.Error(err))
	}
	if err := e.store.SaveSession(sess); err != nil {
		e.log.Warn("failed to save session", zap.String("session_id", sess.SessionID), zap.Error(err))
	}

	tr.SetResponse(resp.AssistantMessage)
	resp.SessionID = sess.SessionID
	resp.DebugInfo = map[string]any{"turn_id": tr.TurnID, "trace_event_count": tr.Len()}
	return resp, nil
}

func (e *Engine) persistUserMessage(sess *session.Session, message string) error {
	return e.store.AppendMessage(session.ConversationMessage{
		SessionID: sess.SessionID,
		UserID:    sess.UserID,
		Role:      session.RoleUser,
		Content:   message,
	})
}

func (e *Engine) persistAssistantMessage(sess *session.Session, resp TurnResponse, tr *trace.Tracer) error {
	metadata := map[string]any{
		"agent_id":     resp.AgentID,
		"turn_id":      tr.TurnID,
		"tool_calls":   resp.ToolCalls,
		"trace_events": tr.Events,
	}
	if resp.FlowState != nil {
		metadata["flow_id"] = resp.FlowState.FlowConfigID
		metadata["flow_state"] = resp.FlowState.CurrentStateID
	}
	return e.store.AppendMessage(session.ConversationMessage{
		SessionID: sess.SessionID,
		UserID:    sess.UserID,
		Role:      session.RoleAssistant,
		Content:   resp.AssistantMessage,
		Metadata:  metadata,
	})
}

// maybeCompact runs the configured HistoryCompactor when the session's
// message count has reached cfg.CompactionMessageThreshold (default 30)
// and the compactor itself agrees via ShouldCompact. It never blocks a
// turn on failure: a compaction error is logged and the turn proceeds
// with whatever summary (possibly none) was already stored.
func (e *Engine) maybeCompact(sess *session.Session) {
	if sess.MessageCount < e.cfg.CompactionMessageThreshold || !e.compactor.ShouldCompact(sess.MessageCount) {
		return
	}
	all, err := e.store.RecentMessages(sess.SessionID, 0)
	if err != nil || len(all) == 0 {
		return
	}
	summary, err := e.compactor.Compact(sess.UserID, all)
	if err != nil {
		e.log.Warn("history compaction failed", zap.String("user_id", sess.UserID), zap.Error(err))
		return
	}
	if summary == "" {
		return
	}
	if err := e.store.SaveCompactedHistory(&session.CompactedHistory{
		UserID:          sess.UserID,
		CompactedText:   summary,
		LastCompactedAt: time.Now().UTC(),
	}); err != nil {
		e.log.Warn("failed to save compacted history", zap.Error(err))
	}
}

func (e *Engine) compactedHistoryFor(userID string) string {
	if ch, ok := e.store.GetCompactedHistory(userID); ok {
		return ch.CompactedText
	}
	return ""
}

func (e *Engine) finalResponse(sess *session.Session, assistantMessage string, calls []ToolCallRecord) TurnResponse {
	agent, _ := e.reg.GetAgent(sess.CurrentAgentID())
	resp := TurnResponse{
		AssistantMessage:    assistantMessage,
		AgentID:             sess.CurrentAgentID(),
		ToolCalls:           calls,
		PendingConfirmation: sess.PendingConfirmation,
		FlowState:           sess.CurrentFlow,
		Escalated:           sess.Status == session.StatusEscalated,
	}
	if agent != nil {
		resp.AgentName = agent.Name
	}
	return resp
}
