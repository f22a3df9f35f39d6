package web

import (
	"log"
	"net/http"
	"strconv"

	"github.com/conversa/engine/internal/session"
	"github.com/conversa/engine/internal/trace"
	"github.com/conversa/engine/internal/util"
)

// ConversationsHandler serves the browse/inspect endpoints of spec.md §6:
// GET /conversations, GET /conversations/{id}, and
// GET /conversations/{id}/events. It reads trace events back out of the
// "trace_events" key internal/orchestrator.Engine stows on each
// assistant ConversationMessage's Metadata, rather than widening
// session.Store with an events-specific accessor.
type ConversationsHandler struct {
	store session.Store
}

func NewConversationsHandler(store session.Store) *ConversationsHandler {
	return &ConversationsHandler{store: store}
}

type conversationListItem struct {
	SessionID          string `json:"session_id"`
	UserID             string `json:"user_id"`
	Status             string `json:"status"`
	MessageCount       int    `json:"message_count"`
	CurrentAgentID     string `json:"current_agent_id"`
	CurrentFlow        string `json:"current_flow,omitempty"`
	CreatedAt          string `json:"created_at"`
	LastInteractionAt  string `json:"last_interaction_at"`
	LastMessagePreview string `json:"last_message_preview,omitempty"`
}

const previewRunes = 200

// HandleList serves GET /conversations?user_id=&status=&q=&limit=&offset=
func (h *ConversationsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	filter := session.SessionFilter{
		UserID: q.Get("user_id"),
		Status: session.Status(q.Get("status")),
		Query:  q.Get("q"),
		Limit:  atoiOr(q.Get("limit"), 50),
		Offset: atoiOr(q.Get("offset"), 0),
	}

	sessions, err := h.store.ListSessions(filter)
	if err != nil {
		log.Printf("[Conversations] list failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	items := make([]conversationListItem, 0, len(sessions))
	for _, sess := range sessions {
		item := conversationListItem{
			SessionID:         sess.SessionID,
			UserID:            sess.UserID,
			Status:            string(sess.Status),
			MessageCount:      sess.MessageCount,
			CurrentAgentID:    sess.CurrentAgentID(),
			CreatedAt:         sess.CreatedAt.Format(timeFormat),
			LastInteractionAt: sess.LastInteractionAt.Format(timeFormat),
		}
		if sess.CurrentFlow != nil {
			item.CurrentFlow = sess.CurrentFlow.CurrentStateID
		}
		if last, err := h.store.RecentMessages(sess.SessionID, 1); err == nil && len(last) == 1 {
			item.LastMessagePreview = util.TruncateRunes(last[0].Content, previewRunes)
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, items)
}

type conversationMessageItem struct {
	ID        string         `json:"id"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	CreatedAt string         `json:"created_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type conversationDetailResponse struct {
	SessionID         string                    `json:"session_id"`
	UserID            string                    `json:"user_id"`
	Status            string                    `json:"status"`
	CurrentAgentID    string                    `json:"current_agent_id"`
	CurrentFlow       string                    `json:"current_flow,omitempty"`
	MessageCount      int                       `json:"message_count"`
	CreatedAt         string                    `json:"created_at"`
	LastInteractionAt string                    `json:"last_interaction_at"`
	Messages          []conversationMessageItem `json:"messages"`
}

// HandleDetail serves GET /conversations/{id}.
func (h *ConversationsHandler) HandleDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := r.PathValue("id")
	sess, ok := h.store.GetSession(id)
	if !ok {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	msgs, err := h.store.RecentMessages(id, 0)
	if err != nil {
		log.Printf("[Conversations] detail failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}

	resp := conversationDetailResponse{
		SessionID:         sess.SessionID,
		UserID:            sess.UserID,
		Status:            string(sess.Status),
		CurrentAgentID:    sess.CurrentAgentID(),
		MessageCount:      sess.MessageCount,
		CreatedAt:         sess.CreatedAt.Format(timeFormat),
		LastInteractionAt: sess.LastInteractionAt.Format(timeFormat),
		Messages:          make([]conversationMessageItem, 0, len(msgs)),
	}
	if sess.CurrentFlow != nil {
		resp.CurrentFlow = sess.CurrentFlow.CurrentStateID
	}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, conversationMessageItem{
			ID:        m.ID,
			Role:      string(m.Role),
			Content:   m.Content,
			CreatedAt: m.CreatedAt.Format(timeFormat),
			Metadata:  stripTraceEvents(m.Metadata),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// stripTraceEvents copies metadata without the trace_events blob, which
// GET /conversations/{id}/events serves on its own — keeping the
// transcript endpoint's payload small.
func stripTraceEvents(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		if k == "trace_events" {
			continue
		}
		out[k] = v
	}
	return out
}

type conversationEventsResponse struct {
	SessionID string        `json:"session_id"`
	Events    []trace.Event `json:"events"`
}

// HandleEvents serves GET /conversations/{id}/events, flattening the
// per-turn trace events stowed on every assistant message's metadata
// (internal/orchestrator.Engine.persistAssistantMessage) into a single
// chronological list.
func (h *ConversationsHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := r.PathValue("id")
	sess, ok := h.store.GetSession(id)
	if !ok {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	msgs, err := h.store.RecentMessages(id, 0)
	if err != nil {
		log.Printf("[Conversations] events failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load conversation events")
		return
	}

	var events []trace.Event
	for _, m := range msgs {
		if m.Role != session.RoleAssistant || m.Metadata == nil {
			continue
		}
		if raw, ok := m.Metadata["trace_events"].([]trace.Event); ok {
			events = append(events, raw...)
		}
	}
	writeJSON(w, http.StatusOK, conversationEventsResponse{SessionID: sess.SessionID, Events: events})
}

func atoiOr(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

