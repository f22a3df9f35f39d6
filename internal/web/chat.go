package web

import (
	"log"
	"net/http"
	"strings"

	"github.com/conversa/engine/internal/orchestrator"
	"github.com/conversa/engine/internal/registry"
	"github.com/conversa/engine/internal/session"
)

// ChatHandler serves the conversational endpoints of spec.md §6:
// POST /chat/message, POST /chat/session, GET /chat/session/{id}, and
// POST /chat/session/{id}/end. It is a thin HTTP adapter over
// orchestrator.Engine and session.Store; all conversational logic lives
// in those packages.
type ChatHandler struct {
	engine      *orchestrator.Engine
	store       session.Store
	reg         *registry.Registry
	rootAgentID string
}

// NewChatHandler wires a ChatHandler to the engine and store it serves.
func NewChatHandler(engine *orchestrator.Engine, store session.Store, reg *registry.Registry, rootAgentID string) *ChatHandler {
	return &ChatHandler{engine: engine, store: store, reg: reg, rootAgentID: rootAgentID}
}

type chatMessageRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// HandleMessage serves POST /chat/message.
func (h *ChatHandler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req chatMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.Message = strings.TrimSpace(req.Message)
	if req.UserID == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "user_id and message are required")
		return
	}

	resp, err := h.engine.HandleMessage(r.Context(), req.UserID, req.SessionID, req.Message, r.Header.Get("Accept-Language"))
	if err != nil {
		log.Printf("[Chat] handle message failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to process message")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type sessionCreateRequest struct {
	UserID string `json:"user_id"`
}

type sessionResponse struct {
	SessionID         string `json:"session_id"`
	UserID            string `json:"user_id"`
	Status            string `json:"status"`
	CurrentAgentID    string `json:"current_agent_id"`
	CurrentAgentName  string `json:"current_agent_name,omitempty"`
	CurrentFlow       string `json:"current_flow,omitempty"`
	MessageCount      int    `json:"message_count"`
	CreatedAt         string `json:"created_at"`
	LastInteractionAt string `json:"last_interaction_at"`
}

func (h *ChatHandler) toSessionResponse(sess *session.Session) sessionResponse {
	resp := sessionResponse{
		SessionID:         sess.SessionID,
		UserID:            sess.UserID,
		Status:            string(sess.Status),
		CurrentAgentID:    sess.CurrentAgentID(),
		MessageCount:      sess.MessageCount,
		CreatedAt:         sess.CreatedAt.Format(timeFormat),
		LastInteractionAt: sess.LastInteractionAt.Format(timeFormat),
	}
	if sess.CurrentFlow != nil {
		resp.CurrentFlow = sess.CurrentFlow.CurrentStateID
	}
	if h.reg != nil {
		if agent, ok := h.reg.GetAgent(resp.CurrentAgentID); ok {
			resp.CurrentAgentName = agent.Name
		}
	}
	return resp
}

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// HandleCreateSession serves POST /chat/session.
func (h *ChatHandler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req sessionCreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	sess, err := h.store.GetOrCreateSession("", req.UserID, h.rootAgentID)
	if err != nil {
		log.Printf("[Chat] create session failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	writeJSON(w, http.StatusCreated, h.toSessionResponse(sess))
}

// HandleGetSession serves GET /chat/session/{id}.
func (h *ChatHandler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := r.PathValue("id")
	sess, ok := h.store.GetSession(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, h.toSessionResponse(sess))
}

// HandleEndSession serves POST /chat/session/{id}/end.
func (h *ChatHandler) HandleEndSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := r.PathValue("id")
	sess, ok := h.store.GetSession(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	unlock := h.store.Lock(sess.SessionID)
	defer unlock()

	sess.Status = session.StatusCompleted
	sess.CurrentFlow = nil
	sess.PendingConfirmation = nil
	if err := h.store.SaveSession(sess); err != nil {
		log.Printf("[Chat] end session failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to end session")
		return
	}
	writeJSON(w, http.StatusOK, h.toSessionResponse(sess))
}
