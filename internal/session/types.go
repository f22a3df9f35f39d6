// Package session holds the mutable per-conversation entities (spec.md
// §3: Session, ConversationMessage, UserContext) and their storage
// contract. The in-memory Store implementation is grounded on
// Jint8888-Pocket-Omega/internal/session/store.go's per-ID mutex map and
// TTL cleanup goroutine, generalised from that teacher's single
// Turn-history shape to full session/message/user-context CRUD.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Session.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusEscalated Status = "escalated"
	StatusExpired   Status = "expired"
)

// AgentFrame is one entry of a Session's agent stack.
type AgentFrame struct {
	AgentConfigID string    `json:"agentId"`
	EnteredAt     time.Time `json:"enteredAt"`
	EntryReason   string    `json:"entryReason"`
}

// FlowState is the active subflow position, or nil when not in a flow.
type FlowState struct {
	FlowConfigID   string         `json:"flowId"`
	CurrentStateID string         `json:"currentState"`
	StateData      map[string]any `json:"stateData"`
	EnteredAt      time.Time      `json:"enteredAt"`
}

// PendingConfirmation is a persisted promise that a gated tool call will
// run iff the next user message is affirmative (spec.md glossary).
type PendingConfirmation struct {
	ToolName        string         `json:"toolName"`
	ToolParams      map[string]any `json:"toolParams"`
	DisplayMessage  string         `json:"displayMessage"`
	ExpiresAt       time.Time      `json:"expiresAt"`
}

// Session is the central mutable entity owned by a single in-flight turn
// (spec.md §3). Invariants I1-I4 are enforced by internal/state, the
// single writer to a session during a turn.
type Session struct {
	SessionID           string
	UserID              string
	Status              Status
	AgentStack          []AgentFrame
	CurrentFlow         *FlowState
	PendingConfirmation *PendingConfirmation
	Language            string
	MessageCount        int
	CreatedAt           time.Time
	LastInteractionAt   time.Time
}

// CurrentAgentID returns the config_id at the top of the agent stack, or
// empty if the stack is somehow empty (never true for an active session
// per I1, but callers must not assume it).
func (s *Session) CurrentAgentID() string {
	if len(s.AgentStack) == 0 {
		return ""
	}
	return s.AgentStack[len(s.AgentStack)-1].AgentConfigID
}

// NewSession creates a fresh session at the given root agent.
func NewSession(userID, rootAgentID string) *Session {
	now := time.Now().UTC()
	return &Session{
		SessionID: uuid.NewString(),
		UserID:    userID,
		Status:    StatusActive,
		AgentStack: []AgentFrame{{
			AgentConfigID: rootAgentID,
			EnteredAt:     now,
			EntryReason:   "Session start",
		}},
		Language:          "en",
		CreatedAt:         now,
		LastInteractionAt: now,
	}
}

// SessionFilter narrows ListSessions. Zero values mean "no filter on
// this field"; Limit<=0 defaults to 50.
type SessionFilter struct {
	UserID string
	Status Status
	Query  string // case-insensitive substring match against message content
	Limit  int
	Offset int
}

// Role is the speaker of a ConversationMessage.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ConversationMessage is one persisted turn-message, append-only.
type ConversationMessage struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Profile is the per-user static preference block read by the context
// assembler (spec.md §4.E section 3).
type Profile struct {
	Name           string `json:"name"`
	PreferredName  string `json:"preferred_name"`
	Language       string `json:"language"`
	KYCLevel       string `json:"kyc_level"`
}

// UserContext is per-user static/slow data, read-only to the core.
type UserContext struct {
	UserID             string            `json:"user_id"`
	Profile            Profile           `json:"profile"`
	ProductSummaries   map[string]any    `json:"product_summaries"`
	BehavioralSummary  string            `json:"behavioral_summary"`
}

// CompactedHistory is a per-user rolling summary of older conversation
// turns. Its summarisation algorithm is an external collaborator per
// spec.md §1 ("history compaction" is explicitly out of scope); the
// engine only reads/writes the resulting text through HistoryCompactor.
type CompactedHistory struct {
	UserID         string    `json:"user_id"`
	CompactedText  string    `json:"compacted_text"`
	LastCompactedAt time.Time `json:"last_compacted_at"`
}

// HistoryCompactor decides whether and how to compact a user's older
// conversation turns into CompactedHistory. The engine treats it as an
// external collaborator (spec.md §1); NoopCompactor below satisfies the
// interface without ever triggering compaction, for deployments that
// haven't wired a real summariser.
type HistoryCompactor interface {
	ShouldCompact(messageCount int) bool
	Compact(userID string, messages []ConversationMessage) (string, error)
}

// NoopCompactor never triggers compaction.
type NoopCompactor struct{}

func (NoopCompactor) ShouldCompact(int) bool { return false }
func (NoopCompactor) Compact(string, []ConversationMessage) (string, error) { return "", nil }
