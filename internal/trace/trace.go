// Package trace implements the per-turn event tracer used to debug
// routing, tool-calling, and orchestration flows, grounded on
// original_source/backend/app/core/event_trace.py. It backs the
// GET /conversations/{id}/events inbound endpoint (spec.md §6).
package trace

import (
	"time"

	"github.com/google/uuid"
)

// Category classifies a trace event by the subsystem that emitted it.
type Category string

const (
	CategorySession    Category = "session"
	CategoryAgent      Category = "agent"
	CategoryFlow       Category = "flow"
	CategoryRouting    Category = "routing"
	CategoryEnrichment Category = "enrichment"
	CategoryLLM        Category = "llm"
	CategoryTool       Category = "tool"
	CategoryService    Category = "service"
	CategoryError      Category = "error"
)

// Level is the severity of a trace event.
type Level string

const (
	LevelInfo    Level = "info"
	LevelDebug   Level = "debug"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Event is a single trace record captured during message processing.
type Event struct {
	ID         string         `json:"id"`
	Category   Category       `json:"category"`
	EventType  string         `json:"event_type"`
	Message    string         `json:"message"`
	Timestamp  time.Time      `json:"timestamp"`
	Level      Level          `json:"level"`
	Data       map[string]any `json:"data,omitempty"`
	DurationMs *int64         `json:"duration_ms,omitempty"`
	ParentID   string         `json:"parent_id,omitempty"`
	TurnID     string         `json:"turn_id"`
}

// Tracer collects events for a single turn. It is not safe for
// concurrent use by design: exactly one turn owns one Tracer, matching
// the per-session-serialised execution model (spec.md §5).
type Tracer struct {
	TurnID             string
	UserMessage        string
	AssistantResponse  string
	Events             []Event
	startedAt          time.Time
}

// New starts a tracer for one turn. If turnID is empty, a new id is
// generated.
func New(turnID, userMessage string) *Tracer {
	if turnID == "" {
		turnID = uuid.NewString()
	}
	return &Tracer{TurnID: turnID, UserMessage: userMessage, startedAt: time.Now()}
}

// SetResponse records the assistant's final reply for this turn.
func (t *Tracer) SetResponse(response string) { t.AssistantResponse = response }

// Trace appends an event and returns its id, usable as a parent id for
// nested/child events.
func (t *Tracer) Trace(category Category, eventType, message string, opts ...EventOption) string {
	e := Event{
		ID:        uuid.NewString()[:8],
		Category:  category,
		EventType: eventType,
		Message:   message,
		Timestamp: time.Now().UTC(),
		Level:     LevelInfo,
		TurnID:    t.TurnID,
	}
	for _, opt := range opts {
		opt(&e)
	}
	t.Events = append(t.Events, e)
	return e.ID
}

// Error is a convenience wrapper for an error-level event in the error
// category.
func (t *Tracer) Error(eventType, message string, data map[string]any) string {
	return t.Trace(CategoryError, eventType, message, WithLevel(LevelError), WithData(data))
}

// Warning is a convenience wrapper for a warning-level event.
func (t *Tracer) Warning(category Category, eventType, message string, data map[string]any) string {
	return t.Trace(category, eventType, message, WithLevel(LevelWarning), WithData(data))
}

// EventOption customises a traced event.
type EventOption func(*Event)

func WithLevel(l Level) EventOption { return func(e *Event) { e.Level = l } }
func WithData(d map[string]any) EventOption {
	return func(e *Event) {
		if d != nil {
			e.Data = d
		}
	}
}
func WithDuration(d time.Duration) EventOption {
	return func(e *Event) {
		ms := d.Milliseconds()
		e.DurationMs = &ms
	}
}
func WithParent(parentID string) EventOption {
	return func(e *Event) { e.ParentID = parentID }
}

// Len reports how many events have been traced so far.
func (t *Tracer) Len() int { return len(t.Events) }
