// Package llm defines the provider-agnostic LLM client contract
// (spec.md §4.L): a single chat-completions call taking an assembled
// context package and returning text plus zero or more decoded tool
// calls. Streaming is not part of this contract — spec.md's Non-goals
// explicitly exclude streaming token responses.
package llm

import "context"

// Message is one role-tagged chat message.
type Message struct {
	Role    string
	Content string
}

// Role constants accepted in Message.Role.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolSchema is one callable tool surfaced to the model, JSON-schema
// shaped (mirrors internal/contextasm.ToolDef, kept as a separate type
// so this package has no dependency on contextasm).
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolCall is one decoded tool invocation returned by the model. A
// stable ID lets the turn executor correlate a later tool result back
// to this call; malformed argument JSON decodes to an empty map rather
// than failing the whole response (spec.md §4.L).
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// StopReason classifies why the model stopped generating.
type StopReason string

const (
	StopReasonStop      StopReason = "stop"
	StopReasonToolCalls StopReason = "tool_calls"
	StopReasonLength    StopReason = "length"
	StopReasonOther     StopReason = "other"
)

// Request is the complete package handed to the provider for one call.
type Request struct {
	SystemPrompt string
	Messages     []Message
	Tools        []ToolSchema
	Model        string
	Temperature  float64
	MaxTokens    int
}

// Response is the provider's decoded reply.
type Response struct {
	Text         string
	ToolCalls    []ToolCall
	StopReason   StopReason
	InputTokens  int
	OutputTokens int
	Model        string
}

// Client is the interface the orchestrator calls through. Any
// OpenAI-compatible endpoint (LiteLLM, vLLM, Azure OpenAI, Ollama,
// ...) can satisfy it.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
	GetName() string
}
