// Package orcherr defines the shared error taxonomy used across the
// orchestration engine. Components never panic across a package boundary;
// they return one of these sentinels (or a wrapped form of one) instead.
package orcherr

import "errors"

var (
	// ErrSessionNotFound is returned when a session id does not resolve
	// to a stored session.
	ErrSessionNotFound = errors.New("orcherr: session not found")

	// ErrAgentNotFound is returned when a config_id does not resolve to
	// a known agent in the registry snapshot.
	ErrAgentNotFound = errors.New("orcherr: agent not found")

	// ErrSubflowNotFound is returned when an (agent, subflow) pair is
	// unknown.
	ErrSubflowNotFound = errors.New("orcherr: subflow not found")

	// ErrStateNotFound is returned when a (subflow, state) pair is
	// unknown.
	ErrStateNotFound = errors.New("orcherr: flow state not found")

	// ErrToolNotFound is returned when a tool name has no registered
	// routing or dispatch entry.
	ErrToolNotFound = errors.New("orcherr: tool not found")

	// ErrNotInFlow is returned when a flow-only operation is attempted
	// on a session with no active flow.
	ErrNotInFlow = errors.New("orcherr: session is not in a flow")

	// ErrInvalidParameters marks a tool-parameter validation failure.
	ErrInvalidParameters = errors.New("orcherr: invalid parameters")

	// ErrConfirmationRequired marks a gated tool call awaiting user
	// confirmation; it is not a failure, callers treat it as a distinct
	// branch of ToolResult.
	ErrConfirmationRequired = errors.New("orcherr: confirmation required")

	// ErrRecursionExceeded is returned by the orchestrator when a turn's
	// self re-dispatch depth exceeds the configured bound.
	ErrRecursionExceeded = errors.New("orcherr: recursion bound exceeded")

	// ErrConnection marks a transport-level failure talking to the
	// downstream service gateway.
	ErrConnection = errors.New("orcherr: connection error")

	// ErrTimeout marks a deadline exceeded talking to an external
	// dependency (gateway or LLM).
	ErrTimeout = errors.New("orcherr: timeout")

	// ErrUpstream marks a non-2xx response from an external dependency
	// that is not classified more specifically.
	ErrUpstream = errors.New("orcherr: upstream error")

	// ErrConfigInvalid marks a startup configuration validation failure.
	// It must abort bring-up; it must never be returned at turn time.
	ErrConfigInvalid = errors.New("orcherr: invalid configuration")
)

// Code is a short machine-readable error classification attached to a
// ToolResult or RoutingOutcome, distinct from the Go error taxonomy above
// (which is for internal propagation). Codes are what the API surface and
// the template renderer see.
type Code string

const (
	CodeNone                Code = ""
	CodeInvalidParameters   Code = "INVALID_PARAMETERS"
	CodeConnectionError     Code = "CONNECTION_ERROR"
	CodeTimeout             Code = "TIMEOUT"
	CodeUpstreamError       Code = "UPSTREAM_ERROR"
	CodeRoutingError        Code = "ROUTING_ERROR"
	CodeRecursionExceeded   Code = "RECURSION_EXCEEDED"
	CodeConfirmationPending Code = "CONFIRMATION_PENDING"
)
