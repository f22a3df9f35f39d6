// Package state implements the conversation state machine: agent-stack
// navigation, subflow entry/transition, and the pending-confirmation
// dance, grounded on
// original_source/backend/app/core/state_manager.py. Unlike that source
// (which persists through SQLAlchemy), this Manager operates directly on
// an in-memory *session.Session loaded from internal/session.Store —
// the engine's persistence boundary is the Store, not this package.
package state

import (
	"time"

	"go.uber.org/zap"

	"github.com/conversa/engine/internal/orcherr"
	"github.com/conversa/engine/internal/registry"
	"github.com/conversa/engine/internal/session"
)

// DefaultConfirmationTTL mirrors the source's expires_minutes=5 default.
const DefaultConfirmationTTL = 5 * time.Minute

// Manager mutates a session's agent stack, flow state, and pending
// confirmation. It holds no session data itself; every method takes the
// *session.Session to mutate explicitly, keeping this package a pure
// state-transition function library invoked under the caller's
// per-session lock (session.Store.Lock), satisfying I1-I4.
type Manager struct {
	reg *registry.Registry
	log *zap.Logger
}

// New constructs a Manager backed by reg for subflow/state lookups.
func New(reg *registry.Registry, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{reg: reg, log: log}
}

// PushAgent enters a child/cross agent, clearing any active flow and
// pending confirmation (spec.md I2: entering a new agent always clears
// subflow context).
func (m *Manager) PushAgent(s *session.Session, agentID, reason string) {
	s.AgentStack = append(s.AgentStack, session.AgentFrame{
		AgentConfigID: agentID,
		EnteredAt:     time.Now().UTC(),
		EntryReason:   reason,
	})
	s.CurrentFlow = nil
	s.PendingConfirmation = nil
	m.log.Info("pushed agent", zap.String("session_id", s.SessionID), zap.String("agent_id", agentID))
}

// PopAgent removes the top agent frame, returning the new current agent
// id. It refuses to pop the root frame (I1: the agent stack is never
// empty): popping a single-frame stack is a no-op and returns the
// unchanged current agent id.
func (m *Manager) PopAgent(s *session.Session) string {
	if len(s.AgentStack) <= 1 {
		return s.CurrentAgentID()
	}
	popped := s.AgentStack[len(s.AgentStack)-1]
	s.AgentStack = s.AgentStack[:len(s.AgentStack)-1]
	s.CurrentFlow = nil
	s.PendingConfirmation = nil
	m.log.Info("popped agent", zap.String("session_id", s.SessionID), zap.String("agent_id", popped.AgentConfigID))
	return s.CurrentAgentID()
}

// GoHome truncates the agent stack back to its root frame.
func (m *Manager) GoHome(s *session.Session) string {
	if len(s.AgentStack) > 1 {
		root := s.AgentStack[0]
		s.AgentStack = []session.AgentFrame{root}
		s.CurrentFlow = nil
		s.PendingConfirmation = nil
		m.log.Info("returned home", zap.String("session_id", s.SessionID))
	}
	return s.CurrentAgentID()
}

// Escalate marks the session escalated to a human agent.
func (m *Manager) Escalate(s *session.Session, reason string) {
	s.Status = session.StatusEscalated
	s.CurrentFlow = nil
	s.PendingConfirmation = nil
	m.log.Info("escalated session", zap.String("session_id", s.SessionID), zap.String("reason", reason))
}

// EndSession marks the session with a terminal status (default
// "completed", matching the source's end_session).
func (m *Manager) EndSession(s *session.Session, status session.Status) {
	if status == "" {
		status = session.StatusCompleted
	}
	s.Status = status
	s.CurrentFlow = nil
	s.PendingConfirmation = nil
	m.log.Info("ended session", zap.String("session_id", s.SessionID), zap.String("status", string(status)))
}

// EnterSubflow moves the session into the given subflow's initial state,
// seeding stateData from initialData (params extracted from the
// triggering tool call, grounded on
// RoutingHandler._extract_flow_initial_data).
func (m *Manager) EnterSubflow(s *session.Session, sf *registry.SubflowConfig, initialData map[string]any) {
	stateData := make(map[string]any, len(initialData))
	for k, v := range initialData {
		stateData[k] = v
	}
	s.CurrentFlow = &session.FlowState{
		FlowConfigID:   sf.ConfigID,
		CurrentStateID: sf.InitialState,
		StateData:      stateData,
		EnteredAt:      time.Now().UTC(),
	}
	m.log.Info("entered flow", zap.String("session_id", s.SessionID), zap.String("flow_id", sf.ConfigID), zap.String("state", sf.InitialState))
}

// TransitionState moves the current flow to newStateID. If the target
// state is final, the flow is exited immediately after the move (the
// source's "terminal state" behaviour). Returns orcherr.ErrNotInFlow if
// the session has no active flow.
func (m *Manager) TransitionState(s *session.Session, newStateID string, stateDef *registry.SubflowStateConfig) error {
	if s.CurrentFlow == nil {
		return orcherr.ErrNotInFlow
	}
	old := s.CurrentFlow.CurrentStateID
	s.CurrentFlow.CurrentStateID = newStateID
	m.log.Info("state transition", zap.String("session_id", s.SessionID), zap.String("from", old), zap.String("to", newStateID))

	if stateDef != nil && stateDef.IsFinal {
		m.log.Info("reached terminal state, exiting flow", zap.String("session_id", s.SessionID))
		s.CurrentFlow = nil
	}
	return nil
}

// ExitFlow clears the active flow without passing through a declared
// final state, used when a subflow's own transition list names the
// special "exit"/"abandon" targets (registry.TargetExit/TargetAbandon)
// rather than a sibling state id.
func (m *Manager) ExitFlow(s *session.Session) {
	if s.CurrentFlow == nil {
		return
	}
	m.log.Info("exited flow", zap.String("session_id", s.SessionID), zap.String("flow_id", s.CurrentFlow.FlowConfigID))
	s.CurrentFlow = nil
}

// UpdateFlowData merges data into the current flow's state data. A no-op
// if the session is not in a flow.
func (m *Manager) UpdateFlowData(s *session.Session, data map[string]any) {
	if s.CurrentFlow == nil {
		return
	}
	if s.CurrentFlow.StateData == nil {
		s.CurrentFlow.StateData = map[string]any{}
	}
	for k, v := range data {
		s.CurrentFlow.StateData[k] = v
	}
}

// SetPendingConfirmation records a gated tool call awaiting the user's
// next affirmative/negative reply, expiring after ttl (DefaultConfirmationTTL
// if zero).
func (m *Manager) SetPendingConfirmation(s *session.Session, toolName string, toolParams map[string]any, displayMessage string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultConfirmationTTL
	}
	s.PendingConfirmation = &session.PendingConfirmation{
		ToolName:       toolName,
		ToolParams:     toolParams,
		DisplayMessage: displayMessage,
		ExpiresAt:      time.Now().UTC().Add(ttl),
	}
	m.log.Info("set pending confirmation", zap.String("session_id", s.SessionID), zap.String("tool_name", toolName))
}

// ClearPendingConfirmation drops any pending confirmation.
func (m *Manager) ClearPendingConfirmation(s *session.Session) {
	s.PendingConfirmation = nil
}

// IsConfirmationExpired reports whether the session's pending
// confirmation (if any) has expired. A session with no pending
// confirmation is reported expired, matching the source's behaviour of
// treating "nothing to confirm" the same as "too late to confirm".
func (m *Manager) IsConfirmationExpired(s *session.Session) bool {
	if s.PendingConfirmation == nil {
		return true
	}
	return time.Now().UTC().After(s.PendingConfirmation.ExpiresAt)
}

// IncrementMessageCount bumps the session's message counter and last
// interaction timestamp.
func (m *Manager) IncrementMessageCount(s *session.Session) {
	s.MessageCount++
	s.LastInteractionAt = time.Now().UTC()
}

// CurrentFlowState resolves the SubflowStateConfig the session is
// currently parked in, or nil if not in a flow.
func (m *Manager) CurrentFlowState(s *session.Session) (*registry.SubflowStateConfig, bool) {
	if s.CurrentFlow == nil {
		return nil, false
	}
	agentID := s.CurrentAgentID()
	return m.reg.GetFlowState(agentID, s.CurrentFlow.FlowConfigID, s.CurrentFlow.CurrentStateID)
}
