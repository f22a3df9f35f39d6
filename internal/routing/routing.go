// Package routing consolidates the handling of routing-flavoured tool
// calls (entering agents, starting subflows, navigation), grounded on
// original_source/backend/app/core/routing_handler.py and its
// app/core/routing.py dataclasses.
package routing

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/conversa/engine/internal/locale"
	"github.com/conversa/engine/internal/registry"
	"github.com/conversa/engine/internal/session"
	"github.com/conversa/engine/internal/state"
	"github.com/conversa/engine/internal/trace"
)

// Outcome is the result of routing a tool call, mirroring RoutingOutcome.
type Outcome struct {
	Handled             bool
	StateChanged        bool
	ContextRequirements []string
	ResponseText        string
	Error               string
}

// Handler resolves and executes routing-flavoured tool calls. It holds
// no per-turn state; every call is given the session to mutate.
type Handler struct {
	reg   *registry.Registry
	state *state.Manager
	log   *zap.Logger
}

// New constructs a Handler.
func New(reg *registry.Registry, stateMgr *state.Manager, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{reg: reg, state: stateMgr, log: log}
}

// HandleToolRouting inspects toolName's routing configuration and, if it
// names a routing action (enter_agent/start_flow/navigation), executes
// it against s and returns Handled=true. A plain service tool returns
// Handled=false so the orchestrator proceeds with a normal tool call.
func (h *Handler) HandleToolRouting(toolName string, toolParams map[string]any, s *session.Session, currentAgent *registry.AgentConfig, lang string, tr *trace.Tracer) Outcome {
	routingConfig, hasRouting := h.reg.GetToolRouting(toolName)
	result := h.reg.ResolveRouting(toolName)

	if !hasRouting || result.Type == registry.RoutingService {
		return Outcome{Handled: false}
	}

	if !result.Success {
		h.log.Error("routing resolution failed", zap.String("tool", toolName), zap.String("error", result.Error))
		return Outcome{Handled: true, Error: result.Error}
	}

	switch result.Type {
	case registry.RoutingEnterAgent:
		return h.handleEnterAgent(result, s, tr)
	case registry.RoutingStartFlow:
		return h.handleStartFlow(result, routingConfig, s, currentAgent, toolParams, tr)
	case registry.RoutingNavigation:
		return h.handleNavigation(result, s, toolParams, lang)
	default:
		return Outcome{Handled: true, Error: fmt.Sprintf("unknown routing action: %s", result.Type)}
	}
}

func (h *Handler) handleEnterAgent(result registry.RoutingResult, s *session.Session, tr *trace.Tracer) Outcome {
	agent := result.Agent
	previousAgentID := s.CurrentAgentID()

	h.state.PushAgent(s, agent.ConfigID, fmt.Sprintf("User requested %s", agent.ConfigID))
	h.log.Info("entered agent", zap.String("agent_id", agent.ConfigID))

	if tr != nil {
		tr.Trace(trace.CategoryAgent, "agent_changed", fmt.Sprintf("Entered agent: %s", agent.ConfigID),
			trace.WithData(map[string]any{
				"previous_agent_id": previousAgentID,
				"new_agent_id":      agent.ConfigID,
				"stack_depth":       len(s.AgentStack),
			}))
	}

	return Outcome{Handled: true, StateChanged: true, ContextRequirements: agent.ContextRequirements}
}

func (h *Handler) handleStartFlow(result registry.RoutingResult, routingConfig *registry.RoutingConfig, s *session.Session, currentAgent *registry.AgentConfig, toolParams map[string]any, tr *trace.Tracer) Outcome {
	targetAgent := currentAgent

	if routingConfig != nil && routingConfig.CrossAgent != "" {
		if crossAgent, ok := h.reg.GetAgent(routingConfig.CrossAgent); ok {
			h.state.PushAgent(s, crossAgent.ConfigID, fmt.Sprintf("Cross-agent flow: %s", result.Target))
			targetAgent = crossAgent
			h.log.Info("entered cross-agent for flow", zap.String("agent_id", crossAgent.ConfigID), zap.String("flow", result.Target))

			if tr != nil {
				tr.Trace(trace.CategoryAgent, "cross_agent_entered", fmt.Sprintf("Entered cross-agent: %s", crossAgent.ConfigID),
					trace.WithData(map[string]any{"cross_agent_id": crossAgent.ConfigID, "for_flow": result.Target}))
			}
		} else {
			h.log.Warn("cross_agent not found, starting flow in current agent", zap.String("cross_agent", routingConfig.CrossAgent))
		}
	}

	subflow, ok := h.reg.GetSubflow(targetAgent.ConfigID, result.Target)
	if !ok {
		return Outcome{Handled: true, Error: fmt.Sprintf("subflow %s not found in agent %s", result.Target, targetAgent.ConfigID)}
	}

	initialData := extractFlowInitialData(toolParams, subflow)
	h.state.EnterSubflow(s, subflow, initialData)
	h.log.Info("started flow", zap.String("flow_id", subflow.ConfigID))

	if tr != nil {
		keys := make([]string, 0, len(initialData))
		for k := range initialData {
			keys = append(keys, k)
		}
		tr.Trace(trace.CategoryFlow, "flow_started", fmt.Sprintf("Started flow: %s", subflow.ConfigID),
			trace.WithData(map[string]any{
				"flow_config_id":    subflow.ConfigID,
				"initial_state":     subflow.InitialState,
				"initial_data_keys": keys,
				"agent_id":          targetAgent.ConfigID,
			}))
	}

	return Outcome{Handled: true, StateChanged: true, ContextRequirements: targetAgent.ContextRequirements}
}

// flowParamAliases maps a tool-call parameter name to the stateData key
// it seeds when not already covered by the subflow's declared
// data_schema, grounded on
// RoutingHandler._extract_flow_initial_data's fallback table —
// including the cross-agent rename loan_id -> snpl_loan_id.
var flowParamAliases = map[string]string{
	"phone_number":  "phone_number",
	"recipient_id":  "recipient_id",
	"amount":        "amount",
	"amount_usd":    "amount_usd",
	"carrier_id":    "carrier_id",
	"loan_id":       "snpl_loan_id",
	"snpl_loan_id":  "snpl_loan_id",
}

func extractFlowInitialData(toolParams map[string]any, sf *registry.SubflowConfig) map[string]any {
	initialData := map[string]any{}
	if len(toolParams) == 0 {
		return initialData
	}

	if sf.DataSchema != nil {
		for schemaKey := range sf.DataSchema {
			if v, ok := toolParams[schemaKey]; ok && v != nil {
				initialData[schemaKey] = v
			}
		}
	}

	for paramKey, dataKey := range flowParamAliases {
		v, ok := toolParams[paramKey]
		if !ok || isZeroish(v) {
			continue
		}
		if _, already := initialData[dataKey]; already {
			continue
		}
		initialData[dataKey] = v
	}

	return initialData
}

func isZeroish(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case float64:
		return t == 0
	case int:
		return t == 0
	case bool:
		return !t
	default:
		return false
	}
}

func (h *Handler) handleNavigation(result registry.RoutingResult, s *session.Session, toolParams map[string]any, lang string) Outcome {
	switch result.Target {
	case registry.NavUpOneLevel:
		current := h.state.PopAgent(s)
		h.log.Info("navigated up one level")
		agent, _ := h.reg.GetAgent(current)
		return Outcome{Handled: true, StateChanged: true, ContextRequirements: contextRequirementsOf(agent)}

	case registry.NavGoHome:
		current := h.state.GoHome(s)
		h.log.Info("navigated home")
		agent, _ := h.reg.GetAgent(current)
		return Outcome{Handled: true, StateChanged: true, ContextRequirements: contextRequirementsOf(agent)}

	case registry.NavEscalateToHuman:
		reason, _ := toolParams["reason"].(string)
		if reason == "" {
			reason = "User request"
		}
		h.state.Escalate(s, reason)
		h.log.Info("escalated to human", zap.String("reason", reason))
		return Outcome{Handled: true, StateChanged: false, ResponseText: locale.Message(lang, "routing.escalation")}

	default:
		return Outcome{Handled: true, Error: fmt.Sprintf("unknown navigation action: %s", result.Target)}
	}
}

func contextRequirementsOf(a *registry.AgentConfig) []string {
	if a == nil {
		return nil
	}
	return a.ContextRequirements
}
