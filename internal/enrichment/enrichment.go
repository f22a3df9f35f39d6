// Package enrichment eagerly loads the data a turn will need before the
// LLM is called, grounded on
// original_source/backend/app/core/context_enrichment.py's three-layer
// model (agent-level requirements, state on_enter actions, routing
// requirements) but adapted to spec.md §4.J's flatter contract: agent
// context_requirements are a plain []string resolved through a static
// requirement->tool table, not the typed requirement objects the source
// reads out of its own config rows.
package enrichment

import (
	"context"

	"go.uber.org/zap"

	"github.com/conversa/engine/internal/registry"
	"github.com/conversa/engine/internal/session"
	"github.com/conversa/engine/internal/toolexec"
)

// requirementToTool maps a context_requirements entry to the tool that
// satisfies it, grounded on
// ContextEnrichment._fetch_context_requirement's requirement_to_tool
// table.
var requirementToTool = map[string]string{
	"frequent_numbers": "get_frequent_numbers",
	"user_limits":      "get_user_limits",
	"recipient_list":   "list_recipients",
	"exchange_rates":   "get_exchange_rate",
}

// Enricher runs the pre-LLM enrichment layers against the tool executor.
type Enricher struct {
	tools *toolexec.Executor
	log   *zap.Logger
}

// New constructs an Enricher.
func New(tools *toolexec.Executor, log *zap.Logger) *Enricher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Enricher{tools: tools, log: log}
}

// Enrich runs all three layers and returns the merged data to hand the
// context assembler. Every failure is soft: logged and omitted, never
// returned as an error (ContextEnrichment.enrich_state's contract).
// routingContextRequirements is layer 3 — additional keys surfaced by
// the routing outcome that just fired, beyond the agent's own baseline
// set.
func (e *Enricher) Enrich(ctx context.Context, s *session.Session, agent *registry.AgentConfig, currentState *registry.SubflowStateConfig, routingContextRequirements []string) map[string]any {
	enriched := map[string]any{}

	// Layer 1: agent-level context requirements.
	if agent != nil {
		for _, req := range agent.ContextRequirements {
			e.fetchRequirement(ctx, req, agent, s, enriched)
		}
	}

	// Layer 2: state on_enter actions.
	if currentState != nil && currentState.OnEnter != nil {
		e.executeOnEnter(ctx, currentState.OnEnter, agent, s, enriched)
	}

	// Layer 3: routing context requirements, skipping anything layer 1
	// already satisfied (idempotent-per-turn: ContextEnrichment's
	// "Don't duplicate" guard).
	for _, req := range routingContextRequirements {
		if _, already := enriched[req]; already {
			continue
		}
		e.fetchRequirement(ctx, req, agent, s, enriched)
	}

	e.log.Info("context enrichment complete", zap.Int("items", len(enriched)), zap.String("session_id", s.SessionID))
	return enriched
}

func (e *Enricher) executeOnEnter(ctx context.Context, onEnter *registry.OnEnter, agent *registry.AgentConfig, s *session.Session, enriched map[string]any) {
	if onEnter.CallTool != "" {
		e.executeOnEnterTool(ctx, onEnter, agent, s, enriched)
	}

	for _, key := range onEnter.FetchContext {
		if data := e.fetchByToolLookup(ctx, key, agent, s); data != nil {
			enriched[key] = data
		}
	}
}

func (e *Enricher) executeOnEnterTool(ctx context.Context, onEnter *registry.OnEnter, agent *registry.AgentConfig, s *session.Session, enriched map[string]any) {
	if agent == nil {
		return
	}
	tool := agent.GetTool(onEnter.CallTool)
	if tool == nil {
		e.log.Warn("on_enter.call_tool tool not found", zap.String("tool", onEnter.CallTool), zap.String("agent_id", agent.ConfigID))
		return
	}

	result := e.tools.Execute(ctx, tool, onEnter.CallToolArgs, s, s.Language, true)
	if !result.Success || result.Data == nil {
		e.log.Warn("on_enter tool failed or returned no data", zap.String("tool", onEnter.CallTool))
		return
	}

	storeAs := onEnter.StoreAs
	if storeAs == "" {
		storeAs = onEnter.CallTool
	}
	enriched[storeAs] = result.Data
}

// fetchRequirement resolves requirement through requirementToTool and,
// if both the mapping and the tool exist, runs it and stores the result
// under the requirement's own key.
func (e *Enricher) fetchRequirement(ctx context.Context, requirement string, agent *registry.AgentConfig, s *session.Session, enriched map[string]any) {
	data := e.fetchByToolLookup(ctx, requirement, agent, s)
	if data != nil {
		enriched[requirement] = data
	}
}

func (e *Enricher) fetchByToolLookup(ctx context.Context, requirement string, agent *registry.AgentConfig, s *session.Session) any {
	toolName, ok := requirementToTool[requirement]
	if !ok {
		e.log.Warn("unknown context requirement", zap.String("requirement", requirement))
		return nil
	}
	if agent == nil {
		return nil
	}
	tool := agent.GetTool(toolName)
	if tool == nil {
		e.log.Warn("tool for context requirement not found", zap.String("requirement", requirement), zap.String("tool", toolName))
		return nil
	}

	result := e.tools.Execute(ctx, tool, map[string]any{}, s, s.Language, true)
	if !result.Success {
		return nil
	}
	return result.Data
}
