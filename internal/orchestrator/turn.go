package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/conversa/engine/internal/contextasm"
	"github.com/conversa/engine/internal/llm"
	"github.com/conversa/engine/internal/locale"
	"github.com/conversa/engine/internal/registry"
	"github.com/conversa/engine/internal/session"
	"github.com/conversa/engine/internal/template"
	"github.com/conversa/engine/internal/toolexec"
	"github.com/conversa/engine/internal/trace"
)

// dispatchOutcome is the internal result of running one LLM response's
// tool calls through to completion.
type dispatchOutcome struct {
	stateChanged        bool
	contextRequirements []string
	assistantMessage    string
	calls               []ToolCallRecord
}

// processTurn runs one pass of context assembly, the LLM call, and tool
// dispatch. depth counts internal re-dispatches after a routing tool
// call changed the session's agent/flow (enter_agent, start_flow,
// up_one_level, go_home); each re-dispatch is a self-call with depth+1,
// and a depth above cfg.RecursionMaxDepth ends the turn with the
// routing.recursion_exceeded reply. extraContextReqs carries the
// context_requirements a just-applied routing outcome surfaced, fed into
// this pass's enrichment layer (spec.md §4.J layer 3).
func (e *Engine) processTurn(ctx context.Context, sess *session.Session, userMessage, lang string, tr *trace.Tracer, depth int, extraContextReqs []string) TurnResponse {
	if depth > e.cfg.RecursionMaxDepth {
		tr.Error("recursion_exceeded", "internal re-dispatch bound exceeded", map[string]any{"depth": depth})
		return e.finalResponse(sess, locale.Message(lang, "routing.recursion_exceeded"), nil)
	}

	if depth == 0 && sess.PendingConfirmation != nil {
		if resp, handled := e.handleConfirmationReply(sess, userMessage, lang, tr); handled {
			return resp
		}
	}

	agent, ok := e.reg.GetAgent(sess.CurrentAgentID())
	if !ok {
		tr.Error("agent_not_found", "current agent not found in registry", map[string]any{"agent_id": sess.CurrentAgentID()})
		return e.finalResponse(sess, locale.Message(lang, "error.agent_not_found"), nil)
	}

	userCtx, _ := e.store.GetUserContext(sess.UserID)

	recent, err := e.store.RecentMessages(sess.SessionID, e.cfg.RecentMessageWindow)
	if err != nil {
		e.log.Warn("failed to load recent messages", zap.String("session_id", sess.SessionID), zap.Error(err))
	}

	compactedText := e.compactedHistoryFor(sess.UserID)

	currentFlowState, _ := e.state.CurrentFlowState(sess)

	// on_user_turn transitions are considered once per user message,
	// before the model ever sees the turn; internal re-dispatches
	// (depth > 0) skip this since no new user turn has occurred.
	if depth == 0 && currentFlowState != nil {
		currentFlowState = e.applyTransitions(sess, currentFlowState, registry.TriggerOnUserTurn, nil, tr)
	}

	enriched := e.enrich.Enrich(ctx, sess, agent, currentFlowState, extraContextReqs)
	if sess.CurrentFlow != nil && len(enriched) > 0 {
		e.state.UpdateFlowData(sess, enriched)
	}

	assembled, err := e.assembler.Assemble(sess, userMessage, agent, userCtx, recent, compactedText, currentFlowState, lang)
	if err != nil {
		tr.Error("assembly_failed", err.Error(), nil)
		return e.finalResponse(sess, locale.Message(lang, "error.generic"), nil)
	}

	llmResp, err := e.llmClient.Complete(ctx, llm.Request{
		SystemPrompt: assembled.SystemPrompt,
		Messages:     toLLMMessages(assembled.Messages),
		Tools:        toLLMTools(assembled.Tools),
		Model:        assembled.Model,
		Temperature:  assembled.Temperature,
		MaxTokens:    assembled.MaxTokens,
	})
	if err != nil {
		tr.Error("llm_call_failed", err.Error(), nil)
		return e.finalResponse(sess, locale.Message(lang, "error.llm_unavailable"), nil)
	}
	tr.Trace(trace.CategoryLLM, "llm_completed", "llm call completed", trace.WithData(map[string]any{
		"stop_reason":      string(llmResp.StopReason),
		"tool_call_count":  len(llmResp.ToolCalls),
		"model":            llmResp.Model,
		"input_tokens":     llmResp.InputTokens,
		"output_tokens":    llmResp.OutputTokens,
	}))

	if len(llmResp.ToolCalls) == 0 {
		return e.finalResponse(sess, llmResp.Text, nil)
	}

	outcome := e.dispatchToolCalls(ctx, sess, agent, llmResp.ToolCalls, lang, tr)
	if outcome.stateChanged {
		return e.processTurn(ctx, sess, userMessage, lang, tr, depth+1, outcome.contextRequirements)
	}

	return e.finalResponse(sess, outcome.assistantMessage, outcome.calls)
}

// dispatchToolCalls runs the model's tool calls in order, matching
// spec.md §4.K step 10:
//   - change_language is handled locally and ends the loop.
//   - a routing-flavoured call that changed session state ends the loop
//     and signals the caller to re-assemble and re-invoke the model.
//   - a routing call that produced a direct response (escalation) ends
//     the loop with that text.
//   - a gated service call awaiting confirmation ends the loop with the
//     confirmation prompt.
//   - a plain service call applies any flow_transition and formats a
//     reply, but does not by itself end the loop: a turn can dispatch
//     more than one plain tool call in sequence.
func (e *Engine) dispatchToolCalls(ctx context.Context, sess *session.Session, agent *registry.AgentConfig, calls []llm.ToolCall, lang string, tr *trace.Tracer) dispatchOutcome {
	var out dispatchOutcome

	for _, call := range calls {
		if call.Name == "change_language" {
			e.handleChangeLanguage(sess, call, &out, tr)
			break
		}

		routed := e.routing.HandleToolRouting(call.Name, call.Arguments, sess, agent, lang, tr)
		if routed.Handled {
			record := ToolCallRecord{Name: call.Name, Success: routed.Error == "", Error: routed.Error}
			out.calls = append(out.calls, record)

			if routed.Error != "" {
				e.log.Warn("routing tool call handled with error", zap.String("tool", call.Name), zap.String("error", routed.Error))
				continue
			}
			if routed.StateChanged {
				out.stateChanged = true
				out.contextRequirements = routed.ContextRequirements
				return out
			}
			if routed.ResponseText != "" {
				out.assistantMessage = routed.ResponseText
				break
			}
			continue
		}

		tool := agent.GetTool(call.Name)
		if tool == nil {
			out.calls = append(out.calls, ToolCallRecord{Name: call.Name, Success: false, Error: "unknown tool"})
			e.log.Warn("model called unknown tool", zap.String("tool", call.Name), zap.String("agent_id", agent.ConfigID))
			continue
		}

		result := e.tools.Execute(ctx, tool, call.Arguments, sess, lang, false)
		if result.RequiresConfirmation {
			e.state.SetPendingConfirmation(sess, call.Name, call.Arguments, result.ConfirmationMessage, 0)
			out.calls = append(out.calls, ToolCallRecord{Name: call.Name, Success: true})
			out.assistantMessage = result.ConfirmationMessage
			tr.Trace(trace.CategoryTool, "confirmation_requested", "tool requires confirmation", trace.WithData(map[string]any{"tool": call.Name}))
			break
		}

		out.calls = append(out.calls, ToolCallRecord{Name: call.Name, Success: result.Success, Error: result.Error})
		out.assistantMessage = e.applyToolResult(sess, agent, tool, result, lang, tr)
	}

	return out
}

func (e *Engine) handleChangeLanguage(sess *session.Session, call llm.ToolCall, out *dispatchOutcome, tr *trace.Tracer) {
	newLang, _ := call.Arguments["language"].(string)
	record := ToolCallRecord{Name: call.Name}
	if newLang != "en" && newLang != "es" {
		record.Success = false
		record.Error = "unsupported language"
		out.assistantMessage = locale.Message(sess.Language, "error.generic")
		out.calls = append(out.calls, record)
		return
	}
	sess.Language = newLang
	record.Success = true
	out.assistantMessage = locale.Message(newLang, "change_language.confirmed")
	out.calls = append(out.calls, record)
	tr.Trace(trace.CategorySession, "language_changed", "user changed language", trace.WithData(map[string]any{"language": newLang}))
}

// handleConfirmationReply classifies message as the reply to sess's
// pending confirmation and, if classifiable, runs the gated tool call
// (or cancels it) and returns the resulting turn as already-final,
// handled=true. handled=false tells the caller to fall through to
// normal turn processing (the confirmation had already expired).
func (e *Engine) handleConfirmationReply(sess *session.Session, message, lang string, tr *trace.Tracer) (TurnResponse, bool) {
	pc := sess.PendingConfirmation

	if e.state.IsConfirmationExpired(sess) {
		e.state.ClearPendingConfirmation(sess)
		tr.Trace(trace.CategorySession, "confirmation_expired", "pending confirmation expired, discarding")
		return TurnResponse{}, false
	}

	verdict := toolexec.ClassifyUserConfirmation(message)
	if verdict == nil {
		tr.Trace(trace.CategorySession, "confirmation_unclear", "could not classify reply to pending confirmation")
		reask := e.renderer.Render(locale.Message(lang, "confirmation.reask"), map[string]any{"display_message": pc.DisplayMessage})
		return e.finalResponse(sess, reask, nil), true
	}

	if !*verdict {
		e.state.ClearPendingConfirmation(sess)
		tr.Trace(trace.CategorySession, "confirmation_declined", "user declined pending confirmation", trace.WithData(map[string]any{"tool": pc.ToolName}))
		return e.finalResponse(sess, locale.Message(lang, "confirmation.cancelled"), nil), true
	}

	agent, ok := e.reg.GetAgent(sess.CurrentAgentID())
	if !ok {
		e.state.ClearPendingConfirmation(sess)
		return e.finalResponse(sess, locale.Message(lang, "error.agent_not_found"), nil), true
	}
	tool := agent.GetTool(pc.ToolName)
	if tool == nil {
		e.state.ClearPendingConfirmation(sess)
		return e.finalResponse(sess, locale.Message(lang, "error.generic"), nil), true
	}

	result := e.tools.Execute(context.Background(), tool, pc.ToolParams, sess, lang, true)
	e.state.ClearPendingConfirmation(sess)
	tr.Trace(trace.CategoryTool, "confirmation_executed", "confirmed tool call executed", trace.WithData(map[string]any{
		"tool": tool.Name, "success": result.Success,
	}))

	record := ToolCallRecord{Name: tool.Name, Success: result.Success, Error: result.Error}
	assistantMessage := e.applyToolResult(sess, agent, tool, result, lang, tr)
	return e.finalResponse(sess, assistantMessage, []ToolCallRecord{record}), true
}

// applyToolResult applies a finished (non-gated) tool call's
// flow_transition, considers the landed-on state's on_tool_result
// transitions, and formats the reply: a fired transition's on_enter
// message wins if present, otherwise a matching mandatory
// ResponseTemplateConfig, otherwise a "_message" field on the result
// payload, otherwise a locale-keyed built-in formatter.
func (e *Engine) applyToolResult(sess *session.Session, agent *registry.AgentConfig, tool *registry.ToolConfig, result toolexec.Result, lang string, tr *trace.Tracer) string {
	dataMap, _ := result.Data.(map[string]any)
	errorCode := ""
	if dataMap != nil {
		if ec, ok := dataMap["error"].(string); ok {
			errorCode = ec
		}
	}

	var transitionMessage string
	transitioned := false

	if tool.FlowTransition != nil && sess.CurrentFlow != nil {
		target := tool.FlowTransition.OnError
		if result.Success {
			target = tool.FlowTransition.OnSuccess
		}
		if target != "" {
			priorData := cloneMap(sess.CurrentFlow.StateData)
			if msg, ok := e.moveFlowTo(sess, target, tr); ok {
				transitioned = true
				if msg != "" {
					transitionMessage = e.renderer.Render(msg, mergeMaps(priorData, dataMap))
				}
			}
		}
	}

	if sess.CurrentFlow != nil {
		currentState, _ := e.state.CurrentFlowState(sess)
		extra := map[string]any{}
		for k, v := range dataMap {
			extra[k] = v
		}
		extra["result"] = dataMap
		if next := e.applyTransitions(sess, currentState, registry.TriggerOnToolResult, extra, tr); next != currentState {
			transitioned = true
		}
	}

	if transitioned && transitionMessage != "" {
		return transitionMessage
	}

	renderData := map[string]any{}
	if sess.CurrentFlow != nil {
		for k, v := range sess.CurrentFlow.StateData {
			renderData[k] = v
		}
	}
	for k, v := range dataMap {
		renderData[k] = v
	}

	triggerType := registry.TriggerToolSuccess
	if !result.Success {
		triggerType = registry.TriggerToolError
	}
	q := template.MatchQuery{Type: triggerType, ToolName: tool.Name, ErrorCode: errorCode}
	if tmpl := template.FindMatchingTemplate(agent.ResponseTemplates, q); tmpl != nil && tmpl.Enforcement == registry.EnforcementMandatory {
		if rendered, ok := e.renderer.Apply(tmpl, renderData); ok {
			return rendered
		}
	}

	if dataMap != nil {
		if msg, ok := dataMap["_message"].(string); ok && msg != "" {
			return msg
		}
	}

	return e.fallbackToolMessage(tool.Name, result.Success, lang, renderData)
}

func (e *Engine) fallbackToolMessage(toolName string, success bool, lang string, data map[string]any) string {
	status := "error"
	if success {
		status = "success"
	}
	key := fmt.Sprintf("tool.%s.%s", toolName, status)
	msg := locale.Message(lang, key)
	if msg == key {
		msg = locale.Message(lang, "tool.generic."+status)
	}
	return e.renderer.Render(msg, data)
}

// moveFlowTo applies a single tool-declared flow_transition target,
// returning the target state's on_enter.send_message template (if any)
// and whether the move succeeded. The three special targets
// (exit/abandon/go_home) end the flow rather than naming a sibling
// state.
func (e *Engine) moveFlowTo(sess *session.Session, target string, tr *trace.Tracer) (string, bool) {
	switch target {
	case registry.TargetExit, registry.TargetAbandon:
		e.state.ExitFlow(sess)
		tr.Trace(trace.CategoryFlow, "flow_"+target, "flow "+target)
		return "", true
	case registry.TargetGoHome:
		e.state.GoHome(sess)
		tr.Trace(trace.CategoryFlow, "flow_go_home", "flow ended via go_home")
		return "", true
	default:
		agentID := sess.CurrentAgentID()
		flowID := sess.CurrentFlow.FlowConfigID
		stateDef, ok := e.reg.GetFlowState(agentID, flowID, target)
		if !ok {
			e.log.Warn("flow transition target not found", zap.String("target", target), zap.String("flow", flowID))
			return "", false
		}
		if err := e.state.TransitionState(sess, target, stateDef); err != nil {
			e.log.Warn("flow transition failed", zap.Error(err))
			return "", false
		}
		tr.Trace(trace.CategoryFlow, "state_transitioned", "state transitioned", trace.WithData(map[string]any{"to": target}))
		if stateDef.OnEnter != nil {
			return stateDef.OnEnter.SendMessage, true
		}
		return "", true
	}
}

// applyTransitions evaluates current's declared transitions for trigger
// (or the unconditional TriggerAlways), applying the first whose
// condition is empty or evaluates true, and follows the resulting chain
// up to a small fixed number of hops — a state machine walk, not
// language recursion, so it terminates even on a misconfigured cycle.
func (e *Engine) applyTransitions(sess *session.Session, current *registry.SubflowStateConfig, trigger registry.TransitionTrigger, extraContext map[string]any, tr *trace.Tracer) *registry.SubflowStateConfig {
	const maxHops = 5

	for hop := 0; hop < maxHops; hop++ {
		if sess.CurrentFlow == nil || current == nil {
			return current
		}

		matched := e.firstMatchingTransition(sess, current, trigger, extraContext)
		if matched == nil {
			return current
		}

		agentID := sess.CurrentAgentID()
		flowID := sess.CurrentFlow.FlowConfigID

		switch matched.Target {
		case registry.TargetExit, registry.TargetAbandon:
			e.state.ExitFlow(sess)
			tr.Trace(trace.CategoryFlow, "flow_"+matched.Target, "flow "+matched.Target+" via transition")
			return nil
		case registry.TargetGoHome:
			e.state.GoHome(sess)
			tr.Trace(trace.CategoryFlow, "flow_go_home", "flow ended via go_home transition")
			return nil
		default:
			next, ok := e.reg.GetFlowState(agentID, flowID, matched.Target)
			if !ok {
				e.log.Warn("transition target not found", zap.String("target", matched.Target))
				return current
			}
			if err := e.state.TransitionState(sess, matched.Target, next); err != nil {
				e.log.Warn("transition failed", zap.Error(err))
				return current
			}
			tr.Trace(trace.CategoryFlow, "auto_transition", "state auto-transitioned", trace.WithData(map[string]any{
				"trigger": string(trigger), "to": matched.Target,
			}))
			current = next
		}
	}
	return current
}

func (e *Engine) firstMatchingTransition(sess *session.Session, current *registry.SubflowStateConfig, trigger registry.TransitionTrigger, extraContext map[string]any) *registry.SubflowTransition {
	for i := range current.Transitions {
		t := &current.Transitions[i]
		if t.Trigger != trigger && t.Trigger != registry.TriggerAlways {
			continue
		}
		if t.Condition == "" {
			return t
		}
		ctxMap := map[string]any{}
		for k, v := range sess.CurrentFlow.StateData {
			ctxMap[k] = v
		}
		for k, v := range extraContext {
			ctxMap[k] = v
		}
		if e.cond.Evaluate(t.Condition, ctxMap) {
			return t
		}
	}
	return nil
}

func toLLMMessages(msgs []contextasm.Message) []llm.Message {
	out := make([]llm.Message, len(msgs))
	for i, m := range msgs {
		out[i] = llm.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

func toLLMTools(defs []contextasm.ToolDef) []llm.ToolSchema {
	out := make([]llm.ToolSchema, len(defs))
	for i, d := range defs {
		out[i] = llm.ToolSchema{Name: d.Name, Description: d.Description, Parameters: d.Parameters}
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func mergeMaps(a, b map[string]any) map[string]any {
	out := cloneMap(a)
	for k, v := range b {
		out[k] = v
	}
	return out
}
