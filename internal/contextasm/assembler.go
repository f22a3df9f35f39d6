// Package contextasm assembles the per-turn LLM request package (system
// prompt, message list, tool definitions, model settings) within a set
// of per-section token budgets, grounded on
// original_source/backend/app/core/context_assembler.py.
package contextasm

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/conversa/engine/internal/locale"
	"github.com/conversa/engine/internal/registry"
	"github.com/conversa/engine/internal/session"
	"github.com/conversa/engine/internal/template"
)

// Budgets holds the per-section token ceilings. Defaults mirror
// spec.md §4.E's stated order-of-magnitude values.
type Budgets struct {
	SystemPrompt           int
	UserProfile            int
	ProductContext         int
	ConversationRecent     int
	ConversationCompacted  int
	CurrentState           int
	ToolDefinitions        int
	Buffer                 int
}

// DefaultBudgets returns the spec.md §4.E defaults.
func DefaultBudgets() Budgets {
	return Budgets{
		SystemPrompt:          1000,
		UserProfile:           500,
		ProductContext:        500,
		ConversationRecent:    2000,
		ConversationCompacted: 500,
		CurrentState:          300,
		ToolDefinitions:       1000,
		Buffer:                200,
	}
}

// Message is one OpenAI-format chat message.
type Message struct {
	Role    string
	Content string
}

// ToolDef is one OpenAI-format function/tool definition.
type ToolDef struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Assembled is the complete package handed to the LLM client.
type Assembled struct {
	SystemPrompt string
	Messages     []Message
	Tools        []ToolDef
	Model        string
	Temperature  float64
	MaxTokens    int
	TokenCounts  map[string]int
}

// agentToProduct maps an agent name fragment to the product_summaries
// key it surfaces, grounded on
// ContextAssembler._build_product_context's agent_to_product table.
var agentToProduct = []struct {
	nameFragment string
	productKey   string
}{
	{"remittances", "remittances"},
	{"credit", "credit"},
	{"wallet", "wallet"},
	{"topups", "topups"},
	{"billpay", "billPay"},
}

// Assembler builds Assembled context packages within the configured
// token budgets.
type Assembler struct {
	budgets  Budgets
	renderer *template.Renderer
	log      *zap.Logger
}

// New constructs an Assembler.
func New(budgets Budgets, renderer *template.Renderer, log *zap.Logger) *Assembler {
	if log == nil {
		log = zap.NewNop()
	}
	if renderer == nil {
		renderer = template.New(log)
	}
	return &Assembler{budgets: budgets, renderer: renderer, log: log}
}

// Assemble builds the full LLM request package for one turn.
func (a *Assembler) Assemble(
	s *session.Session,
	userMessage string,
	agent *registry.AgentConfig,
	userCtx *session.UserContext,
	recentMessages []session.ConversationMessage,
	compactedHistory string,
	currentFlowState *registry.SubflowStateConfig,
	lang string,
) (Assembled, error) {
	counts := map[string]int{}

	counter, err := newTokenCounter(agent.ModelConfig.Model)
	if err != nil {
		return Assembled{}, fmt.Errorf("contextasm: building token counter: %w", err)
	}

	var sections []string

	basePrompt := locale.Message(lang, "ctx.base_system_prompt")
	sections = append(sections, basePrompt)
	counts["base_prompt"] = counter.count(basePrompt)

	agentSection := a.buildAgentSection(agent, lang)
	agentSection = counter.truncate(agentSection, a.budgets.SystemPrompt-counts["base_prompt"])
	sections = append(sections, agentSection)
	counts["agent_description"] = counter.count(agentSection)

	if userCtx != nil {
		userSection := a.buildUserSection(userCtx, lang)
		userSection = counter.truncate(userSection, a.budgets.UserProfile)
		sections = append(sections, userSection)
		counts["user_profile"] = counter.count(userSection)
	}

	if userCtx != nil && agent.ParentAgentID != "" {
		if productSection := a.buildProductContext(userCtx, agent, lang); productSection != "" {
			productSection = counter.truncate(productSection, a.budgets.ProductContext)
			sections = append(sections, productSection)
			counts["product_context"] = counter.count(productSection)
		}
	}

	if compactedHistory != "" {
		historySection := a.renderer.Render(locale.Message(lang, "ctx.section.previous_history"), map[string]any{"history": compactedHistory})
		historySection = counter.truncate(historySection, a.budgets.ConversationCompacted)
		sections = append(sections, historySection)
		counts["compacted_history"] = counter.count(historySection)
	}

	if s.CurrentFlow != nil && currentFlowState != nil {
		stateSection := a.buildFlowStateSection(s, currentFlowState, lang)
		stateSection = counter.truncate(stateSection, a.budgets.CurrentState)
		sections = append(sections, stateSection)
		counts["flow_state"] = counter.count(stateSection)
	}

	if s.PendingConfirmation != nil {
		confirmSection := a.buildConfirmationSection(s, lang)
		sections = append(sections, confirmSection)
		counts["pending_confirmation"] = counter.count(confirmSection)
	}

	navSection := a.buildNavigationSection(agent, lang)
	sections = append(sections, navSection)
	counts["navigation"] = counter.count(navSection)

	languageDirective := locale.Message(lang, "ctx.language_directive")
	sections = append(sections, languageDirective)
	counts["language_directive"] = counter.count(languageDirective)

	systemPrompt := strings.Join(sections, "\n")
	counts["total_system"] = counter.count(systemPrompt)

	messages := make([]Message, 0, len(recentMessages)+1)
	messageTokens := 0
	for _, m := range recentMessages {
		role := string(m.Role)
		if m.Role == session.RoleSystem {
			role = "user"
		}
		messages = append(messages, Message{Role: role, Content: m.Content})
		messageTokens += counter.count(m.Content)
	}
	messages = append(messages, Message{Role: "user", Content: userMessage})
	messageTokens += counter.count(userMessage)
	counts["messages"] = messageTokens

	tools := a.buildTools(agent, currentFlowState, lang)
	var toolsRepr strings.Builder
	for _, t := range tools {
		toolsRepr.WriteString(t.Name)
		toolsRepr.WriteString(t.Description)
	}
	counts["tools"] = counter.count(toolsRepr.String())

	model := agent.ModelConfig.Model
	temperature := agent.ModelConfig.Temperature
	maxTokens := agent.ModelConfig.MaxTokens

	return Assembled{
		SystemPrompt: systemPrompt,
		Messages:     messages,
		Tools:        tools,
		Model:        model,
		Temperature:  temperature,
		MaxTokens:    maxTokens,
		TokenCounts:  counts,
	}, nil
}

func (a *Assembler) buildAgentSection(agent *registry.AgentConfig, lang string) string {
	section := a.renderer.Render(locale.Message(lang, "ctx.section.role"), map[string]any{"description": agent.Description})
	if agent.SystemPromptAddition != "" {
		section += "\n\n" + agent.SystemPromptAddition
	}
	return section
}

func (a *Assembler) buildUserSection(userCtx *session.UserContext, lang string) string {
	name := userCtx.Profile.PreferredName
	if name == "" {
		name = userCtx.Profile.Name
	}
	sections := []string{a.renderer.Render(locale.Message(lang, "ctx.section.user"), map[string]any{"name": name})}

	if userCtx.BehavioralSummary != "" {
		sections = append(sections, a.renderer.Render(locale.Message(lang, "ctx.section.user_context"), map[string]any{"behavioral_summary": userCtx.BehavioralSummary}))
	}
	return strings.Join(sections, "\n")
}

func (a *Assembler) buildProductContext(userCtx *session.UserContext, agent *registry.AgentConfig, lang string) string {
	if len(userCtx.ProductSummaries) == 0 {
		return ""
	}

	agentNameLower := strings.ToLower(agent.Name)
	for _, mapping := range agentToProduct {
		if !strings.Contains(agentNameLower, mapping.nameFragment) {
			continue
		}
		summary, ok := userCtx.ProductSummaries[mapping.productKey].(map[string]any)
		if !ok || len(summary) == 0 {
			continue
		}
		formatted := a.formatProductSummary(mapping.productKey, summary, lang)
		if formatted == "" {
			continue
		}
		return a.renderer.Render(locale.Message(lang, "ctx.section.product_context"), map[string]any{
			"agent_name": agent.Name,
			"summary":    formatted,
		})
	}
	return ""
}

func (a *Assembler) formatProductSummary(product string, summary map[string]any, lang string) string {
	var lines []string

	switch product {
	case "remittances":
		if v, ok := summary["lifetimeCount"]; ok {
			lines = append(lines, fmt.Sprintf("- %s: %v", locale.Message(lang, "ctx.product.remittances.lifetime_count"), v))
		}
		if v, ok := summary["lastTransactionAt"]; ok {
			lines = append(lines, fmt.Sprintf("- %s: %v", locale.Message(lang, "ctx.product.remittances.last_transaction"), v))
		}
		if recipients, ok := summary["frequentRecipients"].([]any); ok && len(recipients) > 0 {
			names := make([]string, 0, 3)
			for i, r := range recipients {
				if i >= 3 {
					break
				}
				if rm, ok := r.(map[string]any); ok {
					if name, ok := rm["name"].(string); ok {
						names = append(names, name)
					}
				}
			}
			if len(names) > 0 {
				lines = append(lines, fmt.Sprintf("- %s: %s", locale.Message(lang, "ctx.product.remittances.frequent_recipients"), strings.Join(names, ", ")))
			}
		}

	case "credit":
		if v, ok := summary["hasActiveCredit"].(bool); ok {
			yesNoKey := "ctx.product.no"
			if v {
				yesNoKey = "ctx.product.yes"
			}
			lines = append(lines, fmt.Sprintf("- %s: %s", locale.Message(lang, "ctx.product.credit.active_credit"), locale.Message(lang, yesNoKey)))
		}
		if v, ok := summary["currentBalance"]; ok {
			lines = append(lines, fmt.Sprintf("- %s: $%.2f", locale.Message(lang, "ctx.product.credit.current_balance"), toFloat(v)))
		}
		if v, ok := summary["creditLimit"]; ok {
			lines = append(lines, fmt.Sprintf("- %s: $%.2f", locale.Message(lang, "ctx.product.credit.limit"), toFloat(v)))
		}

	case "wallet":
		if v, ok := summary["currentBalance"]; ok {
			lines = append(lines, fmt.Sprintf("- %s: $%.2f", locale.Message(lang, "ctx.product.wallet.balance"), toFloat(v)))
		}
	}

	if len(lines) == 0 {
		return fmt.Sprintf("%v", summary)
	}
	return strings.Join(lines, "\n")
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	default:
		return 0
	}
}

func (a *Assembler) buildFlowStateSection(s *session.Session, state *registry.SubflowStateConfig, lang string) string {
	flow := s.CurrentFlow
	section := a.renderer.Render(locale.Message(lang, "ctx.section.flow_state"), map[string]any{
		"flow_id":      flow.FlowConfigID,
		"state_id":     flow.CurrentStateID,
		"instructions": state.AgentInstructions,
	})
	if len(flow.StateData) > 0 {
		section += a.renderer.Render(locale.Message(lang, "ctx.section.collected_data"), map[string]any{"data": fmt.Sprintf("%v", flow.StateData)})
	}
	return section
}

func (a *Assembler) buildConfirmationSection(s *session.Session, lang string) string {
	p := s.PendingConfirmation
	return a.renderer.Render(locale.Message(lang, "ctx.section.confirmation_pending"), map[string]any{
		"display_message": p.DisplayMessage,
		"tool_name":        p.ToolName,
	})
}

func (a *Assembler) buildNavigationSection(agent *registry.AgentConfig, lang string) string {
	var lines []string
	isNonRoot := agent.ParentAgentID != ""

	if isNonRoot {
		lines = append(lines, locale.Message(lang, "ctx.section.scope_rule"))
	}

	lines = append(lines, locale.Message(lang, "ctx.section.navigation_header"))
	if isNonRoot {
		lines = append(lines, "- "+locale.Message(lang, "ctx.nav.go_home"))
	}
	if agent.Navigation.CanGoUp {
		lines = append(lines, "- "+locale.Message(lang, "ctx.nav.up_one_level"))
	}
	if agent.Navigation.CanEscalate {
		lines = append(lines, "- "+locale.Message(lang, "ctx.nav.escalate"))
	}
	return strings.Join(lines, "\n")
}

// buildTools assembles the OpenAI-format tool list: the agent's own
// tools, any additional tools named by the current flow state's
// state_tools, and the synthetic navigation tools (go_home is always
// present for non-root agents per spec.md §4.E; up_one_level and
// escalate_to_human are gated on agent.Navigation, mirroring
// ContextAssembler._build_tools. agent.Navigation.CanGoHome is not
// consulted here: spec.md makes go_home's presence a function of
// agent position in the tree, not a configurable flag).
func (a *Assembler) buildTools(agent *registry.AgentConfig, currentFlowState *registry.SubflowStateConfig, lang string) []ToolDef {
	var tools []ToolDef
	seen := map[string]bool{}

	for _, tool := range agent.Tools {
		tools = append(tools, toolToDef(tool))
		seen[tool.Name] = true
	}

	if currentFlowState != nil {
		for _, name := range currentFlowState.StateTools {
			if seen[name] {
				continue
			}
			if tool := agent.GetTool(name); tool != nil {
				tools = append(tools, toolToDef(*tool))
				seen[name] = true
			}
		}
	}

	if agent.ParentAgentID != "" {
		tools = append(tools, ToolDef{
			Name:        "go_home",
			Description: locale.Message(lang, "ctx.tool.go_home.description"),
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		})
	}

	if agent.Navigation.CanGoUp {
		tools = append(tools, ToolDef{
			Name:        "up_one_level",
			Description: locale.Message(lang, "ctx.tool.up_one_level.description"),
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		})
	}

	if agent.Navigation.CanEscalate {
		tools = append(tools, ToolDef{
			Name:        "escalate_to_human",
			Description: locale.Message(lang, "ctx.tool.escalate_to_human.description"),
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"reason": map[string]any{
						"type":        "string",
						"description": locale.Message(lang, "ctx.tool.escalate_to_human.reason_description"),
					},
				},
				"required": []string{"reason"},
			},
		})
	}

	tools = append(tools, ToolDef{
		Name:        "change_language",
		Description: "Change the language the assistant responds in.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"language": map[string]any{"type": "string", "enum": []string{"en", "es"}},
			},
			"required": []string{"language"},
		},
	})

	return tools
}

func toolToDef(tool registry.ToolConfig) ToolDef {
	properties := map[string]any{}
	var required []string

	for _, p := range tool.Parameters {
		prop := map[string]any{"type": string(p.Type)}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	sort.Strings(required)

	return ToolDef{
		Name:        tool.Name,
		Description: tool.Description,
		Parameters: map[string]any{
			"type":       "object",
			"properties": properties,
			"required":   required,
		},
	}
}
