package registry

import (
	"encoding/json"
	"fmt"
	"strings"
)

// rawAgent mirrors the on-disk JSON shape before routing inference and
// legalisation is applied.
type rawAgent struct {
	ID                   string                   `json:"id"`
	Name                 string                   `json:"name"`
	Description          any                      `json:"description"`
	ParentAgent          string                   `json:"parent_agent"`
	SystemPromptAddition any                      `json:"system_prompt_addition"`
	ModelConfig          *ModelConfig             `json:"model_config"`
	Navigation           *NavigationFlags         `json:"navigation"`
	ContextRequirements  []string                 `json:"context_requirements"`
	Tools                []rawTool                `json:"tools"`
	Subflows             []rawSubflow             `json:"subflows"`
	ResponseTemplates    []ResponseTemplateConfig `json:"response_templates"`
	DefaultTools         []string                 `json:"default_tools"`
}

type rawTool struct {
	Name                 string          `json:"name"`
	Description          any             `json:"description"`
	Parameters           []ParamConfig   `json:"parameters"`
	RequiresConfirmation bool            `json:"requires_confirmation"`
	ConfirmationTemplate any             `json:"confirmation_template"`
	SideEffects          SideEffect      `json:"side_effects"`
	FlowTransition       *FlowTransition `json:"flow_transition"`
	Routing              *RoutingConfig  `json:"routing"`
	StartsFlow           string          `json:"starts_flow"`
}

type rawSubflow struct {
	ID              string                   `json:"id"`
	Name            string                   `json:"name"`
	TriggerDesc     any                      `json:"trigger_description"`
	InitialState    string                   `json:"initial_state"`
	DataSchema      map[string]any           `json:"data_schema"`
	TimeoutConfig   map[string]any           `json:"timeout_config"`
	States          []rawState               `json:"states"`
}

type rawState struct {
	ID                string              `json:"id"`
	Name              string              `json:"name"`
	AgentInstructions any                 `json:"agent_instructions"`
	StateTools        []string            `json:"state_tools"`
	Transitions       []SubflowTransition `json:"transitions"`
	OnEnter           *OnEnter            `json:"on_enter"`
	IsFinal           bool                `json:"is_final"`
}

// localizedString returns the English value from either a plain JSON
// string or a legacy {"en": ..., "es": ...} object, per original_source's
// seed/agents.py::_get_string_value.
func localizedString(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]any:
		if en, ok := v["en"].(string); ok {
			return en
		}
		for _, val := range v {
			if s, ok := val.(string); ok {
				return s
			}
		}
	}
	return ""
}

// inferRouting derives a RoutingConfig when the config author left it
// implicit, following the name-prefix conventions of the source system.
func inferRouting(t rawTool) *RoutingConfig {
	if t.Routing != nil {
		return t.Routing
	}
	if t.StartsFlow != "" {
		return &RoutingConfig{Type: RoutingStartFlow, Target: t.StartsFlow}
	}
	switch {
	case strings.HasPrefix(t.Name, "enter_"):
		return &RoutingConfig{Type: RoutingEnterAgent, Target: strings.TrimPrefix(t.Name, "enter_")}
	case strings.HasPrefix(t.Name, "start_flow_"):
		return &RoutingConfig{Type: RoutingStartFlow, Target: strings.TrimPrefix(t.Name, "start_flow_")}
	case t.Name == NavUpOneLevel || t.Name == NavGoHome || t.Name == NavEscalateToHuman:
		return &RoutingConfig{Type: RoutingNavigation, Target: t.Name}
	}
	return nil
}

func parseTool(rt rawTool) ToolConfig {
	tc := ToolConfig{
		Name:                 rt.Name,
		Description:          localizedString(rt.Description),
		Parameters:           rt.Parameters,
		RequiresConfirmation: rt.RequiresConfirmation,
		ConfirmationTemplate: localizedString(rt.ConfirmationTemplate),
		SideEffects:          rt.SideEffects,
		FlowTransition:       rt.FlowTransition,
		Routing:              inferRouting(rt),
	}
	if tc.SideEffects == "" {
		tc.SideEffects = SideEffectNone
	}
	return tc
}

func parseState(rs rawState) SubflowStateConfig {
	name := rs.Name
	if name == "" {
		name = rs.ID
	}
	return SubflowStateConfig{
		StateID:           rs.ID,
		Name:              name,
		AgentInstructions: localizedString(rs.AgentInstructions),
		StateTools:        rs.StateTools,
		Transitions:       rs.Transitions,
		OnEnter:           rs.OnEnter,
		IsFinal:           rs.IsFinal,
	}
}

func parseSubflow(rs rawSubflow, agentID string) SubflowConfig {
	name := rs.Name
	if name == "" {
		name = rs.ID
	}
	states := make(map[string]*SubflowStateConfig, len(rs.States))
	list := make([]SubflowStateConfig, 0, len(rs.States))
	for _, s := range rs.States {
		parsed := parseState(s)
		list = append(list, parsed)
	}
	for i := range list {
		states[list[i].StateID] = &list[i]
	}
	return SubflowConfig{
		ConfigID:           rs.ID,
		AgentID:            agentID,
		Name:               name,
		TriggerDescription: localizedString(rs.TriggerDesc),
		InitialState:       rs.InitialState,
		DataSchema:         rs.DataSchema,
		TimeoutConfig:      rs.TimeoutConfig,
		States:             states,
		StatesList:         list,
	}
}

// ParseAgentConfig parses one agent's JSON document into an AgentConfig,
// applying routing inference and legacy-localised-string collapsing.
// The raw document is retained for downstream localisation lookups.
func ParseAgentConfig(doc []byte) (*AgentConfig, error) {
	var ra rawAgent
	if err := json.Unmarshal(doc, &ra); err != nil {
		return nil, fmt.Errorf("registry: parse agent config: %w", err)
	}
	if ra.ID == "" {
		return nil, fmt.Errorf("registry: agent config missing id")
	}

	tools := make([]ToolConfig, 0, len(ra.Tools))
	for _, rt := range ra.Tools {
		tools = append(tools, parseTool(rt))
	}

	subflows := make([]SubflowConfig, 0, len(ra.Subflows))
	for _, rs := range ra.Subflows {
		subflows = append(subflows, parseSubflow(rs, ra.ID))
	}

	modelConfig := DefaultModelConfig()
	if ra.ModelConfig != nil {
		modelConfig = *ra.ModelConfig
	}
	nav := DefaultNavigationFlags()
	if ra.Navigation != nil {
		nav = *ra.Navigation
	}

	name := ra.Name
	if name == "" {
		name = ra.ID
	}

	return &AgentConfig{
		ConfigID:             ra.ID,
		Name:                 name,
		Description:          localizedString(ra.Description),
		ParentAgentID:        ra.ParentAgent,
		SystemPromptAddition: localizedString(ra.SystemPromptAddition),
		ModelConfig:          modelConfig,
		Navigation:           nav,
		ContextRequirements:  ra.ContextRequirements,
		Tools:                tools,
		Subflows:             subflows,
		ResponseTemplates:    ra.ResponseTemplates,
		DefaultTools:         ra.DefaultTools,
		Raw:                  json.RawMessage(doc),
	}, nil
}
