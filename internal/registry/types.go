// Package registry holds the declarative agent/tool/subflow configuration
// model and the read-mostly index built from it at startup.
package registry

import "encoding/json"

// ParamType enumerates the JSON-schema scalar/composite types a tool
// parameter may declare.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamInteger ParamType = "integer"
	ParamBoolean ParamType = "boolean"
	ParamObject  ParamType = "object"
	ParamArray   ParamType = "array"
)

// ParamConfig describes one declared tool parameter.
type ParamConfig struct {
	Name        string      `json:"name"`
	Type        ParamType   `json:"type"`
	Description string      `json:"description,omitempty"`
	Required    bool        `json:"required,omitempty"`
	Enum        []any       `json:"enum,omitempty"`
	Validation  *Validation `json:"validation,omitempty"`
}

// Validation captures the optional extra constraints a parameter can
// carry; today only enum is consulted, the rest is retained for
// forward-compatible configs.
type Validation struct {
	Enum []any `json:"enum,omitempty"`
}

// SideEffect classifies what a tool does to the outside world.
type SideEffect string

const (
	SideEffectNone      SideEffect = "none"
	SideEffectRead      SideEffect = "read"
	SideEffectWrite     SideEffect = "write"
	SideEffectFinancial SideEffect = "financial"
)

// RoutingType is the tagged-union discriminant of RoutingConfig.
type RoutingType string

const (
	RoutingEnterAgent RoutingType = "enter_agent"
	RoutingStartFlow  RoutingType = "start_flow"
	RoutingNavigation RoutingType = "navigation"
	RoutingService    RoutingType = "service"
)

// Navigation targets, valid only when RoutingType == RoutingNavigation.
const (
	NavUpOneLevel      = "up_one_level"
	NavGoHome          = "go_home"
	NavEscalateToHuman = "escalate_to_human"
)

// RoutingConfig decides what a tool call means to the session state
// machine, as opposed to a plain service invocation.
type RoutingConfig struct {
	Type       RoutingType `json:"type"`
	Target     string      `json:"target,omitempty"`
	CrossAgent string      `json:"cross_agent,omitempty"`
}

// FlowTransition names the states to move to after a tool executes.
type FlowTransition struct {
	OnSuccess string `json:"on_success,omitempty"`
	OnError   string `json:"on_error,omitempty"`
}

// ToolConfig is one callable tool surfaced to the model.
type ToolConfig struct {
	Name                 string          `json:"name"`
	Description          string          `json:"description"`
	Parameters           []ParamConfig   `json:"parameters,omitempty"`
	RequiresConfirmation bool            `json:"requires_confirmation,omitempty"`
	ConfirmationTemplate string          `json:"confirmation_template,omitempty"`
	SideEffects          SideEffect      `json:"side_effects,omitempty"`
	FlowTransition       *FlowTransition `json:"flow_transition,omitempty"`
	Routing              *RoutingConfig  `json:"routing,omitempty"`
}

// TransitionTrigger enumerates when a SubflowTransition is considered.
type TransitionTrigger string

const (
	TriggerOnUserTurn  TransitionTrigger = "on_user_turn"
	TriggerOnToolResult TransitionTrigger = "on_tool_result"
	TriggerAlways      TransitionTrigger = "always"
)

// Special transition targets outside the sibling-state namespace.
const (
	TargetExit    = "exit"
	TargetAbandon = "abandon"
	TargetGoHome  = "go_home"
)

// SubflowTransition is one ordered entry of a state's transition list.
type SubflowTransition struct {
	Trigger   TransitionTrigger `json:"transition_trigger"`
	Condition string            `json:"condition,omitempty"`
	Target    string            `json:"target"`
}

// OnEnter describes the side effects a state triggers as soon as it
// becomes current.
type OnEnter struct {
	SendMessage   string `json:"send_message,omitempty"`
	CallTool      string `json:"call_tool,omitempty"`
	CallToolArgs  map[string]any `json:"call_tool_args,omitempty"`
	StoreAs       string `json:"store_as,omitempty"`
	FetchContext  []string `json:"fetch_context,omitempty"`
}

// SubflowStateConfig is one node of a subflow's state machine.
type SubflowStateConfig struct {
	StateID            string              `json:"id"`
	Name                string              `json:"name,omitempty"`
	AgentInstructions   string              `json:"agent_instructions,omitempty"`
	StateTools          []string            `json:"state_tools,omitempty"`
	Transitions         []SubflowTransition `json:"transitions,omitempty"`
	OnEnter             *OnEnter            `json:"on_enter,omitempty"`
	IsFinal             bool                `json:"is_final,omitempty"`
}

// SubflowConfig is a finite state machine scoped to a single agent.
type SubflowConfig struct {
	ConfigID           string                        `json:"id"`
	AgentID            string                        `json:"-"`
	Name               string                        `json:"name,omitempty"`
	TriggerDescription string                        `json:"trigger_description,omitempty"`
	InitialState       string                        `json:"initial_state"`
	DataSchema         map[string]any                `json:"data_schema,omitempty"`
	TimeoutConfig      map[string]any                `json:"timeout_config,omitempty"`
	States             map[string]*SubflowStateConfig `json:"-"`
	StatesList         []SubflowStateConfig          `json:"states,omitempty"`
}

// TriggerType is the discriminant of a ResponseTemplateConfig's trigger.
type TriggerType string

const (
	TriggerToolSuccess TriggerType = "tool_success"
	TriggerToolError   TriggerType = "tool_error"
	TriggerStateEntry  TriggerType = "state_entry"
	TriggerConfirm     TriggerType = "confirmation"
)

// TemplateTrigger is the match key for ResponseTemplateConfig selection.
type TemplateTrigger struct {
	Type      TriggerType `json:"type"`
	ToolName  string      `json:"tool_name,omitempty"`
	StateName string      `json:"state_name,omitempty"`
	ErrorCode string      `json:"error_code,omitempty"`
}

// Enforcement controls whether a ResponseTemplateConfig must apply or is
// merely preferred when its required fields resolve.
type Enforcement string

const (
	EnforcementMandatory Enforcement = "mandatory"
	EnforcementSuggested Enforcement = "suggested"
)

// ResponseTemplateConfig is a canned reply template selected by trigger.
type ResponseTemplateConfig struct {
	Name           string          `json:"name"`
	Trigger        TemplateTrigger `json:"trigger_config"`
	Template       string          `json:"template"`
	RequiredFields []string        `json:"required_fields,omitempty"`
	Enforcement    Enforcement     `json:"enforcement,omitempty"`
}

// ModelConfig names the LLM model and sampling parameters an agent uses.
type ModelConfig struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"maxTokens"`
}

// NavigationFlags controls which synthetic navigation tools are offered.
type NavigationFlags struct {
	CanGoUp      bool `json:"canGoUp"`
	CanGoHome    bool `json:"canGoHome"`
	CanEscalate  bool `json:"canEscalate"`
}

// DefaultModelConfig mirrors the source's dataclass default.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{Model: "gpt-5.2", Temperature: 0.7, MaxTokens: 1024}
}

// DefaultNavigationFlags mirrors the source's dataclass default.
func DefaultNavigationFlags() NavigationFlags {
	return NavigationFlags{CanGoUp: false, CanGoHome: false, CanEscalate: true}
}

// AgentConfig is one node of the agent tree.
type AgentConfig struct {
	ConfigID              string                   `json:"id"`
	Name                  string                   `json:"name"`
	Description           string                   `json:"description"`
	ParentAgentID         string                   `json:"parent_agent,omitempty"`
	SystemPromptAddition  string                   `json:"system_prompt_addition,omitempty"`
	ModelConfig           ModelConfig              `json:"model_config"`
	Navigation            NavigationFlags          `json:"navigation"`
	ContextRequirements   []string                 `json:"context_requirements,omitempty"`
	Tools                 []ToolConfig             `json:"tools,omitempty"`
	Subflows               []SubflowConfig          `json:"subflows,omitempty"`
	ResponseTemplates      []ResponseTemplateConfig `json:"response_templates,omitempty"`
	DefaultTools           []string                 `json:"default_tools,omitempty"`

	// Raw holds the verbatim parsed document, used by the localisation
	// layer (internal/locale) for legacy {en,es} string fields that the
	// typed struct above has already collapsed to their English value.
	Raw json.RawMessage `json:"-"`
}

// GetTool returns the named tool, or nil.
func (a *AgentConfig) GetTool(name string) *ToolConfig {
	for i := range a.Tools {
		if a.Tools[i].Name == name {
			return &a.Tools[i]
		}
	}
	return nil
}

// GetSubflow returns the named subflow, or nil.
func (a *AgentConfig) GetSubflow(configID string) *SubflowConfig {
	for i := range a.Subflows {
		if a.Subflows[i].ConfigID == configID {
			return &a.Subflows[i]
		}
	}
	return nil
}
