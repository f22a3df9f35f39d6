package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/conversa/engine/internal/contextasm"
	"github.com/conversa/engine/internal/orchestrator"
)

// EngineConfig is the process-level policy-knob document read from
// configs/engine.yaml: the orchestrator's turn-level bounds, the
// context assembler's per-section token budgets, and the services
// gateway's HTTP timeout. Model choice and per-agent behaviour stay in
// the agent config tree (internal/registry); this file is deployment
// policy, not conversational content.
type EngineConfig struct {
	RootAgentID                string        `yaml:"root_agent_id"`
	RecentMessageWindow        int           `yaml:"recent_message_window"`
	CompactionMessageThreshold int           `yaml:"compaction_message_threshold"`
	RecursionMaxDepth          int           `yaml:"recursion_max_depth"`
	SessionTTL                 string        `yaml:"session_ttl"`
	SessionMaxMessages         int           `yaml:"session_max_messages"`
	GatewayTimeout             string        `yaml:"gateway_timeout"`
	GatewayBaseURL             string        `yaml:"gateway_base_url"`
	Budgets                    struct {
		SystemPrompt          int `yaml:"system_prompt"`
		UserProfile           int `yaml:"user_profile"`
		ProductContext        int `yaml:"product_context"`
		ConversationRecent    int `yaml:"conversation_recent"`
		ConversationCompacted int `yaml:"conversation_compacted"`
		CurrentState          int `yaml:"current_state"`
		ToolDefinitions       int `yaml:"tool_definitions"`
		Buffer                int `yaml:"buffer"`
	} `yaml:"budgets"`
}

// LoadEngineConfig reads and parses path. Fields the document omits stay
// zero-valued here; defaults are applied later by OrchestratorConfig
// (via orchestrator's withDefaults), ContextBudgets, SessionTTLDuration
// and GatewayTimeoutDuration, so a deployment can override only the
// knobs it cares about.
func LoadEngineConfig(path string) (EngineConfig, error) {
	var cfg EngineConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: reading engine config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing engine config %q: %w", path, err)
	}
	return cfg, nil
}

// OrchestratorConfig projects the orchestrator-relevant knobs into an
// orchestrator.Config, leaving zero fields to orchestrator's own
// withDefaults.
func (c EngineConfig) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		RootAgentID:                c.RootAgentID,
		RecentMessageWindow:        c.RecentMessageWindow,
		CompactionMessageThreshold: c.CompactionMessageThreshold,
		RecursionMaxDepth:          c.RecursionMaxDepth,
	}
}

// SessionTTLDuration parses SessionTTL, defaulting to 24h when unset or
// unparseable.
func (c EngineConfig) SessionTTLDuration() time.Duration {
	return parseDurationOr(c.SessionTTL, 24*time.Hour)
}

// GatewayTimeoutDuration parses GatewayTimeout, defaulting to 30s when
// unset or unparseable, matching toolexec.NewGatewayClient's own
// zero-value default.
func (c EngineConfig) GatewayTimeoutDuration() time.Duration {
	return parseDurationOr(c.GatewayTimeout, 30*time.Second)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// ContextBudgets projects the budgets block into contextasm.Budgets,
// falling back to contextasm.DefaultBudgets() field by field for every
// budget that is missing, zero or negative (all of them when the
// document omits the whole block).
func (c EngineConfig) ContextBudgets() contextasm.Budgets {
	d := contextasm.DefaultBudgets()
	b := c.Budgets
	pick := func(v, fallback int) int {
		if v <= 0 {
			return fallback
		}
		return v
	}
	return contextasm.Budgets{
		SystemPrompt:          pick(b.SystemPrompt, d.SystemPrompt),
		UserProfile:           pick(b.UserProfile, d.UserProfile),
		ProductContext:        pick(b.ProductContext, d.ProductContext),
		ConversationRecent:    pick(b.ConversationRecent, d.ConversationRecent),
		ConversationCompacted: pick(b.ConversationCompacted, d.ConversationCompacted),
		CurrentState:          pick(b.CurrentState, d.CurrentState),
		ToolDefinitions:       pick(b.ToolDefinitions, d.ToolDefinitions),
		Buffer:                pick(b.Buffer, d.Buffer),
	}
}
