package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAgentConfigs(t *testing.T) {
	agents, err := LoadAgentConfigs(filepath.Join("..", "..", "configs", "agents"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(agents) != 6 {
		t.Fatalf("expected 6 agent configs, got %d", len(agents))
	}

	ids := map[string]bool{}
	for _, a := range agents {
		ids[a.ConfigID] = true
	}
	for _, want := range []string{"felix", "remittances", "billpay", "topups", "credit", "wallet"} {
		if !ids[want] {
			t.Errorf("expected agent config %q to be loaded, got %+v", want, ids)
		}
	}
}

func TestLoadAgentConfigsMissingDir(t *testing.T) {
	if _, err := LoadAgentConfigs(filepath.Join(t.TempDir(), "does-not-exist")); err == nil {
		t.Fatalf("expected an error for a missing directory")
	}
}

func TestLoadAgentConfigsEmptyDir(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadAgentConfigs(dir); err == nil {
		t.Fatalf("expected an error for a directory with no json configs")
	}
}

func TestLoadEngineConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	doc := []byte("root_agent_id: felix\nrecursion_max_depth: 3\nsession_ttl: 12h\ngateway_timeout: 5s\nbudgets:\n  system_prompt: 1200\n")
	if err := os.WriteFile(path, doc, 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg, err := LoadEngineConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RootAgentID != "felix" {
		t.Errorf("expected root_agent_id felix, got %q", cfg.RootAgentID)
	}
	if cfg.SessionTTLDuration() != 12*time.Hour {
		t.Errorf("expected session ttl 12h, got %v", cfg.SessionTTLDuration())
	}
	if cfg.GatewayTimeoutDuration() != 5*time.Second {
		t.Errorf("expected gateway timeout 5s, got %v", cfg.GatewayTimeoutDuration())
	}

	budgets := cfg.ContextBudgets()
	if budgets.SystemPrompt != 1200 {
		t.Errorf("expected overridden system_prompt budget 1200, got %d", budgets.SystemPrompt)
	}
	if budgets.UserProfile == 0 {
		t.Errorf("expected an omitted budget field to fall back to a non-zero default")
	}

	oc := cfg.OrchestratorConfig()
	if oc.RecursionMaxDepth != 3 {
		t.Errorf("expected recursion_max_depth 3, got %d", oc.RecursionMaxDepth)
	}
}
