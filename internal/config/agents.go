package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/conversa/engine/internal/registry"
)

// LoadAgentConfigs reads every *.json file directly under dir, parses
// each as one registry.AgentConfig via registry.ParseAgentConfig, and
// returns them sorted by file name for deterministic startup logging.
// Grounded on original_source/backend/app/seed/agents.py's pattern of
// loading the whole agent tree from a flat directory of per-agent
// documents rather than one monolithic file.
func LoadAgentConfigs(dir string) ([]*registry.AgentConfig, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("config: reading agent config dir %q: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	agents := make([]*registry.AgentConfig, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		doc, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading agent config %q: %w", path, err)
		}
		agent, err := registry.ParseAgentConfig(doc)
		if err != nil {
			return nil, fmt.Errorf("config: parsing agent config %q: %w", path, err)
		}
		agents = append(agents, agent)
	}

	if len(agents) == 0 {
		return nil, fmt.Errorf("config: no agent configs found in %q", dir)
	}
	return agents, nil
}
