package main

import (
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/conversa/engine/internal/condition"
	"github.com/conversa/engine/internal/config"
	"github.com/conversa/engine/internal/contextasm"
	"github.com/conversa/engine/internal/enrichment"
	"github.com/conversa/engine/internal/llm/openai"
	"github.com/conversa/engine/internal/orchestrator"
	"github.com/conversa/engine/internal/registry"
	"github.com/conversa/engine/internal/routing"
	"github.com/conversa/engine/internal/session"
	"github.com/conversa/engine/internal/state"
	"github.com/conversa/engine/internal/template"
	"github.com/conversa/engine/internal/toolexec"
	"github.com/conversa/engine/internal/web"
)

func main() {
	config.LoadEnv()

	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║     Conversational Engine v0.1        ║")
	fmt.Println("║   Multi-agent orchestration · Go      ║")
	fmt.Println("╚══════════════════════════════════════╝")

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("❌ Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	agentsDir := os.Getenv("AGENTS_DIR")
	if agentsDir == "" {
		agentsDir = "configs/agents"
	}
	agents, err := config.LoadAgentConfigs(agentsDir)
	if err != nil {
		log.Fatalf("❌ Failed to load agent configs from %s: %v", agentsDir, err)
	}
	fmt.Printf("🧩 Agents: %d loaded from %s\n", len(agents), agentsDir)

	engineConfigPath := os.Getenv("ENGINE_CONFIG")
	if engineConfigPath == "" {
		engineConfigPath = "configs/engine.yaml"
	}
	engineCfg, err := config.LoadEngineConfig(engineConfigPath)
	if err != nil {
		log.Fatalf("❌ Failed to load engine config from %s: %v", engineConfigPath, err)
	}
	fmt.Printf("⚙️  Engine config: %s (root agent: %s)\n", engineConfigPath, engineCfg.RootAgentID)

	reg := registry.New(logger)
	if err := reg.Initialise(agents); err != nil {
		log.Fatalf("❌ Failed to initialise agent registry: %v", err)
	}

	llmClient, err := openai.NewClientFromEnv(logger)
	if err != nil {
		log.Fatalf("❌ Failed to initialize LLM client: %v", err)
	}
	modelName := os.Getenv("LLM_MODEL")
	if modelName == "" {
		modelName = llmClient.GetName()
	}
	fmt.Printf("🤖 LLM: %s (%s)\n", modelName, llmClient.GetName())

	store := session.NewMemoryStore(engineCfg.SessionTTLDuration(), engineCfg.SessionMaxMessages, logger)
	defer store.Close()
	fmt.Printf("💬 Session: TTL=%v MaxMessages=%d\n", engineCfg.SessionTTLDuration(), engineCfg.SessionMaxMessages)

	renderer := template.New(logger)
	cond := condition.New(logger)
	stateMgr := state.New(reg, logger)

	gatewayURL := engineCfg.GatewayBaseURL
	if v := os.Getenv("GATEWAY_BASE_URL"); v != "" {
		gatewayURL = v
	}
	gateway := toolexec.NewGatewayClient(gatewayURL, engineCfg.GatewayTimeoutDuration(), logger)
	fmt.Printf("🌉 Gateway: %s (timeout %v)\n", gatewayURL, engineCfg.GatewayTimeoutDuration())

	tools := toolexec.New(gateway, renderer, logger)
	routingHandler := routing.New(reg, stateMgr, logger)
	enricher := enrichment.New(tools, logger)
	assembler := contextasm.New(engineCfg.ContextBudgets(), renderer, logger)

	eng := orchestrator.New(
		reg, store, stateMgr, tools, routingHandler, enricher, assembler,
		llmClient, renderer, cond, nil, engineCfg.OrchestratorConfig(), logger,
	)

	chatHandler := web.NewChatHandler(eng, store, reg, engineCfg.RootAgentID)
	conversationsHandler := web.NewConversationsHandler(store)
	healthInfo := web.HealthInfo{
		LLMModel:       modelName,
		GatewayBaseURL: gatewayURL,
		AgentCount:     len(agents),
		SessionCount:   store.Count,
	}
	server := web.NewServer(chatHandler, conversationsHandler, healthInfo)

	if err := server.Start(); err != nil {
		log.Fatalf("❌ Server error: %v", err)
	}
}
