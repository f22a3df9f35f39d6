package contextasm

import (
	"strings"
	"testing"

	"github.com/conversa/engine/internal/registry"
	"github.com/conversa/engine/internal/session"
	"github.com/conversa/engine/internal/template"
)

func testAgent() *registry.AgentConfig {
	return &registry.AgentConfig{
		ConfigID:    "remittances",
		Name:        "Remittances",
		Description: "Handles international money transfers.",
		ModelConfig: registry.DefaultModelConfig(),
		Navigation:  registry.NavigationFlags{CanGoUp: true, CanEscalate: true},
		Tools: []registry.ToolConfig{
			{Name: "create_transfer", Description: "Create a transfer", Parameters: []registry.ParamConfig{
				{Name: "amount", Type: registry.ParamNumber, Required: true},
			}},
		},
	}
}

func TestAssembleBasicSystemPrompt(t *testing.T) {
	asm := New(DefaultBudgets(), template.New(nil), nil)
	s := session.NewSession("user-1", "root")
	agent := testAgent()
	agent.ParentAgentID = "root"

	out, err := asm.Assemble(s, "hello", agent, nil, nil, "", nil, "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.SystemPrompt, "Handles international money transfers.") {
		t.Fatalf("expected agent description in system prompt, got: %s", out.SystemPrompt)
	}
	if len(out.Messages) != 1 || out.Messages[0].Content != "hello" {
		t.Fatalf("expected a single user message, got %+v", out.Messages)
	}
	foundGoHome := false
	for _, tool := range out.Tools {
		if tool.Name == "go_home" {
			foundGoHome = true
		}
	}
	if !foundGoHome {
		t.Fatalf("expected go_home tool for non-root agent, got %+v", out.Tools)
	}
}

func TestAssembleRootAgentHasNoGoHome(t *testing.T) {
	asm := New(DefaultBudgets(), template.New(nil), nil)
	s := session.NewSession("user-1", "root")
	agent := testAgent()
	agent.ConfigID = "root"
	agent.ParentAgentID = ""

	out, err := asm.Assemble(s, "hi", agent, nil, nil, "", nil, "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, tool := range out.Tools {
		if tool.Name == "go_home" {
			t.Fatalf("did not expect go_home tool for the root agent")
		}
	}
}

func TestAssembleIncludesUserAndProductContext(t *testing.T) {
	asm := New(DefaultBudgets(), template.New(nil), nil)
	s := session.NewSession("user-1", "remittances")
	agent := testAgent()
	agent.ParentAgentID = "root"

	userCtx := &session.UserContext{
		UserID: "user-1",
		Profile: session.Profile{Name: "Ana", PreferredName: "Ana"},
		ProductSummaries: map[string]any{
			"remittances": map[string]any{"lifetimeCount": 12},
		},
	}

	out, err := asm.Assemble(s, "hi", agent, userCtx, nil, "", nil, "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.SystemPrompt, "Ana") {
		t.Fatalf("expected user name in system prompt, got: %s", out.SystemPrompt)
	}
	if !strings.Contains(out.SystemPrompt, "Total transfers") {
		t.Fatalf("expected product context section, got: %s", out.SystemPrompt)
	}
}

func TestAssembleIncludesFlowStateAndConfirmation(t *testing.T) {
	asm := New(DefaultBudgets(), template.New(nil), nil)
	s := session.NewSession("user-1", "remittances")
	s.CurrentFlow = &session.FlowState{FlowConfigID: "verify_phone", CurrentStateID: "ask_number", StateData: map[string]any{"carrier_id": "telcel"}}
	s.PendingConfirmation = &session.PendingConfirmation{ToolName: "create_transfer", DisplayMessage: "Send 100 to Ana?"}
	agent := testAgent()
	agent.ParentAgentID = "root"
	state := &registry.SubflowStateConfig{StateID: "ask_number", AgentInstructions: "Ask for the recipient's number."}

	out, err := asm.Assemble(s, "hi", agent, nil, nil, "", state, "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.SystemPrompt, "Ask for the recipient's number.") {
		t.Fatalf("expected flow state instructions in system prompt, got: %s", out.SystemPrompt)
	}
	if !strings.Contains(out.SystemPrompt, "Send 100 to Ana?") {
		t.Fatalf("expected pending confirmation section in system prompt, got: %s", out.SystemPrompt)
	}
}

func TestAssembleTruncatesOversizedSections(t *testing.T) {
	budgets := DefaultBudgets()
	budgets.SystemPrompt = 5
	asm := New(budgets, template.New(nil), nil)
	s := session.NewSession("user-1", "root")
	agent := testAgent()
	agent.Description = strings.Repeat("this is a very long agent description that should be truncated ", 50)

	out, err := asm.Assemble(s, "hi", agent, nil, nil, "", nil, "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.TokenCounts["agent_description"] > budgets.SystemPrompt {
		t.Fatalf("expected agent_description truncated to budget, got %d tokens", out.TokenCounts["agent_description"])
	}
}

func TestAssembleSpanishLanguageDirective(t *testing.T) {
	asm := New(DefaultBudgets(), template.New(nil), nil)
	s := session.NewSession("user-1", "root")
	agent := testAgent()

	out, err := asm.Assemble(s, "hola", agent, nil, nil, "", nil, "es")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.SystemPrompt, "español") {
		t.Fatalf("expected Spanish language directive, got: %s", out.SystemPrompt)
	}
}
