package fantasy

import (
	"context"
	"errors"
	"testing"

	core "charm.land/fantasy"

	"grip/pkg/config"
	providertypes "grip/pkg/provider/types"
)

type fakeLanguageModelProvider struct {
	model     core.LanguageModel
	err       error
	lastID    string
	callCount int
}

func (f *fakeLanguageModelProvider) LanguageModel(ctx context.Context, modelID string) (core.LanguageModel, error) {
	f.callCount++
	f.lastID = modelID
	if f.err != nil {
		return nil, f.err
	}

	return f.model, nil
}

type fakeLanguageModel struct{}

func (f *fakeLanguageModel) Generate(context.Context, core.Call) (*core.Response, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeLanguageModel) Stream(context.Context, core.Call) (core.StreamResponse, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeLanguageModel) GenerateObject(context.Context, core.ObjectCall) (*core.ObjectResponse, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeLanguageModel) StreamObject(context.Context, core.ObjectCall) (core.ObjectStreamResponse, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeLanguageModel) Provider() string { return "openai" }
func (f *fakeLanguageModel) Model() string    { return "gpt-5.2" }

func TestNewRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	cfg := &config.Config{}
	cfg.Agents.Defaults.Model = "openai/gpt-5.2"

	if _, err := New(cfg); err == nil {
		t.Fatal("expected missing api key error")
	}
}

func TestNewRejectsForeignModelPrefix(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg := &config.Config{}
	cfg.Agents.Defaults.Model = "anthropic/claude"

	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for non-openai model")
	}
}

func TestHealthResolvesDefaultModel(t *testing.T) {
	provider := &fakeLanguageModelProvider{model: &fakeLanguageModel{}}
	client := &Client{provider: provider, modelID: "gpt-5.2"}

	if err := client.Health(context.Background()); err != nil {
		t.Fatalf("Health error: %v", err)
	}
	if provider.callCount != 1 {
		t.Fatalf("health call count = %d, want 1", provider.callCount)
	}
	if provider.lastID != "gpt-5.2" {
		t.Fatalf("model id = %q, want %q", provider.lastID, "gpt-5.2")
	}
}

func TestCompleteValidatesPrompt(t *testing.T) {
	client := &Client{
		provider: &fakeLanguageModelProvider{model: &fakeLanguageModel{}},
		modelID:  "gpt-5.2",
	}

	if _, err := client.Complete(context.Background(), providertypes.CompletionRequest{Prompt: "  "}); err == nil {
		t.Fatal("expected error for empty prompt")
	}
}

func TestCompleteBuildsMessagesFromHistory(t *testing.T) {
	provider := &fakeLanguageModelProvider{model: &fakeLanguageModel{}}
	var captured core.AgentCall
	client := &Client{
		provider: provider,
		modelID:  "gpt-5.2",
		generate: func(ctx context.Context, model core.LanguageModel, call core.AgentCall, options []core.AgentOption) (*core.AgentResult, error) {
			captured = call
			if len(options) != 0 {
				t.Fatalf("options = %d, want none without tools", len(options))
			}
			return &core.AgentResult{
				Response: core.Response{
					Content: core.ResponseContent{core.TextContent{Text: " reply "}},
				},
				TotalUsage: core.Usage{InputTokens: 7, OutputTokens: 2, TotalTokens: 9},
			}, nil
		},
	}

	temp := 0.2
	result, err := client.Complete(context.Background(), providertypes.CompletionRequest{
		Model:  "openai/gpt-5-mini",
		System: "system profile",
		History: []providertypes.Message{
			{Role: providertypes.RoleUser, Content: "hello"},
			{Role: providertypes.RoleAssistant, Content: "hi"},
			{Role: providertypes.RoleUser, Content: ""},
		},
		Prompt:      "how are you",
		MaxTokens:   128,
		Temperature: &temp,
	})
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}

	if result.Text != "reply" {
		t.Fatalf("text = %q, want reply", result.Text)
	}
	if result.Model != "gpt-5-mini" {
		t.Fatalf("model = %q, want gpt-5-mini", result.Model)
	}
	if provider.lastID != "gpt-5-mini" {
		t.Fatalf("resolved model = %q, want gpt-5-mini", provider.lastID)
	}
	if result.Usage.TotalTokens != 9 {
		t.Fatalf("total tokens = %d, want 9", result.Usage.TotalTokens)
	}

	if captured.Prompt != "how are you" {
		t.Fatalf("prompt = %q", captured.Prompt)
	}
	if len(captured.Messages) != 3 {
		t.Fatalf("messages length = %d, want 3", len(captured.Messages))
	}
	if captured.Messages[0].Role != core.MessageRoleSystem {
		t.Fatalf("first role = %q, want system", captured.Messages[0].Role)
	}
	if captured.Messages[2].Role != core.MessageRoleAssistant {
		t.Fatalf("last role = %q, want assistant", captured.Messages[2].Role)
	}
	if captured.MaxOutputTokens == nil || *captured.MaxOutputTokens != 128 {
		t.Fatalf("max output tokens = %v, want 128", captured.MaxOutputTokens)
	}
	if captured.Temperature == nil || *captured.Temperature != 0.2 {
		t.Fatalf("temperature = %v, want 0.2", captured.Temperature)
	}
}

func TestCompleteRejectsEmptyResponse(t *testing.T) {
	client := &Client{
		provider: &fakeLanguageModelProvider{model: &fakeLanguageModel{}},
		modelID:  "gpt-5.2",
		generate: func(context.Context, core.LanguageModel, core.AgentCall, []core.AgentOption) (*core.AgentResult, error) {
			return &core.AgentResult{}, nil
		},
	}

	if _, err := client.Complete(context.Background(), providertypes.CompletionRequest{Prompt: "hello"}); err == nil {
		t.Fatal("expected error for empty response")
	}
}

func TestExtractText(t *testing.T) {
	content := core.ResponseContent{
		core.ReasoningContent{Text: "ignore me"},
		core.TextContent{Text: "  first  "},
		core.TextContent{Text: ""},
		core.TextContent{Text: "second"},
	}

	got := extractText(content)
	if got != "first\nsecond" {
		t.Fatalf("extractText() = %q", got)
	}
}

func TestCompleteCountsToolSteps(t *testing.T) {
	noop := core.NewAgentTool("noop", "noop tool", func(context.Context, struct{}, core.ToolCall) (core.ToolResponse, error) {
		return core.NewTextResponse("ok"), nil
	})

	var gotOptions int
	client := &Client{
		provider:     &fakeLanguageModelProvider{model: &fakeLanguageModel{}},
		modelID:      "gpt-5.2",
		tools:        []core.AgentTool{noop},
		maxToolSteps: 4,
		generate: func(_ context.Context, _ core.LanguageModel, _ core.AgentCall, options []core.AgentOption) (*core.AgentResult, error) {
			gotOptions = len(options)
			return &core.AgentResult{
				Steps: []core.StepResult{
					{Response: core.Response{
						FinishReason: core.FinishReasonToolCalls,
						Content:      core.ResponseContent{core.ToolCallContent{ToolCallID: "1", ToolName: "noop", Input: `{}`}},
					}},
					{Response: core.Response{Content: core.ResponseContent{core.TextContent{Text: "done"}}}},
				},
				Response: core.Response{Content: core.ResponseContent{core.TextContent{Text: "done"}}},
			}, nil
		},
	}

	result, err := client.Complete(context.Background(), providertypes.CompletionRequest{Prompt: "use the tool"})
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if gotOptions != 2 {
		t.Fatalf("agent options = %d, want tools and stop condition", gotOptions)
	}
	if result.Steps != 2 {
		t.Fatalf("steps = %d, want 2", result.Steps)
	}
	if len(result.ToolCalls) != 1 || result.ToolCalls[0] != "noop" {
		t.Fatalf("tool calls = %v, want [noop]", result.ToolCalls)
	}
}
