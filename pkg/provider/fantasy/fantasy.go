package fantasy

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	core "charm.land/fantasy"
	provideropenai "charm.land/fantasy/providers/openai"

	"grip/pkg/config"
	openaiclient "grip/pkg/provider/openai"
	providertypes "grip/pkg/provider/types"
)

type languageModelProvider interface {
	LanguageModel(ctx context.Context, modelID string) (core.LanguageModel, error)
}

type generateFunc func(context.Context, core.LanguageModel, core.AgentCall, []core.AgentOption) (*core.AgentResult, error)

// DefaultMaxToolSteps bounds agent steps per request when tools are attached.
const DefaultMaxToolSteps = 20

// Client answers completion requests through a fantasy agent backed by the
// OpenAI provider. It holds no conversation state; history arrives with every
// request. Attached tools run inside the agent loop.
type Client struct {
	provider       languageModelProvider
	requestTimeout time.Duration
	modelID        string
	tools          []core.AgentTool
	maxToolSteps   int
	generate       generateFunc
}

func New(cfg *config.Config, tools ...core.AgentTool) (*Client, error) {
	pc := cfg.Providers.OpenAI

	key := openaiclient.LookupKey(pc.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("no API key: set %s or providers.openai.api_key_env", openaiclient.DefaultKeyEnv)
	}

	modelID, err := openaiclient.ModelID(cfg.Agents.Defaults.Model)
	if err != nil {
		return nil, err
	}

	opts := []provideropenai.Option{provideropenai.WithAPIKey(key)}
	if v := strings.TrimSpace(pc.BaseURL); v != "" {
		opts = append(opts, provideropenai.WithBaseURL(v))
	}
	if v := strings.TrimSpace(pc.Organization); v != "" {
		opts = append(opts, provideropenai.WithOrganization(v))
	}
	if v := strings.TrimSpace(pc.Project); v != "" {
		opts = append(opts, provideropenai.WithProject(v))
	}

	backend, err := provideropenai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize fantasy openai provider: %w", err)
	}

	return &Client{
		provider:       backend,
		requestTimeout: time.Duration(pc.RequestTimeoutSeconds) * time.Second,
		modelID:        modelID,
		tools:          tools,
		maxToolSteps:   cmp.Or(max(cfg.Agents.Defaults.MaxToolIterations, 0), DefaultMaxToolSteps),
		generate:       runAgent,
	}, nil
}

func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if _, err := c.provider.LanguageModel(ctx, c.modelID); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	return nil
}

func (c *Client) Complete(ctx context.Context, req providertypes.CompletionRequest) (providertypes.CompletionResult, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	log := slog.Default().With("component", "provider.fantasy")

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return providertypes.CompletionResult{}, errors.New("prompt is required")
	}

	modelID := c.modelID
	if strings.TrimSpace(req.Model) != "" {
		normalized, err := openaiclient.ModelID(req.Model)
		if err != nil {
			return providertypes.CompletionResult{}, err
		}
		modelID = normalized
	}

	languageModel, err := c.provider.LanguageModel(ctx, modelID)
	if err != nil {
		return providertypes.CompletionResult{}, fmt.Errorf("resolve language model: %w", err)
	}

	call := core.AgentCall{
		Prompt:   prompt,
		Messages: toFantasyMessages(req.System, req.History),
	}
	if req.MaxTokens > 0 {
		maxTokens := int64(req.MaxTokens)
		call.MaxOutputTokens = &maxTokens
	}
	if req.Temperature != nil {
		temp := *req.Temperature
		call.Temperature = &temp
	}

	generate := c.generate
	if generate == nil {
		generate = runAgent
	}

	startedAt := time.Now()
	result, err := generate(ctx, languageModel, call, c.buildAgentOptions())
	if err != nil {
		log.Debug("provider request failed", "model", modelID, "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return providertypes.CompletionResult{}, fmt.Errorf("completion failed: %w", err)
	}

	response := extractText(result.Response.Content)
	if response == "" {
		return providertypes.CompletionResult{}, errors.New("completion succeeded but returned no text")
	}
	toolCalls := toolCallNames(result.Steps)
	log.Debug("provider request completed", "model", modelID, "steps", len(result.Steps), "tool_calls", len(toolCalls), "duration_ms", time.Since(startedAt).Milliseconds())

	return providertypes.CompletionResult{
		Text:     response,
		Provider: "fantasy",
		Model:    modelID,
		Usage: providertypes.TokenUsage{
			InputTokens:  result.TotalUsage.InputTokens,
			OutputTokens: result.TotalUsage.OutputTokens,
			TotalTokens:  result.TotalUsage.TotalTokens,
		},
		Steps:     len(result.Steps),
		ToolCalls: toolCalls,
	}, nil
}

func (c *Client) buildAgentOptions() []core.AgentOption {
	if len(c.tools) == 0 {
		return nil
	}

	steps := c.maxToolSteps
	if steps <= 0 {
		steps = DefaultMaxToolSteps
	}

	return []core.AgentOption{
		core.WithTools(c.tools...),
		core.WithStopConditions(core.StepCountIs(steps)),
	}
}

func toolCallNames(steps []core.StepResult) []string {
	var names []string
	for _, step := range steps {
		for _, part := range step.Response.Content {
			if part.GetType() != core.ContentTypeToolCall {
				continue
			}
			if call, ok := core.AsContentType[core.ToolCallContent](part); ok {
				names = append(names, call.ToolName)
			}
		}
	}

	return names
}

func toFantasyMessages(system string, history []providertypes.Message) []core.Message {
	messages := make([]core.Message, 0, len(history)+1)
	if system = strings.TrimSpace(system); system != "" {
		messages = append(messages, textMessage(core.MessageRoleSystem, system))
	}

	for _, msg := range history {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		switch msg.Role {
		case providertypes.RoleUser:
			messages = append(messages, core.NewUserMessage(msg.Content))
		case providertypes.RoleAssistant:
			messages = append(messages, textMessage(core.MessageRoleAssistant, msg.Content))
		case providertypes.RoleSystem:
			messages = append(messages, textMessage(core.MessageRoleSystem, msg.Content))
		}
	}

	return messages
}

func textMessage(role core.MessageRole, text string) core.Message {
	return core.Message{
		Role:    role,
		Content: []core.MessagePart{core.TextPart{Text: text}},
	}
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, c.requestTimeout)
}



func extractText(content core.ResponseContent) string {
	lines := make([]string, 0)
	for _, part := range content {
		if part.GetType() != core.ContentTypeText {
			continue
		}

		textPart, ok := core.AsContentType[core.TextContent](part)
		if !ok {
			continue
		}

		line := strings.TrimSpace(textPart.Text)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func runAgent(ctx context.Context, model core.LanguageModel, call core.AgentCall, options []core.AgentOption) (*core.AgentResult, error) {
	return core.NewAgent(model, options...).Generate(ctx, call)
}
