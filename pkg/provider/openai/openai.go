// Package openai talks to the chat completions API with plain message
// history. It never offers tools to the model.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	osdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"grip/pkg/config"
	providertypes "grip/pkg/provider/types"
)

const (
	ProviderID    = "openai"
	DefaultKeyEnv = "OPENAI_API_KEY"
)

type Client struct {
	api     osdk.Client
	timeout time.Duration
	log     *slog.Logger
}

func New(cfg *config.Config) (*Client, error) {
	pc := cfg.Providers.OpenAI

	key := LookupKey(pc.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("no API key: set %s or providers.openai.api_key_env", DefaultKeyEnv)
	}

	opts := []option.RequestOption{option.WithAPIKey(key)}
	optional := []struct {
		value string
		with  func(string) option.RequestOption
	}{
		{pc.BaseURL, option.WithBaseURL},
		{pc.Organization, option.WithOrganization},
		{pc.Project, option.WithProject},
	}
	for _, o := range optional {
		if value := strings.TrimSpace(o.value); value != "" {
			opts = append(opts, o.with(value))
		}
	}

	timeout := time.Duration(pc.RequestTimeoutSeconds) * time.Second
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}

	return &Client{
		api:     osdk.NewClient(opts...),
		timeout: timeout,
		log:     slog.Default().With("component", "provider.openai"),
	}, nil
}

// Health lists models as a cheap authenticated round trip.
func (c *Client) Health(ctx context.Context) error {
	return c.traced(ctx, "health", func(ctx context.Context) error {
		if _, err := c.api.Models.List(ctx); err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		return nil
	})
}

// Complete sends the system prompt, history and prompt as one chat completion.
func (c *Client) Complete(ctx context.Context, req providertypes.CompletionRequest) (providertypes.CompletionResult, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return providertypes.CompletionResult{}, errors.New("prompt is required")
	}
	model, err := ModelID(req.Model)
	if err != nil {
		return providertypes.CompletionResult{}, err
	}

	params := osdk.ChatCompletionNewParams{
		Model:    model,
		Messages: toMessages(req.System, req.History, prompt),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = osdk.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = osdk.Float(*req.Temperature)
	}

	var result providertypes.CompletionResult
	err = c.traced(ctx, "complete", func(ctx context.Context) error {
		completion, err := c.api.Chat.Completions.New(ctx, params)
		if err != nil {
			return fmt.Errorf("completion failed: %w", err)
		}
		if len(completion.Choices) == 0 {
			return errors.New("completion returned no choices")
		}

		text := strings.TrimSpace(completion.Choices[0].Message.Content)
		if text == "" {
			return errors.New("completion succeeded but returned no text")
		}

		result = providertypes.CompletionResult{
			Text:     text,
			Provider: ProviderID,
			Model:    model,
			Steps:    1,
			Usage: providertypes.TokenUsage{
				InputTokens:  completion.Usage.PromptTokens,
				OutputTokens: completion.Usage.CompletionTokens,
				TotalTokens:  completion.Usage.TotalTokens,
			},
		}
		return nil
	}, "model", model, "history_length", len(req.History))

	return result, err
}

// traced applies the request timeout and logs the call's duration and outcome.
func (c *Client) traced(ctx context.Context, operation string, call func(context.Context) error, attrs ...any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	log := c.log.With("operation", operation).With(attrs...)
	started := time.Now()
	log.Debug("Provider request started")

	err := call(ctx)
	elapsed := time.Since(started).Milliseconds()
	if err != nil {
		log.Debug("Provider request failed", "duration_ms", elapsed, "error", err)
		return err
	}

	log.Debug("Provider request completed", "duration_ms", elapsed)
	return nil
}

func toMessages(system string, history []providertypes.Message, prompt string) []osdk.ChatCompletionMessageParamUnion {
	out := make([]osdk.ChatCompletionMessageParamUnion, 0, len(history)+2)
	if system = strings.TrimSpace(system); system != "" {
		out = append(out, osdk.SystemMessage(system))
	}

	for _, msg := range history {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		switch msg.Role {
		case providertypes.RoleUser:
			out = append(out, osdk.UserMessage(msg.Content))
		case providertypes.RoleAssistant:
			out = append(out, osdk.AssistantMessage(msg.Content))
		case providertypes.RoleSystem:
			out = append(out, osdk.SystemMessage(msg.Content))
		}
	}

	return append(out, osdk.UserMessage(prompt))
}

// LookupKey reads the API key from the configured variable, falling back to
// DefaultKeyEnv.
func LookupKey(configured string) string {
	for _, name := range []string{strings.TrimSpace(configured), DefaultKeyEnv} {
		if name == "" {
			continue
		}
		if key := strings.TrimSpace(os.Getenv(name)); key != "" {
			return key
		}
	}
	return ""
}

// ModelID strips an "openai/" prefix and rejects other providers.
func ModelID(model string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", errors.New("model is required")
	}

	prefix, name, found := strings.Cut(model, "/")
	if !found {
		return model, nil
	}
	prefix, name = strings.TrimSpace(prefix), strings.TrimSpace(name)
	switch {
	case prefix == "" || name == "":
		return "", fmt.Errorf("model %q is invalid", model)
	case prefix != ProviderID:
		return "", fmt.Errorf("model provider %q is not supported by the openai backend", prefix)
	}

	return name, nil
}
