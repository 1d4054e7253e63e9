// Package provider selects the model backend named in the config.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	core "charm.land/fantasy"

	"grip/pkg/config"
	providerfantasy "grip/pkg/provider/fantasy"
	provideropenai "grip/pkg/provider/openai"
	providertypes "grip/pkg/provider/types"
)

type Client interface {
	Health(ctx context.Context) error
	Complete(ctx context.Context, req providertypes.CompletionRequest) (providertypes.CompletionResult, error)
}

type factory func(cfg *config.Config, tools []core.AgentTool) (Client, error)

// "openai" talks to the chat completions API directly and ignores tools.
// "fantasy" drives the same endpoint through the fantasy agent runtime.
var factories = map[string]factory{
	"openai": func(cfg *config.Config, _ []core.AgentTool) (Client, error) {
		return provideropenai.New(cfg)
	},
	"fantasy": func(cfg *config.Config, tools []core.AgentTool) (Client, error) {
		return providerfantasy.New(cfg, tools...)
	},
}

// DefaultProvider is used when agents.defaults.provider is empty.
const DefaultProvider = "openai"

// New builds the client named by agents.defaults.provider.
func New(cfg *config.Config, tools ...core.AgentTool) (Client, error) {
	id := strings.ToLower(strings.TrimSpace(cfg.Agents.Defaults.Provider))
	if id == "" {
		id = DefaultProvider
	}

	build, ok := factories[id]
	if !ok {
		return nil, fmt.Errorf("unsupported provider %q (known: %s)", id, strings.Join(Known(), ", "))
	}

	slog.Default().With("component", "provider").Debug("Building provider client", "provider", id, "tools", len(tools))
	return build(cfg, tools)
}

// Known lists the accepted provider ids.
func Known() []string {
	ids := make([]string, 0, len(factories))
	for id := range factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
