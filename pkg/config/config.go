package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

const envConfigPath = "GRIP_CONFIG"

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Agents    AgentsConfig    `json:"agents"`
	Channels  ChannelsConfig  `json:"channels"`
	Providers ProvidersConfig `json:"providers"`
	Tools     ToolsConfig     `json:"tools,omitempty"`
	Heartbeat HeartbeatConfig `json:"heartbeat"`
	Gateway   GatewayConfig   `json:"gateway"`
	Logging   LoggingConfig   `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// AgentsConfig contains engine defaults.
type AgentsConfig struct {
	Defaults AgentDefaults `json:"defaults"`
}

// AgentDefaults describes the default model and conversation settings.
type AgentDefaults struct {
	Workspace          string  `json:"workspace" env:"GRIP_AGENTS_DEFAULTS_WORKSPACE"`
	Provider           string  `json:"provider" env:"GRIP_AGENTS_DEFAULTS_PROVIDER"`
	Model              string  `json:"model" env:"GRIP_AGENTS_DEFAULTS_MODEL"`
	MaxTokens          int     `json:"max_tokens" env:"GRIP_AGENTS_DEFAULTS_MAX_TOKENS"`
	Temperature        float64 `json:"temperature" env:"GRIP_AGENTS_DEFAULTS_TEMPERATURE"`
	MemoryWindow       int     `json:"memory_window" env:"GRIP_AGENTS_DEFAULTS_MEMORY_WINDOW"`
	ConsolidationModel string  `json:"consolidation_model" env:"GRIP_AGENTS_DEFAULTS_CONSOLIDATION_MODEL"`
	MaxToolIterations  int     `json:"max_tool_iterations" env:"GRIP_AGENTS_DEFAULTS_MAX_TOOL_ITERATIONS"`
}

// ProvidersConfig stores per-provider connection settings.
type ProvidersConfig struct {
	OpenAI OpenAIProviderConfig `json:"openai"`
}

// OpenAIProviderConfig configures the OpenAI-compatible provider clients.
type OpenAIProviderConfig struct {
	APIKeyEnv             string `json:"api_key_env"`
	BaseURL               string `json:"base_url" env:"GRIP_PROVIDERS_OPENAI_BASE_URL"`
	Organization          string `json:"organization"`
	Project               string `json:"project"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// ChannelsConfig stores chat platform adapter settings.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
	Slack    SlackConfig    `json:"slack"`
}

// TelegramConfig configures Telegram channel integration.
type TelegramConfig struct {
	Enabled   bool                `json:"enabled" env:"GRIP_CHANNELS_TELEGRAM_ENABLED"`
	Token     string              `json:"token" env:"TELEGRAM_BOT_TOKEN"`
	AllowFrom FlexibleStringSlice `json:"allow_from" env:"TELEGRAM_ALLOW_FROM"`
}

// DiscordConfig configures Discord channel integration.
type DiscordConfig struct {
	Enabled   bool                `json:"enabled" env:"GRIP_CHANNELS_DISCORD_ENABLED"`
	Token     string              `json:"token" env:"DISCORD_BOT_TOKEN"`
	AllowFrom FlexibleStringSlice `json:"allow_from" env:"DISCORD_ALLOW_FROM"`
}

// SlackConfig configures Slack channel integration over Socket Mode.
type SlackConfig struct {
	Enabled   bool                `json:"enabled" env:"GRIP_CHANNELS_SLACK_ENABLED"`
	Token     string              `json:"token" env:"SLACK_BOT_TOKEN"`
	AppToken  string              `json:"app_token" env:"SLACK_APP_TOKEN"`
	AllowFrom FlexibleStringSlice `json:"allow_from" env:"SLACK_ALLOW_FROM"`
}

// ToolsConfig groups scheduled-execution settings.
type ToolsConfig struct {
	Cron CronConfig `json:"cron"`
}

// CronConfig configures cron job execution limits.
type CronConfig struct {
	ExecTimeoutMinutes   int `json:"exec_timeout_minutes" env:"GRIP_CRON_EXEC_TIMEOUT_MINUTES"`
	CheckIntervalSeconds int `json:"check_interval_seconds,omitempty"`
}

// HeartbeatConfig controls the periodic heartbeat prompt.
type HeartbeatConfig struct {
	Enabled         bool `json:"enabled" env:"GRIP_HEARTBEAT_ENABLED"`
	IntervalMinutes int  `json:"interval_minutes" env:"GRIP_HEARTBEAT_INTERVAL_MINUTES"`
}

// GatewayConfig configures the HTTP health server bind settings.
type GatewayConfig struct {
	Host      string          `json:"host" env:"GRIP_GATEWAY_HOST"`
	Port      int             `json:"port" env:"GRIP_GATEWAY_PORT"`
	RateLimit RateLimitConfig `json:"rate_limit"`
}

// RateLimitConfig bounds requests per client IP on the gateway HTTP server.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute"`
}

// DefaultConfig returns the settings used when config.json omits a value.
func DefaultConfig() *Config {
	return &Config{
		Agents: AgentsConfig{Defaults: AgentDefaults{
			Workspace:         "~/.grip/workspace",
			Provider:          "openai",
			Model:             "openai/gpt-5.2",
			MaxTokens:         8192,
			Temperature:       0.7,
			MemoryWindow:      50,
			MaxToolIterations: 20,
		}},
		Providers: ProvidersConfig{OpenAI: OpenAIProviderConfig{RequestTimeoutSeconds: 120}},
		Tools:     ToolsConfig{Cron: CronConfig{ExecTimeoutMinutes: 5, CheckIntervalSeconds: 30}},
		Heartbeat: HeartbeatConfig{IntervalMinutes: 30},
		Gateway: GatewayConfig{
			Host:      "127.0.0.1",
			Port:      18790,
			RateLimit: RateLimitConfig{RequestsPerMinute: 60},
		},
		Logging: LoggingConfig{Format: "text", Level: "info"},
	}
}

// LoadConfig resolves config.json, unmarshals it over the defaults, and applies
// environment overrides.
func LoadConfig() (*Config, error) {
	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	return LoadConfigFile(configPath)
}

// LoadConfigFile reads one config file. Unset keys keep their default values.
func LoadConfigFile(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("apply environment overrides: %w", err)
	}

	return cfg, nil
}

// findConfigPath resolves the active config file location.
//
// Precedence is GRIP_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("config.json not found (checked %s and %s)", candidates[0], candidates[1])
}
