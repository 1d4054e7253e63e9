package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"grip/pkg/channel"
	"grip/pkg/channel/discord"
	"grip/pkg/channel/slack"
	"grip/pkg/channel/telegram"
	"grip/pkg/config"
	"grip/pkg/logger"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the channel gateway",
	Long:  "Runs grip as a long-lived gateway: chat channels, cron jobs, the heartbeat and the health server.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		appLogger, err := logger.New(cfg.Logging)
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		slog.SetDefault(appLogger)
		log := slog.Default().With("component", "cmd.gateway")

		channels, err := enabledChannels(cfg, appLogger)
		if err != nil {
			return err
		}

		runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		st, err := buildStack(cfg, appLogger)
		if err != nil {
			return fmt.Errorf("initialize gateway: %w", err)
		}

		svc, err := st.service(cfg.Gateway, channels, prometheus.NewRegistry(), true)
		if err != nil {
			return fmt.Errorf("initialize gateway: %w", err)
		}

		log.Info("Gateway starting",
			"channels", channelNames(channels),
			"provider", cfg.Agents.Defaults.Provider,
			"model", cfg.Agents.Defaults.Model,
			"workspace", st.workspace.Root(),
		)
		if err := svc.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("gateway stopped: %w", err)
		}

		log.Info("Gateway stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
}

// enabledChannels builds an adapter for every channel switched on in cfg.
func enabledChannels(cfg *config.Config, log *slog.Logger) ([]channel.Channel, error) {
	var channels []channel.Channel

	if cfg.Channels.Telegram.Enabled {
		channels = append(channels, telegram.NewAdapter(cfg.Channels.Telegram, log))
	}

	if cfg.Channels.Discord.Enabled {
		adapter, err := discord.NewAdapter(cfg.Channels.Discord, log)
		if err != nil {
			return nil, fmt.Errorf("configure discord channel: %w", err)
		}
		channels = append(channels, adapter)
	}

	if cfg.Channels.Slack.Enabled {
		channels = append(channels, slack.NewAdapter(cfg.Channels.Slack, log))
	}

	if len(channels) == 0 {
		return nil, errors.New("no channels are enabled")
	}

	return channels, nil
}

func channelNames(channels []channel.Channel) string {
	names := make([]string, 0, len(channels))
	for _, ch := range channels {
		names = append(names, ch.Name())
	}

	return strings.Join(names, ",")
}
