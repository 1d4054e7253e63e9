package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"grip/pkg/channel"
	"grip/pkg/config"
	"grip/pkg/logger"
	"grip/pkg/ui/chat"
	"grip/pkg/workspace"
)

const chatLogFileName = "chat.log"

var chatMessage string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the agent in the terminal",
	Long: `Opens an interactive terminal session backed by the same consumer the
gateway uses, so control commands like /new, /undo and /model work here too.
Use -m to send a single message and exit.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		ws, err := workspace.Open(cfg.Agents.Defaults.Workspace)
		if err != nil {
			return err
		}

		// The TUI owns the terminal, so logs go to a file.
		appLogger, closer, err := logger.NewFile(cfg.Logging, filepath.Join(ws.LogsDir(), chatLogFileName))
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		defer closer.Close()

		st, err := buildStack(cfg, appLogger)
		if err != nil {
			return fmt.Errorf("initialize agent: %w", err)
		}

		cli := chat.NewChannel(appLogger)
		svc, err := st.service(chatGatewayConfig(cfg.Gateway), []channel.Channel{cli}, nil, false)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		runErr := make(chan error, 1)
		go func() { runErr <- svc.Run(ctx) }()

		select {
		case <-svc.Ready():
		case err := <-runErr:
			return fmt.Errorf("start agent: %w", err)
		}

		info := chat.RuntimeInfo{Provider: cfg.Agents.Defaults.Provider, Model: st.runner.DefaultModel()}
		var uiErr error
		if message := strings.TrimSpace(chatMessage); message != "" {
			uiErr = chat.RunOneShot(ctx, cli, info, message)
		} else {
			uiErr = chat.RunInteractive(ctx, cli, info)
		}

		cancel()
		if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) && uiErr == nil {
			uiErr = err
		}
		if errors.Is(uiErr, context.Canceled) {
			return nil
		}

		return uiErr
	},
}

func init() {
	chatCmd.Flags().StringVarP(&chatMessage, "message", "m", "", "send one message and exit")
	rootCmd.AddCommand(chatCmd)
}

// chatGatewayConfig binds the status server to an ephemeral local port so a
// chat session can run next to a gateway.
func chatGatewayConfig(cfg config.GatewayConfig) config.GatewayConfig {
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	return cfg
}
