package cmd

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"grip/pkg/config"
	"grip/pkg/cron"
	"grip/pkg/heartbeat"
	"grip/pkg/memory"
	"grip/pkg/session"
	"grip/pkg/workspace"
)

var keyStyle = lipgloss.NewStyle().Bold(true)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and workspace state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		ws, err := workspace.Open(cfg.Agents.Defaults.Workspace)
		if err != nil {
			return err
		}

		report, err := collectStatus(cfg, ws)
		if err != nil {
			return err
		}

		printStatus(cmd.OutOrStdout(), report)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type statusReport struct {
	rows [][2]string
}

func (r *statusReport) add(key string, value string) {
	r.rows = append(r.rows, [2]string{key, value})
}

func collectStatus(cfg *config.Config, ws *workspace.Workspace) (*statusReport, error) {
	sessions, err := session.NewStore(ws.SessionsDir(), 1, nil)
	if err != nil {
		return nil, err
	}
	keys, err := sessions.ListSessions()
	if err != nil {
		return nil, err
	}

	mem, err := memory.New(ws.MemoryDir())
	if err != nil {
		return nil, err
	}

	jobs, err := cron.NewService(cronStorePath(ws), nil, nil, cron.Options{})
	if err != nil {
		return nil, err
	}
	total, enabled := jobs.JobCount()

	defaults := cfg.Agents.Defaults
	report := &statusReport{}
	report.add("Provider", defaults.Provider)
	report.add("Model", defaults.Model)
	report.add("Max Tokens", strconv.Itoa(defaults.MaxTokens))
	report.add("Memory Window", strconv.Itoa(defaults.MemoryWindow))
	report.add("Workspace", ws.Root())
	report.add("Sessions", strconv.Itoa(len(keys)))
	report.add("Memory Facts", fmt.Sprintf("~%d lines", mem.LineCount()))
	report.add("Cron Jobs", fmt.Sprintf("%d (%d enabled)", total, enabled))
	report.add("Channels", enabledChannelList(cfg.Channels))
	report.add("Heartbeat", heartbeatSummary(cfg.Heartbeat))
	report.add("Gateway", net.JoinHostPort(cfg.Gateway.Host, strconv.Itoa(cfg.Gateway.Port)))

	return report, nil
}

func printStatus(out io.Writer, report *statusReport) {
	t := table.New().
		Border(lipgloss.HiddenBorder()).
		StyleFunc(func(_ int, col int) lipgloss.Style {
			if col == 0 {
				return keyStyle.PaddingRight(2)
			}
			return lipgloss.NewStyle()
		})

	for _, row := range report.rows {
		t.Row(row[0], row[1])
	}

	fmt.Fprintln(out, t.Render())
}

func enabledChannelList(cfg config.ChannelsConfig) string {
	var names []string
	if cfg.Telegram.Enabled {
		names = append(names, "telegram")
	}
	if cfg.Discord.Enabled {
		names = append(names, "discord")
	}
	if cfg.Slack.Enabled {
		names = append(names, "slack")
	}
	if len(names) == 0 {
		return "none"
	}

	return strings.Join(names, ", ")
}

func heartbeatSummary(cfg config.HeartbeatConfig) string {
	if !cfg.Enabled {
		return "disabled"
	}

	return fmt.Sprintf("every %d min", heartbeat.ClampInterval(cfg.IntervalMinutes))
}
