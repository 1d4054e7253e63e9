package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"grip/pkg/cron"
	"grip/pkg/workspace"
)

const (
	promptColumnWidth = 40
	promptEchoWidth   = 80
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

var cronReplyTo string

var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Manage scheduled prompts",
}

var cronListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show all cron jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		svc, err := openCronService()
		if err != nil {
			return err
		}

		printJobs(cmd.OutOrStdout(), svc.ListJobs())
		return nil
	},
}

var cronAddCmd = &cobra.Command{
	Use:   "add NAME SCHEDULE PROMPT",
	Short: "Add a cron job",
	Example: `  grip cron add standup "0 9 * * 1-5" "Summarize my open tasks" --reply-to telegram:12345
  grip cron add tidy "*/30 * * * *" "Check the inbox folder"`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openCronService()
		if err != nil {
			return err
		}

		return addJob(cmd.OutOrStdout(), svc, args[0], args[1], args[2], cronReplyTo)
	},
}

var cronRemoveCmd = &cobra.Command{
	Use:   "remove ID",
	Short: "Remove a cron job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return toggleJob(cmd.OutOrStdout(), args[0], "Removed", okStyle, (*cron.Service).RemoveJob)
	},
}

var cronEnableCmd = &cobra.Command{
	Use:   "enable ID",
	Short: "Enable a disabled cron job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return toggleJob(cmd.OutOrStdout(), args[0], "Enabled", okStyle, (*cron.Service).EnableJob)
	},
}

var cronDisableCmd = &cobra.Command{
	Use:   "disable ID",
	Short: "Disable a cron job without removing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return toggleJob(cmd.OutOrStdout(), args[0], "Disabled", warnStyle, (*cron.Service).DisableJob)
	},
}

func init() {
	cronAddCmd.Flags().StringVarP(&cronReplyTo, "reply-to", "r", "", "deliver results to channel:chat_id (e.g. telegram:12345)")

	cronCmd.AddCommand(cronListCmd, cronAddCmd, cronRemoveCmd, cronEnableCmd, cronDisableCmd)
	rootCmd.AddCommand(cronCmd)
}

// openCronService loads the job store without an engine; the CLI only edits
// jobs and a running gateway picks the changes up on restart.
func openCronService() (*cron.Service, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	ws, err := workspace.Open(cfg.Agents.Defaults.Workspace)
	if err != nil {
		return nil, err
	}

	return cron.NewService(cronStorePath(ws), nil, nil, cron.Options{})
}

func printJobs(out io.Writer, jobs []cron.Job) {
	if len(jobs) == 0 {
		fmt.Fprintln(out, dimStyle.Render("No cron jobs configured."))
		return
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "NAME", "SCHEDULE", "ENABLED", "LAST RUN", "REPLY TO", "PROMPT")

	for _, job := range jobs {
		enabled := errStyle.Render("No")
		if job.Enabled {
			enabled = okStyle.Render("Yes")
		}

		lastRun := "Never"
		if job.LastRun != nil {
			lastRun = job.LastRun.UTC().Format(time.DateTime)
		}

		t.Row(job.ID, job.Name, job.Schedule, enabled, lastRun, job.ReplyTo, clip(job.Prompt, promptColumnWidth))
	}

	fmt.Fprintln(out, t.Render())
}

func addJob(out io.Writer, svc *cron.Service, name string, schedule string, prompt string, replyTo string) error {
	job, err := svc.AddJob(name, schedule, prompt, replyTo)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s %s (%s)\n", okStyle.Render("Job added:"), job.ID, job.Name)
	fmt.Fprintf(out, "  Schedule: %s\n", job.Schedule)
	if job.ReplyTo != "" {
		fmt.Fprintf(out, "  Reply to: %s\n", job.ReplyTo)
	}
	fmt.Fprintf(out, "  Prompt: %s\n", clip(job.Prompt, promptEchoWidth))

	return nil
}

func toggleJob(out io.Writer, id string, verb string, style lipgloss.Style, op func(*cron.Service, string) (bool, error)) error {
	svc, err := openCronService()
	if err != nil {
		return err
	}

	return applyJobOp(out, svc, id, verb, style, op)
}

// applyJobOp runs op against id and reports cron.ErrJobNotFound when no job
// matched, which cobra turns into exit code 1.
func applyJobOp(out io.Writer, svc *cron.Service, id string, verb string, style lipgloss.Style, op func(*cron.Service, string) (bool, error)) error {
	found, err := op(svc, id)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", cron.ErrJobNotFound, id)
	}

	fmt.Fprintf(out, "%s %s\n", style.Render(verb+":"), id)
	return nil
}

func clip(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}

	return string(runes[:limit-1]) + "…"
}
