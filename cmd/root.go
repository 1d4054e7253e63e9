package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"grip/pkg/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "grip",
	Short: "Personal AI agent gateway",
	Long: `grip connects chat platforms to an LLM agent with persistent sessions,
scheduled prompts and a periodic heartbeat.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $GRIP_CONFIG, ./config.json or ./config/config.json)")
}

func loadConfig() (*config.Config, error) {
	if path := strings.TrimSpace(configPath); path != "" {
		return config.LoadConfigFile(path)
	}

	return config.LoadConfig()
}
