// Package main implements the taskpilot CLI: an autonomous coordinator that
// plans, implements, reviews, and remediates tasks against a workspace.
package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	// configPath is the per-project YAML config, overridable with --config.
	configPath string
	version    = "dev"
)

func main() {
	// Load .env if present so provider keys can live next to the project.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "taskpilot",
	Short: "Autonomous task coordinator",
	Long: `taskpilot drives a plan/implement/review/remediate loop over a workspace.
It keeps its task board, action history, and run archive under the project's
state directory so interrupted runs resume where they left off.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "taskpilot.yaml", "path to the project config file")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(loginCmd)
}
