package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rwxlab/taskpilot/internal/config"
)

var (
	loginProvider string
	loginAPIKey   string
	loginModel    string
	loginBaseURL  string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Save provider credentials",
	Long: `Save provider credentials under the user config directory so they do
not have to live in a project's config file or environment.

Examples:
  taskpilot login --provider anthropic --api-key sk-...
  taskpilot login --provider ollama --base-url http://localhost:11434/v1`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().StringVar(&loginProvider, "provider", "", "provider name (openai, anthropic, ollama, deepseek)")
	loginCmd.Flags().StringVar(&loginAPIKey, "api-key", "", "provider API key")
	loginCmd.Flags().StringVar(&loginModel, "model", "", "default model")
	loginCmd.Flags().StringVar(&loginBaseURL, "base-url", "", "provider base URL")
}

func runLogin(cmd *cobra.Command, args []string) error {
	mgr, err := config.NewManager()
	if err != nil {
		return err
	}
	creds, err := mgr.Load()
	if err != nil {
		return err
	}
	if loginProvider != "" {
		creds.Provider = loginProvider
	}
	if loginAPIKey != "" {
		creds.APIKey = loginAPIKey
	}
	if loginModel != "" {
		creds.Model = loginModel
	}
	if loginBaseURL != "" {
		creds.BaseURL = loginBaseURL
	}
	if err := mgr.Save(creds); err != nil {
		return err
	}
	fmt.Printf("credentials saved to %s\n", mgr.Path())
	return nil
}
