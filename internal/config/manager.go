package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Credentials are the user's saved provider preferences, kept outside the
// per-project config so API keys never land in a repository.
type Credentials struct {
	Provider string `json:"provider,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
	Model    string `json:"model,omitempty"`
	BaseURL  string `json:"base_url,omitempty"`
}

// Manager reads and writes the credentials file under the user config dir.
type Manager struct {
	dir string
}

// NewManager creates a manager rooted at the platform user config directory.
func NewManager() (*Manager, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user config dir: %w", err)
	}
	return &Manager{dir: filepath.Join(base, "taskpilot")}, nil
}

// Path returns the credentials file location.
func (m *Manager) Path() string {
	return filepath.Join(m.dir, "credentials.json")
}

// Load reads saved credentials. A missing file yields empty credentials,
// not an error.
func (m *Manager) Load() (*Credentials, error) {
	data, err := os.ReadFile(m.Path())
	if os.IsNotExist(err) {
		return &Credentials{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return &creds, nil
}

// Save writes credentials with owner-only permissions.
func (m *Manager) Save(creds *Credentials) error {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	if err := os.WriteFile(m.Path(), data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

// Apply overlays saved credentials onto cfg for any field the file or
// environment did not already set.
func (c *Credentials) Apply(cfg *Config) {
	if cfg.Provider.APIKey == "" && c.APIKey != "" {
		cfg.Provider.APIKey = c.APIKey
	}
	if cfg.Provider.Model == "" && c.Model != "" {
		cfg.Provider.Model = c.Model
	}
	if cfg.Provider.BaseURL == "" && c.BaseURL != "" {
		cfg.Provider.BaseURL = c.BaseURL
	}
	if c.Provider != "" && cfg.Provider.Name == "openai" {
		cfg.Provider.Name = c.Provider
	}
}
