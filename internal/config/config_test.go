package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider.Name != "openai" {
		t.Errorf("provider = %q", cfg.Provider.Name)
	}
	if cfg.Run.MaxIterations != 100 || cfg.Run.RefineCooldown != 3 {
		t.Errorf("run defaults = %+v", cfg.Run)
	}
	if cfg.Guard.Window != 20 || cfg.Guard.MaxAge != 30*time.Minute {
		t.Errorf("guard defaults = %+v", cfg.Guard)
	}
	if cfg.Tools.Timeout != 60*time.Second {
		t.Errorf("tool timeout = %v", cfg.Tools.Timeout)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
provider:
  name: anthropic
  model: claude-sonnet-4-20250514
run:
  max_iterations: 25
  refine_cooldown: 5
guard:
  window: 10
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider.Name != "anthropic" {
		t.Errorf("provider = %q", cfg.Provider.Name)
	}
	if cfg.Run.MaxIterations != 25 || cfg.Run.RefineCooldown != 5 {
		t.Errorf("run = %+v", cfg.Run)
	}
	if cfg.Guard.Window != 10 {
		t.Errorf("guard.window = %d", cfg.Guard.Window)
	}
	// Unset fields still get defaults.
	if cfg.Run.MaxAttempts != 3 {
		t.Errorf("max_attempts = %d", cfg.Run.MaxAttempts)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("run:\n  max_iterations: 25\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TASKPILOT_RUN_MAX_ITERATIONS", "7")
	t.Setenv("TASKPILOT_PROVIDER_NAME", "ollama")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Run.MaxIterations != 7 {
		t.Errorf("max_iterations = %d, want env override 7", cfg.Run.MaxIterations)
	}
	if cfg.Provider.Name != "ollama" {
		t.Errorf("provider = %q", cfg.Provider.Name)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Run.MaxIterations != 100 {
		t.Errorf("max_iterations = %d", cfg.Run.MaxIterations)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown provider", func(c *Config) { c.Provider.Name = "gpt5000" }},
		{"zero iterations", func(c *Config) { c.Run.MaxIterations = 0 }},
		{"negative cooldown", func(c *Config) { c.Run.RefineCooldown = -1 }},
		{"cycle threshold too low", func(c *Config) { c.Guard.CycleThreshold = 1 }},
		{"tiny window budget", func(c *Config) { c.Window.Budget = 100 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var cfg Config
			applyDefaults(&cfg)
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("invalid config accepted")
			}
		})
	}
}

func TestCredentialsApply(t *testing.T) {
	var cfg Config
	applyDefaults(&cfg)
	cfg.Provider.Model = "already-set"

	creds := &Credentials{Provider: "anthropic", APIKey: "sk-test", Model: "ignored"}
	creds.Apply(&cfg)

	if cfg.Provider.APIKey != "sk-test" {
		t.Errorf("api key = %q", cfg.Provider.APIKey)
	}
	if cfg.Provider.Model != "already-set" {
		t.Errorf("model overwritten to %q", cfg.Provider.Model)
	}
	if cfg.Provider.Name != "anthropic" {
		t.Errorf("provider = %q", cfg.Provider.Name)
	}
}
