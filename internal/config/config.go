// Package config loads runtime configuration from a YAML file and
// TASKPILOT_-prefixed environment variables.
package config

import (
	"fmt"
	"time"
)

// Config is the full runtime configuration.
type Config struct {
	Provider Provider `koanf:"provider"`
	Run      Run      `koanf:"run"`
	Guard    Guard    `koanf:"guard"`
	Tools    Tools    `koanf:"tools"`
	Window   Window   `koanf:"window"`
	Logging  Logging  `koanf:"logging"`
}

// Provider selects and parameterizes the reasoning backend.
type Provider struct {
	Name    string `koanf:"name"` // openai, anthropic, ollama, deepseek
	Model   string `koanf:"model"`
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
}

// Run bounds the coordinator loop.
type Run struct {
	MaxIterations  int    `koanf:"max_iterations"`
	MaxAttempts    int    `koanf:"max_attempts"`
	RefineCooldown int    `koanf:"refine_cooldown"`
	StateDir       string `koanf:"state_dir"`
	WorkspaceRoot  string `koanf:"workspace_root"`
}

// Guard parameterizes repetition detection.
type Guard struct {
	Window              int           `koanf:"window"`
	MaxAge              time.Duration `koanf:"max_age"`
	CycleThreshold      int           `koanf:"cycle_threshold"`
	StagnationThreshold int           `koanf:"stagnation_threshold"`
}

// Tools parameterizes the dispatcher.
type Tools struct {
	Timeout    time.Duration `koanf:"timeout"`
	EnableExec bool          `koanf:"enable_exec"`
}

// Window bounds the per-phase conversation.
type Window struct {
	Budget int `koanf:"budget"` // bytes
}

// Logging selects zap output.
type Logging struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json or console
}

func applyDefaults(cfg *Config) {
	if cfg.Provider.Name == "" {
		cfg.Provider.Name = "openai"
	}
	if cfg.Run.MaxIterations == 0 {
		cfg.Run.MaxIterations = 100
	}
	if cfg.Run.MaxAttempts == 0 {
		cfg.Run.MaxAttempts = 3
	}
	if cfg.Run.RefineCooldown == 0 {
		cfg.Run.RefineCooldown = 3
	}
	if cfg.Run.StateDir == "" {
		cfg.Run.StateDir = ".taskpilot"
	}
	if cfg.Run.WorkspaceRoot == "" {
		cfg.Run.WorkspaceRoot = "."
	}
	if cfg.Guard.Window == 0 {
		cfg.Guard.Window = 20
	}
	if cfg.Guard.MaxAge == 0 {
		cfg.Guard.MaxAge = 30 * time.Minute
	}
	if cfg.Guard.CycleThreshold == 0 {
		cfg.Guard.CycleThreshold = 3
	}
	if cfg.Guard.StagnationThreshold == 0 {
		cfg.Guard.StagnationThreshold = 3
	}
	if cfg.Tools.Timeout == 0 {
		cfg.Tools.Timeout = 60 * time.Second
	}
	if cfg.Window.Budget == 0 {
		cfg.Window.Budget = 48 * 1024
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
}

// Validate rejects configurations the coordinator cannot run with.
func (c *Config) Validate() error {
	switch c.Provider.Name {
	case "openai", "anthropic", "ollama", "deepseek":
	default:
		return fmt.Errorf("unknown provider %q", c.Provider.Name)
	}
	if c.Run.MaxIterations < 1 {
		return fmt.Errorf("run.max_iterations must be positive, got %d", c.Run.MaxIterations)
	}
	if c.Run.MaxAttempts < 1 {
		return fmt.Errorf("run.max_attempts must be positive, got %d", c.Run.MaxAttempts)
	}
	if c.Run.RefineCooldown < 0 {
		return fmt.Errorf("run.refine_cooldown must not be negative, got %d", c.Run.RefineCooldown)
	}
	if c.Guard.CycleThreshold < 2 {
		return fmt.Errorf("guard.cycle_threshold must be at least 2, got %d", c.Guard.CycleThreshold)
	}
	if c.Window.Budget < 1024 {
		return fmt.Errorf("window.budget must be at least 1024 bytes, got %d", c.Window.Budget)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging level %q", c.Logging.Level)
	}
	return nil
}
