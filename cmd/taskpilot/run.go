package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rwxlab/taskpilot/internal/config"
	"github.com/rwxlab/taskpilot/internal/coordinator"
	"github.com/rwxlab/taskpilot/internal/dispatch"
	"github.com/rwxlab/taskpilot/internal/history"
	"github.com/rwxlab/taskpilot/internal/loopguard"
	"github.com/rwxlab/taskpilot/internal/phase"
	"github.com/rwxlab/taskpilot/internal/reasoning"
	"github.com/rwxlab/taskpilot/internal/store"
	"github.com/rwxlab/taskpilot/internal/tools"
)

var (
	runDir           string
	runFresh         bool
	runMaxIterations int
	runExec          bool
	runLogJSON       bool
)

var runCmd = &cobra.Command{
	Use:   "run [objective...]",
	Short: "Run the coordinator loop until the board settles",
	Long: `Run the plan/implement/review/remediate loop. The objective is taken from
the command line, or from OBJECTIVE.md in the workspace when omitted. A run
with an existing state file resumes the previous board.

Examples:
  # Start or resume a run
  taskpilot run "add a healthcheck endpoint to the server"

  # Resume without restating the objective
  taskpilot run

  # Discard previous state and start over
  taskpilot run --fresh "rewrite the parser"`,
	Args: cobra.ArbitraryArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runDir, "dir", "", "workspace directory (defaults to the config's workspace_root, then .)")
	runCmd.Flags().BoolVar(&runFresh, "fresh", false, "discard saved state and start a new run")
	runCmd.Flags().IntVar(&runMaxIterations, "max-iterations", 0, "override the configured iteration cap")
	runCmd.Flags().BoolVar(&runExec, "exec", false, "enable the run_cmd tool")
	runCmd.Flags().BoolVar(&runLogJSON, "log-json", false, "emit JSON logs regardless of config")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if creds := loadCredentials(); creds != nil {
		creds.Apply(cfg)
	}
	if runMaxIterations > 0 {
		cfg.Run.MaxIterations = runMaxIterations
	}
	if runExec {
		cfg.Tools.EnableExec = true
	}
	if runLogJSON {
		cfg.Logging.Format = "json"
	}

	root := workspaceRoot(cfg)
	stateDir := resolveStateDir(cfg, root)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if runFresh {
		for _, name := range []string{"state.json", "history.db", "issues.jsonl"} {
			if err := os.Remove(filepath.Join(stateDir, name)); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("clear state: %w", err)
			}
		}
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	objective := strings.TrimSpace(strings.Join(args, " "))
	if objective == "" {
		objective = readObjectiveFile(root)
	}

	backend, model, err := reasoning.NewBackend(cfg.Provider.Name, cfg.Provider.APIKey, cfg.Provider.Model, cfg.Provider.BaseURL)
	if err != nil {
		return err
	}
	gen := &reasoning.WithRetry{
		Backend: backend,
		Policy:  reasoning.DefaultRetryPolicy(),
		OnRetry: func(attempt int, delay time.Duration, err error) {
			logger.Warn("provider retry",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err))
		},
	}

	persister := store.NewFilePersister(filepath.Join(stateDir, "state.json"))
	st, snap, err := store.New(persister)
	if err != nil {
		return err
	}
	st.SetMaxAttempts(cfg.Run.MaxAttempts)
	if st.Empty() && objective == "" {
		return fmt.Errorf("no objective given and no saved board to resume; pass one or add OBJECTIVE.md")
	}

	registry := tools.NewRegistry(tools.Options{
		Root:     root,
		StateDir: stateDir,
		Exec:     cfg.Tools.EnableExec,
	})
	disp := dispatch.NewDispatcher(registry, cfg.Tools.Timeout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	archive, err := history.OpenArchive(ctx, filepath.Join(stateDir, "history.db"))
	if err != nil {
		return err
	}
	defer archive.Close()

	failures, err := history.NewFailureIndex()
	if err != nil {
		return err
	}
	defer failures.Close()
	seedFailureIndex(ctx, archive, failures, logger)

	logger.Info("starting run",
		zap.String("workspace", root),
		zap.String("provider", cfg.Provider.Name),
		zap.String("model", model),
		zap.Int("tasks", len(snap.Tasks)))

	c := coordinator.New(coordinator.Options{
		Store:          st,
		Phases:         phase.NewRegistry(),
		Generator:      gen,
		Dispatcher:     disp,
		Guard:          guardFromConfig(cfg.Guard),
		Archive:        archive,
		Failures:       failures,
		Logger:         logger,
		MaxIterations:  cfg.Run.MaxIterations,
		RefineCooldown: cfg.Run.RefineCooldown,
		WindowBudget:   cfg.Window.Budget,
		Objective:      objective,
		ControlDir:     filepath.Join(stateDir, "control"),
	}, snap)

	rep, err := c.Run(ctx)
	if err != nil {
		logger.Error("run aborted", zap.Error(err))
		return err
	}
	fmt.Println(rep.String())

	// Flush before the exit code bypasses the deferred closers.
	_ = logger.Sync()
	archive.Close()
	failures.Close()
	os.Exit(rep.ExitCode())
	return nil
}

func workspaceRoot(cfg *config.Config) string {
	if runDir != "" {
		return runDir
	}
	if cfg.Run.WorkspaceRoot != "" {
		return cfg.Run.WorkspaceRoot
	}
	return "."
}

func resolveStateDir(cfg *config.Config, root string) string {
	if filepath.IsAbs(cfg.Run.StateDir) {
		return cfg.Run.StateDir
	}
	return filepath.Join(root, cfg.Run.StateDir)
}

func readObjectiveFile(root string) string {
	data, err := os.ReadFile(filepath.Join(root, "OBJECTIVE.md"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func loadCredentials() *config.Credentials {
	mgr, err := config.NewManager()
	if err != nil {
		return nil
	}
	creds, err := mgr.Load()
	if err != nil {
		return nil
	}
	return creds
}

func guardFromConfig(g config.Guard) *loopguard.Guard {
	guard := loopguard.NewGuard()
	if g.Window > 0 {
		guard.Window = g.Window
	}
	if g.MaxAge > 0 {
		guard.MaxAge = g.MaxAge
	}
	if g.CycleThreshold > 0 {
		guard.CycleThreshold = g.CycleThreshold
	}
	if g.StagnationThreshold > 0 {
		guard.StagnationThreshold = g.StagnationThreshold
	}
	return guard
}

// seedFailureIndex rebuilds the in-memory similarity index from the archive
// so remediation hints survive restarts.
func seedFailureIndex(ctx context.Context, archive *history.Archive, idx *history.FailureIndex, logger *zap.Logger) {
	runs, err := archive.RecentRuns(ctx, 200)
	if err != nil {
		logger.Warn("failure index seed skipped", zap.Error(err))
		return
	}
	for _, r := range runs {
		if r.Failures == 0 {
			continue
		}
		if err := idx.IndexFailure(r); err != nil {
			logger.Warn("failure index entry skipped", zap.String("run", r.RunID), zap.Error(err))
		}
	}
}

func buildLogger(cfg config.Logging) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	lvl, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}
