// Package coordinator runs the phase scheduling loop: select a phase, run
// its handler, apply the tool results to the task store, and check for
// unproductive repetition.
package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rwxlab/taskpilot/internal/convo"
	"github.com/rwxlab/taskpilot/internal/dispatch"
	"github.com/rwxlab/taskpilot/internal/history"
	"github.com/rwxlab/taskpilot/internal/loopguard"
	"github.com/rwxlab/taskpilot/internal/phase"
	"github.com/rwxlab/taskpilot/internal/reasoning"
	"github.com/rwxlab/taskpilot/internal/store"
	"github.com/rwxlab/taskpilot/internal/task"
)

// Options configures a Coordinator.
type Options struct {
	Store      *store.Store
	Phases     phase.Registry
	Generator  reasoning.Generator
	Dispatcher *dispatch.Dispatcher
	Guard      *loopguard.Guard
	Archive    *history.Archive      // optional, advisory audit log
	Failures   *history.FailureIndex // optional, remediation hints
	Logger     *zap.Logger

	MaxIterations  int
	RefineCooldown int
	WindowBudget   int
	// Objective is the project goal the planning phase decomposes. It is
	// pinned into the planning window and never evicted.
	Objective string
	// ControlDir, when set, is watched for external reset requests.
	ControlDir string
}

// Coordinator is the sequential scheduler. One instance drives one run;
// nothing here is safe for concurrent use.
type Coordinator struct {
	store      *store.Store
	phases     phase.Registry
	gen        reasoning.Generator
	disp       *dispatch.Dispatcher
	guard      *loopguard.Guard
	archive    *history.Archive
	failures   *history.FailureIndex
	logger     *zap.Logger
	objective  string
	controlDir string

	maxIterations  int
	refineCooldown int
	windowBudget   int

	// mu guards iteration, actions, and runs: the control-dir watcher can
	// trigger a persist (and thus the snapshot extras callback) while the
	// loop is appending.
	mu        sync.Mutex
	iteration int
	actions   *history.ActionHistory
	runs      []phase.Run
	directive *loopguard.Directive

	// Conversation windows are owned per phase and reset when the phase
	// binds a different task than last time.
	windows   map[phase.ID]*convo.Window
	lastBound map[phase.ID]string

	startedAt time.Time
}

// New creates a coordinator, restoring action history and run history from
// the snapshot the store loaded.
func New(opts Options, snap store.Snapshot) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	guard := opts.Guard
	if guard == nil {
		guard = loopguard.NewGuard()
	}
	cooldown := opts.RefineCooldown
	if cooldown <= 0 {
		cooldown = 3
	}
	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = 100
	}

	actions := history.NewActionHistory(history.DefaultCapacity)
	actions.Restore(snap.ActionHistory)

	c := &Coordinator{
		store:          opts.Store,
		phases:         opts.Phases,
		gen:            opts.Generator,
		disp:           opts.Dispatcher,
		guard:          guard,
		archive:        opts.Archive,
		failures:       opts.Failures,
		logger:         logger,
		objective:      opts.Objective,
		controlDir:     opts.ControlDir,
		maxIterations:  maxIter,
		refineCooldown: cooldown,
		windowBudget:   opts.WindowBudget,
		iteration:      snap.Iteration,
		actions:        actions,
		runs:           snap.PhaseRuns,
		windows:        make(map[phase.ID]*convo.Window),
		lastBound:      make(map[phase.ID]string),
	}

	opts.Store.SetExtras(func(s *store.Snapshot) {
		c.mu.Lock()
		defer c.mu.Unlock()
		s.Iteration = c.iteration
		s.ActionHistory = c.actions.All()
		s.PhaseRuns = c.runs
	})
	return c
}

// Run drives the loop until a halt condition or cancellation. The returned
// report is non-nil unless err is a fatal storage or setup error.
func (c *Coordinator) Run(ctx context.Context) (*Report, error) {
	c.startedAt = time.Now()

	if c.controlDir != "" {
		stop, err := c.watchControlDir(ctx)
		if err != nil {
			c.logger.Warn("control dir watch unavailable", zap.Error(err))
		} else {
			defer stop()
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return c.report(HaltCanceled), nil
		}
		if c.iteration >= c.maxIterations {
			return c.report(HaltMaxIterations), nil
		}
		c.mu.Lock()
		c.iteration++
		c.mu.Unlock()

		if c.directive != nil {
			d := c.directive
			c.directive = nil
			if err := c.applyDirective(ctx, d); err != nil {
				if store.IsFatal(err) {
					return nil, err
				}
				c.logger.Error("directive failed", zap.String("kind", string(d.Kind)), zap.Error(err))
			}
			// Escalation records appended by the directive must reach the
			// snapshot now, not on the next full iteration.
			if err := c.store.Persist(); err != nil {
				return nil, err
			}
			continue
		}

		sel := c.selectNext()
		c.logger.Info("phase selected",
			zap.Int("iteration", c.iteration),
			zap.String("phase", string(sel.Phase)),
			zap.String("task", taskID(sel.Task)))

		if sel.Phase == phase.Idle {
			if c.store.AllTerminal() {
				return c.report(HaltCompleted), nil
			}
			return c.report(HaltDeadlock), nil
		}

		if err := c.runPhase(ctx, sel); err != nil {
			if store.IsFatal(err) {
				return nil, err
			}
			c.logger.Error("phase run failed", zap.String("phase", string(sel.Phase)), zap.Error(err))
		}

		c.directive = c.guard.Check(c.actions)
		if c.directive != nil {
			c.logger.Warn("loop guard directive",
				zap.String("kind", string(c.directive.Kind)),
				zap.String("task", c.directive.TaskID),
				zap.String("reason", c.directive.Reason))
		}

		if err := c.store.Persist(); err != nil {
			return nil, err
		}
	}
}

// runPhase executes one phase handler and folds its results back into
// coordinator state. Handler errors mark the bound task FAILED and are not
// fatal; only storage errors propagate.
func (c *Coordinator) runPhase(ctx context.Context, sel selection) error {
	bound := sel.Task
	if sel.Phase == phase.Implementing && bound.Status == task.StatusNew {
		updated, err := c.store.Transition(bound.ID, task.StatusInProgress)
		if err != nil {
			return err
		}
		bound = updated
	}
	if sel.Phase == phase.Remediating {
		updated, err := c.store.Transition(bound.ID, task.StatusInProgress)
		if errors.Is(err, store.ErrAttemptsExhausted) {
			c.logger.Warn("retry budget exhausted", zap.String("task", bound.ID))
			return nil
		}
		if err != nil {
			return err
		}
		bound = updated
	}

	handler, err := c.phases.Get(sel.Phase)
	if err != nil {
		return err
	}

	run, runErr := handler.Run(ctx, &phase.Ctx{
		Task:       bound,
		Window:     c.window(sel.Phase, bound),
		Generator:  c.gen,
		Dispatcher: c.disp,
		Failures:   c.failures,
		Logger:     c.logger.With(zap.String("phase", string(sel.Phase))),
	})

	if runErr != nil {
		run = phase.Run{
			Phase:     sel.Phase,
			TaskID:    taskID(bound),
			StartedAt: time.Now().UTC(),
			Outcome:   phase.OutcomeFailure,
			Text:      runErr.Error(),
		}
	}
	c.recordRun(ctx, run, bound)

	if runErr != nil {
		if bound != nil && bound.Status == task.StatusInProgress {
			if _, terr := c.store.Transition(bound.ID, task.StatusFailed); terr != nil {
				return terr
			}
		}
		c.logger.Error("phase handler error", zap.String("phase", string(sel.Phase)), zap.Error(runErr))
		return nil
	}

	return c.applyResults(bound, run.Invocations)
}

// recordRun appends the run to in-memory and archived history and indexes
// any failure text for later similarity lookup. Archive and index writes
// are advisory.
func (c *Coordinator) recordRun(ctx context.Context, run phase.Run, bound *task.Task) {
	c.mu.Lock()
	c.runs = append(c.runs, run)
	c.trimRuns()
	c.mu.Unlock()

	for _, inv := range run.Invocations {
		rec := history.ActionRecord{
			Iteration: c.iteration,
			Phase:     string(run.Phase),
			Tool:      inv.ToolName,
			Target:    dispatch.Target(inv.Arguments),
			TaskID:    invocationTaskID(inv, bound),
			Timestamp: time.Now().UTC(),
			Succeeded: inv.Success,
			Resolving: inv.Resolving,
		}
		c.mu.Lock()
		c.actions.Append(rec)
		c.mu.Unlock()
		if c.archive != nil {
			if err := c.archive.RecordAction(ctx, rec); err != nil {
				c.logger.Warn("archive action write failed", zap.Error(err))
			}
		}
	}
	if run.Phase == phase.Refining && len(run.Invocations) == 0 {
		// Leave a trace so the cooldown lookback still sees the selection.
		c.mu.Lock()
		c.actions.Append(history.ActionRecord{
			Iteration: c.iteration,
			Phase:     string(run.Phase),
			Tool:      "phase_selected",
			Timestamp: time.Now().UTC(),
			Succeeded: true,
		})
		c.mu.Unlock()
	}

	if c.archive != nil {
		rec := history.RunRecord{
			RunID:     run.ID,
			Phase:     string(run.Phase),
			TaskID:    run.TaskID,
			Outcome:   string(run.Outcome),
			StartedAt: run.StartedAt,
			Duration:  time.Since(run.StartedAt),
			ToolCalls: len(run.Invocations),
			Failures:  run.Failures(),
			ErrorText: run.ErrorText(),
		}
		if err := c.archive.RecordRun(ctx, rec); err != nil {
			c.logger.Warn("archive run write failed", zap.Error(err))
		}
		if c.failures != nil && rec.Failures > 0 {
			if err := c.failures.IndexFailure(rec); err != nil {
				c.logger.Warn("failure index write failed", zap.Error(err))
			}
		}
	}
}

// window returns the phase's conversation window, resetting it when the
// phase binds a different task than its previous run.
func (c *Coordinator) window(id phase.ID, bound *task.Task) *convo.Window {
	boundID := taskID(bound)
	w, ok := c.windows[id]
	if !ok || c.lastBound[id] != boundID {
		w = convo.NewWindow(c.windowBudget)
		if id == phase.Planning && c.objective != "" {
			w.AppendPinned(reasoning.Message{
				Role:    reasoning.RoleUser,
				Content: "Project objective:\n" + c.objective,
			})
		}
		c.windows[id] = w
		c.lastBound[id] = boundID
	}
	return w
}

func taskID(t *task.Task) string {
	if t == nil {
		return ""
	}
	return t.ID
}

func invocationTaskID(inv dispatch.ToolResult, bound *task.Task) string {
	if id, ok := inv.Arguments["task_id"].(string); ok && id != "" {
		return id
	}
	return taskID(bound)
}

func (c *Coordinator) trimRuns() {
	const keep = 200
	if len(c.runs) > keep {
		c.runs = c.runs[len(c.runs)-keep:]
	}
}

// Iteration reports the current iteration count, for status output.
func (c *Coordinator) Iteration() int {
	return c.iteration
}
