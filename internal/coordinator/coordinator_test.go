package coordinator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/rwxlab/taskpilot/internal/dispatch"
	"github.com/rwxlab/taskpilot/internal/history"
	"github.com/rwxlab/taskpilot/internal/loopguard"
	"github.com/rwxlab/taskpilot/internal/phase"
	"github.com/rwxlab/taskpilot/internal/reasoning"
	"github.com/rwxlab/taskpilot/internal/store"
	"github.com/rwxlab/taskpilot/internal/task"
	"github.com/rwxlab/taskpilot/internal/tools/lifecycle"
	"github.com/rwxlab/taskpilot/internal/tools/workspace"
)

type genFunc func(ctx context.Context, systemPrompt string, hist []reasoning.Message, schemas []reasoning.ToolSchema) (reasoning.Result, error)

func (f genFunc) Generate(ctx context.Context, systemPrompt string, hist []reasoning.Message, schemas []reasoning.ToolSchema) (reasoning.Result, error) {
	return f(ctx, systemPrompt, hist, schemas)
}

var taskIDPattern = regexp.MustCompile(`[Tt]ask ([0-9a-f-]{36})`)

// boundTaskID pulls the bound task's ID out of the pinned window message.
func boundTaskID(hist []reasoning.Message) string {
	for _, msg := range hist {
		if m := taskIDPattern.FindStringSubmatch(msg.Content); m != nil {
			return m[1]
		}
	}
	return ""
}

func newTestCoordinator(t *testing.T, gen reasoning.Generator, maxIter int) (*Coordinator, *store.Store) {
	t.Helper()
	p := store.NewFilePersister(filepath.Join(t.TempDir(), "state.json"))
	s, snap, err := store.New(p)
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	reg := make(dispatch.Registry)
	reg.Register(lifecycle.NewCreateTaskTool())
	reg.Register(lifecycle.NewCompleteTaskTool())
	reg.Register(lifecycle.NewApproveTaskTool())
	reg.Register(lifecycle.NewRequestChangesTool())
	reg.Register(lifecycle.NewDocumentIssueTool(filepath.Join(t.TempDir(), "issues.jsonl")))
	reg.Register(workspace.NewInspectTool(workspace.OSFileSystem{}, t.TempDir()))

	c := New(Options{
		Store:         s,
		Phases:        phase.NewRegistry(),
		Generator:     gen,
		Dispatcher:    dispatch.NewDispatcher(reg, 5*time.Second),
		MaxIterations: maxIter,
	}, snap)
	return c, s
}

func noCalls(ctx context.Context, _ string, _ []reasoning.Message, _ []reasoning.ToolSchema) (reasoning.Result, error) {
	return reasoning.Result{Text: "nothing to do"}, nil
}

func TestSelectPlanningWhenEmpty(t *testing.T) {
	c, _ := newTestCoordinator(t, genFunc(noCalls), 10)
	sel := c.selectNext()
	if sel.Phase != phase.Planning || sel.Task != nil {
		t.Fatalf("selection = %+v, want unbound planning", sel)
	}
}

func TestSelectImplementingForNewTask(t *testing.T) {
	c, s := newTestCoordinator(t, genFunc(noCalls), 10)
	created, err := s.Create(map[string]any{"description": "a"}, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	sel := c.selectNext()
	if sel.Phase != phase.Implementing {
		t.Fatalf("phase = %s", sel.Phase)
	}
	if sel.Task == nil || sel.Task.ID != created.ID {
		t.Fatalf("bound task = %v", sel.Task)
	}
}

func TestSelectReviewingAndRemediating(t *testing.T) {
	c, s := newTestCoordinator(t, genFunc(noCalls), 10)
	created, _ := s.Create(map[string]any{"description": "a"}, 1, nil)
	s.Transition(created.ID, task.StatusInProgress)
	s.Transition(created.ID, task.StatusReviewPending)

	if sel := c.selectNext(); sel.Phase != phase.Reviewing || sel.Task.ID != created.ID {
		t.Fatalf("selection = %+v, want reviewing", sel)
	}

	s.Transition(created.ID, task.StatusInProgress)
	s.Transition(created.ID, task.StatusFailed)
	if sel := c.selectNext(); sel.Phase != phase.Remediating || sel.Task.ID != created.ID {
		t.Fatalf("selection = %+v, want remediating", sel)
	}
}

func TestRefineCooldown(t *testing.T) {
	c, s := newTestCoordinator(t, genFunc(noCalls), 10)
	created, _ := s.Create(map[string]any{"description": "a"}, 1, nil)
	s.Transition(created.ID, task.StatusInProgress)
	s.Transition(created.ID, task.StatusReviewPending)
	s.Transition(created.ID, task.StatusCompleted)

	c.iteration = 1
	if sel := c.selectNext(); sel.Phase != phase.Refining {
		t.Fatalf("iteration 1 selection = %s, want refining", sel.Phase)
	}
	c.actions.Append(history.ActionRecord{
		Iteration: 1,
		Phase:     string(phase.Refining),
		Tool:      "phase_selected",
		Timestamp: time.Now(),
		Succeeded: true,
	})

	for _, iter := range []int{2, 3} {
		c.iteration = iter
		if sel := c.selectNext(); sel.Phase == phase.Refining {
			t.Fatalf("refining re-selected at iteration %d during cooldown", iter)
		}
	}

	c.iteration = 4
	if sel := c.selectNext(); sel.Phase != phase.Refining {
		t.Fatalf("iteration 4 selection = %s, want refining after cooldown", sel.Phase)
	}
}

func TestRunFullLifecycle(t *testing.T) {
	gen := genFunc(func(ctx context.Context, sys string, hist []reasoning.Message, _ []reasoning.ToolSchema) (reasoning.Result, error) {
		switch {
		case strings.Contains(sys, "planning stage"):
			return reasoning.Result{Calls: []reasoning.ToolCall{{
				Name: "create_task",
				Args: map[string]any{"description": "write the report", "priority": float64(1)},
			}}}, nil
		case strings.Contains(sys, "implementing stage"):
			return reasoning.Result{Calls: []reasoning.ToolCall{{
				Name: "complete_task",
				Args: map[string]any{"task_id": boundTaskID(hist), "summary": "done"},
			}}}, nil
		case strings.Contains(sys, "reviewing stage"):
			return reasoning.Result{Calls: []reasoning.ToolCall{{
				Name: "approve_task",
				Args: map[string]any{"task_id": boundTaskID(hist)},
			}}}, nil
		default:
			return reasoning.Result{Text: "all good"}, nil
		}
	})

	c, s := newTestCoordinator(t, gen, 20)
	report, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Reason != HaltCompleted {
		t.Fatalf("halt reason = %s, want completed", report.Reason)
	}
	if report.ExitCode() != 0 {
		t.Fatalf("exit code = %d", report.ExitCode())
	}
	if report.StatusCounts[task.StatusCompleted] != 1 {
		t.Fatalf("status counts = %v", report.StatusCounts)
	}

	all := s.All()
	if len(all) != 1 || all[0].Status != task.StatusCompleted {
		t.Fatalf("tasks = %+v", all)
	}
}

func TestAnalysisStagnationAutoEscalates(t *testing.T) {
	inspectCount := 0
	gen := genFunc(func(ctx context.Context, sys string, hist []reasoning.Message, _ []reasoning.ToolSchema) (reasoning.Result, error) {
		switch {
		case strings.Contains(sys, "implementing stage"):
			// Keeps inspecting instead of finishing: analysis-only stagnation.
			inspectCount++
			return reasoning.Result{Calls: []reasoning.ToolCall{{
				Name: "inspect",
				Args: map[string]any{"path": fmt.Sprintf("probe-%d.txt", inspectCount)},
			}}}, nil
		case strings.Contains(sys, "reviewing stage"):
			return reasoning.Result{Calls: []reasoning.ToolCall{{
				Name: "approve_task",
				Args: map[string]any{"task_id": boundTaskID(hist)},
			}}}, nil
		default:
			return reasoning.Result{}, nil
		}
	})

	c, s := newTestCoordinator(t, gen, 30)
	created, _ := s.Create(map[string]any{"description": "investigate"}, 1, nil)

	report, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Reason != HaltCompleted {
		t.Fatalf("halt reason = %s\n%s", report.Reason, report)
	}

	got, _ := s.Get(created.ID)
	if got.Status != task.StatusCompleted {
		t.Fatalf("task status = %s, want COMPLETED via escalation then review", got.Status)
	}

	escalated := false
	for _, rec := range c.actions.All() {
		if rec.AutoEscalated {
			if rec.Tool != "document_issue" || rec.TaskID != created.ID {
				t.Fatalf("escalation record = %+v", rec)
			}
			escalated = true
		}
	}
	if !escalated {
		t.Fatal("no auto-escalated action recorded")
	}
	if c.directive != nil {
		t.Fatal("directive not cleared after consumption")
	}
}

func TestExactCycleBlocksTask(t *testing.T) {
	gen := genFunc(func(ctx context.Context, sys string, _ []reasoning.Message, _ []reasoning.ToolSchema) (reasoning.Result, error) {
		if strings.Contains(sys, "implementing stage") {
			// Hammers the same target every iteration.
			return reasoning.Result{Calls: []reasoning.ToolCall{{
				Name: "inspect",
				Args: map[string]any{"path": "same-file.txt"},
			}}}, nil
		}
		return reasoning.Result{}, nil
	})

	c, s := newTestCoordinator(t, gen, 30)
	created, _ := s.Create(map[string]any{"description": "stuck"}, 1, nil)

	report, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, _ := s.Get(created.ID)
	if got.Status != task.StatusBlocked {
		t.Fatalf("task status = %s, want BLOCKED\n%s", got.Status, report)
	}
	if got.BlockedReason == "" {
		t.Fatal("blocked task has no reason")
	}
	if _, ok := report.BlockedReasons[created.ID]; !ok {
		t.Fatalf("report missing blocked reason: %v", report.BlockedReasons)
	}
}

func TestDeadlockReported(t *testing.T) {
	c, s := newTestCoordinator(t, genFunc(noCalls), 10)
	dep, _ := s.Create(map[string]any{"description": "dep"}, 1, nil)
	gated, _ := s.Create(map[string]any{"description": "gated"}, 1, []string{dep.ID})
	s.Transition(dep.ID, task.StatusInProgress)
	s.Transition(dep.ID, task.StatusFailed)
	s.ForceBlock(dep.ID, "manual input required")

	report, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Reason != HaltDeadlock {
		t.Fatalf("halt reason = %s, want deadlock", report.Reason)
	}
	if report.ExitCode() != 3 {
		t.Fatalf("exit code = %d, want 3", report.ExitCode())
	}
	deps, ok := report.UnmetDeps[gated.ID]
	if !ok || len(deps) != 1 || deps[0] != dep.ID {
		t.Fatalf("unmet deps = %v", report.UnmetDeps)
	}
}

func TestMaxIterationsHalts(t *testing.T) {
	c, _ := newTestCoordinator(t, genFunc(noCalls), 5)
	report, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Reason != HaltMaxIterations {
		t.Fatalf("halt reason = %s", report.Reason)
	}
	if report.Iterations != 5 {
		t.Fatalf("iterations = %d", report.Iterations)
	}
}

func TestCancellationHalts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c, _ := newTestCoordinator(t, genFunc(noCalls), 10)
	report, err := c.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Reason != HaltCanceled {
		t.Fatalf("halt reason = %s", report.Reason)
	}
}

func TestExternalResetUnblocksTask(t *testing.T) {
	c, s := newTestCoordinator(t, genFunc(noCalls), 10)
	created, _ := s.Create(map[string]any{"description": "a"}, 1, nil)
	s.Transition(created.ID, task.StatusInProgress)
	s.Transition(created.ID, task.StatusFailed)
	s.ForceBlock(created.ID, "stuck")

	dir := t.TempDir()
	c.controlDir = dir
	// Simulate the operator dropping a reset file before the run starts.
	resetFile := filepath.Join(dir, resetFilePrefix+created.ID)
	if err := os.WriteFile(resetFile, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	c.sweepControlDir()

	got, _ := s.Get(created.ID)
	if got.Status != task.StatusNew || got.Attempts != 0 {
		t.Fatalf("task after reset = %+v", got)
	}
}

func TestExhaustedRetriesBlockTaskAndHaltGracefully(t *testing.T) {
	gen := genFunc(func(ctx context.Context, systemPrompt string, hist []reasoning.Message, schemas []reasoning.ToolSchema) (reasoning.Result, error) {
		if strings.Contains(systemPrompt, "refinement stage") {
			return reasoning.Result{Text: "nothing further"}, nil
		}
		return reasoning.Result{}, fmt.Errorf("backend unavailable")
	})
	c, s := newTestCoordinator(t, gen, 30)
	created, err := s.Create(map[string]any{"description": "doomed"}, 1, nil)
	if err != nil {
		t.Fatal(err)
	}

	rep, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Reason != HaltCompleted {
		t.Fatalf("halt reason = %s, want %s", rep.Reason, HaltCompleted)
	}
	if rep.ExitCode() != 0 {
		t.Fatalf("exit code = %d, want 0", rep.ExitCode())
	}

	got, err := s.Get(created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != task.StatusBlocked {
		t.Fatalf("status = %s, want BLOCKED", got.Status)
	}
	if got.Attempts != task.DefaultMaxAttempts {
		t.Fatalf("attempts = %d, want %d", got.Attempts, task.DefaultMaxAttempts)
	}
	reason, ok := rep.BlockedReasons[created.ID]
	if !ok || reason == "" {
		t.Fatalf("report carries no blocked reason: %+v", rep.BlockedReasons)
	}
}

func TestDirectiveIterationPersistsEscalationRecord(t *testing.T) {
	dir := t.TempDir()
	p := store.NewFilePersister(filepath.Join(dir, "state.json"))
	s, snap, err := store.New(p)
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	reg := make(dispatch.Registry)
	reg.Register(lifecycle.NewDocumentIssueTool(filepath.Join(dir, "issues.jsonl")))
	c := New(Options{
		Store:         s,
		Phases:        phase.NewRegistry(),
		Generator:     genFunc(noCalls),
		Dispatcher:    dispatch.NewDispatcher(reg, 5*time.Second),
		MaxIterations: 1,
	}, snap)

	created, err := s.Create(map[string]any{"description": "stuck"}, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	// In REVIEW_PENDING the escalation applies no task transition, so the
	// snapshot only picks up the record through the iteration's own persist.
	if _, err := s.Transition(created.ID, task.StatusInProgress); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Transition(created.ID, task.StatusReviewPending); err != nil {
		t.Fatal(err)
	}
	c.directive = &loopguard.Directive{
		Kind:   loopguard.KindAutoEscalate,
		TaskID: created.ID,
		Reason: "repeated analysis without resolution",
	}

	rep, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Reason != HaltMaxIterations {
		t.Fatalf("halt reason = %s, want %s", rep.Reason, HaltMaxIterations)
	}

	saved, ok, err := p.Load()
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	found := false
	for _, rec := range saved.ActionHistory {
		if rec.AutoEscalated && rec.Tool == "document_issue" && rec.TaskID == created.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("escalation record missing from snapshot: %+v", saved.ActionHistory)
	}
}

func TestNonResolvingResultLeavesTaskInProgress(t *testing.T) {
	c, s := newTestCoordinator(t, genFunc(noCalls), 10)
	created, err := s.Create(map[string]any{"description": "a"}, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Transition(created.ID, task.StatusInProgress); err != nil {
		t.Fatal(err)
	}
	bound, err := s.Get(created.ID)
	if err != nil {
		t.Fatal(err)
	}

	// Neither an analysis tool nor a lifecycle-named result without the
	// resolving tag may move the task; only the tag is consulted.
	results := []dispatch.ToolResult{
		{ToolName: "inspect", Success: true, Resolving: false, Payload: map[string]any{"exists": true}},
		{ToolName: "approve_task", Success: true, Resolving: false, Arguments: map[string]any{"task_id": created.ID}},
	}
	if err := c.applyResults(bound, results); err != nil {
		t.Fatalf("applyResults: %v", err)
	}

	got, err := s.Get(created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != task.StatusInProgress {
		t.Fatalf("status = %s, want IN_PROGRESS", got.Status)
	}
}
