package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rwxlab/taskpilot/internal/task"
)

// memPersister keeps the last snapshot in memory and can be told to fail.
type memPersister struct {
	snap  Snapshot
	ok    bool
	fail  bool
	saves int
}

func (m *memPersister) Save(snap Snapshot) error {
	if m.fail {
		return errors.New("disk full")
	}
	// Deep-ish copy so later store mutations don't bleed into the saved view.
	cp := snap
	cp.Tasks = make(map[string]*task.Task, len(snap.Tasks))
	for id, t := range snap.Tasks {
		cp.Tasks[id] = t.Clone()
	}
	m.snap = cp
	m.ok = true
	m.saves++
	return nil
}

func (m *memPersister) Load() (Snapshot, bool, error) {
	return m.snap, m.ok, nil
}

func newTestStore(t *testing.T) (*Store, *memPersister) {
	t.Helper()
	p := &memPersister{}
	s, _, err := New(p)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, p
}

func TestCreateUnknownDependency(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Create(map[string]any{"description": "a"}, 1, []string{"nope"})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("want ValidationError, got %v", err)
	}
}

func TestCreatePersistsBeforeReturning(t *testing.T) {
	s, p := newTestStore(t)
	created, err := s.Create(map[string]any{"description": "a"}, 1, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, ok := p.snap.Tasks[created.ID]; !ok {
		t.Fatal("task not in persisted snapshot")
	}
}

func TestCreateRollsBackOnPersistFailure(t *testing.T) {
	s, p := newTestStore(t)
	p.fail = true
	_, err := s.Create(map[string]any{"description": "a"}, 1, nil)
	if !IsFatal(err) {
		t.Fatalf("want FatalStorageError, got %v", err)
	}
	if !s.Empty() {
		t.Fatal("failed create left a task in the store")
	}
}

func TestTransitionSelfIsNoOp(t *testing.T) {
	s, p := newTestStore(t)
	created, _ := s.Create(map[string]any{"description": "a"}, 1, nil)
	before := p.saves
	got, err := s.Transition(created.ID, task.StatusNew)
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if got.Status != task.StatusNew {
		t.Fatalf("status = %s", got.Status)
	}
	if p.saves != before {
		t.Fatal("self-transition triggered a persist")
	}
}

func TestTransitionRejectsInvalidEdge(t *testing.T) {
	s, _ := newTestStore(t)
	created, _ := s.Create(map[string]any{"description": "a"}, 1, nil)
	_, err := s.Transition(created.ID, task.StatusCompleted)
	var terr *InvalidTransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("want InvalidTransitionError, got %v", err)
	}
	got, _ := s.Get(created.ID)
	if got.Status != task.StatusNew {
		t.Fatalf("rejected transition mutated status to %s", got.Status)
	}
}

func TestRetryIncrementsAttemptsThenBlocks(t *testing.T) {
	s, _ := newTestStore(t)
	created, _ := s.Create(map[string]any{"description": "a"}, 1, nil)
	id := created.ID

	fail := func() {
		if _, err := s.Transition(id, task.StatusInProgress); err != nil {
			t.Fatalf("to IN_PROGRESS: %v", err)
		}
		if _, err := s.Transition(id, task.StatusFailed); err != nil {
			t.Fatalf("to FAILED: %v", err)
		}
	}

	fail()
	// The retry budget allows MaxAttempts re-entries. Failures before the
	// last retry stay FAILED; a failure after the last retry blocks.
	for i := 1; i < task.DefaultMaxAttempts; i++ {
		got, err := s.Transition(id, task.StatusInProgress)
		if err != nil {
			t.Fatalf("retry %d: %v", i, err)
		}
		if got.Attempts != i {
			t.Fatalf("retry %d: attempts = %d", i, got.Attempts)
		}
		got, err = s.Transition(id, task.StatusFailed)
		if err != nil {
			t.Fatalf("to FAILED: %v", err)
		}
		if got.Status != task.StatusFailed {
			t.Fatalf("retry %d: status = %s, want FAILED", i, got.Status)
		}
	}

	got, err := s.Transition(id, task.StatusInProgress)
	if err != nil {
		t.Fatalf("last retry: %v", err)
	}
	if got.Attempts != task.DefaultMaxAttempts {
		t.Fatalf("last retry: attempts = %d", got.Attempts)
	}

	got, err = s.Transition(id, task.StatusFailed)
	if err != nil {
		t.Fatalf("final failure: %v", err)
	}
	if got.Status != task.StatusBlocked {
		t.Fatalf("exhausted task status = %s, want BLOCKED", got.Status)
	}
	if got.BlockedReason == "" {
		t.Fatal("blocked task carries no reason")
	}
}

func TestRetryDeniedForLoadedExhaustedTask(t *testing.T) {
	// A snapshot written before the attempt cap was lowered can hold a
	// FAILED task already at its budget; the retry edge must block it.
	stale := task.New(map[string]any{"description": "a"}, 1, nil)
	stale.Status = task.StatusFailed
	stale.Attempts = stale.MaxAttempts

	p := &memPersister{ok: true, snap: Snapshot{Tasks: map[string]*task.Task{stale.ID: stale}}}
	s, _, err := New(p)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := s.Transition(stale.ID, task.StatusInProgress)
	if !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("want ErrAttemptsExhausted, got %v", err)
	}
	if got.Status != task.StatusBlocked {
		t.Fatalf("status = %s, want BLOCKED", got.Status)
	}
	if got.BlockedReason == "" {
		t.Fatal("blocked task carries no reason")
	}
}

func TestEligibleFiltersAndOrders(t *testing.T) {
	s, _ := newTestStore(t)

	dep, _ := s.Create(map[string]any{"description": "dep"}, 0, nil)
	low, _ := s.Create(map[string]any{"description": "low"}, 5, nil)
	high, _ := s.Create(map[string]any{"description": "high"}, 1, nil)
	gated, _ := s.Create(map[string]any{"description": "gated"}, 0, []string{dep.ID})

	elig := s.Eligible()
	ids := make([]string, 0, len(elig))
	for _, e := range elig {
		ids = append(ids, e.ID)
	}
	// dep has priority 0, high 1, low 5; gated is excluded until dep completes.
	want := []string{dep.ID, high.ID, low.ID}
	if len(ids) != len(want) {
		t.Fatalf("eligible = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("eligible[%d] = %s, want %s", i, ids[i], want[i])
		}
	}

	// Complete the dependency; the gated task becomes eligible at the front
	// (priority 0, later creation than dep which is now terminal).
	mustTransition(t, s, dep.ID, task.StatusInProgress, task.StatusReviewPending, task.StatusCompleted)
	elig = s.Eligible()
	if len(elig) != 3 || elig[0].ID != gated.ID {
		t.Fatalf("after dep completed, head = %v", elig)
	}
}

func TestEligibleDeterministicTieBreak(t *testing.T) {
	s, _ := newTestStore(t)
	a, _ := s.Create(map[string]any{"description": "a"}, 2, nil)
	b, _ := s.Create(map[string]any{"description": "b"}, 2, nil)

	// Force identical timestamps so only Seq distinguishes them.
	s.mu.Lock()
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.tasks[a.ID].CreatedAt = ts
	s.tasks[b.ID].CreatedAt = ts
	s.mu.Unlock()

	for i := 0; i < 5; i++ {
		elig := s.Eligible()
		if elig[0].ID != a.ID || elig[1].ID != b.ID {
			t.Fatalf("iteration %d: order = %s, %s", i, elig[0].ID, elig[1].ID)
		}
	}
}

func TestForceBlockAndReset(t *testing.T) {
	s, _ := newTestStore(t)
	created, _ := s.Create(map[string]any{"description": "a"}, 1, nil)

	blocked, err := s.ForceBlock(created.ID, "repeated identical actions")
	if err != nil {
		t.Fatalf("ForceBlock: %v", err)
	}
	if blocked.Status != task.StatusBlocked || blocked.BlockedReason == "" {
		t.Fatalf("blocked = %+v", blocked)
	}

	reset, err := s.Reset(created.ID)
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if reset.Status != task.StatusNew || reset.Attempts != 0 || reset.BlockedReason != "" {
		t.Fatalf("reset = %+v", reset)
	}

	// Reset only applies to BLOCKED tasks.
	if _, err := s.Reset(created.ID); err == nil {
		t.Fatal("Reset of a NEW task succeeded")
	}
}

func TestSnapshotRoundTripThroughFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	p := NewFilePersister(path)

	s, _, err := New(p)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	created, _ := s.Create(map[string]any{"description": "survives restart"}, 3, nil)
	mustTransition(t, s, created.ID, task.StatusInProgress)

	s2, snap, err := New(p)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	got, err := s2.Get(created.ID)
	if err != nil {
		t.Fatalf("Get after reload: %v", err)
	}
	if got.Status != task.StatusInProgress || got.Priority != 3 || got.Seq != created.Seq {
		t.Fatalf("reloaded task = %+v", got)
	}
	if snap.SavedAt.IsZero() {
		t.Fatal("snapshot missing SavedAt")
	}

	// New tasks after reload must not reuse sequence numbers.
	later, _ := s2.Create(map[string]any{"description": "later"}, 1, nil)
	if later.Seq <= created.Seq {
		t.Fatalf("seq reused: %d <= %d", later.Seq, created.Seq)
	}
}

func TestUnmetDependencies(t *testing.T) {
	s, _ := newTestStore(t)
	dep, _ := s.Create(map[string]any{"description": "dep"}, 0, nil)
	gated, _ := s.Create(map[string]any{"description": "gated"}, 0, []string{dep.ID})
	mustTransition(t, s, dep.ID, task.StatusInProgress, task.StatusFailed)
	s.ForceBlock(dep.ID, "stuck")

	unmet := s.UnmetDependencies()
	deps, ok := unmet[gated.ID]
	if !ok || len(deps) != 1 || deps[0] != dep.ID {
		t.Fatalf("unmet = %v", unmet)
	}
}

func mustTransition(t *testing.T, s *Store, id string, statuses ...task.Status) {
	t.Helper()
	for _, st := range statuses {
		if _, err := s.Transition(id, st); err != nil {
			t.Fatalf("transition to %s: %v", st, err)
		}
	}
}

func TestSetMaxAttemptsAppliesToNewTasks(t *testing.T) {
	s, _ := newTestStore(t)
	s.SetMaxAttempts(1)
	created, err := s.Create(map[string]any{"description": "a"}, 1, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.MaxAttempts != 1 {
		t.Fatalf("MaxAttempts = %d, want 1", created.MaxAttempts)
	}

	mustTransition(t, s, created.ID, task.StatusInProgress)
	mustTransition(t, s, created.ID, task.StatusFailed)
	if _, err := s.Transition(created.ID, task.StatusInProgress); err != nil {
		t.Fatalf("first retry: %v", err)
	}
	got, err := s.Transition(created.ID, task.StatusFailed)
	if err != nil {
		t.Fatalf("to FAILED: %v", err)
	}
	if got.Status != task.StatusBlocked {
		t.Fatalf("status = %s, want BLOCKED after the budget is spent", got.Status)
	}
}
