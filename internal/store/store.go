// Package store owns canonical task state: it is the only writer of task
// status and attempt counters, and it persists a snapshot before
// acknowledging any mutation.
package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rwxlab/taskpilot/internal/task"
)

// ExtrasFunc fills the non-task snapshot sections (action history, phase
// runs, iteration counter) on each persist. The coordinator owns that
// state; the store only writes it to disk.
type ExtrasFunc func(snap *Snapshot)

// Store is the task collection. All mutations go through its methods;
// phases never write task fields directly.
type Store struct {
	mu        sync.Mutex
	tasks     map[string]*task.Task
	nextSeq   int
	persister Persister
	extras    ExtrasFunc

	// maxAttempts overrides the retry budget for newly created tasks
	// when positive.
	maxAttempts int
}

// New creates a store, loading any existing snapshot from the persister.
// It returns the loaded snapshot so the coordinator can restore the state
// it owns (history, runs, iteration counter).
func New(p Persister) (*Store, Snapshot, error) {
	snap, ok, err := p.Load()
	if err != nil {
		return nil, Snapshot{}, &FatalStorageError{Op: "load", Err: err}
	}
	s := &Store{
		tasks:     make(map[string]*task.Task),
		persister: p,
	}
	if ok {
		for id, t := range snap.Tasks {
			s.tasks[id] = t
			if t.Seq >= s.nextSeq {
				s.nextSeq = t.Seq + 1
			}
		}
	}
	return s, snap, nil
}

// SetMaxAttempts sets the retry budget applied to tasks created after
// the call. Existing tasks keep their budget.
func (s *Store) SetMaxAttempts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxAttempts = n
}

// SetExtras registers the callback that fills coordinator-owned snapshot
// sections on every persist.
func (s *Store) SetExtras(fn ExtrasFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extras = fn
}

// Create adds a task in the NEW status. Every dependency must already
// exist; unknown IDs yield a ValidationError.
func (s *Store) Create(payload map[string]any, priority int, dependencies []string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, dep := range dependencies {
		if _, ok := s.tasks[dep]; !ok {
			return nil, &ValidationError{Field: "dependencies", Reason: fmt.Sprintf("unknown task ID %q", dep)}
		}
	}

	t := task.New(payload, priority, dependencies)
	if s.maxAttempts > 0 {
		t.MaxAttempts = s.maxAttempts
	}
	t.Seq = s.nextSeq
	s.nextSeq++
	s.tasks[t.ID] = t

	if err := s.persistLocked(); err != nil {
		delete(s.tasks, t.ID)
		s.nextSeq--
		return nil, err
	}
	return t.Clone(), nil
}

// Transition moves a task along the allowed status graph. A self-transition
// is a no-op (no attempt increment, no persist). Transitioning FAILED ->
// IN_PROGRESS increments attempts; if the budget is already spent the task
// is forced to BLOCKED instead and ErrAttemptsExhausted returned. A failure
// that lands with no budget left also forces BLOCKED: remediation only picks
// up retryable tasks, so a FAILED task at the attempt cap would never be
// scheduled again.
func (s *Store) Transition(taskID string, to task.Status) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if !to.Valid() {
		return nil, &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", to)}
	}
	if t.Status == to {
		return t.Clone(), nil
	}
	if !task.CanTransition(t.Status, to) {
		return nil, &InvalidTransitionError{TaskID: taskID, From: t.Status, To: to}
	}

	retrying := t.Status == task.StatusFailed && to == task.StatusInProgress
	if retrying && t.Exhausted() {
		prev := t.Status
		t.Status = task.StatusBlocked
		t.BlockedReason = fmt.Sprintf("retry attempts exhausted (%d/%d)", t.Attempts, t.MaxAttempts)
		t.UpdatedAt = time.Now().UTC()
		if err := s.persistLocked(); err != nil {
			t.Status = prev
			t.BlockedReason = ""
			return nil, err
		}
		return t.Clone(), ErrAttemptsExhausted
	}

	if to == task.StatusFailed && t.Exhausted() {
		prevStatus, prevReason := t.Status, t.BlockedReason
		t.Status = task.StatusBlocked
		t.BlockedReason = fmt.Sprintf("retry attempts exhausted (%d/%d)", t.Attempts, t.MaxAttempts)
		t.UpdatedAt = time.Now().UTC()
		if err := s.persistLocked(); err != nil {
			t.Status, t.BlockedReason = prevStatus, prevReason
			return nil, err
		}
		return t.Clone(), nil
	}

	prevStatus, prevAttempts, prevUpdated := t.Status, t.Attempts, t.UpdatedAt
	t.Status = to
	if retrying {
		t.Attempts++
	}
	t.UpdatedAt = time.Now().UTC()

	if err := s.persistLocked(); err != nil {
		t.Status, t.Attempts, t.UpdatedAt = prevStatus, prevAttempts, prevUpdated
		return nil, err
	}
	return t.Clone(), nil
}

// ForceBlock moves a non-terminal task straight to BLOCKED with a recorded
// reason. This is the loop guard's escalation path and deliberately bypasses
// the normal edge set.
func (s *Store) ForceBlock(taskID, reason string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if t.Status.Terminal() {
		return t.Clone(), nil
	}

	prevStatus, prevReason := t.Status, t.BlockedReason
	t.Status = task.StatusBlocked
	t.BlockedReason = reason
	t.UpdatedAt = time.Now().UTC()

	if err := s.persistLocked(); err != nil {
		t.Status, t.BlockedReason = prevStatus, prevReason
		return nil, err
	}
	return t.Clone(), nil
}

// Reset returns a BLOCKED task to NEW with a fresh attempt budget. This is
// the external-intervention path; nothing inside the run calls it.
func (s *Store) Reset(taskID string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if t.Status != task.StatusBlocked {
		return nil, &InvalidTransitionError{TaskID: taskID, From: t.Status, To: task.StatusNew}
	}

	prev := *t
	t.Status = task.StatusNew
	t.Attempts = 0
	t.BlockedReason = ""
	t.UpdatedAt = time.Now().UTC()

	if err := s.persistLocked(); err != nil {
		*t = prev
		return nil, err
	}
	return t.Clone(), nil
}

// Get returns a clone of the task.
func (s *Store) Get(taskID string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return t.Clone(), nil
}

// All returns clones of every task, in creation order.
func (s *Store) All() []*task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Eligible returns tasks with status NEW or IN_PROGRESS whose dependencies
// are all COMPLETED, ordered by (priority asc, created_at asc, seq asc).
// The ordering is a pure function of store content, so repeated calls with
// identical state return identical results.
func (s *Store) Eligible() []*task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*task.Task
	for _, t := range s.tasks {
		if t.Status != task.StatusNew && t.Status != task.StatusInProgress {
			continue
		}
		if !s.depsCompletedLocked(t) {
			continue
		}
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Seq < b.Seq
	})
	return out
}

// ReviewPending returns REVIEW_PENDING tasks, oldest update first.
func (s *Store) ReviewPending() []*task.Task {
	return s.byStatusSortedByAge(task.StatusReviewPending)
}

// FailedRetryable returns FAILED tasks that still have attempt budget,
// oldest update first.
func (s *Store) FailedRetryable() []*task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*task.Task
	for _, t := range s.tasks {
		if t.Status == task.StatusFailed && !t.Exhausted() {
			out = append(out, t.Clone())
		}
	}
	sortByAge(out)
	return out
}

// AllTerminal reports whether every task is COMPLETED or BLOCKED. An empty
// store is not terminal; it has no tasks at all.
func (s *Store) AllTerminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tasks) == 0 {
		return false
	}
	for _, t := range s.tasks {
		if !t.Status.Terminal() {
			return false
		}
	}
	return true
}

// Empty reports whether no tasks exist.
func (s *Store) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks) == 0
}

// CountByStatus tallies tasks per status for the halt report.
func (s *Store) CountByStatus() map[task.Status]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[task.Status]int)
	for _, t := range s.tasks {
		out[t.Status]++
	}
	return out
}

// UnmetDependencies returns, for each non-terminal task with unsatisfied
// dependencies, the IDs of the dependencies holding it up. Used for the
// deadlock report.
func (s *Store) UnmetDependencies() map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string][]string)
	for id, t := range s.tasks {
		if t.Status.Terminal() {
			continue
		}
		var unmet []string
		for _, dep := range t.Dependencies {
			d, ok := s.tasks[dep]
			if !ok || d.Status != task.StatusCompleted {
				unmet = append(unmet, dep)
			}
		}
		if len(unmet) > 0 {
			sort.Strings(unmet)
			out[id] = unmet
		}
	}
	return out
}

// Persist forces a snapshot write. The coordinator calls this at the end of
// each iteration so history and phase runs land on disk even when no task
// mutated.
func (s *Store) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

func (s *Store) persistLocked() error {
	snap := Snapshot{Tasks: s.tasks}
	if s.extras != nil {
		s.extras(&snap)
	}
	if err := s.persister.Save(snap); err != nil {
		return &FatalStorageError{Op: "save", Err: err}
	}
	return nil
}

func (s *Store) depsCompletedLocked(t *task.Task) bool {
	for _, dep := range t.Dependencies {
		d, ok := s.tasks[dep]
		if !ok || d.Status != task.StatusCompleted {
			return false
		}
	}
	return true
}

func (s *Store) byStatusSortedByAge(status task.Status) []*task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*task.Task
	for _, t := range s.tasks {
		if t.Status == status {
			out = append(out, t.Clone())
		}
	}
	sortByAge(out)
	return out
}

func sortByAge(tasks []*task.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.Before(b.UpdatedAt)
		}
		return a.Seq < b.Seq
	})
}
