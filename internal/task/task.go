// Package task defines the task model and its status transition rules.
package task

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusNew           Status = "NEW"
	StatusInProgress    Status = "IN_PROGRESS"
	StatusReviewPending Status = "REVIEW_PENDING"
	StatusBlocked       Status = "BLOCKED"
	StatusFailed        Status = "FAILED"
	StatusCompleted     Status = "COMPLETED"
)

// DefaultMaxAttempts is the number of FAILED->IN_PROGRESS retries a task
// gets before it is forced to BLOCKED.
const DefaultMaxAttempts = 3

// Task is a single unit of work tracked by the coordinator.
// Status and Attempts are mutated only through the store's transition methods.
type Task struct {
	ID            string         `json:"id"`
	Status        Status         `json:"status"`
	Priority      int            `json:"priority"` // lower = more urgent
	Attempts      int            `json:"attempts"`
	MaxAttempts   int            `json:"max_attempts"`
	Dependencies  []string       `json:"dependencies,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	BlockedReason string         `json:"blocked_reason,omitempty"`
	// Seq is the store-assigned creation sequence, used as the final
	// ordering tie-break so scheduling stays deterministic even when two
	// tasks share a creation timestamp.
	Seq       int       `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a task in the NEW status with a fresh ID.
func New(payload map[string]any, priority int, dependencies []string) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:           uuid.NewString(),
		Status:       StatusNew,
		Priority:     priority,
		MaxAttempts:  DefaultMaxAttempts,
		Dependencies: dependencies,
		Payload:      payload,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// transitions is the allowed status graph. Any edge not listed here is
// rejected by CanTransition.
var transitions = map[Status][]Status{
	StatusNew:           {StatusInProgress},
	StatusInProgress:    {StatusReviewPending, StatusFailed},
	StatusReviewPending: {StatusCompleted, StatusInProgress},
	StatusFailed:        {StatusInProgress, StatusBlocked},
	StatusBlocked:       {},
	StatusCompleted:     {},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether a task in this status is done being scheduled.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusBlocked
}

// CanTransition reports whether the edge from -> to is in the allowed graph.
// A self-transition is always allowed and treated as a no-op by callers.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Exhausted reports whether the task has used up its retry budget.
func (t *Task) Exhausted() bool {
	return t.Attempts >= t.MaxAttempts
}

// Title returns a short human label for the task, used in logs and reports.
func (t *Task) Title() string {
	if t.Payload != nil {
		if s, ok := t.Payload["title"].(string); ok && s != "" {
			return s
		}
		if s, ok := t.Payload["description"].(string); ok && s != "" {
			if len(s) > 60 {
				return s[:60] + "..."
			}
			return s
		}
	}
	return t.ID
}

// Clone returns a deep copy of the task. The store hands out clones so
// callers can never mutate canonical state directly.
func (t *Task) Clone() *Task {
	cp := *t
	if t.Dependencies != nil {
		cp.Dependencies = append([]string(nil), t.Dependencies...)
	}
	if t.Payload != nil {
		cp.Payload = make(map[string]any, len(t.Payload))
		for k, v := range t.Payload {
			cp.Payload[k] = v
		}
	}
	return &cp
}
