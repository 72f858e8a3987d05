package store

import (
	"errors"
	"fmt"

	"github.com/rwxlab/taskpilot/internal/task"
)

// ValidationError reports bad caller input, e.g. an unknown dependency.
// It is always surfaced and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

// InvalidTransitionError reports a status edge outside the allowed graph.
// This is a logic bug in phase code; the offending transition is rejected
// and the task left unchanged.
type InvalidTransitionError struct {
	TaskID string
	From   task.Status
	To     task.Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for task %s: %s -> %s", e.TaskID, e.From, e.To)
}

// FatalStorageError reports a persistence failure. It is the only error
// class allowed to terminate the run.
type FatalStorageError struct {
	Op  string
	Err error
}

func (e *FatalStorageError) Error() string {
	return fmt.Sprintf("fatal storage error during %s: %v", e.Op, e.Err)
}

func (e *FatalStorageError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err is a FatalStorageError.
func IsFatal(err error) bool {
	var fe *FatalStorageError
	return errors.As(err, &fe)
}

// ErrTaskNotFound is returned when a task ID does not exist.
var ErrTaskNotFound = errors.New("task not found")

// ErrAttemptsExhausted is returned by Transition when a retry would exceed
// the task's attempt budget; the store has already forced the task to
// BLOCKED when this is returned.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")
