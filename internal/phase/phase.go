// Package phase defines the phase execution contract and the concrete
// phase handlers the coordinator schedules.
package phase

import (
	"context"
	"fmt"
	"time"

	"github.com/rwxlab/taskpilot/internal/dispatch"
)

// ID names a stage of work.
type ID string

const (
	Planning     ID = "planning"
	Implementing ID = "implementing"
	Reviewing    ID = "reviewing"
	Remediating  ID = "remediating"
	Refining     ID = "refining"
	Idle         ID = "idle"
)

// Outcome classifies one phase execution.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
	OutcomePartial Outcome = "PARTIAL"
)

// Run is the append-only record of one phase execution. Runs are never
// mutated after creation.
type Run struct {
	ID          string                `json:"id"`
	Phase       ID                    `json:"phase"`
	TaskID      string                `json:"task_id,omitempty"`
	StartedAt   time.Time             `json:"started_at"`
	Outcome     Outcome               `json:"outcome"`
	Invocations []dispatch.ToolResult `json:"invocations,omitempty"`
	Text        string                `json:"text,omitempty"` // assistant prose, kept for audit
}

// Failures counts failed tool invocations in the run.
func (r Run) Failures() int {
	n := 0
	for _, inv := range r.Invocations {
		if !inv.Success {
			n++
		}
	}
	return n
}

// ErrorText concatenates the errors of failed invocations, used when
// archiving the run for later similarity lookup.
func (r Run) ErrorText() string {
	out := ""
	for _, inv := range r.Invocations {
		if inv.Success || inv.Error == "" {
			continue
		}
		if out != "" {
			out += "; "
		}
		out += inv.ToolName + ": " + inv.Error
	}
	return out
}

// Handler executes one iteration of a phase. Handlers are stateless between
// calls; all shared state arrives through Ctx.
type Handler interface {
	Run(ctx context.Context, pc *Ctx) (Run, error)
}

// Registry maps phase IDs to their handlers.
type Registry map[ID]Handler

// Get returns the handler for a phase.
func (r Registry) Get(id ID) (Handler, error) {
	h, ok := r[id]
	if !ok {
		return nil, fmt.Errorf("no handler registered for phase %s", id)
	}
	return h, nil
}

// NewRegistry wires the standard five handlers.
func NewRegistry() Registry {
	return Registry{
		Planning:     &PlanningHandler{},
		Implementing: &ImplementingHandler{},
		Reviewing:    &ReviewingHandler{},
		Remediating:  &RemediatingHandler{},
		Refining:     &RefiningHandler{},
	}
}
