package coordinator

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/docker/go-units"

	"github.com/rwxlab/taskpilot/internal/task"
)

// HaltReason classifies why the loop stopped.
type HaltReason string

const (
	// HaltCompleted means every task reached COMPLETED or BLOCKED.
	HaltCompleted HaltReason = "completed"
	// HaltDeadlock means non-terminal tasks exist but none are schedulable.
	HaltDeadlock HaltReason = "deadlock"
	// HaltMaxIterations means the iteration cap was reached.
	HaltMaxIterations HaltReason = "max_iterations"
	// HaltCanceled means the caller canceled the run.
	HaltCanceled HaltReason = "canceled"
)

// Report is the end-of-run summary shown to the user.
type Report struct {
	Reason         HaltReason
	Iterations     int
	Elapsed        time.Duration
	StatusCounts   map[task.Status]int
	BlockedReasons map[string]string // task ID -> reason
	UnmetDeps      map[string][]string
}

func (c *Coordinator) report(reason HaltReason) *Report {
	r := &Report{
		Reason:         reason,
		Iterations:     c.iteration,
		Elapsed:        time.Since(c.startedAt),
		StatusCounts:   c.store.CountByStatus(),
		BlockedReasons: make(map[string]string),
	}
	for _, t := range c.store.All() {
		if t.Status == task.StatusBlocked && t.BlockedReason != "" {
			r.BlockedReasons[t.ID] = t.BlockedReason
		}
	}
	if reason == HaltDeadlock {
		r.UnmetDeps = c.store.UnmetDependencies()
	}
	return r
}

// ExitCode maps the halt reason onto the process exit code contract:
// 0 graceful, 3 for deadlock, 1 otherwise.
func (r *Report) ExitCode() int {
	switch r.Reason {
	case HaltCompleted, HaltMaxIterations, HaltCanceled:
		return 0
	case HaltDeadlock:
		return 3
	default:
		return 1
	}
}

// String renders the report for terminal output.
func (r *Report) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "run halted: %s after %d iterations (%s)\n",
		r.Reason, r.Iterations, units.HumanDuration(r.Elapsed))

	statuses := make([]string, 0, len(r.StatusCounts))
	for s := range r.StatusCounts {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		fmt.Fprintf(&sb, "  %-15s %d\n", s, r.StatusCounts[task.Status(s)])
	}

	if len(r.BlockedReasons) > 0 {
		sb.WriteString("blocked tasks:\n")
		ids := make([]string, 0, len(r.BlockedReasons))
		for id := range r.BlockedReasons {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(&sb, "  %s: %s\n", id, r.BlockedReasons[id])
		}
	}

	if len(r.UnmetDeps) > 0 {
		sb.WriteString("unmet dependency chains:\n")
		ids := make([]string, 0, len(r.UnmetDeps))
		for id := range r.UnmetDeps {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(&sb, "  %s waits on %s\n", id, strings.Join(r.UnmetDeps[id], ", "))
		}
	}
	return sb.String()
}
