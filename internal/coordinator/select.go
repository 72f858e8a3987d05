package coordinator

import (
	"github.com/rwxlab/taskpilot/internal/phase"
	"github.com/rwxlab/taskpilot/internal/task"
)

// selection is one scheduling decision: a phase and, for bound phases, the
// task it operates on.
type selection struct {
	Phase phase.ID
	Task  *task.Task
}

// selectNext picks the next phase. Ordering: work that unblocks the
// dependency graph outranks quality passes, so implementing comes before
// reviewing and refining. Loop guard directives are handled by the caller
// before selection runs.
func (c *Coordinator) selectNext() selection {
	if c.store.Empty() {
		return selection{Phase: phase.Planning}
	}

	if eligible := c.store.Eligible(); len(eligible) > 0 {
		return selection{Phase: phase.Implementing, Task: eligible[0]}
	}

	if pending := c.store.ReviewPending(); len(pending) > 0 {
		return selection{Phase: phase.Reviewing, Task: pending[0]}
	}

	if failed := c.store.FailedRetryable(); len(failed) > 0 {
		return selection{Phase: phase.Remediating, Task: failed[0]}
	}

	if c.store.AllTerminal() && c.refineAllowed() {
		return selection{Phase: phase.Refining}
	}

	return selection{Phase: phase.Idle}
}

// refineAllowed enforces the refine cooldown: the phase may not be selected
// again until at least refineCooldown iterations have elapsed since its
// last selection, looked up from the action history.
func (c *Coordinator) refineAllowed() bool {
	last := c.actions.LastIterationForPhase(string(phase.Refining))
	if last < 0 {
		return true
	}
	return c.iteration-last >= c.refineCooldown
}
