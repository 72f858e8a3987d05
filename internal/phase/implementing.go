package phase

import (
	"context"
	"fmt"

	"github.com/rwxlab/taskpilot/internal/reasoning"
)

const implementingPrompt = `You are the implementing stage of an autonomous task pipeline.
Complete the task described below using the available tools.

Rules:
- Inspect before you edit: read the files you intend to change first.
- When the work is done, call complete_task with a summary of what changed.
- If the task cannot be completed as specified, call document_issue with a
  precise description of the obstacle instead of retrying indefinitely.
- Analysis tools (inspect, compare_files) do not finish the task; only
  complete_task or document_issue do.`

// ImplementingHandler executes the bound task's work.
type ImplementingHandler struct{}

// Run implements Handler.
func (h *ImplementingHandler) Run(ctx context.Context, pc *Ctx) (Run, error) {
	if pc.Task == nil {
		return Run{Phase: Implementing, Outcome: OutcomeFailure}, fmt.Errorf("implementing phase requires a bound task")
	}
	if pc.Window.Len() == 0 {
		pc.Window.AppendPinned(reasoning.Message{
			Role: reasoning.RoleUser,
			Content: fmt.Sprintf("Task %s (attempt %d of %d):\n%s",
				pc.Task.ID, pc.Task.Attempts+1, pc.Task.MaxAttempts, payloadJSON(pc.Task.Payload)),
		})
	}
	return runStep(ctx, pc, Implementing, implementingPrompt)
}
