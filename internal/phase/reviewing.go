package phase

import (
	"context"
	"fmt"

	"github.com/rwxlab/taskpilot/internal/reasoning"
)

const reviewingPrompt = `You are the reviewing stage of an autonomous task pipeline.
A task has been marked ready for review. Verify the work actually satisfies
the task description.

Rules:
- Read the changed files; do not approve on the summary alone.
- Call approve_task if the work is correct and complete.
- Call request_changes with specific, actionable feedback otherwise.
- Exactly one of approve_task or request_changes must end your review.`

// ReviewingHandler verifies a REVIEW_PENDING task before it may complete.
type ReviewingHandler struct{}

// Run implements Handler.
func (h *ReviewingHandler) Run(ctx context.Context, pc *Ctx) (Run, error) {
	if pc.Task == nil {
		return Run{Phase: Reviewing, Outcome: OutcomeFailure}, fmt.Errorf("reviewing phase requires a bound task")
	}
	if pc.Window.Len() == 0 {
		pc.Window.AppendPinned(reasoning.Message{
			Role: reasoning.RoleUser,
			Content: fmt.Sprintf("Review task %s:\n%s",
				pc.Task.ID, payloadJSON(pc.Task.Payload)),
		})
	}
	return runStep(ctx, pc, Reviewing, reviewingPrompt)
}
