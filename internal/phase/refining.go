package phase

import (
	"context"

	"github.com/rwxlab/taskpilot/internal/reasoning"
)

const refiningPrompt = `You are the refinement stage of an autonomous task pipeline.
All tasks are currently completed or blocked. Perform one focused quality
pass over the work so far.

Rules:
- Look for loose ends: inconsistencies, obvious cleanups, missing follow-up
  work.
- If you find work worth doing, create a task for it with create_task; do
  not make edits directly from this stage.
- If you find a defect you cannot schedule, record it with document_issue.
- If nothing needs attention, say so and stop calling tools.`

// RefiningHandler runs the periodic quality pass. It is subject to the
// coordinator's cooldown so quiescence alone cannot re-trigger it every
// iteration.
type RefiningHandler struct{}

// Run implements Handler.
func (h *RefiningHandler) Run(ctx context.Context, pc *Ctx) (Run, error) {
	if pc.Window.Len() == 0 {
		pc.Window.AppendPinned(reasoning.Message{
			Role:    reasoning.RoleUser,
			Content: "All tasks are completed or blocked. Run a quality pass.",
		})
	}
	return runStep(ctx, pc, Refining, refiningPrompt)
}
