package phase

import (
	"context"

	"github.com/rwxlab/taskpilot/internal/reasoning"
)

const planningPrompt = `You are the planning stage of an autonomous task pipeline.
Break the project's objective into small, independently completable tasks.

Rules:
- Create each task with the create_task tool. Give it a short title, a
  concrete description, a priority (lower = more urgent), and the IDs of any
  tasks it depends on.
- Prefer many small tasks over few large ones.
- Do not create tasks for work that already has a task.
- When the plan is complete, stop calling tools.`

// PlanningHandler decomposes the objective into tasks. It runs unbound; the
// tasks it proposes are created by the coordinator from create_task results.
type PlanningHandler struct{}

// Run implements Handler.
func (h *PlanningHandler) Run(ctx context.Context, pc *Ctx) (Run, error) {
	if pc.Window.Len() == 0 {
		pc.Window.AppendPinned(reasoning.Message{
			Role:    reasoning.RoleUser,
			Content: "No tasks exist yet. Plan the next round of work.",
		})
	}
	return runStep(ctx, pc, Planning, planningPrompt)
}
