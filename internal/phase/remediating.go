package phase

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/rwxlab/taskpilot/internal/reasoning"
)

const remediatingPrompt = `You are the remediation stage of an autonomous task pipeline.
A previous attempt at this task failed. Diagnose the failure and fix it.

Rules:
- Start from the recorded errors; do not repeat the failed approach verbatim.
- If similar past failures are listed, check whether the same root cause
  applies before trying anything new.
- Finish with complete_task on success or document_issue if the failure is
  outside your control.`

// RemediatingHandler retries a failed task, enriched with similar past
// failures from the archive's full-text index.
type RemediatingHandler struct{}

// Run implements Handler.
func (h *RemediatingHandler) Run(ctx context.Context, pc *Ctx) (Run, error) {
	if pc.Task == nil {
		return Run{Phase: Remediating, Outcome: OutcomeFailure}, fmt.Errorf("remediating phase requires a bound task")
	}
	if pc.Window.Len() == 0 {
		pc.Window.AppendPinned(reasoning.Message{
			Role: reasoning.RoleUser,
			Content: fmt.Sprintf("Task %s failed (attempt %d of %d). Fix it:\n%s",
				pc.Task.ID, pc.Task.Attempts, pc.Task.MaxAttempts, payloadJSON(pc.Task.Payload)),
		})
		if hints := h.similarFailures(pc); hints != "" {
			pc.Window.Append(reasoning.Message{
				Role:    reasoning.RoleUser,
				Content: hints,
			})
		}
	}
	return runStep(ctx, pc, Remediating, remediatingPrompt)
}

// similarFailures renders matching past failures as context for the backend.
func (h *RemediatingHandler) similarFailures(pc *Ctx) string {
	if pc.Failures == nil {
		return ""
	}
	query, _ := pc.Task.Payload["last_error"].(string)
	if query == "" {
		query, _ = pc.Task.Payload["description"].(string)
	}
	if query == "" {
		return ""
	}

	matches, err := pc.Failures.Similar(query, 3)
	if err != nil {
		pc.log().Warn("failure lookup failed", zap.Error(err))
		return ""
	}
	if len(matches) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Similar past failures:\n")
	for _, m := range matches {
		fmt.Fprintf(&b, "- [%s] %s\n", m.Phase, m.ErrorText)
	}
	return b.String()
}
