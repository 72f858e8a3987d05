package coordinator

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/rwxlab/taskpilot/internal/dispatch"
	"github.com/rwxlab/taskpilot/internal/history"
	"github.com/rwxlab/taskpilot/internal/loopguard"
	"github.com/rwxlab/taskpilot/internal/phase"
	"github.com/rwxlab/taskpilot/internal/reasoning"
	"github.com/rwxlab/taskpilot/internal/store"
	"github.com/rwxlab/taskpilot/internal/task"
)

// applyResults folds successful tool invocations into task state. Only
// resolving tools may move a task out of IN_PROGRESS; an invalid transition
// is logged and skipped, never fatal. Storage errors propagate.
func (c *Coordinator) applyResults(bound *task.Task, invocations []dispatch.ToolResult) error {
	for _, inv := range invocations {
		if !inv.Success {
			continue
		}
		if err := c.applyResult(bound, inv); err != nil {
			var terr *store.InvalidTransitionError
			if errors.As(err, &terr) {
				c.logger.Warn("tool result rejected", zap.String("tool", inv.ToolName), zap.Error(err))
				continue
			}
			var verr *store.ValidationError
			if errors.As(err, &verr) {
				c.logger.Warn("tool result invalid", zap.String("tool", inv.ToolName), zap.Error(err))
				continue
			}
			if errors.Is(err, store.ErrTaskNotFound) {
				c.logger.Warn("tool result references unknown task", zap.String("tool", inv.ToolName), zap.Error(err))
				continue
			}
			return err
		}
	}
	return nil
}

func (c *Coordinator) applyResult(bound *task.Task, inv dispatch.ToolResult) error {
	if !inv.Resolving {
		return nil
	}

	switch inv.ToolName {
	case "create_task":
		desc, _ := inv.Payload["description"].(string)
		if desc == "" {
			desc, _ = inv.Arguments["description"].(string)
		}
		priority := 10
		if p, ok := inv.Arguments["priority"].(float64); ok {
			priority = int(p)
		}
		var deps []string
		if raw, ok := inv.Arguments["dependencies"].([]any); ok {
			for _, d := range raw {
				if s, ok := d.(string); ok {
					deps = append(deps, s)
				}
			}
		}
		created, err := c.store.Create(map[string]any{"description": desc}, priority, deps)
		if err != nil {
			return err
		}
		c.logger.Info("task created", zap.String("task", created.ID), zap.Int("priority", priority))
		return nil

	case "complete_task":
		return c.transitionFromResult(inv, bound, task.StatusReviewPending)

	case "approve_task":
		return c.transitionFromResult(inv, bound, task.StatusCompleted)

	case "request_changes":
		return c.transitionFromResult(inv, bound, task.StatusInProgress)

	case "document_issue":
		// Documenting closes out the task the same way completing it does,
		// so the review phase still sees it before it becomes terminal.
		id := invocationTaskID(inv, bound)
		if id == "" {
			return nil
		}
		t, err := c.store.Get(id)
		if err != nil {
			return err
		}
		if t.Status != task.StatusInProgress {
			return nil
		}
		_, err = c.store.Transition(id, task.StatusReviewPending)
		return err
	}
	return nil
}

func (c *Coordinator) transitionFromResult(inv dispatch.ToolResult, bound *task.Task, to task.Status) error {
	id := invocationTaskID(inv, bound)
	if id == "" {
		c.logger.Warn("tool result missing task_id", zap.String("tool", inv.ToolName))
		return nil
	}
	updated, err := c.store.Transition(id, to)
	if err != nil {
		return err
	}
	c.logger.Info("task transitioned",
		zap.String("task", updated.ID),
		zap.String("status", string(updated.Status)),
		zap.String("via", inv.ToolName))
	return nil
}

// applyDirective executes a consumed loop guard directive.
func (c *Coordinator) applyDirective(ctx context.Context, d *loopguard.Directive) error {
	switch d.Kind {
	case loopguard.KindBlockTask:
		if d.TaskID == "" {
			return nil
		}
		blocked, err := c.store.ForceBlock(d.TaskID, d.Reason)
		if err != nil {
			return err
		}
		c.logger.Warn("task blocked by loop guard",
			zap.String("task", blocked.ID),
			zap.String("reason", d.Reason))
		return nil

	case loopguard.KindAutoEscalate:
		return c.autoEscalate(ctx, d)
	}
	return nil
}

// autoEscalate synthesizes a document_issue call for a task stuck in
// analysis-only work, so it can close out instead of looping. The result is
// recorded with the auto_escalated mark to distinguish it from a genuine
// handler decision.
func (c *Coordinator) autoEscalate(ctx context.Context, d *loopguard.Directive) error {
	result := c.disp.Invoke(ctx, reasoning.ToolCall{
		Name: "document_issue",
		Args: map[string]any{
			"task_id": d.TaskID,
			"title":   "escalated: repeated analysis without resolution",
			"detail":  d.Reason,
		},
	})
	result.AutoEscalated = true

	c.mu.Lock()
	c.actions.Append(history.ActionRecord{
		Iteration:     c.iteration,
		Phase:         string(phase.Remediating),
		Tool:          result.ToolName,
		Target:        dispatch.Target(result.Arguments),
		TaskID:        d.TaskID,
		Timestamp:     time.Now().UTC(),
		Succeeded:     result.Success,
		Resolving:     result.Resolving,
		AutoEscalated: true,
	})
	c.mu.Unlock()

	if !result.Success {
		c.logger.Error("auto-escalation failed", zap.String("task", d.TaskID), zap.String("error", result.Error))
		return nil
	}
	c.logger.Warn("task auto-escalated to documented issue", zap.String("task", d.TaskID))
	return c.applyResult(nil, result)
}
