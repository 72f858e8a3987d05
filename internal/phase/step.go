package phase

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rwxlab/taskpilot/internal/reasoning"
)

// runStep executes one reason-then-act cycle: a single backend call followed
// by dispatch of every tool call it returned. All handlers share this shape;
// they differ only in how they prime the window.
func runStep(ctx context.Context, pc *Ctx, id ID, systemPrompt string) (Run, error) {
	run := Run{
		ID:        uuid.NewString(),
		Phase:     id,
		StartedAt: time.Now().UTC(),
	}
	if pc.Task != nil {
		run.TaskID = pc.Task.ID
	}

	res, err := pc.Generator.Generate(ctx, systemPrompt, pc.Window.Messages(), pc.Dispatcher.Registry().Schemas())
	if err != nil {
		run.Outcome = OutcomeFailure
		return run, err
	}
	run.Text = res.Text

	pc.Window.Append(reasoning.Message{
		Role:    reasoning.RoleAssistant,
		Content: res.Text,
		Calls:   res.Calls,
	})

	for _, call := range res.Calls {
		// Cancellation is cooperative: stop before the next tool rather
		// than leaving the task in limbo mid-run.
		select {
		case <-ctx.Done():
			run.Outcome = OutcomePartial
			return run, nil
		default:
		}

		result := pc.Dispatcher.Invoke(ctx, call)
		run.Invocations = append(run.Invocations, result)

		content := ""
		if result.Success {
			if b, merr := json.Marshal(result.Payload); merr == nil {
				content = string(b)
			}
		} else {
			content = "ERROR: " + result.Error
		}
		callID := call.ID
		if callID == "" {
			callID = call.Name
		}
		pc.Window.Append(reasoning.Message{
			Role:    reasoning.RoleTool,
			Name:    callID,
			Content: content,
		})

		pc.log().Debug("tool invoked",
			zap.String("phase", string(id)),
			zap.String("tool", result.ToolName),
			zap.Bool("success", result.Success),
			zap.Bool("resolving", result.Resolving),
		)
	}

	run.Outcome = OutcomeSuccess
	return run, nil
}

// payloadJSON renders a task payload for inclusion in the conversation.
func payloadJSON(payload map[string]any) string {
	if payload == nil {
		return "{}"
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "{}"
	}
	return string(b)
}
