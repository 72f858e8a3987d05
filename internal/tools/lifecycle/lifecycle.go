// Package lifecycle declares the task control tools. Their handlers only
// validate and echo arguments; the coordinator reads the returned result
// and applies the status change itself, so a handler can never race the
// store.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rwxlab/taskpilot/internal/dispatch"
)

// NewCreateTaskTool returns the create_task tool. Success means the
// coordinator will add the described task to the store.
func NewCreateTaskTool() dispatch.Tool {
	return dispatch.Tool{
		Schema: dispatch.Schema{
			Name:        "create_task",
			Description: "Create a new work item. Give a short description, a priority (lower is more urgent), and the IDs of any tasks that must complete first.",
			JSONSchema: `{"type":"object","properties":{
				"description":{"type":"string","minLength":1,"description":"What the task should accomplish"},
				"priority":{"type":"integer","minimum":0,"description":"Lower is more urgent. Default 10"},
				"dependencies":{"type":"array","items":{"type":"string"},"description":"IDs of tasks that must be COMPLETED first"}
			},"required":["description"]}`,
			Aliases: []dispatch.Alias{
				{Canonical: "description", Accepted: []string{"title", "summary", "task"}},
				{Canonical: "dependencies", Accepted: []string{"depends_on", "deps"}},
			},
			Resolving: true,
		},
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			desc, _ := args["description"].(string)
			if strings.TrimSpace(desc) == "" {
				return nil, fmt.Errorf("description must not be blank")
			}
			return map[string]any{"description": desc}, nil
		},
	}
}

// NewCompleteTaskTool returns complete_task: the working phase declares its
// task done and ready for review.
func NewCompleteTaskTool() dispatch.Tool {
	return dispatch.Tool{
		Schema: dispatch.Schema{
			Name:        "complete_task",
			Description: "Mark the current task as finished and ready for review. Include a summary of what was done.",
			JSONSchema: `{"type":"object","properties":{
				"task_id":{"type":"string","description":"ID of the task being completed"},
				"summary":{"type":"string","description":"What was accomplished"}
			},"required":["task_id"]}`,
			Aliases: []dispatch.Alias{
				{Canonical: "task_id", Accepted: []string{"id", "task"}},
				{Canonical: "summary", Accepted: []string{"result", "notes"}},
			},
			Resolving: true,
		},
		Handler: echoTaskID,
	}
}

// NewApproveTaskTool returns approve_task: the review phase accepts the work.
func NewApproveTaskTool() dispatch.Tool {
	return dispatch.Tool{
		Schema: dispatch.Schema{
			Name:        "approve_task",
			Description: "Approve a reviewed task as complete.",
			JSONSchema: `{"type":"object","properties":{
				"task_id":{"type":"string","description":"ID of the task under review"},
				"notes":{"type":"string","description":"Optional review notes"}
			},"required":["task_id"]}`,
			Aliases: []dispatch.Alias{
				{Canonical: "task_id", Accepted: []string{"id", "task"}},
			},
			Resolving: true,
		},
		Handler: echoTaskID,
	}
}

// NewRequestChangesTool returns request_changes: the review phase sends the
// task back for more work.
func NewRequestChangesTool() dispatch.Tool {
	return dispatch.Tool{
		Schema: dispatch.Schema{
			Name:        "request_changes",
			Description: "Reject a reviewed task and send it back for more work. State what must change.",
			JSONSchema: `{"type":"object","properties":{
				"task_id":{"type":"string","description":"ID of the task under review"},
				"reason":{"type":"string","minLength":1,"description":"What must change before approval"}
			},"required":["task_id","reason"]}`,
			Aliases: []dispatch.Alias{
				{Canonical: "task_id", Accepted: []string{"id", "task"}},
				{Canonical: "reason", Accepted: []string{"feedback", "comments"}},
			},
			Resolving: true,
		},
		Handler: echoTaskID,
	}
}

// NewDocumentIssueTool returns document_issue: record a problem that cannot
// be fixed in-run. The issue is appended to a JSON-lines log under logPath
// so it survives the process.
func NewDocumentIssueTool(logPath string) dispatch.Tool {
	return dispatch.Tool{
		Schema: dispatch.Schema{
			Name:        "document_issue",
			Description: "Record a problem that cannot be resolved now, so a human can pick it up later. Use when repeated attempts are going nowhere.",
			JSONSchema: `{"type":"object","properties":{
				"task_id":{"type":"string","description":"ID of the affected task, if any"},
				"title":{"type":"string","minLength":1,"description":"One-line issue summary"},
				"detail":{"type":"string","description":"What was tried and why it failed"}
			},"required":["title"]}`,
			Aliases: []dispatch.Alias{
				{Canonical: "title", Accepted: []string{"summary", "issue"}},
				{Canonical: "detail", Accepted: []string{"description", "body"}},
			},
			Resolving: true,
		},
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			entry := map[string]any{
				"title":       args["title"],
				"detail":      args["detail"],
				"task_id":     args["task_id"],
				"recorded_at": time.Now().UTC().Format(time.RFC3339),
			}
			line, err := json.Marshal(entry)
			if err != nil {
				return nil, err
			}
			if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
				return nil, err
			}
			f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				return nil, err
			}
			defer f.Close()
			if _, err := f.Write(append(line, '\n')); err != nil {
				return nil, err
			}
			return map[string]any{
				"title":        args["title"],
				"logged_to":    logPath,
				"side_effects": []string{logPath},
			}, nil
		},
	}
}

func echoTaskID(ctx context.Context, args map[string]any) (map[string]any, error) {
	id, _ := args["task_id"].(string)
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("task_id must not be blank")
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out, nil
}
