// Package tools assembles the builtin tool registry handed to the
// dispatcher.
package tools

import (
	"path/filepath"

	"github.com/rwxlab/taskpilot/internal/dispatch"
	"github.com/rwxlab/taskpilot/internal/tools/execution"
	"github.com/rwxlab/taskpilot/internal/tools/lifecycle"
	"github.com/rwxlab/taskpilot/internal/tools/workspace"
)

// Options selects which tool groups to register.
type Options struct {
	// Root is the workspace directory file tools operate in.
	Root string
	// StateDir holds run artifacts such as the documented-issues log.
	StateDir string
	// Exec enables run_cmd. Off by default so a run cannot spawn
	// subprocesses unless asked to.
	Exec bool
}

// NewRegistry builds the full builtin registry.
func NewRegistry(opts Options) dispatch.Registry {
	fs := workspace.OSFileSystem{}
	reg := make(dispatch.Registry)

	reg.Register(workspace.NewReadFileTool(fs, opts.Root))
	reg.Register(workspace.NewWriteFileTool(fs, opts.Root))
	reg.Register(workspace.NewListFilesTool(fs, opts.Root))
	reg.Register(workspace.NewInspectTool(fs, opts.Root))
	reg.Register(workspace.NewCompareFilesTool(fs, opts.Root))

	if opts.Exec {
		reg.Register(execution.NewRunCmdTool(execution.HostRunner{}, opts.Root))
	}

	reg.Register(lifecycle.NewCreateTaskTool())
	reg.Register(lifecycle.NewCompleteTaskTool())
	reg.Register(lifecycle.NewApproveTaskTool())
	reg.Register(lifecycle.NewRequestChangesTool())
	reg.Register(lifecycle.NewDocumentIssueTool(filepath.Join(opts.StateDir, "issues.jsonl")))

	return reg
}
