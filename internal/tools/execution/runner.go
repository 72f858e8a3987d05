// Package execution provides the run_cmd tool: allowlisted subprocess
// execution inside the workspace with bounded output.
package execution

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// Result captures one finished command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
}

// Runner executes a command in a working directory. The interface exists so
// tests can substitute a fake.
type Runner interface {
	Run(ctx context.Context, dir, name string, args []string, timeout time.Duration) (Result, error)
}

// HostRunner runs commands directly on the host via os/exec.
type HostRunner struct{}

func (HostRunner) Run(ctx context.Context, dir, name string, args []string, timeout time.Duration) (Result, error) {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		TimedOut: errors.Is(runCtx.Err(), context.DeadlineExceeded),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.ExitCode = 0
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		if res.TimedOut {
			res.ExitCode = -1
			return res, nil
		}
		return res, err
	}
	return res, nil
}
