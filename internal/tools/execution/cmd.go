package execution

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rwxlab/taskpilot/internal/dispatch"
)

const (
	defaultCmdTimeout = 60 * time.Second
	maxCmdTimeout     = 5 * time.Minute
	maxOutputLines    = 80
	maxOutputChars    = 8000
)

// allowedCommands is the run_cmd allowlist. Commands outside it fail
// without being executed.
var allowedCommands = map[string]bool{
	"go": true, "gofmt": true, "golangci-lint": true,
	"python": true, "python3": true, "pytest": true,
	"npm": true, "npx": true, "node": true, "tsc": true,
	"make": true, "cargo": true,
	"git": true, "diff": true,
	"ls": true, "cat": true, "head": true, "tail": true,
	"grep": true, "find": true, "wc": true, "sort": true,
	"mkdir": true, "touch": true, "cp": true, "mv": true,
	"sh": true, "bash": true, "echo": true, "jq": true,
}

// NewRunCmdTool returns the run_cmd tool executing in dir via runner.
func NewRunCmdTool(runner Runner, dir string) dispatch.Tool {
	return dispatch.Tool{
		Schema: dispatch.Schema{
			Name:        "run_cmd",
			Description: "Run an allowlisted command in the workspace directory. Output is truncated. Allowed: build tools, test runners, git, and common file utilities.",
			JSONSchema: `{"type":"object","properties":{
				"cmd":{"type":"string","description":"Command name, must be allowlisted"},
				"args":{"type":"string","description":"Space-separated arguments; quote with ' or \" to keep spaces"},
				"timeout_seconds":{"type":"integer","minimum":1,"maximum":300,"description":"Maximum runtime, default 60"}
			},"required":["cmd"]}`,
			Aliases: []dispatch.Alias{
				{Canonical: "cmd", Accepted: []string{"command", "name"}},
				{Canonical: "args", Accepted: []string{"arguments"}},
			},
			Timeout: maxCmdTimeout + 10*time.Second,
		},
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			name, _ := args["cmd"].(string)
			if !allowedCommands[name] {
				return nil, fmt.Errorf("command %q is not allowlisted (allowed: %s)", name, allowlist())
			}

			argStr, _ := args["args"].(string)
			timeout := defaultCmdTimeout
			if secs, ok := args["timeout_seconds"].(float64); ok && secs > 0 {
				timeout = time.Duration(secs) * time.Second
				if timeout > maxCmdTimeout {
					timeout = maxCmdTimeout
				}
			}

			res, err := runner.Run(ctx, dir, name, splitArgs(argStr), timeout)
			if err != nil {
				return nil, err
			}

			stdout, outTrunc := truncate(res.Stdout)
			stderr, errTrunc := truncate(res.Stderr)
			payload := map[string]any{
				"cmd":       strings.TrimSpace(name + " " + argStr),
				"exit_code": res.ExitCode,
				"stdout":    stdout,
				"stderr":    stderr,
				"truncated": outTrunc || errTrunc,
				"timed_out": res.TimedOut,
			}
			if res.TimedOut {
				return payload, fmt.Errorf("command timed out after %s", timeout)
			}
			if res.ExitCode != 0 {
				return payload, fmt.Errorf("command exited with code %d: %s", res.ExitCode, firstLine(stderr))
			}
			return payload, nil
		},
	}
}

func allowlist() string {
	names := make([]string, 0, len(allowedCommands))
	for name := range allowedCommands {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// splitArgs splits a space-separated argument string, honoring single and
// double quotes.
func splitArgs(s string) []string {
	var args []string
	var cur strings.Builder
	var quote byte

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			} else {
				cur.WriteByte(c)
			}
		case c == '\'' || c == '"':
			quote = c
		case c == ' ':
			if cur.Len() > 0 {
				args = append(args, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteByte(c)
		}
	}
	if cur.Len() > 0 {
		args = append(args, cur.String())
	}
	return args
}

func truncate(s string) (string, bool) {
	truncated := false
	lines := strings.Split(s, "\n")
	if len(lines) > maxOutputLines {
		lines = lines[:maxOutputLines]
		truncated = true
	}
	out := strings.Join(lines, "\n")
	if len(out) > maxOutputChars {
		out = out[:maxOutputChars]
		truncated = true
	}
	return out, truncated
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
