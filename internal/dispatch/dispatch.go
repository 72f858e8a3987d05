// Package dispatch validates and executes tool calls requested by the
// reasoning backend, normalizing every outcome into a ToolResult.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/rwxlab/taskpilot/internal/reasoning"
)

// Handler executes a tool. It must not mutate coordinator or store state;
// task-status effects flow back through the coordinator applying the result.
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// Alias declares an alternate accepted spelling for an argument.
type Alias struct {
	Canonical string
	Accepted  []string // checked in declaration order
}

// Schema declares a callable tool.
type Schema struct {
	Name        string
	Description string
	JSONSchema  string
	Aliases     []Alias
	// Resolving marks tools whose success can close out a task. The
	// coordinator uses this tag, not raw success, to decide whether a task
	// may leave IN_PROGRESS.
	Resolving bool
	Timeout   time.Duration // 0 = dispatcher default
}

// Tool binds a schema to its handler.
type Tool struct {
	Schema  Schema
	Handler Handler
}

// ToolResult is the uniform envelope for one tool invocation.
// Success=false implies Error is non-empty; Success=true implies it is empty.
type ToolResult struct {
	ToolName      string         `json:"tool_name"`
	Arguments     map[string]any `json:"arguments,omitempty"`
	Success       bool           `json:"success"`
	Error         string         `json:"error,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	SideEffects   []string       `json:"side_effects,omitempty"`
	Resolving     bool           `json:"resolving"`
	AutoEscalated bool           `json:"auto_escalated,omitempty"`
}

// Registry holds the declared tools.
type Registry map[string]Tool

// Register adds a tool, replacing any previous registration of the same name.
func (r Registry) Register(t Tool) {
	r[t.Schema.Name] = t
}

// Schemas returns the registered tool schemas for the reasoning backend,
// sorted by name so the backend sees a stable ordering.
func (r Registry) Schemas() []reasoning.ToolSchema {
	out := make([]reasoning.ToolSchema, 0, len(r))
	for _, t := range r {
		out = append(out, reasoning.ToolSchema{
			Name:        t.Schema.Name,
			Description: t.Schema.Description,
			JSONSchema:  t.Schema.JSONSchema,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Resolving reports whether the named tool carries the resolving tag.
func (r Registry) Resolving(name string) bool {
	t, ok := r[name]
	return ok && t.Schema.Resolving
}

// Dispatcher validates and executes tool calls.
type Dispatcher struct {
	registry       Registry
	defaultTimeout time.Duration
}

// NewDispatcher creates a dispatcher over the given registry.
func NewDispatcher(registry Registry, defaultTimeout time.Duration) *Dispatcher {
	if defaultTimeout <= 0 {
		defaultTimeout = 60 * time.Second
	}
	return &Dispatcher{registry: registry, defaultTimeout: defaultTimeout}
}

// Registry returns the dispatcher's tool registry.
func (d *Dispatcher) Registry() Registry {
	return d.registry
}

// Invoke validates the call against its declared schema and executes the
// bound handler under a per-call timeout. It never returns an error to the
// caller; every failure mode is folded into the ToolResult.
func (d *Dispatcher) Invoke(ctx context.Context, call reasoning.ToolCall) ToolResult {
	tool, ok := d.registry[call.Name]
	if !ok {
		return ToolResult{
			ToolName:  call.Name,
			Arguments: call.Args,
			Success:   false,
			Error:     "unknown tool",
		}
	}

	args := resolveAliases(call.Args, tool.Schema.Aliases)

	if err := validateArgs(tool.Schema, args); err != nil {
		return ToolResult{
			ToolName:  call.Name,
			Arguments: args,
			Success:   false,
			Error:     err.Error(),
			Resolving: tool.Schema.Resolving,
		}
	}

	timeout := tool.Schema.Timeout
	if timeout <= 0 {
		timeout = d.defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := runHandler(callCtx, tool.Handler, args)
	if err != nil {
		msg := err.Error()
		if callCtx.Err() == context.DeadlineExceeded {
			msg = "timeout"
		}
		return ToolResult{
			ToolName:  call.Name,
			Arguments: args,
			Success:   false,
			Error:     msg,
			Resolving: tool.Schema.Resolving,
		}
	}

	return ToolResult{
		ToolName:    call.Name,
		Arguments:   args,
		Success:     true,
		Payload:     payload,
		SideEffects: sideEffectsFrom(payload),
		Resolving:   tool.Schema.Resolving,
	}
}

// runHandler executes the handler, converting panics into errors so a
// misbehaving tool can never take down the coordinator loop.
func runHandler(ctx context.Context, h Handler, args map[string]any) (payload map[string]any, err error) {
	type outcome struct {
		payload map[string]any
		err     error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		p, herr := h(ctx, args)
		done <- outcome{payload: p, err: herr}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case o := <-done:
		return o.payload, o.err
	}
}

// resolveAliases rewrites alternate argument spellings to their canonical
// names. Resolution order: canonical name first, then each accepted alias
// in declaration order. The first spelling found wins.
func resolveAliases(args map[string]any, aliases []Alias) map[string]any {
	if len(args) == 0 {
		args = map[string]any{}
	}
	if len(aliases) == 0 {
		return args
	}

	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}

	for _, a := range aliases {
		if _, ok := out[a.Canonical]; ok {
			// Canonical spelling present; drop shadowed aliases.
			for _, alt := range a.Accepted {
				delete(out, alt)
			}
			continue
		}
		for _, alt := range a.Accepted {
			if v, ok := out[alt]; ok {
				out[a.Canonical] = v
				delete(out, alt)
				break
			}
		}
	}
	return out
}

// validateArgs checks args against the tool's JSON schema.
func validateArgs(schema Schema, args map[string]any) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema.JSONSchema),
		gojsonschema.NewGoLoader(args),
	)
	if err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", schema.Name, err)
	}
	if !result.Valid() {
		msg := ""
		for i, verr := range result.Errors() {
			if i > 0 {
				msg += "; "
			}
			msg += verr.String()
		}
		return fmt.Errorf("invalid arguments for %s: %s", schema.Name, msg)
	}
	return nil
}

// sideEffectsFrom extracts touched resource identifiers from a handler
// payload, if the handler reported any.
func sideEffectsFrom(payload map[string]any) []string {
	if payload == nil {
		return nil
	}
	raw, ok := payload["side_effects"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Target returns the primary resource identifier of the call, used by loop
// detection to distinguish repetition on one target from breadth-first work
// across many.
func Target(args map[string]any) string {
	for _, key := range []string{"path", "file", "target", "task_id"} {
		if v, ok := args[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
