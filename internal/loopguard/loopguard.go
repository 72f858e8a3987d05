// Package loopguard detects unproductive repetition in recent actions and
// produces corrective directives for the coordinator.
package loopguard

import (
	"fmt"
	"time"

	"github.com/rwxlab/taskpilot/internal/history"
)

// DirectiveKind classifies the intervention a directive requests.
type DirectiveKind string

const (
	// KindBlockTask escalates a cycling task to BLOCKED for manual input.
	KindBlockTask DirectiveKind = "block_task"
	// KindAutoEscalate synthesizes a resolving "document as issue" call so
	// an analysis-stuck task can close instead of looping forever.
	KindAutoEscalate DirectiveKind = "auto_escalate"
)

// Directive is a one-shot intervention. The coordinator consumes it once
// and then clears it.
type Directive struct {
	Kind   DirectiveKind
	TaskID string
	Reason string
}

// Defaults per the coordinator's loop-safety rules.
const (
	DefaultWindow              = 20
	DefaultMaxAge              = 30 * time.Minute
	DefaultCycleThreshold      = 3
	DefaultStagnationThreshold = 3
)

// Guard analyzes the recent action window.
type Guard struct {
	Window              int
	MaxAge              time.Duration
	CycleThreshold      int
	StagnationThreshold int
}

// NewGuard returns a guard with default thresholds.
func NewGuard() *Guard {
	return &Guard{
		Window:              DefaultWindow,
		MaxAge:              DefaultMaxAge,
		CycleThreshold:      DefaultCycleThreshold,
		StagnationThreshold: DefaultStagnationThreshold,
	}
}

// Check inspects the recent action window and returns a directive, or nil
// when no intervention is needed. Detection order: exact cycles first, then
// analysis-only stagnation.
func (g *Guard) Check(h *history.ActionHistory) *Directive {
	window := h.Recent(g.Window, g.MaxAge)
	if len(window) == 0 {
		return nil
	}
	if d := g.detectExactCycle(window); d != nil {
		return d
	}
	return g.detectStagnation(window)
}

// detectExactCycle looks for the same (phase, tool, target) triple repeated
// at the tail of the window with no successful resolving call in between.
// Actions on different targets are deliberately excluded: iterating across
// many targets is normal breadth-first progress, not a loop.
func (g *Guard) detectExactCycle(window []history.ActionRecord) *Directive {
	last := window[len(window)-1]
	count := 0
	taskID := last.TaskID

	for i := len(window) - 1; i >= 0; i-- {
		rec := window[i]
		if rec.Succeeded && rec.Resolving {
			break // productive work recently; not a loop
		}
		if rec.Phase != last.Phase || rec.Tool != last.Tool || rec.Target != last.Target {
			break
		}
		count++
		if rec.TaskID != "" {
			taskID = rec.TaskID
		}
	}

	if count < g.CycleThreshold {
		return nil
	}
	return &Directive{
		Kind:   KindBlockTask,
		TaskID: taskID,
		Reason: fmt.Sprintf("repeated %s on %q %d times in phase %s without progress; requires manual input", last.Tool, last.Target, count, last.Phase),
	}
}

// detectStagnation looks for consecutive successful analysis-only calls on
// the same task. On the Nth occurrence the coordinator synthesizes a
// resolving "document as issue" call so the task can close out.
func (g *Guard) detectStagnation(window []history.ActionRecord) *Directive {
	last := window[len(window)-1]
	if last.TaskID == "" {
		return nil
	}

	count := 0
	for i := len(window) - 1; i >= 0; i-- {
		rec := window[i]
		if rec.TaskID != last.TaskID || !rec.Succeeded || rec.Resolving {
			break
		}
		count++
	}

	if count < g.StagnationThreshold {
		return nil
	}
	return &Directive{
		Kind:   KindAutoEscalate,
		TaskID: last.TaskID,
		Reason: fmt.Sprintf("%d consecutive analysis-only calls on task %s; documenting as issue to close it out", count, last.TaskID),
	}
}
