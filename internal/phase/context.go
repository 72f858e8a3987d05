package phase

import (
	"go.uber.org/zap"

	"github.com/rwxlab/taskpilot/internal/convo"
	"github.com/rwxlab/taskpilot/internal/dispatch"
	"github.com/rwxlab/taskpilot/internal/history"
	"github.com/rwxlab/taskpilot/internal/reasoning"
	"github.com/rwxlab/taskpilot/internal/task"
)

// Ctx carries everything a handler needs for one execution. The coordinator
// constructs these dependencies once and injects them; handlers never build
// or share their own.
type Ctx struct {
	// Task is a clone of the bound task, nil for unbound phases
	// (planning, refining). Handlers must not mutate it; status effects
	// flow back through the coordinator applying tool results.
	Task *task.Task

	Window     *convo.Window
	Generator  reasoning.Generator
	Dispatcher *dispatch.Dispatcher
	Failures   *history.FailureIndex // may be nil when the index is unavailable
	Logger     *zap.Logger
}

func (pc *Ctx) log() *zap.Logger {
	if pc.Logger != nil {
		return pc.Logger
	}
	return zap.NewNop()
}
