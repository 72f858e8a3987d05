// Package convo maintains bounded per-phase conversation history with
// deterministic pruning.
package convo

import (
	"encoding/json"

	"github.com/rwxlab/taskpilot/internal/reasoning"
)

// DefaultBudget bounds the serialized window size in bytes.
const DefaultBudget = 48 * 1024

// Entry is one message in the window. Pinned entries survive pruning:
// system instructions and the bound task's payload are pinned so repeated
// backend calls never lose them.
type Entry struct {
	Msg    reasoning.Message
	Pinned bool

	size int // cached serialized size
}

// Window is an append-only message list with a serialized-size budget.
// Windows are owned per-phase by the coordinator and never shared.
type Window struct {
	entries []Entry
	budget  int
}

// NewWindow creates a window with the given byte budget.
func NewWindow(budget int) *Window {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Window{budget: budget}
}

// Append adds a message to the window.
func (w *Window) Append(msg reasoning.Message) {
	w.append(msg, false)
}

// AppendPinned adds a message that pruning must preserve.
func (w *Window) AppendPinned(msg reasoning.Message) {
	w.append(msg, true)
}

func (w *Window) append(msg reasoning.Message, pinned bool) {
	w.entries = append(w.entries, Entry{Msg: msg, Pinned: pinned, size: serializedSize(msg)})
}

// Len returns the number of entries currently held.
func (w *Window) Len() int {
	return len(w.entries)
}

// Size returns the serialized size of the window in bytes.
func (w *Window) Size() int {
	total := 0
	for _, e := range w.entries {
		total += e.size
	}
	return total
}

// Messages returns the window contents in order, after pruning to budget.
func (w *Window) Messages() []reasoning.Message {
	w.Prune()
	out := make([]reasoning.Message, len(w.entries))
	for i, e := range w.entries {
		out[i] = e.Msg
	}
	return out
}

// Prune removes oldest non-pinned entries until the serialized size fits
// the budget. The most recent tool result is always preserved. Removal
// order is strictly oldest-first among non-pinned entries, so identical
// histories always prune identically.
func (w *Window) Prune() {
	if w.Size() <= w.budget {
		return
	}

	lastTool := -1
	for i := len(w.entries) - 1; i >= 0; i-- {
		if w.entries[i].Msg.Role == reasoning.RoleTool {
			lastTool = i
			break
		}
	}

	for w.Size() > w.budget {
		idx := -1
		for i, e := range w.entries {
			if e.Pinned || i == lastTool {
				continue
			}
			idx = i
			break
		}
		if idx == -1 {
			return // only pinned entries remain; budget is advisory at that point
		}
		w.entries = append(w.entries[:idx], w.entries[idx+1:]...)
		if lastTool > idx {
			lastTool--
		}
	}
}

func serializedSize(msg reasoning.Message) int {
	b, err := json.Marshal(msg)
	if err != nil {
		return len(msg.Content)
	}
	return len(b)
}
