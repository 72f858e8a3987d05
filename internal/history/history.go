// Package history tracks recently executed actions for loop analysis and
// persists run history for audit.
package history

import (
	"time"
)

// ActionRecord is one executed (phase, tool, target) tuple.
type ActionRecord struct {
	Iteration     int       `json:"iteration"`
	Phase         string    `json:"phase"`
	Tool          string    `json:"tool"`
	Target        string    `json:"target,omitempty"`
	TaskID        string    `json:"task_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Succeeded     bool      `json:"succeeded"`
	Resolving     bool      `json:"resolving"`
	AutoEscalated bool      `json:"auto_escalated,omitempty"`
}

// DefaultCapacity bounds the in-memory action window.
const DefaultCapacity = 200

// ActionHistory is an append-only bounded buffer of ActionRecords.
// Oldest records are evicted once capacity is exceeded.
type ActionHistory struct {
	records  []ActionRecord
	capacity int
}

// NewActionHistory creates a history with the given capacity.
func NewActionHistory(capacity int) *ActionHistory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &ActionHistory{capacity: capacity}
}

// Append records an action, evicting the oldest entries beyond capacity.
func (h *ActionHistory) Append(rec ActionRecord) {
	h.records = append(h.records, rec)
	if len(h.records) > h.capacity {
		h.records = h.records[len(h.records)-h.capacity:]
	}
}

// Recent returns up to k most recent records no older than maxAge,
// oldest first. maxAge <= 0 disables the age bound.
func (h *ActionHistory) Recent(k int, maxAge time.Duration) []ActionRecord {
	if k <= 0 || len(h.records) == 0 {
		return nil
	}
	start := len(h.records) - k
	if start < 0 {
		start = 0
	}
	window := h.records[start:]

	if maxAge > 0 {
		cutoff := time.Now().Add(-maxAge)
		for len(window) > 0 && window[0].Timestamp.Before(cutoff) {
			window = window[1:]
		}
	}

	out := make([]ActionRecord, len(window))
	copy(out, window)
	return out
}

// All returns a copy of the full window, oldest first.
func (h *ActionHistory) All() []ActionRecord {
	out := make([]ActionRecord, len(h.records))
	copy(out, h.records)
	return out
}

// Len returns the number of retained records.
func (h *ActionHistory) Len() int {
	return len(h.records)
}

// LastIterationForPhase returns the iteration at which the named phase last
// appears in the window, or -1 if it does not. Used for phase cooldowns.
func (h *ActionHistory) LastIterationForPhase(phase string) int {
	for i := len(h.records) - 1; i >= 0; i-- {
		if h.records[i].Phase == phase {
			return h.records[i].Iteration
		}
	}
	return -1
}

// Restore replaces the window contents, trimming to capacity. Used when
// resuming from a persisted snapshot.
func (h *ActionHistory) Restore(records []ActionRecord) {
	if len(records) > h.capacity {
		records = records[len(records)-h.capacity:]
	}
	h.records = append(h.records[:0], records...)
}
