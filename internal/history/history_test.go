package history

import (
	"testing"
	"time"
)

func rec(iter int, phase, tool, target string, age time.Duration) ActionRecord {
	return ActionRecord{
		Iteration: iter,
		Phase:     phase,
		Tool:      tool,
		Target:    target,
		Timestamp: time.Now().Add(-age),
	}
}

func TestAppendEvictsOldest(t *testing.T) {
	h := NewActionHistory(3)
	for i := 0; i < 5; i++ {
		h.Append(rec(i, "implementing", "write_file", "a.go", 0))
	}
	if h.Len() != 3 {
		t.Fatalf("len = %d, want 3", h.Len())
	}
	all := h.All()
	if all[0].Iteration != 2 || all[2].Iteration != 4 {
		t.Errorf("unexpected window: first=%d last=%d", all[0].Iteration, all[2].Iteration)
	}
}

func TestRecentWindowing(t *testing.T) {
	h := NewActionHistory(10)
	h.Append(rec(0, "implementing", "read_file", "a.go", time.Hour))
	h.Append(rec(1, "implementing", "read_file", "b.go", time.Minute))
	h.Append(rec(2, "implementing", "read_file", "c.go", time.Second))

	got := h.Recent(10, 30*time.Minute)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2 (hour-old record excluded)", len(got))
	}
	if got[0].Target != "b.go" {
		t.Errorf("oldest in window = %s, want b.go", got[0].Target)
	}

	got = h.Recent(1, 0)
	if len(got) != 1 || got[0].Target != "c.go" {
		t.Errorf("k=1 window wrong: %+v", got)
	}
}

func TestLastIterationForPhase(t *testing.T) {
	h := NewActionHistory(10)
	if got := h.LastIterationForPhase("refining"); got != -1 {
		t.Errorf("empty history: got %d, want -1", got)
	}
	h.Append(rec(3, "refining", "inspect", "", 0))
	h.Append(rec(5, "implementing", "write_file", "a.go", 0))
	if got := h.LastIterationForPhase("refining"); got != 3 {
		t.Errorf("got %d, want 3", got)
	}
}

func TestRestoreTrimsToCapacity(t *testing.T) {
	h := NewActionHistory(2)
	h.Restore([]ActionRecord{
		rec(1, "a", "t", "", 0),
		rec(2, "b", "t", "", 0),
		rec(3, "c", "t", "", 0),
	})
	if h.Len() != 2 {
		t.Fatalf("len = %d, want 2", h.Len())
	}
	if h.All()[0].Iteration != 2 {
		t.Error("restore must keep newest records")
	}
}
