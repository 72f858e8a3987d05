package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rwxlab/taskpilot/internal/history"
	"github.com/rwxlab/taskpilot/internal/phase"
	"github.com/rwxlab/taskpilot/internal/task"
)

// maxPhaseRuns bounds the phase run history kept in the snapshot; older
// runs live only in the sqlite archive.
const maxPhaseRuns = 200

// Snapshot is the single persisted state layout. It is written atomically
// after every successful mutation, so a crash never loses an acknowledged
// transition.
type Snapshot struct {
	Tasks         map[string]*task.Task  `json:"tasks"`
	ActionHistory []history.ActionRecord `json:"action_history,omitempty"`
	PhaseRuns     []phase.Run            `json:"phase_runs,omitempty"`
	Iteration     int                    `json:"iteration"`
	SavedAt       time.Time              `json:"saved_at"`
}

// Persister saves and loads snapshots.
type Persister interface {
	// Save must be atomic: a crash mid-save leaves the previous snapshot intact.
	Save(snap Snapshot) error
	// Load returns the snapshot and whether one existed.
	Load() (Snapshot, bool, error)
}

// FilePersister writes the snapshot as JSON via write-to-temp then rename.
type FilePersister struct {
	path string
}

// NewFilePersister creates a persister writing to path.
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

// Path returns the snapshot file location.
func (p *FilePersister) Path() string {
	return p.path
}

// Save implements Persister.
func (p *FilePersister) Save(snap Snapshot) error {
	snap.SavedAt = time.Now().UTC()
	if len(snap.PhaseRuns) > maxPhaseRuns {
		snap.PhaseRuns = snap.PhaseRuns[len(snap.PhaseRuns)-maxPhaseRuns:]
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}

	if err := os.Rename(tmpName, p.path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// Load implements Persister. A missing file is not an error; stale temp
// files from interrupted saves are ignored.
func (p *FilePersister) Load() (Snapshot, bool, error) {
	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	if snap.Tasks == nil {
		snap.Tasks = make(map[string]*task.Task)
	}
	return snap, true, nil
}
