package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// RunRecord is one persisted phase execution, flattened for the archive.
type RunRecord struct {
	RunID     string
	Phase     string
	TaskID    string
	Outcome   string
	StartedAt time.Time
	Duration  time.Duration
	ToolCalls int
	Failures  int
	ErrorText string // concatenated tool errors, indexed for similarity lookup
}

// Archive persists phase runs and actions to sqlite for audit and offline
// inspection. The archive is advisory: a write failure is logged by the
// caller, never fatal to the run.
type Archive struct {
	db *sql.DB
}

// OpenArchive opens (or creates) the archive database at dbPath.
func OpenArchive(ctx context.Context, dbPath string) (*Archive, error) {
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	// sqlite handles a single writer best.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping archive: %w", err)
	}

	a := &Archive{db: db}
	if err := a.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize archive schema: %w", err)
	}
	return a, nil
}

// Close closes the underlying database.
func (a *Archive) Close() error {
	return a.db.Close()
}

func (a *Archive) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS phase_runs (
		run_id      TEXT PRIMARY KEY,
		phase       TEXT NOT NULL,
		task_id     TEXT,
		outcome     TEXT NOT NULL,
		started_at  INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		tool_calls  INTEGER NOT NULL,
		failures    INTEGER NOT NULL,
		error_text  TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_phase_runs_task ON phase_runs (task_id);
	CREATE INDEX IF NOT EXISTS idx_phase_runs_started ON phase_runs (started_at);

	CREATE TABLE IF NOT EXISTS actions (
		action_id  INTEGER PRIMARY KEY AUTOINCREMENT,
		iteration  INTEGER NOT NULL,
		phase      TEXT NOT NULL,
		tool       TEXT NOT NULL,
		target     TEXT,
		task_id    TEXT,
		ts         INTEGER NOT NULL,
		succeeded  INTEGER NOT NULL,
		resolving  INTEGER NOT NULL,
		escalated  INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_actions_task ON actions (task_id);
	`
	_, err := a.db.ExecContext(ctx, schema)
	return err
}

// RecordRun persists one phase execution.
func (a *Archive) RecordRun(ctx context.Context, rec RunRecord) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO phase_runs
		(run_id, phase, task_id, outcome, started_at, duration_ms, tool_calls, failures, error_text)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Phase, rec.TaskID, rec.Outcome,
		rec.StartedAt.Unix(), rec.Duration.Milliseconds(),
		rec.ToolCalls, rec.Failures, rec.ErrorText,
	)
	if err != nil {
		return fmt.Errorf("failed to record phase run: %w", err)
	}
	return nil
}

// RecordAction persists one action record.
func (a *Archive) RecordAction(ctx context.Context, rec ActionRecord) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO actions (iteration, phase, tool, target, task_id, ts, succeeded, resolving, escalated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Iteration, rec.Phase, rec.Tool, rec.Target, rec.TaskID,
		rec.Timestamp.Unix(), boolToInt(rec.Succeeded), boolToInt(rec.Resolving), boolToInt(rec.AutoEscalated),
	)
	if err != nil {
		return fmt.Errorf("failed to record action: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit phase runs, newest first.
func (a *Archive) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT run_id, phase, task_id, outcome, started_at, duration_ms, tool_calls, failures, COALESCE(error_text, '')
		FROM phase_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query phase runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		var startedUnix, durationMS int64
		if err := rows.Scan(&rec.RunID, &rec.Phase, &rec.TaskID, &rec.Outcome,
			&startedUnix, &durationMS, &rec.ToolCalls, &rec.Failures, &rec.ErrorText); err != nil {
			return nil, fmt.Errorf("failed to scan phase run: %w", err)
		}
		rec.StartedAt = time.Unix(startedUnix, 0).UTC()
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, rec)
	}
	return out, rows.Err()
}

// FailedRunsForTask returns past failed runs bound to the given task.
func (a *Archive) FailedRunsForTask(ctx context.Context, taskID string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT run_id, phase, task_id, outcome, started_at, duration_ms, tool_calls, failures, COALESCE(error_text, '')
		FROM phase_runs WHERE task_id = ? AND outcome = 'FAILURE'
		ORDER BY started_at DESC LIMIT ?`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		var startedUnix, durationMS int64
		if err := rows.Scan(&rec.RunID, &rec.Phase, &rec.TaskID, &rec.Outcome,
			&startedUnix, &durationMS, &rec.ToolCalls, &rec.Failures, &rec.ErrorText); err != nil {
			return nil, fmt.Errorf("failed to scan phase run: %w", err)
		}
		rec.StartedAt = time.Unix(startedUnix, 0).UTC()
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, rec)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
