package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/climops/recipe-launcher/pkg/types"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a run id has no record.
var ErrNotFound = fmt.Errorf("run not found")

// RunStore persists run records in SQLite so tracking survives restarts.
type RunStore struct {
	db *sql.DB
}

func Open(path string) (*RunStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}

	createTableSQL := `CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		recipe TEXT NOT NULL,
		mode TEXT NOT NULL,
		batch_job_id TEXT,
		state TEXT NOT NULL,
		max_parallel_tasks INTEGER,
		account TEXT,
		partition TEXT,
		walltime TEXT,
		memory TEXT,
		cpus INTEGER,
		script_path TEXT,
		output_log TEXT,
		error_log TEXT,
		exit_code INTEGER,
		submitted_at DATETIME,
		started_at DATETIME,
		ended_at DATETIME,
		last_checked DATETIME
	);`

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create runs table: %w", err)
	}

	_, _ = db.Exec("PRAGMA journal_mode=WAL;")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL;")
	_, _ = db.Exec("PRAGMA busy_timeout = 5000;")

	return &RunStore{db: db}, nil
}

func (s *RunStore) Close() error {
	return s.db.Close()
}

func (s *RunStore) InsertRun(run *types.RunInfo) error {
	query := `INSERT INTO runs (id, recipe, mode, batch_job_id, state, max_parallel_tasks,
		account, partition, walltime, memory, cpus, script_path, output_log, error_log,
		exit_code, submitted_at, started_at, ended_at, last_checked)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.Exec(query,
		run.ID, run.Recipe, string(run.Mode), run.BatchJobID, string(run.State),
		run.MaxParallelTasks, run.Resources.Account, run.Resources.Partition,
		run.Resources.Walltime, run.Resources.Memory, run.Resources.Cpus,
		run.ScriptPath, run.OutputLog, run.ErrorLog, run.ExitCode,
		nullableTime(run.SubmittedAt), nullableTime(run.StartedAt),
		nullableTime(run.EndedAt), nullableTime(run.LastChecked))
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}

	return nil
}

func (s *RunStore) UpdateRun(run *types.RunInfo) error {
	query := `UPDATE runs SET batch_job_id = ?, state = ?, exit_code = ?,
		started_at = ?, ended_at = ?, last_checked = ? WHERE id = ?`

	res, err := s.db.Exec(query,
		run.BatchJobID, string(run.State), run.ExitCode,
		nullableTime(run.StartedAt), nullableTime(run.EndedAt),
		nullableTime(run.LastChecked), run.ID)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", run.ID, err)
	}

	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *RunStore) GetRun(id string) (*types.RunInfo, error) {
	row := s.db.QueryRow(selectColumns+` FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load run %s: %w", id, err)
	}

	return run, nil
}

// ListRuns returns runs ordered newest first, optionally filtered by state.
func (s *RunStore) ListRuns(state types.RunState, limit int) ([]*types.RunInfo, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows *sql.Rows
	var err error
	if state == "" {
		rows, err = s.db.Query(selectColumns+` FROM runs ORDER BY submitted_at DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.Query(selectColumns+` FROM runs WHERE state = ? ORDER BY submitted_at DESC LIMIT ?`, string(state), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

// ActiveRuns returns all runs that have not reached a terminal state.
func (s *RunStore) ActiveRuns() ([]*types.RunInfo, error) {
	rows, err := s.db.Query(selectColumns+` FROM runs WHERE state IN (?, ?, ?) ORDER BY submitted_at`,
		string(types.RunPending), string(types.RunSubmitted), string(types.RunRunning))
	if err != nil {
		return nil, fmt.Errorf("failed to list active runs: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

const selectColumns = `SELECT id, recipe, mode, batch_job_id, state, max_parallel_tasks,
	account, partition, walltime, memory, cpus, script_path, output_log, error_log,
	exit_code, submitted_at, started_at, ended_at, last_checked`

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*types.RunInfo, error) {
	var run types.RunInfo
	var mode, state string
	var batchJobID, scriptPath, outputLog, errorLog sql.NullString
	var submittedAt, startedAt, endedAt, lastChecked sql.NullTime

	err := row.Scan(&run.ID, &run.Recipe, &mode, &batchJobID, &state,
		&run.MaxParallelTasks, &run.Resources.Account, &run.Resources.Partition,
		&run.Resources.Walltime, &run.Resources.Memory, &run.Resources.Cpus,
		&scriptPath, &outputLog, &errorLog, &run.ExitCode,
		&submittedAt, &startedAt, &endedAt, &lastChecked)
	if err != nil {
		return nil, err
	}

	run.Mode = types.RunMode(mode)
	run.State = types.RunState(state)
	run.BatchJobID = batchJobID.String
	run.ScriptPath = scriptPath.String
	run.OutputLog = outputLog.String
	run.ErrorLog = errorLog.String
	run.SubmittedAt = submittedAt.Time
	run.StartedAt = startedAt.Time
	run.EndedAt = endedAt.Time
	run.LastChecked = lastChecked.Time

	return &run, nil
}

func collectRuns(rows *sql.Rows) ([]*types.RunInfo, error) {
	runs := make([]*types.RunInfo, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
