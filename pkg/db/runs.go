package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dtnitsch/sku-date-checker/models"
	"github.com/google/uuid"
)

// Run outcomes stored in runs.outcome.
const (
	OutcomeRunning   = "running"
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
)

// Run represents one pipeline run
type Run struct {
	RunID      string     `json:"run_id" yaml:"run_id"`
	SourcePath string     `json:"source_path" yaml:"source_path"`
	StartedAt  time.Time  `json:"started_at" yaml:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	Outcome    string     `json:"outcome" yaml:"outcome"`

	models.Counters `yaml:",inline"`
}

// CreateRun records the start of a run and returns its ID.
func (db *DB) CreateRun(sourcePath string) (string, error) {
	runID := uuid.NewString()
	_, err := db.Exec(`
		INSERT INTO runs (run_id, source_path, started_at, outcome)
		VALUES (?, ?, ?, ?)
	`, runID, sourcePath, time.Now().UTC(), OutcomeRunning)
	if err != nil {
		return "", fmt.Errorf("failed to create run: %w", err)
	}
	return runID, nil
}

// FinishRun stores the outcome and final counters of a run.
func (db *DB) FinishRun(runID, outcome string, c models.Counters) error {
	res, err := db.Exec(`
		UPDATE runs
		SET finished_at = ?, outcome = ?, enqueued = ?, processed = ?, ok_count = ?, err_count = ?
		WHERE run_id = ?
	`, time.Now().UTC(), outcome, c.Enqueued, c.Processed, c.OK, c.Err, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return nil
}

// GetRun retrieves a run by ID
func (db *DB) GetRun(runID string) (*Run, error) {
	row := db.QueryRow(`
		SELECT run_id, source_path, started_at, finished_at, outcome,
		       enqueued, processed, ok_count, err_count
		FROM runs
		WHERE run_id = ?
	`, runID)

	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return r, nil
}

// ListRuns retrieves runs ordered by most recent first
func (db *DB) ListRuns(limit int) ([]Run, error) {
	query := `
		SELECT run_id, source_path, started_at, finished_at, outcome,
		       enqueued, processed, ok_count, err_count
		FROM runs
		ORDER BY started_at DESC
	`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// LatestRunID returns the most recently started run.
func (db *DB) LatestRunID() (string, error) {
	var runID string
	err := db.QueryRow("SELECT run_id FROM runs ORDER BY started_at DESC LIMIT 1").Scan(&runID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("no runs recorded: %w", ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get latest run: %w", err)
	}
	return runID, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		r        Run
		finished sql.NullTime
	)
	if err := s.Scan(&r.RunID, &r.SourcePath, &r.StartedAt, &finished, &r.Outcome,
		&r.Enqueued, &r.Processed, &r.OK, &r.Err); err != nil {
		return nil, err
	}
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return &r, nil
}
