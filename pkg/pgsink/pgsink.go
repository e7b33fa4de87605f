// Package pgsink stores runs and lookup results in PostgreSQL.
package pgsink

import (
	"context"
	"fmt"
	"time"

	"github.com/dtnitsch/sku-date-checker/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	source_path TEXT NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	outcome     TEXT NOT NULL DEFAULT 'running',
	enqueued    BIGINT NOT NULL DEFAULT 0,
	processed   BIGINT NOT NULL DEFAULT 0,
	ok_count    BIGINT NOT NULL DEFAULT 0,
	err_count   BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sku_results (
	id              BIGSERIAL PRIMARY KEY,
	run_id          TEXT REFERENCES runs(run_id) ON DELETE CASCADE,
	sku             TEXT NOT NULL,
	last_order_date DATE,
	days_since      INTEGER,
	order_reference TEXT,
	result_count    INTEGER NOT NULL DEFAULT 0,
	response_code   INTEGER NOT NULL DEFAULT 0,
	error           TEXT,
	attempts        INTEGER NOT NULL DEFAULT 0,
	processed_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sku_results_sku ON sku_results(sku);
CREATE INDEX IF NOT EXISTS idx_sku_results_run ON sku_results(run_id);
`

const insertResultSQL = `
	INSERT INTO sku_results (run_id, sku, last_order_date, days_since, order_reference,
	                         result_count, response_code, error, attempts, processed_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

// Store is a pool-backed PostgreSQL result store.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to url and makes sure the schema exists.
func Open(ctx context.Context, url string) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases every pooled connection.
func (s *Store) Close() {
	s.pool.Close()
}

// EnsureSchema creates the tables when they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// CreateRun records the start of a run and returns its ID.
func (s *Store) CreateRun(ctx context.Context, sourcePath string) (string, error) {
	runID := uuid.NewString()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO runs (run_id, source_path, started_at, outcome)
		VALUES ($1, $2, $3, 'running')
	`, runID, sourcePath, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("failed to create run: %w", err)
	}
	return runID, nil
}

// FinishRun stores the outcome and final counters of a run.
func (s *Store) FinishRun(ctx context.Context, runID, outcome string, c models.Counters) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE runs
		SET finished_at = $1, outcome = $2, enqueued = $3, processed = $4, ok_count = $5, err_count = $6
		WHERE run_id = $7
	`, time.Now().UTC(), outcome, c.Enqueued, c.Processed, c.OK, c.Err, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// CountResults returns the number of stored results for runID.
func (s *Store) CountResults(ctx context.Context, runID string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM sku_results WHERE run_id = $1", runID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count results: %w", err)
	}
	return n, nil
}

// Sink queues results for one run and writes each batch in a single
// transaction on Commit. It is not safe for concurrent use.
type Sink struct {
	pool  *pgxpool.Pool
	runID string
	batch *pgx.Batch
}

// NewSink returns a Sink attributing rows to runID.
func (s *Store) NewSink(runID string) *Sink {
	return &Sink{pool: s.pool, runID: runID, batch: &pgx.Batch{}}
}

// Insert queues one result for the next Commit.
func (s *Sink) Insert(ctx context.Context, r models.Result) error {
	var (
		orderDate *time.Time
		daysSince *int
		orderRef  *string
		count     int
	)
	if o := r.Order; o != nil {
		orderDate = o.LastOrderDate
		daysSince = o.DaysSince
		if o.OrderReference != "" {
			orderRef = &o.OrderReference
		}
		count = o.ResultCount
	}
	var errMsg *string
	if r.Error != "" {
		errMsg = &r.Error
	}

	s.batch.Queue(insertResultSQL, s.runID, r.Key, orderDate, daysSince, orderRef,
		count, r.StatusCode, errMsg, r.Attempts, r.ObservedAt.UTC())
	return nil
}

// Commit sends the queued results in one transaction. On failure the queue
// is kept until Rollback.
func (s *Sink) Commit(ctx context.Context) error {
	if s.batch.Len() == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	br := tx.SendBatch(ctx, s.batch)
	for i := 0; i < s.batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("failed to insert result %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("failed to close batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit results: %w", err)
	}

	s.batch = &pgx.Batch{}
	return nil
}

// Rollback drops the queued results.
func (s *Sink) Rollback(ctx context.Context) error {
	s.batch = &pgx.Batch{}
	return nil
}
