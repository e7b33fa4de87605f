package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dtnitsch/sku-date-checker/models"
)

const dateLayout = "2006-01-02"

const insertResultSQL = `
	INSERT INTO sku_results (run_id, sku, last_order_date, days_since, order_reference,
	                         result_count, response_code, error, attempts, processed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// ResultRow is a stored lookup result.
type ResultRow struct {
	ID             int64     `json:"id" yaml:"id"`
	RunID          string    `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	SKU            string    `json:"sku" yaml:"sku"`
	LastOrderDate  string    `json:"last_order_date,omitempty" yaml:"last_order_date,omitempty"`
	DaysSince      *int64    `json:"days_since,omitempty" yaml:"days_since,omitempty"`
	OrderReference string    `json:"order_reference,omitempty" yaml:"order_reference,omitempty"`
	ResultCount    int64     `json:"result_count" yaml:"result_count"`
	ResponseCode   int64     `json:"response_code" yaml:"response_code"`
	Error          string    `json:"error,omitempty" yaml:"error,omitempty"`
	Attempts       int64     `json:"attempts" yaml:"attempts"`
	ProcessedAt    time.Time `json:"processed_at" yaml:"processed_at"`
}

// Sink writes results for one run inside a transaction that stays open
// until Commit or Rollback. It is not safe for concurrent use; a single
// aggregator owns it.
type Sink struct {
	db    *DB
	runID string
	tx    *sql.Tx
	stmt  *sql.Stmt
}

// NewSink returns a Sink attributing rows to runID.
func (db *DB) NewSink(runID string) *Sink {
	return &Sink{db: db, runID: runID}
}

// Insert adds one result to the open transaction, beginning one if needed.
func (s *Sink) Insert(ctx context.Context, r models.Result) error {
	if s.tx == nil {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, insertResultSQL)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		s.tx, s.stmt = tx, stmt
	}

	var (
		orderDate sql.NullString
		daysSince sql.NullInt64
		orderRef  sql.NullString
		count     int
	)
	if o := r.Order; o != nil {
		if o.LastOrderDate != nil {
			orderDate = NewNullString(o.LastOrderDate.Format(dateLayout))
		}
		if o.DaysSince != nil {
			daysSince = sql.NullInt64{Int64: int64(*o.DaysSince), Valid: true}
		}
		orderRef = NewNullString(o.OrderReference)
		count = o.ResultCount
	}

	_, err := s.stmt.ExecContext(ctx, NewNullString(s.runID), r.Key, orderDate, daysSince, orderRef,
		count, r.StatusCode, NewNullString(r.Error), r.Attempts, r.ObservedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert result for %s: %w", r.Key, err)
	}
	return nil
}

// Commit commits the open transaction. It is a no-op when nothing was inserted.
func (s *Sink) Commit(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.close()
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit results: %w", err)
	}
	return nil
}

// Rollback discards the open transaction, if any.
func (s *Sink) Rollback(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.close()
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to roll back results: %w", err)
	}
	return nil
}

func (s *Sink) close() {
	if s.stmt != nil {
		_ = s.stmt.Close()
	}
	s.tx, s.stmt = nil, nil
}

// RecentResults returns up to limit results, newest first. An empty runID
// covers all runs.
func (db *DB) RecentResults(runID string, limit int) ([]ResultRow, error) {
	query := `
		SELECT id, run_id, sku, last_order_date, days_since, order_reference,
		       result_count, response_code, error, attempts, processed_at
		FROM sku_results
	`
	var args []any
	if runID != "" {
		query += " WHERE run_id = ?"
		args = append(args, runID)
	}
	query += " ORDER BY id DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	var out []ResultRow
	err := db.eachResult(query, args, func(r ResultRow) error {
		out = append(out, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// EachResult streams results in insertion order to fn. An empty runID covers
// all runs.
func (db *DB) EachResult(runID string, fn func(ResultRow) error) error {
	query := `
		SELECT id, run_id, sku, last_order_date, days_since, order_reference,
		       result_count, response_code, error, attempts, processed_at
		FROM sku_results
	`
	var args []any
	if runID != "" {
		query += " WHERE run_id = ?"
		args = append(args, runID)
	}
	query += " ORDER BY id"
	return db.eachResult(query, args, fn)
}

func (db *DB) eachResult(query string, args []any, fn func(ResultRow) error) error {
	rows, err := db.Query(query, args...)
	if err != nil {
		return fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r                               ResultRow
			runID, orderDate, ref, errorMsg sql.NullString
			days                            sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &runID, &r.SKU, &orderDate, &days, &ref,
			&r.ResultCount, &r.ResponseCode, &errorMsg, &r.Attempts, &r.ProcessedAt); err != nil {
			return fmt.Errorf("failed to scan result: %w", err)
		}
		r.RunID = runID.String
		r.LastOrderDate = orderDate.String
		r.OrderReference = ref.String
		r.Error = errorMsg.String
		if days.Valid {
			d := days.Int64
			r.DaysSince = &d
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

// CountResults returns the number of stored results for a run, or for all
// runs when runID is empty.
func (db *DB) CountResults(runID string) (int64, error) {
	var n int64
	var err error
	if runID == "" {
		err = db.QueryRow("SELECT COUNT(*) FROM sku_results").Scan(&n)
	} else {
		err = db.QueryRow("SELECT COUNT(*) FROM sku_results WHERE run_id = ?", runID).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count results: %w", err)
	}
	return n, nil
}

// ClearAll deletes every stored result and run.
func (db *DB) ClearAll() (int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec("DELETE FROM sku_results")
	if err != nil {
		return 0, fmt.Errorf("failed to delete results: %w", err)
	}
	n, _ := res.RowsAffected()

	if _, err := tx.Exec("DELETE FROM runs"); err != nil {
		return 0, fmt.Errorf("failed to delete runs: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit clear: %w", err)
	}
	return n, nil
}

// NewNullString creates a sql.NullString, treating "" as NULL.
func NewNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}
