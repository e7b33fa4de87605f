package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dtnitsch/sku-date-checker/models"
	"github.com/dtnitsch/sku-date-checker/pkg/source"
)

// sliceSource serves rows in fixed chunks, then err (or io.EOF).
type sliceSource struct {
	rows   []source.Row
	chunk  int
	pos    int
	err    error
	closed atomic.Bool
}

func (s *sliceSource) Next() ([]source.Row, error) {
	if s.pos >= len(s.rows) {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	chunk := s.chunk
	if chunk < 1 {
		chunk = 1
	}
	end := min(s.pos+chunk, len(s.rows))
	out := s.rows[s.pos:end]
	s.pos = end
	return out, nil
}

func (s *sliceSource) Close() error {
	s.closed.Store(true)
	return nil
}

func zeroRows(keys ...string) []source.Row {
	rows := make([]source.Row, len(keys))
	for i, k := range keys {
		zero := int64(0)
		rows[i] = source.Row{Key: k, Qty: &zero}
	}
	return rows
}

// memStore is an in-memory Store with transactional semantics.
type memStore struct {
	mu          sync.Mutex
	pending     []models.Result
	committed   []models.Result
	commits     []int
	rollbacks   int
	failCommits int
	inserts     int
	failInserts map[int]bool // 1-based Insert calls that fail
}

func (m *memStore) Insert(ctx context.Context, r models.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserts++
	if m.failInserts[m.inserts] {
		return errors.New("database is locked")
	}
	m.pending = append(m.pending, r)
	return nil
}

func (m *memStore) Commit(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCommits > 0 {
		m.failCommits--
		return errors.New("disk full")
	}
	m.committed = append(m.committed, m.pending...)
	m.commits = append(m.commits, len(m.pending))
	m.pending = nil
	return nil
}

func (m *memStore) Rollback(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = nil
	m.rollbacks++
	return nil
}

func (m *memStore) snapshot() (committed []models.Result, commits []int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Result(nil), m.committed...), append([]int(nil), m.commits...)
}

// fakeLookup answers 200, optionally blocking on release until ctx ends.
type fakeLookup struct {
	calls    atomic.Int64
	release  chan struct{}
	panicKey string
}

func (f *fakeLookup) Check(ctx context.Context, key string) models.Result {
	f.calls.Add(1)
	if key == f.panicKey {
		panic("boom")
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return models.Result{Key: key, Error: models.MsgCancelled, ObservedAt: time.Now()}
		}
	}
	return models.Result{Key: key, StatusCode: 200, Attempts: 1, ObservedAt: time.Now()}
}

type noLimit struct{}

func (noLimit) Acquire(ctx context.Context) error { return ctx.Err() }

func testConfig() models.PipelineConfig {
	return models.PipelineConfig{
		RequestsPerMinute: 60000,
		WorkerCount:       4,
		MaxRetries:        5,
		BatchCommitSize:   7,
		QueueCapacity:     5,
		ChunkSize:         3,
		DrainSlice:        200,
		StatusInterval:    10 * time.Millisecond,
	}
}
