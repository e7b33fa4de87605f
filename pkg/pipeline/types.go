// Package pipeline runs the streamer, worker pool and aggregator that turn a
// source of keys into persisted lookup results.
package pipeline

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/dtnitsch/sku-date-checker/models"
	"github.com/dtnitsch/sku-date-checker/pkg/source"
)

// ErrInvalidTransition is returned when a lifecycle call does not apply to
// the current state.
var ErrInvalidTransition = errors.New("invalid state transition")

// Task is one key admitted into the pipeline. The zero Task is the sentinel.
type Task struct {
	Key string
	Seq int64
}

// IsSentinel reports whether t marks the end of the task stream.
func (t Task) IsSentinel() bool {
	return t.Key == ""
}

// RowSource yields chunks of rows and returns io.EOF when exhausted.
type RowSource interface {
	Next() ([]source.Row, error)
	Close() error
}

// Limiter admits one request at a time under a global rate.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Lookuper performs the remote lookup for a key. It must always return a
// Result, recording failures on it.
type Lookuper interface {
	Check(ctx context.Context, key string) models.Result
}

// Store is the durable result store. Only the aggregator calls it.
type Store interface {
	Insert(ctx context.Context, r models.Result) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Counters tracks progress. Enqueued is written only by the streamer; the
// rest only by the aggregator. Readers may observe a slightly stale view.
type Counters struct {
	enqueued  atomic.Int64
	processed atomic.Int64
	ok        atomic.Int64
	err       atomic.Int64
}

// Snapshot returns the current counter values.
func (c *Counters) Snapshot() models.Counters {
	return models.Counters{
		Enqueued:  c.enqueued.Load(),
		Processed: c.processed.Load(),
		OK:        c.ok.Load(),
		Err:       c.err.Load(),
	}
}

func (c *Counters) reset() {
	c.enqueued.Store(0)
	c.processed.Store(0)
	c.ok.Store(0)
	c.err.Store(0)
}
