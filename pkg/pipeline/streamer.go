package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/dtnitsch/sku-date-checker/pkg/source"
)

// Streamer reads the source, filters and dedupes keys in source order, and
// feeds the bounded task queue. A full queue blocks it.
type Streamer struct {
	src      RowSource
	keep     source.Predicate
	workers  int
	counters *Counters
	logger   *slog.Logger
	done     chan struct{}
}

// NewStreamer returns a Streamer that emits one sentinel per worker when it stops.
func NewStreamer(src RowSource, keep source.Predicate, workers int, counters *Counters, logger *slog.Logger) *Streamer {
	if keep == nil {
		keep = source.ZeroStock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Streamer{
		src:      src,
		keep:     keep,
		workers:  workers,
		counters: counters,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Done is closed once streaming has finished and the sentinels were sent.
// No task is pushed after Done is closed.
func (s *Streamer) Done() <-chan struct{} {
	return s.done
}

// Run streams until the source is exhausted, ctx is cancelled, or a read
// fails. Cancellation returns nil. A read error is returned after the
// sentinels have been sent; keys already queued are kept.
func (s *Streamer) Run(ctx context.Context, tasks chan<- Task) error {
	defer func() {
		s.emitSentinels(ctx, tasks)
		close(s.done)
	}()

	seen := make(map[string]struct{})
	var seq int64
	for {
		if ctx.Err() != nil {
			return nil
		}

		rows, readErr := s.src.Next()
		for _, row := range rows {
			if ctx.Err() != nil {
				return nil
			}
			if !s.keep(row) {
				continue
			}
			if _, dup := seen[row.Key]; dup {
				continue
			}
			seen[row.Key] = struct{}{}

			select {
			case tasks <- Task{Key: row.Key, Seq: seq}:
				seq++
				s.counters.enqueued.Add(1)
			case <-ctx.Done():
				return nil
			}
		}

		if errors.Is(readErr, io.EOF) {
			s.logger.Info("Source exhausted", "unique_keys", len(seen), "enqueued", seq)
			return nil
		}
		if readErr != nil {
			s.logger.Warn("Failed to read source, stopping early", "error", readErr, "enqueued", seq)
			return fmt.Errorf("failed to stream source: %w", readErr)
		}
	}
}

// emitSentinels sends one sentinel per worker. Once cancelled it stops
// blocking and only fills free slots; workers also watch ctx.
func (s *Streamer) emitSentinels(ctx context.Context, tasks chan<- Task) {
	for i := 0; i < s.workers; i++ {
		if ctx.Err() == nil {
			select {
			case tasks <- Task{}:
				continue
			case <-ctx.Done():
			}
		}
		select {
		case tasks <- Task{}:
		default:
			return
		}
	}
}
