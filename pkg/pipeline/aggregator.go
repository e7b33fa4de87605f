package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dtnitsch/sku-date-checker/models"
)

// Progress is a snapshot of counters and throughput.
type Progress struct {
	models.Counters `yaml:",inline"`

	Elapsed    time.Duration `json:"elapsed" yaml:"elapsed"`
	Throughput float64       `json:"throughput" yaml:"throughput"` // results per second
	ETA        time.Duration `json:"-" yaml:"-"`
	ETAKnown   bool          `json:"-" yaml:"-"`
}

// ETAString formats the ETA as "1h 2m", "3m 4s", "5s", or "--" when unknown.
func (p Progress) ETAString() string {
	return FormatETA(p.ETA, p.ETAKnown)
}

// FormatETA renders a remaining duration the way the progress line shows it.
func FormatETA(d time.Duration, known bool) string {
	if !known {
		return "--"
	}
	secs := int64(d / time.Second)
	switch {
	case secs >= 3600:
		return fmt.Sprintf("%dh %dm", secs/3600, (secs%3600)/60)
	case secs >= 60:
		return fmt.Sprintf("%dm %ds", secs/60, secs%60)
	default:
		return fmt.Sprintf("%ds", secs)
	}
}

// Aggregator is the single consumer of results. It writes them to the store,
// committing every batchSize results, and keeps the counters current.
type Aggregator struct {
	store      Store
	batchSize  int
	drainSlice int
	tick       time.Duration
	counters   *Counters
	logger     *slog.Logger
	warn       func(error)

	started time.Time
	now     func() time.Time

	batch  []models.Result
	replay bool // the open transaction was lost; re-insert batch first

	progress     atomic.Pointer[Progress]
	commits      atomic.Int64
	finalCommits atomic.Int64
}

// NewAggregator builds an Aggregator from the pipeline config. warn, if not
// nil, receives every persistence failure.
func NewAggregator(store Store, cfg models.PipelineConfig, counters *Counters, logger *slog.Logger, warn func(error)) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Aggregator{
		store:      store,
		batchSize:  max(cfg.BatchCommitSize, 1),
		drainSlice: max(cfg.DrainSlice, 1),
		tick:       cfg.StatusInterval,
		counters:   counters,
		logger:     logger,
		warn:       warn,
		now:        time.Now,
	}
	if a.tick <= 0 {
		a.tick = models.DefaultStatusInterval
	}
	a.started = a.now()
	a.progress.Store(&Progress{})
	return a
}

// Progress returns the snapshot computed on the last drain cycle.
func (a *Aggregator) Progress() Progress {
	return *a.progress.Load()
}

// Commits returns the number of successful commits, including the final one.
func (a *Aggregator) Commits() int64 {
	return a.commits.Load()
}

// Run drains results until the channel is closed, then waits for streamDone
// and performs the final commit. The channel must be closed only after every
// producer has exited. Store calls are not cancelled with ctx so results that
// were already produced are still persisted after a stop.
func (a *Aggregator) Run(ctx context.Context, results <-chan models.Result, streamDone <-chan struct{}) error {
	storeCtx := context.WithoutCancel(ctx)
	a.started = a.now()

	ticker := time.NewTicker(a.tick)
	defer ticker.Stop()

	for {
		select {
		case r, ok := <-results:
			if !ok {
				return a.finalize(storeCtx, streamDone)
			}
			a.handle(storeCtx, r)
			if closed := a.drain(storeCtx, results, a.drainSlice-1); closed {
				return a.finalize(storeCtx, streamDone)
			}
		case <-ticker.C:
		}
		a.publish()
	}
}

// drain handles up to n more results without blocking. It reports whether
// the channel was found closed.
func (a *Aggregator) drain(ctx context.Context, results <-chan models.Result, n int) bool {
	for i := 0; i < n; i++ {
		select {
		case r, ok := <-results:
			if !ok {
				return true
			}
			a.handle(ctx, r)
		default:
			return false
		}
	}
	return false
}

func (a *Aggregator) handle(ctx context.Context, r models.Result) {
	if a.replay {
		a.replayBatch(ctx)
	}
	if !a.replay {
		if err := a.store.Insert(ctx, r); err != nil {
			a.fail(ctx, "insert", err)
		}
	}
	a.batch = append(a.batch, r)

	a.counters.processed.Add(1)
	if r.OK() {
		a.counters.ok.Add(1)
	} else {
		a.counters.err.Add(1)
	}

	if len(a.batch) >= a.batchSize {
		a.commit(ctx)
	}
}

func (a *Aggregator) commit(ctx context.Context) bool {
	if a.replay {
		a.replayBatch(ctx)
		if a.replay {
			return false
		}
	}
	if err := a.store.Commit(ctx); err != nil {
		a.fail(ctx, "commit", err)
		return false
	}
	a.commits.Add(1)
	a.logger.Debug("Committed batch", "size", len(a.batch))
	a.batch = a.batch[:0]
	return true
}

// replayBatch re-inserts the retained batch into a fresh transaction.
func (a *Aggregator) replayBatch(ctx context.Context) {
	a.replay = false
	for _, r := range a.batch {
		if err := a.store.Insert(ctx, r); err != nil {
			a.fail(ctx, "replay", err)
			return
		}
	}
}

func (a *Aggregator) fail(ctx context.Context, op string, err error) {
	if rbErr := a.store.Rollback(ctx); rbErr != nil {
		a.logger.Warn("Failed to roll back batch", "error", rbErr)
	}
	a.replay = true

	err = fmt.Errorf("failed to %s batch of %d results: %w", op, len(a.batch), err)
	a.logger.Warn("Persistence failed, keeping batch for retry", "error", err)
	if a.warn != nil {
		a.warn(err)
	}
}

func (a *Aggregator) finalize(ctx context.Context, streamDone <-chan struct{}) error {
	<-streamDone

	n := len(a.batch)
	if a.commit(ctx) {
		a.finalCommits.Add(1)
		a.logger.Info("Final commit", "size", n, "processed", a.counters.processed.Load())
	} else {
		a.logger.Error("Final commit failed, results not persisted", "size", n)
	}
	a.publish()
	return nil
}

func (a *Aggregator) publish() {
	c := a.counters.Snapshot()
	elapsed := a.now().Sub(a.started)

	p := Progress{Counters: c, Elapsed: elapsed}
	if elapsed > 0 {
		p.Throughput = float64(c.Processed) / elapsed.Seconds()
	}
	if p.Throughput > 0 {
		remaining := max(c.Enqueued-c.Processed, 0)
		p.ETA = time.Duration(float64(remaining) / p.Throughput * float64(time.Second))
		p.ETAKnown = true
	}
	a.progress.Store(&p)
}
