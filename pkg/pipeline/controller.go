package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dtnitsch/sku-date-checker/models"
	"github.com/dtnitsch/sku-date-checker/pkg/source"
	"golang.org/x/sync/errgroup"
)

// State is a lifecycle state of the controller.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateStopping  State = "stopping"
	StateFinalized State = "finalized"
)

// Run outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
)

// ErrNotStarted is returned by Wait before the first Start.
var ErrNotStarted = errors.New("pipeline not started")

// Options wires the controller's collaborators.
type Options struct {
	Config models.PipelineConfig

	// OpenSource opens the source from the beginning. It is called once per run.
	OpenSource func() (RowSource, error)
	Filter     source.Predicate
	Limiter    Limiter
	Lookup     Lookuper
	Logger     *slog.Logger
}

// Summary describes a finished run.
type Summary struct {
	Outcome    string          `json:"outcome" yaml:"outcome"`
	Counters   models.Counters `json:"counters" yaml:"counters"`
	Elapsed    time.Duration   `json:"elapsed" yaml:"elapsed"`
	Commits    int64           `json:"commits" yaml:"commits"`
	Advisories []string        `json:"advisories,omitempty" yaml:"advisories,omitempty"`
}

// Status is what a progress reader sees.
type Status struct {
	State      State    `json:"state" yaml:"state"`
	Progress   Progress `json:"progress" yaml:"progress"`
	ETA        string   `json:"eta" yaml:"eta"`
	QueueDepth int      `json:"queue_depth" yaml:"queue_depth"`
	Advisories []string `json:"advisories,omitempty" yaml:"advisories,omitempty"`
}

// Controller owns the lifecycle of pipeline runs:
// idle -> running <-> paused -> stopping -> finalized.
type Controller struct {
	opts   Options
	logger *slog.Logger

	mu         sync.Mutex
	state      State
	gate       *Gate
	cancel     context.CancelFunc
	tasks      chan Task
	agg        *Aggregator
	done       chan struct{}
	summary    Summary
	runErr     error
	advisories []string

	counters Counters
	stopped  atomic.Bool
}

// New validates opts and returns an idle controller.
func New(opts Options) (*Controller, error) {
	cfg := opts.Config
	switch {
	case cfg.WorkerCount < 1:
		return nil, fmt.Errorf("worker_count must be >= 1, got %d", cfg.WorkerCount)
	case cfg.QueueCapacity < 1:
		return nil, fmt.Errorf("queue_capacity must be >= 1, got %d", cfg.QueueCapacity)
	case cfg.BatchCommitSize < 1:
		return nil, fmt.Errorf("batch_commit_size must be >= 1, got %d", cfg.BatchCommitSize)
	case opts.OpenSource == nil || opts.Limiter == nil || opts.Lookup == nil:
		return nil, errors.New("source, limiter and lookup are required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		opts:   opts,
		logger: logger,
		state:  StateIdle,
		gate:   NewGate(),
	}, nil
}

// Start begins a run writing to store. It is valid from idle or finalized;
// counters and advisories are reset.
func (c *Controller) Start(ctx context.Context, store Store) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle && c.state != StateFinalized {
		return fmt.Errorf("start from %s: %w", c.state, ErrInvalidTransition)
	}

	src, err := c.opts.OpenSource()
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}

	cfg := c.opts.Config
	c.counters.reset()
	c.stopped.Store(false)
	c.advisories = nil
	c.summary = Summary{}
	c.runErr = nil
	c.gate = NewGate()

	runCtx, cancel := context.WithCancel(ctx)
	tasks := make(chan Task, cfg.QueueCapacity)
	results := make(chan models.Result, cfg.QueueCapacity)

	streamer := NewStreamer(src, c.opts.Filter, cfg.WorkerCount, &c.counters, c.logger)
	agg := NewAggregator(store, cfg, &c.counters, c.logger, func(err error) { c.advise(err) })

	c.cancel = cancel
	c.tasks = tasks
	c.agg = agg
	c.done = make(chan struct{})
	c.state = StateRunning
	started := time.Now()

	var workers errgroup.Group
	for i := 1; i <= cfg.WorkerCount; i++ {
		w := &worker{id: i, gate: c.gate, limiter: c.opts.Limiter, lookup: c.opts.Lookup, logger: c.logger}
		workers.Go(func() error {
			w.run(runCtx, tasks, results)
			return nil
		})
	}

	var g errgroup.Group
	g.Go(func() error {
		defer src.Close()
		if err := streamer.Run(runCtx, tasks); err != nil {
			c.advise(err)
		}
		return nil
	})
	g.Go(func() error {
		err := workers.Wait()
		close(results)
		return err
	})
	g.Go(func() error {
		return agg.Run(runCtx, results, streamer.Done())
	})

	c.logger.Info("Pipeline started", "workers", cfg.WorkerCount, "queue_capacity", cfg.QueueCapacity)

	go func() {
		err := g.Wait()
		cancelled := c.stopped.Load() || runCtx.Err() != nil
		cancel()
		c.finish(started, cancelled, err)
	}()
	return nil
}

func (c *Controller) finish(started time.Time, cancelled bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	outcome := OutcomeCompleted
	if cancelled {
		outcome = OutcomeCancelled
	}
	c.summary = Summary{
		Outcome:    outcome,
		Counters:   c.counters.Snapshot(),
		Elapsed:    time.Since(started),
		Commits:    c.agg.Commits(),
		Advisories: append([]string(nil), c.advisories...),
	}
	c.runErr = err
	c.state = StateFinalized
	close(c.done)

	c.logger.Info("Pipeline finalized",
		"outcome", outcome,
		"enqueued", c.summary.Counters.Enqueued,
		"processed", c.summary.Counters.Processed,
		"ok", c.summary.Counters.OK,
		"err", c.summary.Counters.Err,
		"elapsed", c.summary.Elapsed.Round(time.Millisecond).String())
}

// Pause stops workers from taking new tasks. Lookups in flight finish and
// the streamer keeps filling the queue.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRunning {
		return fmt.Errorf("pause from %s: %w", c.state, ErrInvalidTransition)
	}
	c.gate.Close()
	c.state = StatePaused
	c.logger.Info("Pipeline paused")
	return nil
}

// Resume reopens the gate after Pause.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StatePaused {
		return fmt.Errorf("resume from %s: %w", c.state, ErrInvalidTransition)
	}
	c.gate.Open()
	c.state = StateRunning
	c.logger.Info("Pipeline resumed")
	return nil
}

// Stop asks the run to end. It does not wait; use Wait. Requests in flight
// see the cancelled context and are not otherwise interrupted. Stopping an
// already stopping or finalized run is a no-op.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateStopping, StateFinalized:
		return nil
	case StateIdle:
		return fmt.Errorf("stop from %s: %w", c.state, ErrInvalidTransition)
	}

	c.stopped.Store(true)
	c.state = StateStopping
	c.cancel()
	c.gate.Open()

	// Unblock workers waiting on an empty queue.
	for i := 0; i < c.opts.Config.WorkerCount; i++ {
		select {
		case c.tasks <- Task{}:
		default:
		}
	}
	c.logger.Info("Pipeline stopping")
	return nil
}

// Done returns a channel closed when the current run is finalized, or nil
// before the first Start.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Wait blocks until the current run is finalized. A cancelled run is not an
// error; check Summary.Outcome.
func (c *Controller) Wait() (Summary, error) {
	done := c.Done()
	if done == nil {
		return Summary{}, ErrNotStarted
	}
	<-done

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summary, c.runErr
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns a snapshot for progress readers. Counters are read live;
// throughput and ETA come from the aggregator's last cycle.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Status{State: c.state, Advisories: append([]string(nil), c.advisories...)}
	if c.agg != nil {
		s.Progress = c.agg.Progress()
	}
	s.Progress.Counters = c.counters.Snapshot()
	s.ETA = s.Progress.ETAString()
	if c.tasks != nil {
		s.QueueDepth = len(c.tasks)
	}
	return s
}

func (c *Controller) advise(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advisories = append(c.advisories, err.Error())
}
