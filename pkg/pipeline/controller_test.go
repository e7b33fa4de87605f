package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dtnitsch/sku-date-checker/pkg/ratelimit"
	"github.com/dtnitsch/sku-date-checker/pkg/source"
	. "github.com/onsi/gomega"
)

func newTestController(t *testing.T, src *sliceSource, lookup Lookuper) *Controller {
	t.Helper()

	c, err := New(Options{
		Config:     testConfig(),
		OpenSource: func() (RowSource, error) {
			src.pos = 0
			return src, nil
		},
		Limiter: noLimit{},
		Lookup:  lookup,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func manyKeys(n int, dupEvery int) []string {
	var keys []string
	for i := 0; i < n; i++ {
		keys = append(keys, fmt.Sprintf("SKU-%03d", i))
		if dupEvery > 0 && i%dupEvery == 0 {
			keys = append(keys, fmt.Sprintf("SKU-%03d", i/2))
		}
	}
	return keys
}

func TestControllerCompletesWithoutLoss(t *testing.T) {
	src := &sliceSource{rows: zeroRows(manyKeys(60, 4)...), chunk: 8}
	lookup := &fakeLookup{}
	store := &memStore{}

	c, err := New(Options{
		Config:     testConfig(),
		OpenSource: func() (RowSource, error) { return src, nil },
		Limiter:    ratelimit.New(600000),
		Lookup:     lookup,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := c.Start(context.Background(), store); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	summary, err := c.Wait()
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	if summary.Outcome != OutcomeCompleted {
		t.Errorf("Outcome = %q, want %q", summary.Outcome, OutcomeCompleted)
	}
	if summary.Counters.Enqueued != 60 || summary.Counters.Processed != 60 {
		t.Errorf("counters = %+v, want 60 enqueued and processed", summary.Counters)
	}
	if summary.Counters.OK != 60 || summary.Counters.Err != 0 {
		t.Errorf("counters = %+v, want 60 ok", summary.Counters)
	}

	committed, commits := store.snapshot()
	if len(committed) != 60 {
		t.Errorf("committed = %d, want 60", len(committed))
	}
	seen := map[string]bool{}
	for _, r := range committed {
		if seen[r.Key] {
			t.Errorf("%s committed twice", r.Key)
		}
		seen[r.Key] = true
	}
	// 60 results in batches of 7: eight full commits plus one final.
	if len(commits) != 9 || commits[8] != 4 {
		t.Errorf("commit sizes = %v, want eight 7s and a final 4", commits)
	}
	if summary.Commits != int64(len(commits)) {
		t.Errorf("Summary.Commits = %d, want %d", summary.Commits, len(commits))
	}
	if c.State() != StateFinalized {
		t.Errorf("State() = %s, want %s", c.State(), StateFinalized)
	}
	if !src.closed.Load() {
		t.Error("source not closed")
	}
}

func TestControllerPauseBlocksNewTasks(t *testing.T) {
	g := NewWithT(t)
	src := &sliceSource{rows: zeroRows(manyKeys(20, 0)...), chunk: 5}
	lookup := &fakeLookup{release: make(chan struct{})}
	store := &memStore{}

	cfg := testConfig()
	cfg.WorkerCount = 2
	c, err := New(Options{
		Config:     cfg,
		OpenSource: func() (RowSource, error) { return src, nil },
		Limiter:    noLimit{},
		Lookup:     lookup,
	})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(c.Start(context.Background(), store)).To(Succeed())

	// Both workers are mid-lookup.
	g.Eventually(lookup.calls.Load, "2s", "5ms").Should(Equal(int64(2)))
	g.Expect(c.Pause()).To(Succeed())
	g.Expect(c.State()).To(Equal(StatePaused))
	g.Expect(c.Start(context.Background(), store)).To(MatchError(ErrInvalidTransition))
	g.Expect(c.Pause()).To(MatchError(ErrInvalidTransition))

	// In-flight lookups finish and produce results.
	lookup.release <- struct{}{}
	lookup.release <- struct{}{}
	g.Eventually(func() int64 { return c.Status().Progress.Processed }, "2s", "5ms").Should(Equal(int64(2)))

	// No new task is dequeued while paused, but the queue keeps filling.
	g.Consistently(lookup.calls.Load, "150ms", "5ms").Should(Equal(int64(2)))
	g.Eventually(func() int { return c.Status().QueueDepth }, "2s", "5ms").Should(Equal(cfg.QueueCapacity))

	g.Expect(c.Resume()).To(Succeed())
	close(lookup.release)

	summary, err := c.Wait()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(summary.Outcome).To(Equal(OutcomeCompleted))
	g.Expect(summary.Counters.Processed).To(Equal(int64(20)))
	g.Expect(summary.Counters.Processed).To(Equal(summary.Counters.Enqueued))
}

// heldSource blocks its first read until ready is closed.
type heldSource struct {
	sliceSource
	ready chan struct{}
}

func (h *heldSource) Next() ([]source.Row, error) {
	<-h.ready
	return h.sliceSource.Next()
}

func TestControllerPauseHoldsWorkerWaitingOnEmptyQueue(t *testing.T) {
	tests := []struct {
		name        string
		stop        bool
		wantOutcome string
		wantOK      int64
		wantCalls   int64
	}{
		{"resume runs held task", false, OutcomeCompleted, 1, 1},
		{"stop cancels held task", true, OutcomeCancelled, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)
			src := &heldSource{sliceSource: sliceSource{rows: zeroRows("A"), chunk: 1}, ready: make(chan struct{})}
			lookup := &fakeLookup{}

			cfg := testConfig()
			cfg.WorkerCount = 1
			c, err := New(Options{
				Config:     cfg,
				OpenSource: func() (RowSource, error) { return src, nil },
				Limiter:    noLimit{},
				Lookup:     lookup,
			})
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(c.Start(context.Background(), &memStore{})).To(Succeed())

			// Let the worker block on the empty queue before pausing.
			time.Sleep(20 * time.Millisecond)
			g.Expect(c.Pause()).To(Succeed())
			close(src.ready)

			g.Eventually(func() int64 { return c.Status().Progress.Enqueued }, "2s", "5ms").Should(Equal(int64(1)))
			g.Consistently(lookup.calls.Load, "150ms", "5ms").Should(BeZero())
			g.Expect(c.Status().Progress.Processed).To(BeZero())

			if tt.stop {
				g.Expect(c.Stop()).To(Succeed())
			} else {
				g.Expect(c.Resume()).To(Succeed())
			}

			summary, err := c.Wait()
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(summary.Outcome).To(Equal(tt.wantOutcome))
			g.Expect(summary.Counters.Processed).To(Equal(int64(1)))
			g.Expect(summary.Counters.OK).To(Equal(tt.wantOK))
			g.Expect(lookup.calls.Load()).To(Equal(tt.wantCalls))
		})
	}
}

func TestControllerStopCancelsRun(t *testing.T) {
	g := NewWithT(t)
	src := &sliceSource{rows: zeroRows(manyKeys(100, 0)...), chunk: 10}
	lookup := &fakeLookup{release: make(chan struct{})}
	store := &memStore{}

	c := newTestController(t, src, lookup)
	g.Expect(c.Start(context.Background(), store)).To(Succeed())
	g.Eventually(lookup.calls.Load, "2s", "5ms").Should(Equal(int64(4)))

	start := time.Now()
	g.Expect(c.Stop()).To(Succeed())
	g.Eventually(c.Done(), "2s").Should(BeClosed())
	g.Expect(time.Since(start)).To(BeNumerically("<", time.Second))

	summary, err := c.Wait()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(summary.Outcome).To(Equal(OutcomeCancelled))
	g.Expect(summary.Counters.Processed).To(BeNumerically("<=", summary.Counters.Enqueued))
	// The four in-flight tasks still yield results.
	g.Expect(summary.Counters.Processed).To(Equal(int64(4)))

	committed, _ := store.snapshot()
	g.Expect(committed).To(HaveLen(4))
	g.Expect(c.Stop()).To(Succeed())
}

func TestControllerStopWhilePaused(t *testing.T) {
	g := NewWithT(t)
	src := &sliceSource{rows: zeroRows(manyKeys(50, 0)...), chunk: 10}
	lookup := &fakeLookup{release: make(chan struct{})}

	c := newTestController(t, src, lookup)
	g.Expect(c.Start(context.Background(), &memStore{})).To(Succeed())
	g.Expect(c.Pause()).To(Succeed())
	g.Expect(c.Stop()).To(Succeed())

	g.Eventually(c.Done(), "2s").Should(BeClosed())
	summary, _ := c.Wait()
	g.Expect(summary.Outcome).To(Equal(OutcomeCancelled))
}

func TestControllerParentContextCancel(t *testing.T) {
	g := NewWithT(t)
	src := &sliceSource{rows: zeroRows(manyKeys(50, 0)...), chunk: 10}
	lookup := &fakeLookup{release: make(chan struct{})}

	c := newTestController(t, src, lookup)
	ctx, cancel := context.WithCancel(context.Background())
	g.Expect(c.Start(ctx, &memStore{})).To(Succeed())
	cancel()

	g.Eventually(c.Done(), "2s").Should(BeClosed())
	summary, _ := c.Wait()
	g.Expect(summary.Outcome).To(Equal(OutcomeCancelled))
}

func TestControllerInvalidTransitions(t *testing.T) {
	c := newTestController(t, &sliceSource{rows: zeroRows("A")}, &fakeLookup{})

	if _, err := c.Wait(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Wait() error = %v, want %v", err, ErrNotStarted)
	}

	tests := []struct {
		name string
		call func() error
	}{
		{"pause idle", c.Pause},
		{"resume idle", c.Resume},
		{"stop idle", c.Stop},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("error = %v, want %v", err, ErrInvalidTransition)
			}
		})
	}
}

func TestControllerRestartResetsCounters(t *testing.T) {
	src := &sliceSource{rows: zeroRows("A", "B", "C"), chunk: 2}
	c := newTestController(t, src, &fakeLookup{})

	for run := 1; run <= 2; run++ {
		store := &memStore{}
		if err := c.Start(context.Background(), store); err != nil {
			t.Fatalf("run %d: Start() error = %v", run, err)
		}
		summary, err := c.Wait()
		if err != nil {
			t.Fatalf("run %d: Wait() error = %v", run, err)
		}
		if summary.Counters.Processed != 3 || summary.Counters.Enqueued != 3 {
			t.Errorf("run %d: counters = %+v, want 3 processed", run, summary.Counters)
		}
	}
}

func TestControllerRecoversLookupPanic(t *testing.T) {
	src := &sliceSource{rows: zeroRows("A", "BAD", "C"), chunk: 3}
	c := newTestController(t, src, &fakeLookup{panicKey: "BAD"})

	if err := c.Start(context.Background(), &memStore{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	summary, err := c.Wait()
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if summary.Counters.Processed != 3 || summary.Counters.Err != 1 {
		t.Errorf("counters = %+v, want 3 processed with 1 error", summary.Counters)
	}
}

func TestControllerReportsSourceErrors(t *testing.T) {
	src := &sliceSource{rows: zeroRows("A", "B"), chunk: 1, err: errors.New("truncated file")}
	c := newTestController(t, src, &fakeLookup{})

	if err := c.Start(context.Background(), &memStore{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	summary, err := c.Wait()
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if summary.Outcome != OutcomeCompleted {
		t.Errorf("Outcome = %q, want %q", summary.Outcome, OutcomeCompleted)
	}
	if summary.Counters.Processed != 2 {
		t.Errorf("Processed = %d, want 2", summary.Counters.Processed)
	}
	if len(summary.Advisories) != 1 {
		t.Errorf("Advisories = %v, want 1", summary.Advisories)
	}
}
