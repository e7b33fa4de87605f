package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dtnitsch/sku-date-checker/models"
)

type worker struct {
	id      int
	gate    *Gate
	limiter Limiter
	lookup  Lookuper
	logger  *slog.Logger
}

// run processes tasks until it receives a sentinel or ctx ends. Every task
// it dequeues produces exactly one Result.
func (w *worker) run(ctx context.Context, tasks <-chan Task, results chan<- models.Result) {
	w.logger.Debug("Worker started", "worker", w.id)
	defer w.logger.Debug("Worker exited", "worker", w.id)

	for {
		if ctx.Err() != nil {
			return
		}
		// Paused workers do not take new tasks.
		if err := w.gate.Wait(ctx); err != nil {
			return
		}

		var task Task
		select {
		case <-ctx.Done():
			return
		case task = <-tasks:
		}
		if task.IsSentinel() {
			return
		}

		// A worker already blocked on an empty queue when the gate closed
		// holds its task here until resume.
		if err := w.gate.Wait(ctx); err != nil {
			results <- cancelledResult(task.Key)
			return
		}
		results <- w.process(ctx, task)
	}
}

func (w *worker) process(ctx context.Context, task Task) (res models.Result) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Lookup panicked", "worker", w.id, "sku", task.Key, "panic", r)
			res = models.Result{
				Key:        task.Key,
				Error:      fmt.Sprintf("panic: %v", r),
				ObservedAt: time.Now().UTC(),
			}
		}
	}()

	if err := w.limiter.Acquire(ctx); err != nil {
		return cancelledResult(task.Key)
	}

	res = w.lookup.Check(ctx, task.Key)
	if res.Key == "" {
		res.Key = task.Key
	}
	return res
}

func cancelledResult(key string) models.Result {
	return models.Result{
		Key:        key,
		Error:      models.MsgCancelled,
		ObservedAt: time.Now().UTC(),
	}
}
