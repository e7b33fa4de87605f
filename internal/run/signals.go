package run

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dtnitsch/sku-date-checker/pkg/pipeline"
)

// watchSignals stops the pipeline on SIGINT or SIGTERM and toggles pause on
// the platform's toggle signal, until ctx is done.
func watchSignals(ctx context.Context, ctl Lifecycle, logger *slog.Logger) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, append([]os.Signal{os.Interrupt, syscall.SIGTERM}, toggleSignals...)...)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			handleSignal(sig, ctl, logger)
		}
	}
}

func handleSignal(sig os.Signal, ctl Lifecycle, logger *slog.Logger) {
	logger.Info("Received signal", "signal", sig.String())

	if isToggle(sig) {
		var err error
		if ctl.Status().State == pipeline.StatePaused {
			err = ctl.Resume()
		} else {
			err = ctl.Pause()
		}
		if err != nil {
			logger.Warn("Failed to toggle pause", "error", err)
		}
		return
	}

	if err := ctl.Stop(); err != nil {
		logger.Warn("Failed to stop pipeline", "error", err)
	}
}

func isToggle(sig os.Signal) bool {
	for _, s := range toggleSignals {
		if s == sig {
			return true
		}
	}
	return false
}

// reportProgress logs a progress line every interval until ctx is done.
func reportProgress(ctx context.Context, ctl Lifecycle, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logProgress(ctl.Status(), logger)
		}
	}
}

func logProgress(s pipeline.Status, logger *slog.Logger) {
	logger.Info("progress",
		"state", s.State,
		"enqueued", s.Progress.Enqueued,
		"processed", s.Progress.Processed,
		"ok", s.Progress.OK,
		"err", s.Progress.Err,
		"queue_depth", s.QueueDepth,
		"rate_per_sec", s.Progress.Throughput,
		"eta", s.ETA)
}
