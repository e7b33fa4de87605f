package lookup

import (
	"context"
	"math/rand"
	"time"

	"github.com/dtnitsch/sku-date-checker/models"
)

// Backoff computes the wait before a retry. Attempts are numbered from 1.
type Backoff struct {
	Strategy string
	Base     time.Duration
	Max      time.Duration

	jitter func() float64 // returns [0,1)
}

// NewBackoff builds a Backoff from the lookup configuration.
func NewBackoff(cfg models.LookupConfig) Backoff {
	return Backoff{
		Strategy: cfg.Backoff,
		Base:     cfg.BackoffBase,
		Max:      cfg.MaxBackoff,
		jitter:   rand.Float64,
	}
}

// Delay returns the wait after the given failed attempt.
//
//	linear:      base * attempt
//	exponential: 2^attempt s + jitter s
//
// Base applies to linear only. Both are clamped to Max.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var d time.Duration
	switch b.Strategy {
	case models.BackoffExponential:
		shift := min(attempt, 30)
		d = time.Second << shift
		if b.jitter != nil {
			d += time.Duration(b.jitter() * float64(time.Second))
		}
	default:
		d = b.Base * time.Duration(attempt)
	}

	if b.Max > 0 && (d > b.Max || d < 0) {
		d = b.Max
	}
	return d
}

// sleepCtx waits for d or until ctx ends, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
