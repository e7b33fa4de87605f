// Package ratelimit provides the global token bucket shared by all lookup workers.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// minWait keeps a retry loop from spinning when the computed wait rounds to zero.
const minWait = time.Millisecond

// Bucket admits at most Capacity requests per minute, allowing bursts of up
// to Capacity. Tokens are only debited when one is available, so the bucket
// never goes negative.
type Bucket struct {
	limiter  *rate.Limiter
	capacity int
	now      func() time.Time
}

// New returns a full bucket refilling at rpm/60 tokens per second.
// An rpm of zero or below is clamped to 1.
func New(rpm int) *Bucket {
	if rpm <= 0 {
		rpm = 1
	}
	return &Bucket{
		limiter:  rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm),
		capacity: rpm,
		now:      time.Now,
	}
}

// Capacity returns the bucket size, which is also the per-minute ceiling.
func (b *Bucket) Capacity() int {
	return b.capacity
}

// FillRate returns the refill rate in tokens per second.
func (b *Bucket) FillRate() float64 {
	return float64(b.limiter.Limit())
}

// Tokens returns the tokens currently available.
func (b *Bucket) Tokens() float64 {
	return b.limiter.TokensAt(b.now())
}

// Acquire blocks until a token is available and consumes it. It returns
// ctx.Err() if the context ends first.
func (b *Bucket) Acquire(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ok, wait := b.take(b.now())
		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// take tries to debit one token at now. When none is available it returns
// the exact time until one will be: (1 - tokens) / fill_rate.
func (b *Bucket) take(now time.Time) (bool, time.Duration) {
	if b.limiter.AllowN(now, 1) {
		return true, 0
	}

	tokens := b.limiter.TokensAt(now)
	if tokens >= 1 {
		// Refilled between the two calls.
		return false, minWait
	}
	wait := time.Duration((1 - tokens) / b.FillRate() * float64(time.Second))
	if wait < minWait {
		wait = minWait
	}
	return false, wait
}
