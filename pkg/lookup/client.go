// Package lookup runs the per-key order lookup protocol: bounded attempts,
// backoff on 429 and 5xx, and parsing of the order payload into a Result.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dtnitsch/sku-date-checker/models"
	"github.com/dtnitsch/sku-date-checker/pkg/fetcher"
)

// Fetcher issues one request for a key.
type Fetcher interface {
	Fetch(ctx context.Context, key string) (*fetcher.Response, error)
}

// Client checks keys against the remote order endpoint.
type Client struct {
	fetcher     Fetcher
	maxAttempts int
	backoff     Backoff
	logger      *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient returns a Client making at most maxAttempts requests per key.
// A budget below 1 still allows a single attempt.
func NewClient(f Fetcher, cfg models.LookupConfig, maxAttempts int, logger *slog.Logger) *Client {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		fetcher:     f,
		maxAttempts: maxAttempts,
		backoff:     NewBackoff(cfg),
		logger:      logger,
		now:         time.Now,
		sleep:       sleepCtx,
	}
}

// Check looks up one key and always returns exactly one Result. Failures are
// recorded on the Result rather than returned.
func (c *Client) Check(ctx context.Context, key string) models.Result {
	result := models.Result{Key: key}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return c.cancelled(result)
		}
		result.Attempts = attempt

		// A stop does not abort a request already sent; it runs to completion
		// or its own timeout.
		resp, err := c.fetcher.Fetch(context.WithoutCancel(ctx), key)
		if err != nil {
			lastErr = err
			result.StatusCode = 0
			c.logger.Debug("Lookup request failed", "sku", key, "attempt", attempt, "error", err)
			if attempt < c.maxAttempts {
				if c.sleep(ctx, c.backoff.Delay(attempt)) != nil {
					return c.cancelled(result)
				}
			}
			continue
		}

		lastErr = nil
		result.StatusCode = resp.StatusCode

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			if attempt == c.maxAttempts {
				break
			}
			delay := c.backoff.Delay(attempt)
			if resp.StatusCode == http.StatusTooManyRequests && resp.HasRetryAfter {
				delay = resp.RetryAfter
				if delay < 0 {
					delay = c.backoff.Delay(attempt)
				}
				if c.backoff.Max > 0 && delay > c.backoff.Max {
					delay = c.backoff.Max
				}
			}
			c.logger.Debug("Retrying lookup", "sku", key, "status", resp.StatusCode, "attempt", attempt, "delay", delay)
			if c.sleep(ctx, delay) != nil {
				return c.cancelled(result)
			}
			continue

		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			order, perr := ParseOrders(resp.Body, c.now())
			result.Order = order
			if perr != nil {
				result.Error = perr.Error()
			}
			return c.finish(result)

		default:
			result.Error = fmt.Sprintf("%s: %s", models.MsgAPIError, resp.Status)
			return c.finish(result)
		}
	}

	if lastErr != nil {
		result.Error = fmt.Sprintf("%s: %v", models.MsgRequestException, lastErr)
	} else {
		result.Error = models.MsgRetriesExhausted
	}
	return c.finish(result)
}

func (c *Client) cancelled(r models.Result) models.Result {
	r.StatusCode = 0
	r.Order = nil
	r.Error = models.MsgCancelled
	return c.finish(r)
}

func (c *Client) finish(r models.Result) models.Result {
	r.ObservedAt = c.now().UTC()
	return r
}

// IsCancelled reports whether a Result was cut short by cancellation.
func IsCancelled(r models.Result) bool {
	return r.StatusCode == 0 && r.Error == models.MsgCancelled
}

// errInvalidDate marks a payload whose order date could not be parsed.
var errInvalidDate = errors.New(models.MsgInvalidDate)
