package rag

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// RetryPolicy bounds how an external call is retried.
type RetryPolicy struct {
	MaxRetries     int           // retries after the first attempt
	BaseDelay      time.Duration // backoff unit, grows quadratically per attempt
	AttemptTimeout time.Duration // deadline applied to each attempt, 0 = none
}

// DefaultRetryPolicy mirrors the defaults of the request configuration.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		BaseDelay:      500 * time.Millisecond,
		AttemptTimeout: 30 * time.Second,
	}
}

// Retry runs op until it succeeds, fails with a non-transient error, the
// retry budget is spent, or ctx is done. Each attempt gets its own deadline.
func Retry(ctx context.Context, p RetryPolicy, logger *slog.Logger, op func(ctx context.Context) error) error {
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := p.backoff(attempt)
			logger.Warn("retrying after transient failure",
				"attempt", attempt+1, "backoff", backoff, "error", lastErr)
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry aborted: %w (last error: %v)", ctx.Err(), lastErr)
			case <-time.After(backoff):
			}
		}

		lastErr = runAttempt(ctx, p.AttemptTimeout, op)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil || !IsTransient(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func runAttempt(ctx context.Context, timeout time.Duration, op func(ctx context.Context) error) error {
	if timeout <= 0 {
		return op(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return op(ctx)
}

// Budget is the longest Retry can take under p: every attempt running into
// its deadline plus the largest backoff before each retry. It is zero when
// attempts are unbounded.
func (p RetryPolicy) Budget() time.Duration {
	if p.AttemptTimeout <= 0 {
		return 0
	}
	total := time.Duration(p.MaxRetries+1) * p.AttemptTimeout
	for attempt := 1; attempt <= p.MaxRetries; attempt++ {
		base := time.Duration(attempt*attempt) * p.BaseDelay
		total += base + base/2 + 1
	}
	return total
}

// backoff is attempt² × BaseDelay plus up to half of that as jitter.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	base := time.Duration(attempt*attempt) * p.BaseDelay
	if base <= 0 {
		return 0
	}
	return base + time.Duration(rand.Int64N(int64(base/2+1)))
}
