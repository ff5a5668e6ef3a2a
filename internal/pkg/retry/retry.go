// Package retry is the one backoff policy applied at every classifier
// call site, instead of per-call inline sleep loops.
package retry

import (
	"context"
	"time"

	"github.com/veldt/crystal-backend/internal/pkg/httpx"
)

type Policy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// Retryable decides whether an error is worth another attempt.
	// Defaults to httpx.IsRetryableError.
	Retryable func(error) bool
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 4,
		BaseBackoff: 1 * time.Second,
		MaxBackoff:  10 * time.Second,
	}
}

func (p Policy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return httpx.IsRetryableError(err)
}

// Do runs fn until it succeeds, the error is not retryable, attempts run
// out, or ctx is done. The last error is returned on failure.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := p.BaseBackoff
	if backoff <= 0 {
		backoff = time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !p.retryable(lastErr) || attempt == attempts {
			return lastErr
		}

		sleepFor := httpx.JitterSleep(backoff)
		if p.MaxBackoff > 0 && sleepFor > p.MaxBackoff {
			sleepFor = p.MaxBackoff
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleepFor):
		}
		backoff *= 2
	}
	return lastErr
}
