// Package retry repeats network calls a bounded number of times.
package retry

import (
	"context"
	"time"

	"github.com/rzbill/lambdeploy/pkg/log"
)

// Policy bounds how often and how patiently a call is repeated.
type Policy struct {
	Attempts int
	Backoff  time.Duration
	// Retryable decides whether an error is worth another attempt. Nil
	// retries every error.
	Retryable func(error) bool
	Logger    log.Logger
}

// Do runs fn until it succeeds, returns a non-retryable error, the context
// ends or attempts are exhausted. The last error is returned unchanged so
// callers see the underlying kind.
func Do(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Backoff

	var lastErr error
	for i := 1; i <= attempts; i++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
		if i == attempts {
			break
		}
		if p.Logger != nil {
			p.Logger.Warn("Retrying after failure",
				log.Str("operation", op),
				log.Int("attempt", i),
				log.Duration("backoff", sleep),
				log.Err(lastErr))
		}
		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(sleep):
			sleep *= 2
		}
	}
	return lastErr
}
