// Package retry holds the two failure policies used when bringing a
// connection up: a bounded fixed-backoff retry loop and a spawn breaker.
package retry

import (
	"context"
	"time"
)

// Policy retries an operation a fixed number of times with a constant pause
// between attempts.
type Policy struct {
	Attempts int
	Interval time.Duration
}

// Do calls fn until it succeeds or Attempts calls have failed, and returns the
// last error. fn receives the 1-based attempt number. Cancelling ctx aborts
// the pause between attempts.
func (p Policy) Do(ctx context.Context, fn func(attempt int) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		select {
		case <-time.After(p.Interval):
		case <-ctx.Done():
			return err
		}
	}
	return err
}
