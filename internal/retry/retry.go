// Package retry provides the single retry-with-backoff utility shared by the
// creation-persistence and reconciliation paths.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy controls how Do retries a failing operation.
type Policy struct {
	// Attempts is the total number of attempts, including the first.
	Attempts int
	// BaseDelay is the delay before the second attempt; subsequent delays
	// grow linearly (base, 2*base, 3*base, ...).
	BaseDelay time.Duration
}

// DefaultPolicy matches the persistence retry budget used at job creation.
var DefaultPolicy = Policy{Attempts: 3, BaseDelay: 500 * time.Millisecond}

// Do runs fn until it succeeds, the attempt budget is exhausted, or the
// context ends. The returned error joins every attempt's failure so callers
// can inspect the full history.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context) error) error {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var errs []error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("attempt %d: %w", attempt, err))

		if attempt == attempts {
			break
		}
		if !sleep(ctx, policy.BaseDelay*time.Duration(attempt)) {
			break
		}
	}

	return errors.Join(errs...)
}

// sleep waits for d or until ctx ends; returns false on early cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
