// utils/retry.go
package utils

import (
	"context"
	"fmt"
	"time"
)

// Retry runs fn up to attempts times, doubling the delay between tries.
// Used for transient ledger / signal-service faults; the caller decides
// whether exhaustion is a gap (skip the item) or a structural failure.
func Retry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("after %d attempt(s): %w", attempts, lastErr)
}
