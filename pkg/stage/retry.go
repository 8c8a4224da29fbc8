package stage

import (
	"context"
	"time"
)

// Retry calls op up to maxAttempts times, waiting base*2^attempt (capped at
// maxDelay) between attempts. It returns nil on the first success, or the
// last error once attempts are exhausted. If ctx is cancelled between
// attempts, Retry returns ctx.Err() immediately without a further attempt.
func Retry(ctx context.Context, maxAttempts int, base, maxDelay time.Duration, op func() error) error {
	var err error
	delay := base
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt == maxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if maxDelay > 0 && delay > maxDelay {
			delay = maxDelay
		}
	}
	return err
}
