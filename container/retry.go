package container

import (
	"context"
	"fmt"
	"time"
)

// RetryWithBackoff retries op up to maxAttempts times with exponential backoff.
// Cancellation of ctx is checked between attempts.
//
// op returns (shouldRetry bool, err error). If shouldRetry is false, err is
// returned immediately (nil on success, non-nil on permanent failure).
// On retry exhaustion, the last error is returned.
func RetryWithBackoff(
	ctx context.Context,
	maxAttempts int,
	baseBackoff time.Duration,
	op func(attempt int) (retry bool, err error),
) error {
	var lastErr error
	for attempt := range maxAttempts {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry aborted: %w", ctx.Err())
			case <-time.After(baseBackoff * time.Duration(1<<(attempt-1))):
			}
		}

		retry, err := op(attempt)
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// EnsureImage pulls image unless it is already present, retrying failed
// pulls with backoff.
func EnsureImage(ctx context.Context, engine Engine, image string, attempts int, backoff time.Duration) error {
	ok, err := engine.ImageExists(ctx, image)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	return RetryWithBackoff(ctx, attempts, backoff, func(int) (bool, error) {
		if err := engine.Pull(ctx, image); err != nil {
			return ctx.Err() == nil, fmt.Errorf("pull %s: %w", image, err)
		}
		return false, nil
	})
}
