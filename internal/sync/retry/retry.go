// Package retry wraps a single mutation's execution attempts with bounded
// exponential backoff.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/driftsync/driftsync/internal/logging"
	"github.com/driftsync/driftsync/internal/sync/executor"
)

// maxBackoff caps the exponential delay between attempts.
const maxBackoff = 30 * time.Second

// maxJitter is the upper bound of the random term added to each delay.
const maxJitter = time.Second

// AttemptFunc performs one execution attempt. The attempt index starts at 0.
type AttemptFunc func(ctx context.Context, attempt int) executor.Result

// Coordinator runs attempts with exponential backoff and jitter. Waits go
// through a timer select on the context, so a backoff never blocks other
// goroutines and cancellation cuts it short.
type Coordinator struct {
	maxAttempts int
	logger      *logging.Logger

	// sleep is swappable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Coordinator allowing maxAttempts total attempts.
func New(maxAttempts int, logger *logging.Logger) *Coordinator {
	return &Coordinator{
		maxAttempts: maxAttempts,
		logger:      logger,
		sleep:       sleepCtx,
	}
}

// Run tries fn immediately, then retries retryable failures with backoff.
// Fatal outcomes and successes return at once. After maxAttempts total
// attempts the last failure is returned. Context cancellation during a
// backoff wait also returns the last failure.
func (c *Coordinator) Run(ctx context.Context, fn AttemptFunc) executor.Result {
	var result executor.Result

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		result = fn(ctx, attempt)

		if result.Outcome != executor.Retryable {
			return result
		}

		if attempt == c.maxAttempts-1 {
			break
		}

		delay := Backoff(attempt + 1)
		c.logger.Debug("Retrying after transient failure",
			map[string]interface{}{
				"attempt":  attempt + 1,
				"delay_ms": delay.Milliseconds(),
			})

		if err := c.sleep(ctx, delay); err != nil {
			// Context canceled mid-backoff; surface the last failure.
			return result
		}
	}

	return result
}

// Backoff returns the delay before the given attempt:
// min(2^attempt, 30)s plus 0-1000ms of jitter.
func Backoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * time.Second
	if base > maxBackoff {
		base = maxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(maxJitter)))
	return base + jitter
}

// sleepCtx waits for d or until the context is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
