// Package retry wraps flaky external calls with bounded exponential backoff.
// Independent of the listener-level redelivery retries.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/tfplatform/eventfabric/pkg/logger"
)

// Coordinator retries an operation with exponential backoff
type Coordinator struct {
	baseDelay time.Duration
}

// NewCoordinator creates a coordinator with the given base delay. Zero means
// the default one second.
func NewCoordinator(baseDelay time.Duration) *Coordinator {
	if baseDelay == 0 {
		baseDelay = time.Second
	}
	return &Coordinator{baseDelay: baseDelay}
}

// ExecuteWithRetry invokes op up to maxAttempts times, sleeping
// base * 2^attempt between failures (base, 2*base, 4*base, ...). The last
// error is returned after the attempts are exhausted. Honours ctx
// cancellation during the backoff sleep.
func (c *Coordinator) ExecuteWithRetry(ctx context.Context, op func() error, maxAttempts int) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.baseDelay << (attempt - 1)
			logger.Debug("Retrying after %v (attempt %d/%d): %v", delay, attempt+1, maxAttempts, lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := op(); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	return fmt.Errorf("operation failed after %d attempts: %w", maxAttempts, lastErr)
}

// ExecuteWithRetry runs op with the default one-second base delay
func ExecuteWithRetry(ctx context.Context, op func() error, maxAttempts int) error {
	return NewCoordinator(0).ExecuteWithRetry(ctx, op, maxAttempts)
}
