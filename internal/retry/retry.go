// Package retry implements exponential-backoff retry for operations
// against flaky upstreams (RPC nodes, databases).
package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shares-tracker/internal/logging"
)

// Config configures retry behavior.
type Config struct {
	MaxAttempts  int           // Maximum number of attempts before giving up
	InitialDelay time.Duration // Delay before the first retry
	MaxDelay     time.Duration // Upper bound on the backoff delay
	Multiplier   float64       // Backoff growth factor
}

// DefaultConfig returns the default backoff schedule: 1s, 2s, 4s, 8s,
// 16s, capped at 60s.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
	}
}

// Delay returns the backoff delay preceding the given attempt number.
// Attempt numbering starts at 1.
func (c *Config) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt-1))
	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}
	return time.Duration(delay)
}

// Func is an operation that can be retried.
type Func func(ctx context.Context, attempt int) error

// Do executes fn with exponential backoff until it succeeds, the attempt
// budget is exhausted, or the context is cancelled.
func Do(ctx context.Context, c *Config, fn Func) error {
	logger := logging.FromContext(ctx)

	var lastErr error
	for attempt := 1; attempt <= c.MaxAttempts; attempt++ {
		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			if attempt > 1 {
				logger.WithField("attempts", attempt).Info("Operation succeeded after retry")
			}
			return nil
		}

		if attempt == c.MaxAttempts {
			break
		}

		delay := c.Delay(attempt)
		logger.WithFields(map[string]interface{}{
			"attempt":     attempt,
			"maxAttempts": c.MaxAttempts,
			"delay":       delay.String(),
			"error":       lastErr.Error(),
		}).Warn("Operation failed, backing off before retry")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", c.MaxAttempts, lastErr)
}
