// pkg/retry/retry.go - functions for retrying actions with exponential backoff.

package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/windowsadmins/sweeper/pkg/logging"
)

// NonRetryableError marks errors that should end the retry loop immediately.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string { return e.Err.Error() }

func (e NonRetryableError) Unwrap() error { return e.Err }

// RetryConfig defines the configuration for retry attempts
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	Multiplier      float64
}

// Retry runs action up to MaxRetries times with exponential backoff.
// It stops early when ctx is done or action returns a NonRetryableError.
func Retry(ctx context.Context, config RetryConfig, action func(context.Context) error) error {
	if config.MaxRetries < 1 {
		config.MaxRetries = 1
	}
	if config.Multiplier < 1 {
		config.Multiplier = 1
	}
	interval := config.InitialInterval

	var lastErr error
	for attempt := 1; attempt <= config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := action(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		var nonRetryable NonRetryableError
		if errors.As(err, &nonRetryable) || errors.Is(err, context.Canceled) {
			return err
		}

		if attempt == config.MaxRetries {
			logging.Warn("Attempt failed, no more retries", "attempt", attempt, "max_attempts", config.MaxRetries, "error", err)
			break
		}
		logging.Debug("Attempt failed, retrying", "attempt", attempt, "max_attempts", config.MaxRetries, "retry_delay", interval.String(), "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
		interval = time.Duration(float64(interval) * config.Multiplier)
	}

	return fmt.Errorf("action failed after %d attempts: %w", config.MaxRetries, lastErr)
}
