package errors

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"ensemble/internal/logging"
)

// RetryConfig bounds a retry loop. MaxAttempts counts retries after the
// first call, so zero means a single call.
type RetryConfig struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64 // 0.25 spreads each wait by +/-25%
}

// DefaultRetryConfig returns the model-call policy: five calls in total,
// waits of 1s, 2s, 4s, 8s capped at 10s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  4,
		BaseDelay:    time.Second,
		MaxDelay:     10 * time.Second,
		JitterFactor: 0.25,
	}
}

// Retry calls fn until it succeeds, fails permanently, or the budget runs out.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error, logger logging.Logger) error {
	_, err := RetryWithResult(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, logger)
	return err
}

// RetryWithResult is Retry for calls that produce a value. Only errors
// classified by IsTransient are retried.
func RetryWithResult[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error), logger logging.Logger) (T, error) {
	logger = logging.OrNop(logger)
	var zero T
	calls := cfg.MaxAttempts + 1

	var lastErr error
	for i := 0; i < calls; i++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("context cancelled: %w", err)
		}
		result, err := fn(ctx)
		if err == nil {
			if i > 0 {
				logger.Info("call succeeded on attempt %d/%d", i+1, calls)
			}
			return result, nil
		}
		if !IsTransient(err) {
			return zero, err
		}
		lastErr = err
		if i == calls-1 {
			break
		}

		delay := calculateBackoff(i, cfg)
		logger.Debug("attempt %d/%d failed, retrying in %v: %v", i+1, calls, delay, err)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}
	logger.Warn("giving up after %d attempts: %v", calls, lastErr)
	return zero, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// calculateBackoff doubles BaseDelay per attempt, caps it at MaxDelay and
// applies jitter inside the cap.
func calculateBackoff(attempt int, cfg RetryConfig) time.Duration {
	delay := cfg.BaseDelay << attempt
	if delay <= 0 || (cfg.MaxDelay > 0 && delay > cfg.MaxDelay) {
		delay = cfg.MaxDelay
	}
	if cfg.JitterFactor <= 0 {
		return delay
	}
	spread := (rand.Float64()*2 - 1) * cfg.JitterFactor * float64(delay)
	delay += time.Duration(spread)
	if delay < 0 {
		delay = cfg.BaseDelay
	}
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return delay
}
