package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vaidashi/order-settlement-api/pkg/logger"
)

// RetryableFunc is one attempt of a retried operation
type RetryableFunc func(ctx context.Context) error

// RetryConfig holds the configuration for retrying operations
type RetryConfig struct {
	MaxAttempts     int
	BackoffStrategy BackoffStrategy
	Logger          logger.Logger
	RetryableErrors []error // List of errors to retry on
	// ShouldRetry, when set, takes precedence over RetryableErrors
	ShouldRetry func(error) bool
	// AttemptTimeout bounds each attempt when positive
	AttemptTimeout time.Duration
}

// ExhaustedError is returned when every attempt failed with a retryable error
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d retry attempts failed, last error: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Retry runs fn until it succeeds, fails with a non-retryable error, runs out of
// attempts or ctx is done. A non-retryable error is returned unwrapped.
func Retry(ctx context.Context, fn RetryableFunc, cfg *RetryConfig) error {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry cancelled by context: %w", err)
		}

		err := cfg.attempt(ctx, fn)
		if err == nil {
			return nil
		}
		lastErr = err

		if !cfg.retryable(err) {
			log.Warn("Non-retryable error encountered, giving up",
				"error", err,
				"attempt", attempt)
			return err
		}
		if attempt == maxAttempts {
			break
		}

		backoff := cfg.BackoffStrategy.NextBackoff(attempt)
		log.Info("Retrying after error",
			"error", err,
			"attempt", attempt,
			"maxAttempts", maxAttempts,
			"backoff", backoff)

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled by context during backoff: %w", ctx.Err())
		}
	}

	return &ExhaustedError{Attempts: maxAttempts, Err: lastErr}
}

func (cfg *RetryConfig) attempt(ctx context.Context, fn RetryableFunc) error {
	if cfg.AttemptTimeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, cfg.AttemptTimeout)
	defer cancel()
	return fn(attemptCtx)
}

func (cfg *RetryConfig) retryable(err error) bool {
	if cfg.ShouldRetry != nil {
		return cfg.ShouldRetry(err)
	}
	// No list means every error is worth another attempt
	if len(cfg.RetryableErrors) == 0 {
		return true
	}
	for _, retryableErr := range cfg.RetryableErrors {
		if errors.Is(err, retryableErr) {
			return true
		}
	}
	return false
}

// RetryWithDiscard retries fn and hands the final error to discardFn, whose result is returned
func RetryWithDiscard(ctx context.Context, fn RetryableFunc, cfg *RetryConfig, discardFn func(error) error) error {
	err := Retry(ctx, fn, cfg)
	if err == nil {
		return nil
	}

	if cfg.Logger != nil {
		cfg.Logger.Error("All retries failed, applying discard policy",
			"error", err,
			"maxAttempts", cfg.MaxAttempts)
	}
	return discardFn(err)
}

// Attempts reports how many attempts an error returned by Retry took, or 1 when unknown
func Attempts(err error) int {
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		return exhausted.Attempts
	}
	return 1
}
