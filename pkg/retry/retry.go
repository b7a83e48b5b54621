package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	errs "igbatch/pkg/errors"
	"igbatch/pkg/logger"
)

// Operation is a unit of work that might need retrying. It receives the
// context passed to Do so it can abort between attempts.
type Operation func(ctx context.Context) error

// OperationWithResult is an Operation that also returns a value
type OperationWithResult[T any] func(ctx context.Context) (T, error)

// Config holds retry configuration
type Config struct {
	// MaxAttempts is the maximum number of attempts (0 means unlimited)
	MaxAttempts int
	Backoff     BackoffStrategy
	// RetryIf determines if an error should be retried
	RetryIf func(error) bool
	// OnRetry is called before each retry attempt
	OnRetry func(attempt int, err error, delay time.Duration)
	Logger  logger.Logger
}

// DefaultConfig returns a retry configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		Backoff:     DefaultExponentialBackoff(),
		RetryIf:     DefaultRetryIf,
		Logger:      logger.NewNopLogger(),
	}
}

// FromSettings builds a Config from the retry section of the app config.
// Delays depend on the class of each failure.
func FromSettings(maxAttempts int, baseDelay, maxDelay time.Duration, log logger.Logger) *Config {
	cfg := DefaultConfig()
	cfg.MaxAttempts = maxAttempts
	cfg.Backoff = NewErrorTypeBackoff(baseDelay, maxDelay)
	if log != nil {
		cfg.Logger = log
	}
	return cfg
}

// DefaultRetryIf retries classified errors whose type is retryable.
// Credential rejections and profile accessibility outcomes are final.
func DefaultRetryIf(err error) bool {
	if err == nil {
		return false
	}

	// Cancellation of the caller is never worth another attempt
	if errors.Is(err, context.Canceled) {
		return false
	}

	var classified *errs.Error
	if errors.As(err, &classified) {
		return errs.IsRetryable(classified.Type)
	}

	return errors.Is(err, context.DeadlineExceeded)
}

// Do executes an operation with retry logic
func Do(ctx context.Context, op Operation, cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}
	retryIf := cfg.RetryIf
	if retryIf == nil {
		retryIf = DefaultRetryIf
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		if cfg.MaxAttempts > 0 && attempt > cfg.MaxAttempts {
			log.ErrorWithFields("max retry attempts exceeded", map[string]interface{}{
				"attempts":   attempt - 1,
				"last_error": lastErr.Error(),
			})
			return fmt.Errorf("max retry attempts (%d) exceeded: %w", cfg.MaxAttempts, lastErr)
		}

		err := op(ctx)
		if err == nil {
			if attempt > 1 {
				log.DebugWithFields("operation succeeded after retry", map[string]interface{}{
					"attempt": attempt,
				})
			}
			return nil
		}
		lastErr = err

		if !retryIf(err) || ctx.Err() != nil {
			return err
		}

		delay := nextDelay(cfg.Backoff, err, attempt)

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}

		log.WarnWithFields("retrying operation", map[string]interface{}{
			"attempt":      attempt,
			"error":        err.Error(),
			"delay_ms":     delay.Milliseconds(),
			"max_attempts": cfg.MaxAttempts,
		})

		if werr := Wait(ctx, delay); werr != nil {
			log.WarnWithFields("retry cancelled", map[string]interface{}{
				"attempt": attempt,
				"reason":  werr.Error(),
			})
			return fmt.Errorf("retry cancelled: %w", err)
		}
	}
}

// errorAwareBackoff is implemented by strategies that vary with the error
type errorAwareBackoff interface {
	DelayFor(err error, attempt int) time.Duration
}

func nextDelay(b BackoffStrategy, err error, attempt int) time.Duration {
	switch s := b.(type) {
	case nil:
		return 0
	case errorAwareBackoff:
		return s.DelayFor(err, attempt)
	default:
		return s.NextDelay(attempt)
	}
}

// DoWithResult executes an operation that returns a result with retry logic
func DoWithResult[T any](ctx context.Context, op OperationWithResult[T], cfg *Config) (T, error) {
	var result T
	err := Do(ctx, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	}, cfg)
	return result, err
}
