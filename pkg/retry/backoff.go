package retry

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	errs "igbatch/pkg/errors"
)

// BackoffStrategy gives the delay before retry attempt n, counted from 1
type BackoffStrategy interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff grows BaseDelay by Multiplier per attempt up to
// MaxDelay, then spreads the result by up to JitterFactor either way
type ExponentialBackoff struct {
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64
}

// DefaultExponentialBackoff starts at one second and caps at a minute
func DefaultExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:    time.Second,
		MaxDelay:     time.Minute,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

func (b *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	bo := b.backOff()
	delay := bo.NextBackOff()
	for i := 1; i < attempt && delay != backoff.Stop; i++ {
		delay = bo.NextBackOff()
	}
	if delay == backoff.Stop {
		return 0
	}
	return delay
}

// backOff builds a fresh cenkalti schedule; it never gives up by elapsed
// time since attempts are bounded by Config.MaxAttempts
func (b *ExponentialBackoff) backOff() *backoff.ExponentialBackOff {
	maxDelay := b.MaxDelay
	if maxDelay <= 0 {
		maxDelay = time.Duration(math.MaxInt64)
	}
	multiplier := b.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.BaseDelay
	bo.MaxInterval = maxDelay
	bo.Multiplier = multiplier
	bo.RandomizationFactor = b.JitterFactor
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// ConstantBackoff waits the same Delay before every retry
type ConstantBackoff struct {
	Delay time.Duration
}

func (b *ConstantBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return b.Delay
}

// Wait sleeps for delay or until ctx is done
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// rateLimitFactor scales the delays after Instagram throttled a request
const rateLimitFactor = 10

// ErrorTypeBackoff picks the strategy from the class of the failed attempt
type ErrorTypeBackoff struct {
	Network   BackoffStrategy
	RateLimit BackoffStrategy
	Default   BackoffStrategy
}

// NewErrorTypeBackoff derives every strategy from base and max. Rate
// limited attempts wait rateLimitFactor times longer.
func NewErrorTypeBackoff(base, max time.Duration) *ErrorTypeBackoff {
	return &ErrorTypeBackoff{
		Network: &ExponentialBackoff{
			BaseDelay:    base,
			MaxDelay:     max,
			Multiplier:   2.0,
			JitterFactor: 0.2,
		},
		RateLimit: &ExponentialBackoff{
			BaseDelay:    base * rateLimitFactor,
			MaxDelay:     max * rateLimitFactor,
			Multiplier:   1.5,
			JitterFactor: 0.3,
		},
		Default: &ExponentialBackoff{
			BaseDelay:    base,
			MaxDelay:     max,
			Multiplier:   2.0,
			JitterFactor: 0.1,
		},
	}
}

// For returns the strategy used for errors of the given type
func (b *ErrorTypeBackoff) For(errorType errs.ErrorType) BackoffStrategy {
	switch errorType {
	case errs.ErrorTypeNetwork:
		return b.Network
	case errs.ErrorTypeRateLimit:
		return b.RateLimit
	default:
		return b.Default
	}
}

// NextDelay uses the default strategy when no error is known
func (b *ErrorTypeBackoff) NextDelay(attempt int) time.Duration {
	return b.Default.NextDelay(attempt)
}

// DelayFor returns the delay of the strategy matching err's type
func (b *ErrorTypeBackoff) DelayFor(err error, attempt int) time.Duration {
	return b.For(errs.TypeOf(err)).NextDelay(attempt)
}
