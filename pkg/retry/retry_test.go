package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	errs "igbatch/pkg/errors"
)

func fastConfig(max int) *Config {
	return &Config{
		MaxAttempts: max,
		Backoff:     &ConstantBackoff{Delay: time.Millisecond},
		RetryIf:     func(err error) bool { return true },
	}
}

func TestExponentialBackoff(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   1 * time.Second,
		Multiplier: 2.0,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, 1 * time.Second},
		{6, 1 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, backoff.NextDelay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestExponentialBackoffJitterBounds(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.3,
	}

	for i := 0; i < 20; i++ {
		delay := backoff.NextDelay(2)
		assert.GreaterOrEqual(t, delay, 140*time.Millisecond)
		assert.LessOrEqual(t, delay, 260*time.Millisecond)
	}
}

func TestRetryWithSuccess(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	}, fastConfig(5))

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryWithMaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	persistent := errors.New("persistent error")
	err := Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return persistent
	}, fastConfig(3))

	require.Error(t, err)
	assert.ErrorIs(t, err, persistent)
	assert.Equal(t, 3, attempts)
}

func TestRetryWithNonRetryableError(t *testing.T) {
	attempts := 0
	authErr := errs.New(errs.ErrorTypeAuth, "incorrect password")

	cfg := fastConfig(5)
	cfg.RetryIf = DefaultRetryIf
	err := Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return authErr
	}, cfg)

	assert.Same(t, authErr, err)
	assert.Equal(t, 1, attempts)
}

func TestDefaultRetryIf(t *testing.T) {
	assert.False(t, DefaultRetryIf(nil))
	assert.True(t, DefaultRetryIf(errs.New(errs.ErrorTypeNetwork, "reset")))
	assert.True(t, DefaultRetryIf(errs.New(errs.ErrorTypeTimeout, "slow")))
	assert.False(t, DefaultRetryIf(errs.New(errs.ErrorTypeAuth, "bad password")))
	assert.False(t, DefaultRetryIf(errs.New(errs.ErrorTypePrivate, "private")))
	assert.True(t, DefaultRetryIf(context.DeadlineExceeded))
	assert.False(t, DefaultRetryIf(context.Canceled))
	assert.False(t, DefaultRetryIf(errors.New("plain")))
}

func TestRetryWithContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	attempts := 0

	err := Do(ctx, func(ctx context.Context) error {
		attempts++
		if attempts == 2 {
			cancel()
		}
		return errors.New("error")
	}, fastConfig(5))

	require.Error(t, err)
	assert.Equal(t, 2, attempts)
}

func TestOnRetryCallback(t *testing.T) {
	var seen []int
	cfg := fastConfig(3)
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		seen = append(seen, attempt)
	}

	_ = Do(context.Background(), func(ctx context.Context) error {
		return errors.New("nope")
	}, cfg)

	assert.Equal(t, []int{1, 2}, seen)
}

func TestErrorTypeBackoff(t *testing.T) {
	etb := NewErrorTypeBackoff(2*time.Second, 15*time.Second)

	network, ok := etb.For(errs.ErrorTypeNetwork).(*ExponentialBackoff)
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, network.BaseDelay)
	assert.Equal(t, 15*time.Second, network.MaxDelay)

	rate, ok := etb.For(errs.ErrorTypeRateLimit).(*ExponentialBackoff)
	require.True(t, ok)
	assert.Equal(t, 20*time.Second, rate.BaseDelay)

	assert.Same(t, etb.Default, etb.For(errs.ErrorTypeTimeout))
}

func TestErrorAwareDelaySelection(t *testing.T) {
	etb := &ErrorTypeBackoff{
		Network:   &ConstantBackoff{Delay: time.Millisecond},
		RateLimit: &ConstantBackoff{Delay: time.Hour},
		Default:   &ConstantBackoff{Delay: 2 * time.Millisecond},
	}

	assert.Equal(t, time.Hour, nextDelay(etb, errs.New(errs.ErrorTypeRateLimit, "429"), 1))
	assert.Equal(t, time.Millisecond, nextDelay(etb, errs.New(errs.ErrorTypeNetwork, "reset"), 1))
	assert.Equal(t, time.Duration(0), nextDelay(nil, errors.New("x"), 1))
}

func TestDoWithResult(t *testing.T) {
	attempts := 0
	result, err := DoWithResult(context.Background(), func(ctx context.Context) (string, error) {
		attempts++
		if attempts < 2 {
			return "", errors.New("temporary error")
		}
		return "success", nil
	}, fastConfig(3))

	require.NoError(t, err)
	assert.Equal(t, "success", result)
	assert.Equal(t, 2, attempts)
}

func TestWaitRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Wait(ctx, time.Hour), context.Canceled)
	assert.NoError(t, Wait(context.Background(), 0))
}

func TestFromSettings(t *testing.T) {
	cfg := FromSettings(4, time.Second, 10*time.Second, nil)
	assert.Equal(t, 4, cfg.MaxAttempts)
	etb, ok := cfg.Backoff.(*ErrorTypeBackoff)
	require.True(t, ok)
	assert.Equal(t, time.Second, etb.Default.(*ExponentialBackoff).BaseDelay)
	assert.NotNil(t, cfg.Logger)
}
