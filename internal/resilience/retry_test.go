package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRetryer(maxRetries, threshold int) (*Retryer, *[]time.Duration) {
	r := NewRetryer(NewBreakerSet(threshold, time.Minute), RetryConfig{
		MaxRetries:    maxRetries,
		BackoffBaseMs: 1000,
		BackoffMaxMs:  30000,
	})
	var slept []time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return r, &slept
}

func TestRetryerSucceedsFirstAttempt(t *testing.T) {
	r, slept := newTestRetryer(3, 5)
	calls := 0
	err := r.Do(context.Background(), "delayed", func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *slept)
}

func TestRetryerRecoversAfterTransientFailure(t *testing.T) {
	r, slept := newTestRetryer(3, 5)
	calls := 0
	err := r.Do(context.Background(), "delayed", func() error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, *slept)
}

func TestRetryerExhaustsAttempts(t *testing.T) {
	r, slept := newTestRetryer(3, 5)
	boom := errors.New("upstream 503")
	calls := 0
	err := r.Do(context.Background(), "realtime", func() error {
		calls++
		return boom
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)

	var exhausted *RetryExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, "realtime", exhausted.Service)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.ErrorIs(t, err, boom)

	// No backoff after the final attempt.
	assert.Len(t, *slept, 2)
}

func TestRetryerBackoffCapped(t *testing.T) {
	r := NewRetryer(NewBreakerSet(100, time.Minute), RetryConfig{
		MaxRetries:    6,
		BackoffBaseMs: 1000,
		BackoffMaxMs:  4000,
	})
	var slept []time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	err := r.Do(context.Background(), "delayed", func() error {
		return errors.New("always fails")
	})
	require.Error(t, err)
	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second, 4 * time.Second,
	}, slept)
}

func TestRetryerFailsFastWhenBreakerOpen(t *testing.T) {
	r, _ := newTestRetryer(3, 2)

	// Two failed operations trip the service breaker.
	for i := 0; i < 2; i++ {
		_ = r.Do(context.Background(), "crypto", func() error {
			return errors.New("down")
		})
	}
	require.Equal(t, StateOpen, r.breakers.Get("crypto").Status().State)

	calls := 0
	err := r.Do(context.Background(), "crypto", func() error {
		calls++
		return nil
	})
	require.Error(t, err)
	var open *CircuitOpenError
	assert.True(t, errors.As(err, &open))
	assert.Zero(t, calls, "operation must not run while the breaker is open")
}

func TestRetryerBreakerOpensMidSequence(t *testing.T) {
	r, _ := newTestRetryer(5, 2)

	calls := 0
	err := r.Do(context.Background(), "delayed", func() error {
		calls++
		return errors.New("down")
	})
	require.Error(t, err)

	// The breaker tripped after the second failed attempt, so the third
	// Allow rejected without invoking the operation.
	assert.Equal(t, 2, calls)
	var open *CircuitOpenError
	assert.True(t, errors.As(err, &open))
}

func TestRetryerContextCancelDuringBackoff(t *testing.T) {
	r, _ := newTestRetryer(3, 10)
	r.sleep = sleepCtx

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := r.Do(ctx, "delayed", func() error {
		calls++
		return errors.New("down")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	var exhausted *RetryExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 1, exhausted.Attempts)
}
