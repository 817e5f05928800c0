package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/LeonAdeoye/market-service/internal/observ"
)

// RetryExhaustedError wraps the last underlying error after all attempts fail.
type RetryExhaustedError struct {
	Service  string
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("all %d attempts against %s exhausted: %v", e.Attempts, e.Service, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// Retryer runs operations with bounded retry and exponential backoff,
// consulting the named circuit breaker before and after each attempt.
type Retryer struct {
	breakers   *BreakerSet
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration

	// sleep is swapped out in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

type RetryConfig struct {
	MaxRetries    int
	BackoffBaseMs int
	BackoffMaxMs  int
}

func NewRetryer(breakers *BreakerSet, cfg RetryConfig) *Retryer {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffBaseMs <= 0 {
		cfg.BackoffBaseMs = 1000
	}
	if cfg.BackoffMaxMs <= 0 {
		cfg.BackoffMaxMs = 30000
	}
	return &Retryer{
		breakers:   breakers,
		maxRetries: cfg.MaxRetries,
		baseDelay:  time.Duration(cfg.BackoffBaseMs) * time.Millisecond,
		maxDelay:   time.Duration(cfg.BackoffMaxMs) * time.Millisecond,
		sleep:      sleepCtx,
	}
}

// Do runs op up to maxRetries times. Each attempt first asks the breaker: an
// Open breaker fails fast with CircuitOpenError without invoking op. Every
// attempt's outcome is reported back to the breaker. Backoff between attempts
// is min(base * 2^(attempt-1), max), skipped after the final attempt.
func (r *Retryer) Do(ctx context.Context, service string, op func() error) error {
	breaker := r.breakers.Get(service)

	var lastErr error
	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		if err := breaker.Allow(); err != nil {
			return err
		}

		err := op()
		if err == nil {
			breaker.RecordSuccess()
			return nil
		}
		breaker.RecordFailure()
		lastErr = err

		observ.Warn("retry_attempt_failed", map[string]any{
			"service": service,
			"attempt": attempt,
			"max":     r.maxRetries,
			"error":   err.Error(),
		})

		if attempt < r.maxRetries {
			if err := r.sleep(ctx, r.backoff(attempt)); err != nil {
				return &RetryExhaustedError{Service: service, Attempts: attempt, Err: lastErr}
			}
		}
	}
	return &RetryExhaustedError{Service: service, Attempts: r.maxRetries, Err: lastErr}
}

func (r *Retryer) backoff(attempt int) time.Duration {
	d := r.baseDelay << (attempt - 1)
	if d > r.maxDelay || d <= 0 {
		d = r.maxDelay
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
