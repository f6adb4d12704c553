package utils

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

type RetryPolicy struct {
	MaxRetries   int // total attempts, including the first
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// sleep waits between attempts; tests replace it to observe delays.
	sleep func(ctx context.Context, d time.Duration) error
}

func DefaultRetryPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries:   maxRetries,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
	}
}

// Delay returns the wait before retry number n (1-based).
func (p RetryPolicy) Delay(n int) time.Duration {
	d := p.InitialDelay
	if d <= 0 {
		d = 100 * time.Millisecond
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 2
	}
	for i := 1; i < n; i++ {
		d = time.Duration(float64(d) * mult)
		if d >= maxDelay {
			return maxDelay
		}
	}
	return min(d, maxDelay)
}

// Retry runs op until it succeeds, fails with a non-recoverable error,
// or MaxRetries attempts have been made. The last error is returned.
func Retry[T any](ctx context.Context, policy RetryPolicy, op func(ctx context.Context) (T, error)) (T, error) {
	attempts := max(policy.MaxRetries, 1)
	sleep := policy.sleep
	if sleep == nil {
		sleep = sleepContext
	}
	var zero T
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !IsRecoverable(err) || attempt == attempts {
			break
		}
		delay := policy.Delay(attempt)
		log.Debug().Str("op", "utils/retry").Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("Retrying after recoverable error")
		if err := sleep(ctx, delay); err != nil {
			return zero, NewError(KindCancelled, "retry", err)
		}
	}
	return zero, lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
