package modelmux

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy configures backend-internal retries with exponential backoff.
// It is independent of the multiplexer's failover cycle: a backend may retry
// itself before its failure becomes visible to the fallback logic.
type RetryPolicy struct {
	MaxRetries int           // retry attempts beyond the initial call
	BaseDelay  time.Duration // delay before the first retry
	MaxDelay   time.Duration // cap on the delay between retries
	Multiplier float64       // exponential backoff factor
	Jitter     bool          // randomize delays to avoid thundering herds

	// Retryable decides which errors are worth retrying. Nil means
	// DefaultRetryable.
	Retryable func(error) bool

	// OnRetry is invoked before each retry sleep.
	OnRetry func(err error, attempt int, delay time.Duration)
}

// DefaultRetryPolicy returns a conservative backoff policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  time.Second,
		MaxDelay:   time.Minute,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// delay calculates the backoff for attempt n (0-indexed).
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt))
	if max := float64(p.MaxDelay); d > max {
		d = max
	}
	if p.Jitter {
		// +/- 50%
		d *= 0.5 + rand.Float64()
	}
	return time.Duration(d)
}

// Retry executes fn under the policy, retrying only classified-retryable
// failures. A RateLimitError carrying a retry-after hint overrides the
// computed delay; a hint beyond MaxDelay fails immediately.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	retryable := policy.Retryable
	if retryable == nil {
		retryable = DefaultRetryable
	}

	result, err := fn(ctx)
	if err == nil {
		return result, nil
	}

	for attempt := 0; attempt < policy.MaxRetries; attempt++ {
		if !retryable(err) {
			return zero, err
		}

		delay := policy.delay(attempt)
		var rl *RateLimitError
		if errors.As(err, &rl) && rl.RetryAfter > 0 {
			if rl.RetryAfter > policy.MaxDelay {
				return zero, err
			}
			delay = rl.RetryAfter
		}

		if policy.OnRetry != nil {
			policy.OnRetry(err, attempt+1, delay)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}

		result, err = fn(ctx)
		if err == nil {
			return result, nil
		}
	}

	return zero, err
}
