package modelmux

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries: maxRetries,
		BaseDelay:  time.Millisecond,
		MaxDelay:   time.Millisecond,
		Multiplier: 1,
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	policy := RetryPolicy{
		BaseDelay:  time.Second,
		MaxDelay:   time.Minute,
		Multiplier: 2.0,
	}
	want := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
	}
	for i, expected := range want {
		if got := policy.delay(i); got != expected {
			t.Errorf("attempt %d: expected %v, got %v", i, expected, got)
		}
	}
}

func TestRetryPolicyDelayCapped(t *testing.T) {
	policy := RetryPolicy{
		BaseDelay:  time.Second,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
	}
	if got := policy.delay(10); got != 5*time.Second {
		t.Errorf("expected cap at 5s, got %v", got)
	}
}

func TestRetryPolicyDelayJitterRange(t *testing.T) {
	policy := RetryPolicy{
		BaseDelay:  time.Second,
		MaxDelay:   time.Minute,
		Multiplier: 2.0,
		Jitter:     true,
	}
	for i := 0; i < 100; i++ {
		got := policy.delay(0)
		if got < 500*time.Millisecond || got > 1500*time.Millisecond {
			t.Fatalf("jittered delay out of range: %v", got)
		}
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	result, err := Retry(context.Background(), fastPolicy(3), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", StatusError(503, "service unavailable", "test")
		}
		return "success", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "success" {
		t.Errorf("expected %q, got %q", "success", result)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryStopsOnFatalError(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastPolicy(3), func(context.Context) (string, error) {
		calls++
		return "", StatusError(404, "model not found", "test")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetryExhausted(t *testing.T) {
	failure := StatusError(500, "internal server error", "test")
	calls := 0
	_, err := Retry(context.Background(), fastPolicy(2), func(context.Context) (string, error) {
		calls++
		return "", failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("expected the last failure, got %v", err)
	}
	if calls != 3 { // initial + 2 retries
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryHonorsRetryAfter(t *testing.T) {
	policy := fastPolicy(1)
	policy.MaxDelay = 50 * time.Millisecond

	var observed time.Duration
	policy.OnRetry = func(_ error, _ int, delay time.Duration) {
		observed = delay
	}

	calls := 0
	_, err := Retry(context.Background(), policy, func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", &RateLimitError{
				BackendError: BackendError{Message: "rate limit", Status: 429},
				RetryAfter:   20 * time.Millisecond,
			}
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if observed != 20*time.Millisecond {
		t.Errorf("expected the retry-after hint, got %v", observed)
	}
}

func TestRetryAfterBeyondMaxDelayFailsImmediately(t *testing.T) {
	policy := fastPolicy(3)
	policy.MaxDelay = 10 * time.Millisecond

	calls := 0
	_, err := Retry(context.Background(), policy, func(context.Context) (string, error) {
		calls++
		return "", &RateLimitError{
			BackendError: BackendError{Message: "rate limit", Status: 429},
			RetryAfter:   time.Hour,
		}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected no retries for an excessive retry-after, got %d calls", calls)
	}
}

func TestRetryRespectsCancellation(t *testing.T) {
	policy := fastPolicy(5)
	policy.BaseDelay = time.Hour
	policy.MaxDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := Retry(ctx, policy, func(context.Context) (string, error) {
		return "", StatusError(503, "service unavailable", "test")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRetryCustomPredicate(t *testing.T) {
	policy := fastPolicy(3)
	policy.Retryable = func(error) bool { return false }

	calls := 0
	_, err := Retry(context.Background(), policy, func(context.Context) (string, error) {
		calls++
		return "", StatusError(503, "service unavailable", "test")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}
