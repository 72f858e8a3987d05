package reasoning

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy defines backoff behavior for backend calls.
type RetryPolicy struct {
	MaxRetries   int // 0 = no retries
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// maybeClassRetryCap limits "maybe" errors to fewer attempts than the policy allows.
const maybeClassRetryCap = 2

// WithRetry wraps a Generator with classification-aware retry.
type WithRetry struct {
	Backend Generator
	Policy  RetryPolicy
	OnRetry func(attempt int, delay time.Duration, err error) // optional
}

// Generate calls the backend, retrying retryable failures with exponential
// backoff. Non-retryable errors are returned immediately.
func (r *WithRetry) Generate(ctx context.Context, systemPrompt string, history []Message, schemas []ToolSchema) (Result, error) {
	attempt := 0
	for {
		result, err := r.Backend.Generate(ctx, systemPrompt, history, schemas)
		if err == nil {
			return result, nil
		}

		class := Classify(err)
		if class == RetryClassNonRetryable {
			return Result{}, err
		}
		if attempt >= r.Policy.MaxRetries {
			return Result{}, &RetryExhaustedError{LastErr: err, Attempts: attempt}
		}
		if class == RetryClassMaybe && attempt >= maybeClassRetryCap {
			return Result{}, &RetryExhaustedError{LastErr: err, Attempts: attempt}
		}

		delay := backoffDelay(r.Policy, attempt, err)
		if r.OnRetry != nil {
			r.OnRetry(attempt+1, delay, err)
		}

		select {
		case <-ctx.Done():
			return Result{}, fmt.Errorf("cancelled during retry wait: %w", ctx.Err())
		case <-time.After(delay):
		}
		attempt++
	}
}

// backoffDelay computes the wait before the next attempt, preferring a
// provider-supplied Retry-After hint over exponential backoff.
func backoffDelay(policy RetryPolicy, attempt int, err error) time.Duration {
	if hint := retryAfterHint(err); hint > 0 {
		if hint > policy.MaxDelay {
			return policy.MaxDelay
		}
		return hint
	}

	delay := float64(policy.InitialDelay) * math.Pow(policy.Multiplier, float64(attempt))
	if delay > float64(policy.MaxDelay) {
		delay = float64(policy.MaxDelay)
	}
	if policy.Jitter {
		delay += rand.Float64() * 0.2 * delay
	}
	return time.Duration(delay)
}
