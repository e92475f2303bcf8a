// Package resilience provides the reliability shell wrapped around calls to
// unreliable external dependencies: retry with exponential backoff and a
// circuit breaker. Both are dependency-agnostic — they operate on a plain
// function and a *core.Error's error code, not on any specific client.
package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/lookatitude/letta-voice-gateway/core"
)

// RetryPolicy configures Retry. A zero-value RetryPolicy is normalized to
// DefaultRetryPolicy's values by Retry.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// InitialBackoff is the delay before the second attempt.
	InitialBackoff time.Duration
	// MaxBackoff caps the computed backoff delay.
	MaxBackoff time.Duration
	// BackoffFactor multiplies the delay after each failed attempt.
	BackoffFactor float64
	// Jitter randomizes the backoff delay by up to ±25% to avoid thundering
	// herds when many callers retry in lockstep.
	Jitter bool
	// RetryableErrors overrides which core.ErrorCodes are retried. If empty,
	// core.IsRetryable's default set (rate_limit, timeout,
	// provider_unavailable) is used.
	RetryableErrors []core.ErrorCode
}

// DefaultRetryPolicy returns the policy used when a RetryPolicy is left at
// its zero value: 3 attempts, 500ms initial backoff doubling up to 30s, with
// jitter enabled.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         true,
	}
}

func (p RetryPolicy) normalize() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = d.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = d.MaxBackoff
	}
	if p.BackoffFactor <= 0 {
		p.BackoffFactor = d.BackoffFactor
	}
	return p
}

func (p RetryPolicy) retryable(err error) bool {
	if len(p.RetryableErrors) == 0 {
		return core.IsRetryable(err)
	}
	var e *core.Error
	if !errors.As(err, &e) {
		return false
	}
	for _, c := range p.RetryableErrors {
		if e.Code == c {
			return true
		}
	}
	return false
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := float64(p.InitialBackoff) * math.Pow(p.BackoffFactor, float64(attempt))
	if d > float64(p.MaxBackoff) {
		d = float64(p.MaxBackoff)
	}
	if p.Jitter {
		// ±25% jitter.
		delta := d * 0.25
		d = d - delta + rand.Float64()*2*delta
	}
	return time.Duration(d)
}

// Retry calls fn, retrying on errors that RetryPolicy considers retryable up
// to policy.MaxAttempts times total, with exponential backoff between
// attempts. It returns as soon as fn succeeds, the error is not retryable,
// attempts are exhausted, or ctx is cancelled.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(context.Context) (T, error)) (T, error) {
	policy = policy.normalize()

	var result T
	var err error

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				var zero T
				return zero, ctx.Err()
			case <-time.After(policy.backoff(attempt - 1)):
			}
		}

		result, err = fn(ctx)
		if err == nil {
			return result, nil
		}
		if !policy.retryable(err) {
			return result, err
		}
	}

	return result, err
}
