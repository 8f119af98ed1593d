// Package llm — retry decorator.
// WithRetry wraps any Provider with bounded exponential backoff. Terminal
// errors (auth, invalid request) abort immediately; rate-limit hints from the
// server stretch the computed delay.
package llm

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy controls the retry envelope for Generate calls.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy returns the standard envelope: 3 attempts total,
// delays of 2s, 4s, ... capped at 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// Delay returns the backoff before the given attempt (attempt 1 is the first
// retry). Pure function, exported for tests and observability.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// retryingProvider decorates a Provider with the retry envelope.
type retryingProvider struct {
	inner  Provider
	policy RetryPolicy
}

// WithRetry wraps p so that transient Generate failures are retried per policy.
// CountTokens and HealthCheck pass through untouched.
func WithRetry(p Provider, policy RetryPolicy) Provider {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &retryingProvider{inner: p, policy: policy}
}

func (r *retryingProvider) Name() ProviderName { return r.inner.Name() }

func (r *retryingProvider) Generate(ctx context.Context, messages []Message, cfg Config) (*Response, error) {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		resp, err := r.inner.Generate(ctx, messages, cfg)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return nil, err
		}
		if attempt == r.policy.MaxAttempts {
			break
		}
		if waitErr := r.wait(ctx, r.delayFor(err, attempt)); waitErr != nil {
			return nil, waitErr
		}
	}
	return nil, lastErr
}

// delayFor combines the policy backoff with any server-provided hint.
func (r *retryingProvider) delayFor(err error, attempt int) time.Duration {
	d := r.policy.Delay(attempt)
	var rlErr *RateLimitError
	if errors.As(err, &rlErr) && rlErr.RetryAfter > d {
		d = rlErr.RetryAfter
		if d > r.policy.MaxDelay {
			d = r.policy.MaxDelay
		}
	}
	return d
}

// wait sleeps for d or until the context is cancelled.
func (r *retryingProvider) wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *retryingProvider) CountTokens(ctx context.Context, text, model string) (int, error) {
	return r.inner.CountTokens(ctx, text, model)
}

func (r *retryingProvider) HealthCheck(ctx context.Context) error {
	return r.inner.HealthCheck(ctx)
}
