package llm

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// Retry calls fn until it succeeds, returns a permanent error, or
// cfg.MaxAttempts is reached, sleeping with exponential backoff and jitter
// between attempts. It is shared by the text provider decorator, image
// generation and batch polling.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	return retry(ctx, cfg, IsRetryable, fn)
}

func retry(ctx context.Context, cfg RetryConfig, retryable func(error) bool, fn func(ctx context.Context) error) error {
	attempts := max(cfg.MaxAttempts, 1)

	var lastErr error
	for attempt := range attempts {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(err) {
			return err
		}

		// No sleep after the final attempt.
		if attempt == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.Backoff(attempt, err)):
		}
	}

	return lastErr
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	// Context errors are never retried.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// Refusals and bad credentials fail the same way every time.
	var blocked *ErrBlocked
	var auth *ErrAuth
	if errors.As(err, &blocked) || errors.As(err, &auth) {
		return false
	}

	// Rate limits, unavailability, empty replies and unknown network
	// errors are transient.
	return true
}

// Backoff computes the wait duration before the attempt after the given
// 0-based attempt. Rate limit errors with RetryAfter are honored.
func (c RetryConfig) Backoff(attempt int, err error) time.Duration {
	var rl *ErrRateLimit
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return rl.RetryAfter
	}

	mult := c.Multiplier
	if mult <= 0 {
		mult = 2
	}
	wait := float64(c.InitialWait) * math.Pow(mult, float64(attempt))
	if c.MaxWait > 0 && wait > float64(c.MaxWait) {
		wait = float64(c.MaxWait)
	}

	// Add ±20% jitter.
	jitter := wait * 0.2 * (2*rand.Float64() - 1)
	wait += jitter

	if wait < 0 {
		wait = 0
	}
	return time.Duration(wait)
}

// RetryProvider is a decorator that retries transient errors with
// exponential backoff and jitter.
type RetryProvider struct {
	inner  Provider
	config RetryConfig
}

// WithRetry wraps a Provider with retry logic.
func WithRetry(p Provider, cfg RetryConfig) Provider {
	return &RetryProvider{inner: p, config: cfg}
}

func (r *RetryProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	var resp *Response
	emptyRetried := false

	err := retry(ctx, r.config, func(err error) bool {
		// An empty reply gets one more attempt; a second one usually means
		// the prompt itself is the problem.
		var empty *ErrEmptyResponse
		if errors.As(err, &empty) {
			if emptyRetried {
				return false
			}
			emptyRetried = true
			return true
		}
		return IsRetryable(err)
	}, func(ctx context.Context) error {
		var err error
		resp, err = r.inner.Generate(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (r *RetryProvider) ModelID() string {
	return r.inner.ModelID()
}
