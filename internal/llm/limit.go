package llm

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
)

// LimitProvider is a decorator that bounds the number of in-flight
// requests across every caller sharing it.
type LimitProvider struct {
	inner Provider
	sem   *semaphore.Weighted
}

// WithLimit wraps a Provider so that at most n requests run at once.
// n <= 0 returns p unchanged.
func WithLimit(p Provider, n int) Provider {
	if n <= 0 {
		return p
	}
	return &LimitProvider{inner: p, sem: semaphore.NewWeighted(int64(n))}
}

func (l *LimitProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer l.sem.Release(1)
	return l.inner.Generate(ctx, req)
}

func (l *LimitProvider) ModelID() string {
	return l.inner.ModelID()
}

// TimeoutProvider bounds each Generate call, retries included.
type TimeoutProvider struct {
	inner   Provider
	timeout time.Duration
}

// WithTimeout wraps a Provider with a per-request deadline.
// d <= 0 returns p unchanged.
func WithTimeout(p Provider, d time.Duration) Provider {
	if d <= 0 {
		return p
	}
	return &TimeoutProvider{inner: p, timeout: d}
}

func (t *TimeoutProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.Generate(ctx, req)
}

func (t *TimeoutProvider) ModelID() string {
	return t.inner.ModelID()
}
