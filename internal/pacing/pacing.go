// Package pacing limits how often a tenant can generate plans.
package pacing

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/weaver/internal/domain"
)

// CounterKey is the cache counter tracking plan generations per tenant.
const CounterKey = "plans"

// Limiter counts plan generations per tenant within a rolling window and
// rejects requests once the limit is reached. A limit of zero disables
// pacing entirely.
type Limiter struct {
	cache  domain.Cache
	limit  int64
	window time.Duration
}

// NewLimiter creates a pacing limiter backed by the cache counter.
func NewLimiter(cache domain.Cache, limit int, window time.Duration) *Limiter {
	return &Limiter{
		cache:  cache,
		limit:  int64(limit),
		window: window,
	}
}

// Allow records one plan generation for the tenant and reports whether it
// fits within the window. The count after increment is returned so callers
// can surface usage.
func (l *Limiter) Allow(ctx context.Context, tenantID string) (bool, int64, error) {
	if l.limit <= 0 || l.cache == nil {
		return true, 0, nil
	}
	if tenantID == "" {
		return false, 0, fmt.Errorf("tenantID is required")
	}

	count, err := l.cache.IncrementCounter(ctx, tenantID, CounterKey, l.window)
	if err != nil {
		// Fail open: a cache outage must not block plan generation.
		return true, 0, fmt.Errorf("failed to increment plan counter: %w", err)
	}

	return count <= l.limit, count, nil
}

// Limit returns the configured maximum generations per window.
func (l *Limiter) Limit() int64 {
	return l.limit
}
