// Package ratelimit implements fixed-window rate limiting over a keyed
// counter store with per-key expiry.
//
// The counter primitive is an atomic increment-and-get: a plain
// read-then-write cycle under-counts when callers race on one key, so the
// Counter contract requires the increment to be atomic with respect to
// concurrent callers sharing the same key.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Counter is the keyed counter store. IncrWithTTL atomically increments
// key and returns the new value. The TTL is applied when the key is first
// created and left untouched afterwards.
type Counter interface {
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Decision is the outcome of one admission check.
type Decision struct {
	// Allowed reports whether the request is admitted.
	Allowed bool

	// Limit is the configured per-window ceiling.
	Limit int

	// Remaining is the number of requests left in the current window.
	Remaining int

	// ResetAt is the unix second at which the current window ends.
	ResetAt int64
}

// Limiter admits or rejects requests per identity using fixed windows.
type Limiter struct {
	counter Counter
	window  time.Duration
	limit   int
	now     func() time.Time
}

// New creates a limiter with the given window duration and per-window limit.
func New(counter Counter, window time.Duration, limit int) *Limiter {
	return &Limiter{
		counter: counter,
		window:  window,
		limit:   limit,
		now:     time.Now,
	}
}

// Admit decides whether one more request from identityKey fits in the
// current window. Counter store errors are returned as-is; the caller owns
// the fail-open/fail-closed policy.
func (l *Limiter) Admit(ctx context.Context, identityKey string) (Decision, error) {
	nowMs := l.now().UnixMilli()
	windowMs := l.window.Milliseconds()
	windowIdx := nowMs / windowMs

	key := fmt.Sprintf("rate:%s:%d", identityKey, windowIdx)
	// Ceiling of the next window boundary in seconds.
	resetAt := ((windowIdx+1)*windowMs + 999) / 1000

	// TTL of 2W keeps the counter alive past its own window even under
	// clock skew between gateway instances.
	count, err := l.counter.IncrWithTTL(ctx, key, 2*l.window)
	if err != nil {
		return Decision{}, fmt.Errorf("rate counter increment failed: %w", err)
	}

	if count > int64(l.limit) {
		return Decision{Allowed: false, Limit: l.limit, Remaining: 0, ResetAt: resetAt}, nil
	}

	return Decision{
		Allowed:   true,
		Limit:     l.limit,
		Remaining: l.limit - int(count),
		ResetAt:   resetAt,
	}, nil
}
