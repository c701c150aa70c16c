// Package admission decides whether a requester may open a new market
// conversation: a per-user hourly rate limit plus an account-quality gate.
package admission

import (
	"context"
	"sync"
	"time"
)

// DefaultWindow is the rate-limit window.
const DefaultWindow = time.Hour

type window struct {
	count   int
	resetAt time.Time
}

// RateLimiter counts admitted requests per user inside a fixed window that
// restarts on the first request after it elapses. State is process-local.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	period  time.Duration
	now     func() time.Time
	windows map[string]*window
}

// NewRateLimiter allows limit requests per user per period. now may be nil.
func NewRateLimiter(limit int, period time.Duration, now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	if period <= 0 {
		period = DefaultWindow
	}
	return &RateLimiter{
		limit:   limit,
		period:  period,
		now:     now,
		windows: make(map[string]*window),
	}
}

// Allow consumes one request for userID and reports whether it is within the limit.
func (r *RateLimiter) Allow(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	w, ok := r.windows[userID]
	if !ok || !now.Before(w.resetAt) {
		r.windows[userID] = &window{count: 1, resetAt: now.Add(r.period)}
		return r.limit > 0
	}
	if w.count >= r.limit {
		return false
	}
	w.count++
	return true
}

// AllowRequest implements Limiter.
func (r *RateLimiter) AllowRequest(_ context.Context, userID string) (bool, error) {
	return r.Allow(userID), nil
}

// Prune drops windows that have already elapsed.
func (r *RateLimiter) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	n := 0
	for id, w := range r.windows {
		if !now.Before(w.resetAt) {
			delete(r.windows, id)
			n++
		}
	}
	return n
}
