package memory

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/predsync/internal/domain"
)

// RateLimiter implements domain.RateLimiter with one token bucket per key.
// The bucket refills limit tokens per window, which approximates the sliding
// window the Redis limiter enforces.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter creates an empty RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{limiters: make(map[string]*rate.Limiter)}
}

// Allow reports whether a request for key is admitted now.
func (rl *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return false, domain.Invalid("rate_limit", "limit and window must be positive")
	}
	rl.mu.Lock()
	lim, ok := rl.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)
		rl.limiters[key] = lim
	}
	rl.mu.Unlock()
	return lim.Allow(), nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
