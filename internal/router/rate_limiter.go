package router

import (
	"sync"

	"golang.org/x/time/rate"
)

const (
	defaultMessagesPerMinute = 100
	defaultBurst             = 10
)

// RateLimiter tracks a token bucket per connection. State is dropped
// when the connection unregisters, so the map cannot grow unbounded.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewRateLimiter creates a limiter allowing perMinute messages with the
// given burst per connection.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
	}
}

// Allow reports whether the connection may send another message now.
func (rl *RateLimiter) Allow(connID string) bool {
	rl.mu.Lock()
	limiter, exists := rl.limiters[connID]
	if !exists {
		limiter = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[connID] = limiter
	}
	rl.mu.Unlock()

	return limiter.Allow()
}

// Remove drops state for a departed connection.
func (rl *RateLimiter) Remove(connID string) {
	rl.mu.Lock()
	delete(rl.limiters, connID)
	rl.mu.Unlock()
}
