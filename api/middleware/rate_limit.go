package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimiter counts requests per key over a fixed window
type RateLimiter struct {
	limit  int
	window time.Duration

	mu        sync.Mutex
	counters  map[string]*windowCounter
	lastSweep time.Time
}

type windowCounter struct {
	start time.Time
	count int
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:     limit,
		window:    window,
		counters:  make(map[string]*windowCounter),
		lastSweep: time.Now(),
	}
}

// Allow records one request for the key and reports whether it is within
// the limit. The first request after a window expires resets the counter.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	rl.sweepLocked(now)

	counter, exists := rl.counters[key]
	if !exists || now.Sub(counter.start) >= rl.window {
		rl.counters[key] = &windowCounter{start: now, count: 1}
		return true
	}

	counter.count++
	return counter.count <= rl.limit
}

// sweepLocked drops expired counters so idle keys do not accumulate forever.
func (rl *RateLimiter) sweepLocked(now time.Time) {
	if now.Sub(rl.lastSweep) < rl.window {
		return
	}
	for key, counter := range rl.counters {
		if now.Sub(counter.start) >= rl.window {
			delete(rl.counters, key)
		}
	}
	rl.lastSweep = now
}

// RateLimit returns a Gin middleware that enforces a global per-client limit
func RateLimit(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()

		if !limiter.Allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": limiter.window.Seconds(),
			})
			return
		}

		c.Next()
	}
}
