package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/vhvplatform/go-wellness-notifier/internal/metrics"
	"golang.org/x/time/rate"
)

// KeyedRateLimiter manages one token bucket per key
type KeyedRateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
}

// NewKeyedRateLimiter creates a new keyed rate limiter
func NewKeyedRateLimiter(rps float64, burst int) *KeyedRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &KeyedRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(rps),
		burst:    burst,
	}
}

// GetLimiter returns the rate limiter for key
func (rl *KeyedRateLimiter) GetLimiter(key string) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.limiters[key]
	rl.mu.RUnlock()

	if !exists {
		rl.mu.Lock()
		// Double-check after acquiring write lock
		limiter, exists = rl.limiters[key]
		if !exists {
			limiter = rate.NewLimiter(rl.rate, rl.burst)
			rl.limiters[key] = limiter
		}
		rl.mu.Unlock()
	}

	return limiter
}

// RateLimitMiddleware limits requests per route. Job triggers arrive a few
// times a day, so a burst usually means a misbehaving scheduler.
func RateLimitMiddleware(rl *KeyedRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		if !rl.GetLimiter(route).Allow() {
			metrics.RateLimitExceeded.WithLabelValues(route).Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error":   "Rate limit exceeded. Please try again later.",
			})
			return
		}

		c.Next()
	}
}
