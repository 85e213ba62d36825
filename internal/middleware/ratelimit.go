package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"

	"github.com/stemsi/exstem-session/internal/response"
)

// staleAfter is how long an idle bucket is kept.
const staleAfter = 3 * time.Minute

// RateLimiter implements a token bucket per key. Keys are student ids for
// authenticated routes and client IPs otherwise.
type RateLimiter struct {
	clock    clockwork.Clock
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int           // Tokens per interval
	interval time.Duration // Refill interval
}

type visitor struct {
	tokens   int
	lastSeen time.Time
}

// NewRateLimiter creates a RateLimiter (e.g., 10 requests per second).
func NewRateLimiter(clock clockwork.Clock, rate int, interval time.Duration) *RateLimiter {
	return &RateLimiter{
		clock:    clock,
		visitors: make(map[string]*visitor),
		rate:     rate,
		interval: interval,
	}
}

// Allow takes a token from key's bucket.
func (rl *RateLimiter) Allow(key string) bool {
	if rl == nil || rl.rate <= 0 {
		return true
	}
	now := rl.clock.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[key]
	if !exists {
		v = &visitor{tokens: rl.rate, lastSeen: now}
		rl.visitors[key] = v
	}

	// Refill tokens based on elapsed time.
	refill := int(now.Sub(v.lastSeen)/rl.interval) * rl.rate
	if refill > 0 {
		v.tokens = min(v.tokens+refill, rl.rate)
		v.lastSeen = now
	}

	if v.tokens <= 0 {
		return false
	}
	v.tokens--
	return true
}

// Middleware returns a Gin middleware that rate-limits by student id when
// claims are present, else by IP.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if claims := GetClaims(c); claims != nil {
			key = "student:" + strconv.Itoa(claims.UserID)
		}
		if !rl.Allow(key) {
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}

// Cleanup drops buckets idle longer than staleAfter.
func (rl *RateLimiter) Cleanup() {
	now := rl.clock.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, v := range rl.visitors {
		if now.Sub(v.lastSeen) > staleAfter {
			delete(rl.visitors, key)
		}
	}
}

// RunCleanup calls Cleanup every minute until stop is closed.
func (rl *RateLimiter) RunCleanup(stop <-chan struct{}) {
	t := rl.clock.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.Chan():
			rl.Cleanup()
		}
	}
}
