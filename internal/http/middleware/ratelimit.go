// README: Per-caller fixed-window rate limiter for hot endpoints.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

type RateLimiter struct {
	mu      sync.Mutex
	callers map[string]*window
	rate    int
	period  time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

type window struct {
	tokens    int
	lastReset time.Time
}

// NewRateLimiter allows rate requests per period for each caller. The cleanup
// loop stops with ctx.
func NewRateLimiter(ctx context.Context, rate int, period time.Duration, logger *slog.Logger) *RateLimiter {
	rl := &RateLimiter{
		callers: make(map[string]*window),
		rate:    rate,
		period:  period,
		now:     time.Now,
		logger:  logger.With("component", "rate_limiter"),
	}
	go rl.cleanupLoop(ctx)
	return rl
}

func (rl *RateLimiter) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(rl.period * 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.mu.Lock()
			now := rl.now()
			for key, w := range rl.callers {
				if now.Sub(w.lastReset) > rl.period*2 {
					delete(rl.callers, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.callers[key]
	if !ok || now.Sub(w.lastReset) > rl.period {
		rl.callers[key] = &window{tokens: rl.rate - 1, lastReset: now}
		return rl.rate > 0
	}
	if w.tokens > 0 {
		w.tokens--
		return true
	}
	return false
}

// Middleware keys on the authenticated uid, falling back to the client IP.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := CallerUID(c)
		if key == "" {
			key = c.ClientIP()
		}
		if !rl.Allow(key) {
			rl.logger.Warn("rate limit exceeded", "caller", key, "path", c.FullPath())
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, authError{Error: "too many requests", Code: "rate_limited"})
			return
		}
		c.Next()
	}
}
