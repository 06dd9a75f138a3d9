package middlewares

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/bills_backend/config"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const maxLocalLimiters = 10000

// RateLimiter counts requests per client IP in a fixed redis window. Without
// redis, or while redis errors, it falls back to a per-IP token bucket held
// in process.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
	logger *logrus.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// Initialize a new RateLimiter instance. client may be nil.
func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		client:   client,
		limit:    limit,
		window:   window,
		logger:   config.GetLogger(),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Middleware function to check rate limits.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	key := c.ClientIP()

	allowed := true
	if rl.client != nil {
		count, err := rl.incr(c, "RateLimit:"+key)
		if err == nil {
			allowed = count <= rl.limit
		} else {
			rl.logger.WithFields(logrus.Fields{
				"field": "RateLimitMiddleware",
			}).Warn("redis rate limit unavailable; using local limiter: " + err.Error())
			allowed = rl.getLimiter(key).Allow()
		}
	} else {
		allowed = rl.getLimiter(key).Allow()
	}

	if !allowed {
		seconds := int(rl.window.Seconds())
		c.Header("Retry-After", strconv.Itoa(seconds))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"success": false,
			"error":   fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", seconds),
		})
		return
	}
	c.Next()
}

// incr bumps the window counter; the first hit of a window sets its expiry.
func (rl *RateLimiter) incr(c *gin.Context, key string) (int64, error) {
	ctx := c.Request.Context()
	count, err := rl.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := rl.client.Expire(ctx, key, rl.window).Err(); err != nil {
			return 0, err
		}
	}
	return count, nil
}

// getLimiter returns the in-process limiter for key.
func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.limiters[key]
	if !exists {
		if len(rl.limiters) >= maxLocalLimiters {
			rl.limiters = make(map[string]*rate.Limiter)
		}
		every := rate.Limit(float64(rl.limit) / rl.window.Seconds())
		limiter = rate.NewLimiter(every, int(rl.limit))
		rl.limiters[key] = limiter
	}
	return limiter
}
