package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/liveclass/internal/config"
	"github.com/stemsi/liveclass/internal/response"
)

// RateLimiter is a fixed-window per-IP limiter backed by Redis, so every
// server instance shares the same counters.
type RateLimiter struct {
	rdb    *redis.Client
	log    zerolog.Logger
	scope  string
	limit  int64
	window time.Duration
}

// NewRateLimiter allows limit requests per window for each client IP in scope.
func NewRateLimiter(rdb *redis.Client, log zerolog.Logger, scope string, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		rdb:    rdb,
		log:    log,
		scope:  scope,
		limit:  int64(limit),
		window: window,
	}
}

// Allow counts one request for ip and reports whether it is within the limit.
func (rl *RateLimiter) Allow(ctx context.Context, ip string) (bool, error) {
	key := config.CacheKey.RateLimitKey(rl.scope, ip)

	n, err := rl.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if n == 1 {
		if err := rl.rdb.Expire(ctx, key, rl.window).Err(); err != nil {
			return false, err
		}
	}
	return n <= rl.limit, nil
}

// Middleware returns a Gin middleware that rate-limits requests by IP.
// Requests pass through when Redis is unreachable.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, err := rl.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			rl.log.Warn().Err(err).Str("scope", rl.scope).Msg("Rate limiter unavailable")
			c.Next()
			return
		}
		if !ok {
			c.Header("Retry-After", rl.retryAfter(c))
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) retryAfter(c *gin.Context) string {
	ttl, err := rl.rdb.TTL(c.Request.Context(), config.CacheKey.RateLimitKey(rl.scope, c.ClientIP())).Result()
	if err != nil || ttl <= 0 {
		ttl = rl.window
	}
	secs := int(ttl.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
