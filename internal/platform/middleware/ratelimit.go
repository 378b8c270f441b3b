package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/clinicdesk/clinicdesk/internal/platform/auth"
)

// RateLimitConfig holds rate limiting configuration. Limits are counted
// per caller identity (falling back to client IP for unauthenticated
// requests) over a fixed one-minute window.
type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

// Limiter decides whether a caller may proceed. The redis-backed
// implementation shares counters across service instances; the
// in-process one is a fallback for single-node and test setups.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

// redisLimiter counts requests in redis with INCR + TTL so that every
// replica of the service sees the same counter.
type redisLimiter struct {
	client *redis.Client
	cfg    RateLimitConfig
}

// NewRedisLimiter builds a Limiter over an existing redis client.
func NewRedisLimiter(client *redis.Client, cfg RateLimitConfig) Limiter {
	return &redisLimiter{client: client, cfg: cfg}
}

func (l *redisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	window := time.Now().Unix() / 60
	counterKey := fmt.Sprintf("ratelimit:%s:%d", key, window)

	count, err := l.client.Incr(ctx, counterKey).Result()
	if err != nil {
		return false, 0, err
	}
	if count == 1 {
		// First hit in this window owns the expiry.
		if err := l.client.Expire(ctx, counterKey, 2*time.Minute).Err(); err != nil {
			return false, 0, err
		}
	}
	if count > int64(l.cfg.RequestsPerMinute+l.cfg.Burst) {
		retry := time.Duration(60-time.Now().Unix()%60) * time.Second
		return false, retry, nil
	}
	return true, 0, nil
}

// localLimiter is a per-process fixed-window counter used when no redis
// URL is configured.
type localLimiter struct {
	mu      sync.Mutex
	cfg     RateLimitConfig
	window  int64
	counts  map[string]int
}

// NewLocalLimiter builds the in-process fallback Limiter.
func NewLocalLimiter(cfg RateLimitConfig) Limiter {
	return &localLimiter{cfg: cfg, counts: make(map[string]int)}
}

func (l *localLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	window := time.Now().Unix() / 60
	if window != l.window {
		l.window = window
		l.counts = make(map[string]int)
	}
	l.counts[key]++
	if l.counts[key] > l.cfg.RequestsPerMinute+l.cfg.Burst {
		retry := time.Duration(60-time.Now().Unix()%60) * time.Second
		return false, retry, nil
	}
	return true, 0, nil
}

// RateLimit returns middleware enforcing the limiter. On limiter errors
// (redis down) requests are let through; throttling is protection, not
// an availability dependency.
func RateLimit(limiter Limiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.RealIP()
			if ident, ok := auth.IdentityFromContext(c.Request().Context()); ok {
				key = ident.UserID
			}

			allowed, retryAfter, err := limiter.Allow(c.Request().Context(), key)
			if err != nil {
				return next(c)
			}
			if !allowed {
				c.Response().Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
