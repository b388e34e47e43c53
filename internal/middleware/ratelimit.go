package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"blogger/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

var errNoStore = errors.New("rate limit store unavailable")

// Limiter counts requests per resource and caller in Redis with fixed windows.
// A disabled limiter or one without Redis lets everything through.
type Limiter struct {
	rdb     *redis.Client
	enabled bool
}

func NewLimiter(rdb *redis.Client, enabled bool) *Limiter {
	return &Limiter{rdb: rdb, enabled: enabled}
}

// Allow increments the caller's counter for resource and reports whether it is
// still within limit, along with the time left in the current window.
func (l *Limiter) Allow(ctx context.Context, resource, id string, limit int, window time.Duration) (bool, time.Duration, error) {
	if !l.enabled {
		return true, 0, nil
	}
	if l.rdb == nil {
		return false, 0, errNoStore
	}

	key := fmt.Sprintf("rl:%s:%s", resource, id)
	cnt, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	if cnt == 1 {
		if err := l.rdb.Expire(ctx, key, window).Err(); err != nil {
			return false, 0, err
		}
	}
	if cnt <= int64(limit) {
		return true, 0, nil
	}
	ttl, err := l.rdb.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = window
	}
	return false, ttl, nil
}

// Handler enforces limit requests per window for the named resource, keyed by the
// authenticated user when there is one and by client IP otherwise. Store failures
// fail open.
func (l *Limiter) Handler(limit int, window time.Duration, resource string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := "ip:" + c.IP()
		if uid, ok := c.Locals(LocalsUserID).(string); ok && uid != "" {
			id = "user:" + uid
		}

		allowed, retryAfter, err := l.Allow(c.UserContext(), resource, id, limit, window)
		if err != nil {
			observability.Logger.WarnContext(c.UserContext(), "rate limit check failed, allowing request",
				slog.String("resource", resource), slog.String("error", err.Error()))
			return c.Next()
		}
		if !allowed {
			observability.RateLimitRejections.WithLabelValues(resource).Inc()
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(retryAfter.Round(time.Second).Seconds())))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
				"code":  "RATE_LIMITED",
			})
		}
		return c.Next()
	}
}
