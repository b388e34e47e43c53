// Package middleware holds the Fiber middleware shared by every route.
package middleware

import (
	"log/slog"
	"time"

	"blogger/internal/observability"

	"github.com/gofiber/fiber/v2"
)

// Fiber locals written by the request pipeline.
const (
	LocalsRequestID = "requestid"
	LocalsUserID    = "userID"
	LocalsTraceID   = "traceID"
)

// ContextMiddleware copies the request, user and trace ids from Fiber locals into the
// request context so the context-aware logger picks them up in deeper layers.
func ContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		if rid, ok := c.Locals(LocalsRequestID).(string); ok && rid != "" {
			ctx = observability.WithRequestID(ctx, rid)
		}
		if uid, ok := c.Locals(LocalsUserID).(string); ok && uid != "" {
			ctx = observability.WithUserID(ctx, uid)
		}
		if tid, ok := c.Locals(LocalsTraceID).(string); ok && tid != "" {
			ctx = observability.WithTraceID(ctx, tid)
		}
		c.SetUserContext(ctx)
		return c.Next()
	}
}

// StructuredLogger logs one line per request after it has been handled.
func StructuredLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		fields := []any{
			slog.Int("status", c.Response().StatusCode()),
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.String("ip", c.IP()),
			slog.Duration("latency", time.Since(start)),
			slog.String("user_agent", c.Get(fiber.HeaderUserAgent)),
		}
		if err != nil {
			fields = append(fields, slog.String("error", err.Error()))
			observability.Logger.ErrorContext(c.UserContext(), "request failed", fields...)
		} else {
			observability.Logger.InfoContext(c.UserContext(), "request processed", fields...)
		}
		return err
	}
}
