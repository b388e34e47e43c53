package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"blogger/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextMiddleware_PropagatesIDs(t *testing.T) {
	app := fiber.New()
	app.Use(requestid.New())
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(LocalsUserID, "user-7")
		return c.Next()
	})
	app.Use(ContextMiddleware())

	var gotRequestID, gotUserID string
	app.Get("/", func(c *fiber.Ctx) error {
		gotRequestID = observability.ExtractRequestID(c.UserContext())
		gotUserID = observability.ExtractUserID(c.UserContext())
		return c.SendStatus(fiber.StatusNoContent)
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.NotEmpty(t, gotRequestID)
	assert.Equal(t, resp.Header.Get(fiber.HeaderXRequestID), gotRequestID)
	assert.Equal(t, "user-7", gotUserID)
}

func TestStructuredLogger_WritesRequestLine(t *testing.T) {
	var buf bytes.Buffer
	prev := observability.Logger
	observability.Logger = observability.NewLoggerWithHandler(slog.NewJSONHandler(&buf, nil))
	t.Cleanup(func() { observability.Logger = prev })

	app := fiber.New()
	app.Use(requestid.New())
	app.Use(ContextMiddleware())
	app.Use(StructuredLogger())
	app.Get("/hello", func(c *fiber.Ctx) error { return c.SendString("hi") })

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/hello", nil))
	require.NoError(t, err)
	_ = resp.Body.Close()

	out := buf.String()
	assert.Contains(t, out, `"msg":"request processed"`)
	assert.Contains(t, out, `"path":"/hello"`)
	assert.Contains(t, out, `"status":200`)
	assert.Contains(t, out, `"request_id"`)
}

func TestTracingMiddleware_SetsTraceHeader(t *testing.T) {
	app := fiber.New()
	app.Use(TracingMiddleware())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	resp, err := app.Test(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
