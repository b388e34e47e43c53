package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCtxHandler_AddsContextValues(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithHandler(slog.NewJSONHandler(&buf, nil))

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithUserID(ctx, "user-1")
	ctx = WithTraceID(ctx, "trace-1")
	logger.With(slog.String("component", "test")).InfoContext(ctx, "hello")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "req-1", record["request_id"])
	assert.Equal(t, "user-1", record["user_id"])
	assert.Equal(t, "trace-1", record["trace_id"])
	assert.Equal(t, "test", record["component"])
}

func TestCtxHandler_OmitsMissingValues(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithHandler(slog.NewJSONHandler(&buf, nil))

	logger.InfoContext(context.Background(), "hello")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.NotContains(t, record, "request_id")
	assert.NotContains(t, record, "user_id")
}

func TestExtractors(t *testing.T) {
	ctx := WithUserID(WithRequestID(context.Background(), "r"), "u")
	assert.Equal(t, "r", ExtractRequestID(ctx))
	assert.Equal(t, "u", ExtractUserID(ctx))
	assert.Empty(t, ExtractUserID(context.Background()))
}
