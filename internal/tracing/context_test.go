package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTraceID(t *testing.T) {
	id1 := NewTraceID()
	id2 := NewTraceID()

	assert.NotEmpty(t, id1)
	assert.NotEqual(t, id1, id2)
}

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithRunID(ctx, "run-1")
	ctx = WithUserID(ctx, "user-1")
	ctx = WithThreadID(ctx, "thread-1")
	ctx = WithRequestID(ctx, "req-1")

	assert.Equal(t, &TraceContext{
		TraceID:   "trace-1",
		RunID:     "run-1",
		UserID:    "user-1",
		ThreadID:  "thread-1",
		RequestID: "req-1",
	}, FromContext(ctx))
}

func TestGettersOnEmptyContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetTraceID(ctx))
	assert.Empty(t, GetRunID(ctx))
	assert.Empty(t, GetUserID(ctx))
	assert.Empty(t, GetThreadID(ctx))
	assert.Empty(t, GetRequestID(ctx))
}

func TestNewRunContext(t *testing.T) {
	ctx := NewRunContext(context.Background(), "run-1", "user-1", "thread-1")
	assert.NotEmpty(t, GetTraceID(ctx))
	assert.Equal(t, "run-1", GetRunID(ctx))
	assert.Equal(t, "user-1", GetUserID(ctx))
	assert.Equal(t, "thread-1", GetThreadID(ctx))

	// An existing trace id is kept.
	parent := WithTraceID(context.Background(), "trace-parent")
	ctx = NewRunContext(parent, "run-2", "user-1", "thread-1")
	assert.Equal(t, "trace-parent", GetTraceID(ctx))
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := NewRunContext(WithTraceID(context.Background(), "trace-1"), "run-1", "user-1", "thread-1")
	logger := LoggerFromContext(ctx, base)
	logger.Info().Msg("hello")

	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, `"trace_id":"trace-1"`)
	assert.Contains(t, out, `"run_id":"run-1"`)
	assert.Contains(t, out, `"user_id":"user-1"`)
	assert.Contains(t, out, `"thread_id":"thread-1"`)
	assert.NotContains(t, out, "request_id")
}

func TestStartSpanSetsTraceID(t *testing.T) {
	require.NoError(t, InitOpenTelemetry("steward-test"))

	ctx, span := StartSpan(context.Background(), "steward.test", "test.span")
	defer span.End()

	assert.NotEmpty(t, GetTraceID(ctx))
}
