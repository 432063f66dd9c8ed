package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPropagateToSubAgentKeepsTraceNewRun(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace-1")
	ctx = WithRunID(ctx, "run-1")

	child := PropagateToSubAgent(ctx, "agent-2")

	assert.Equal(t, "trace-1", GetTraceID(child))
	assert.Equal(t, "agent-2", GetAgentID(child))
	assert.NotEqual(t, "run-1", GetRunID(child))
	assert.NotEmpty(t, GetRunID(child))
}

func TestPropagateToSubAgentMintsTraceWhenMissing(t *testing.T) {
	child := PropagateToSubAgent(context.Background(), "agent-1")
	assert.NotEmpty(t, GetTraceID(child))
}

func TestLoggerFromContextAddsFields(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace-1")
	ctx = WithAgentID(ctx, "agent-1")

	var buf bytes.Buffer
	logger := LoggerFromContext(ctx, zerolog.New(&buf))
	logger.Info().Msg("hello")

	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, `"trace_id":"trace-1"`)
	assert.Contains(t, out, `"agent_id":"agent-1"`)
}

func TestLoggerFromContextBareContext(t *testing.T) {
	var buf bytes.Buffer
	logger := LoggerFromContext(context.Background(), zerolog.New(&buf))
	logger.Info().Msg("hello")

	assert.NotContains(t, buf.String(), "trace_id")
}

func TestStartSpanMirrorsTraceID(t *testing.T) {
	require.NoError(t, Init(Options{ServiceName: "kyra-test"}))

	ctx := WithRunID(context.Background(), NewRunID())
	ctx, span := StartSpan(ctx, "test", "test.operation")
	defer span.End()

	assert.NotEmpty(t, GetTraceID(ctx))
	assert.True(t, span.SpanContext().IsValid())
}
