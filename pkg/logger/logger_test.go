package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWithContextAddsTraceFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(LoggingConfig{Level: "debug", Format: "json", Output: &buf}).Module("rounds")

	ctx := WithTraceID(context.Background(), "trace-1")
	ctx = WithActor(ctx, "0xabc")
	log.WithContext(ctx).Info("round created")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "rounds", line["module"])
	require.Equal(t, "trace-1", line["trace_id"])
	require.Equal(t, "0xabc", line["actor"])
	require.Equal(t, "round created", line["msg"])
}

func TestNewFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New(LoggingConfig{Level: "loud", Output: &buf})
	log.Debug("hidden")
	require.Zero(t, buf.Len())
	log.Info("shown")
	require.Contains(t, buf.String(), "shown")
}

func TestContextHelpersTolerateMissingValues(t *testing.T) {
	var ctx context.Context
	require.Empty(t, TraceID(ctx))
	require.Empty(t, Actor(context.Background()))
	require.NotEmpty(t, NewTraceID())
	require.Equal(t, context.Background(), WithTraceID(context.Background(), ""))
}
