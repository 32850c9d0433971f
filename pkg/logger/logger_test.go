package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithRunID(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx = ContextWithRunID(ctx, "run-1")
	WithRunID(ctx, base).Info("started")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "run-1", fields["run_id"])
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "run-1", RunIDFromContext(ctx))
}

func TestWithRunIDWithoutValues(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	WithRunID(context.Background(), zap.New(core)).Info("plain")

	require.Equal(t, 1, logs.Len())
	assert.Empty(t, logs.All()[0].ContextMap())
	assert.Empty(t, RunIDFromContext(context.Background()))
}

func TestNewFallsBackToInfo(t *testing.T) {
	log, err := New(Config{Level: "nonsense", Encoding: "console"})
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
}
