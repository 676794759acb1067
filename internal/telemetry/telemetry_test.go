package telemetry

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLogger(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	dir := filepath.Join(t.TempDir(), "logs")
	logger, closeLog, err := InitLogger(dir, true)
	require.NoError(t, err)

	logger.Debug("session created", "session_id", "chat-1")
	closeLog()

	data, err := os.ReadFile(filepath.Join(dir, LogFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"session created"`)
	assert.Contains(t, string(data), `"session_id":"chat-1"`)
}

func TestInitTelemetry(t *testing.T) {
	dir := t.TempDir()
	tracer, meter, cleanup, err := InitTelemetry(context.Background(), dir)
	require.NoError(t, err)

	_, span := tracer.Start(context.Background(), "test.span")
	span.End()
	counter, err := meter.Int64Counter("test.counter")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)

	cleanup()

	traces, err := os.ReadFile(filepath.Join(dir, TracesFile))
	require.NoError(t, err)
	assert.Contains(t, string(traces), "test.span")
	assert.FileExists(t, filepath.Join(dir, MetricsFile))
}

func TestNoop(t *testing.T) {
	tracer, meter := Noop()
	_, span := tracer.Start(context.Background(), "x")
	span.End()
	_, err := meter.Int64Counter("x")
	assert.NoError(t, err)
}
