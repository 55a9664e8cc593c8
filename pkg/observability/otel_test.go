package observability

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInitOTel_Disabled(t *testing.T) {
	logger := NewLogger(ErrorLevel, io.Discard)

	providers, err := InitOTel(context.Background(), OTelConfig{Enabled: false}, logger)

	require.NoError(t, err)
	assert.Nil(t, providers)
}

func TestShutdownOTel_NilProviders(t *testing.T) {
	logger := NewLogger(ErrorLevel, io.Discard)
	assert.NoError(t, ShutdownOTel(context.Background(), nil, logger))
}

func TestShutdownOTel_EmptyProviders(t *testing.T) {
	logger := NewLogger(ErrorLevel, io.Discard)
	assert.NoError(t, ShutdownOTel(context.Background(), &OTelProviders{}, logger))
}

func TestLoggerWithTraceContext_NoSpan(t *testing.T) {
	logger := NewLogger(ErrorLevel, io.Discard)

	// Without a recording span the logger comes back unchanged
	enriched := LoggerWithTraceContext(context.Background(), logger)
	assert.Same(t, logger, enriched)
}

func TestLoggerWithTraceContext_RecordingSpan(t *testing.T) {
	logger := NewLogger(ErrorLevel, io.Discard)

	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())

	ctx, span := tp.Tracer("test").Start(context.Background(), "callback")
	defer span.End()

	enriched := LoggerWithTraceContext(ctx, logger)
	assert.NotSame(t, logger, enriched)
}
