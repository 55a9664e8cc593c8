package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spectraline/partner-portal/pkg/contextkeys"
)

func decodeLogLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	line := strings.TrimSpace(buf.String())
	require.NotEmpty(t, line, "expected a log line")
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	return entry
}

func TestLogger_EmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.Info("session created")

	entry := decodeLogLine(t, &buf)
	assert.Equal(t, "session created", entry["msg"])
	assert.Equal(t, "INFO", entry["level"])
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WarnLevel, &buf)

	logger.Debug("not emitted")
	logger.Info("not emitted either")
	assert.Empty(t, buf.String())

	logger.Warn("emitted")
	assert.Contains(t, buf.String(), "emitted")
}

func TestLogger_WithField(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithField("flow", "invite").Info("callback handled")

	entry := decodeLogLine(t, &buf)
	assert.Equal(t, "invite", entry["flow"])
}

func TestLogger_WithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithFields(map[string]interface{}{
		"user_id":        "user-1",
		"distributor_id": "dist-1",
	}).Info("customer created")

	entry := decodeLogLine(t, &buf)
	assert.Equal(t, "user-1", entry["user_id"])
	assert.Equal(t, "dist-1", entry["distributor_id"])
}

func TestLogger_WithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithError(errors.New("connection refused")).Error("redis unavailable")

	entry := decodeLogLine(t, &buf)
	assert.Equal(t, "connection refused", entry["error"])
}

func TestLogger_WithErrorNil(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithError(nil).Info("fine")

	entry := decodeLogLine(t, &buf)
	_, hasError := entry["error"]
	assert.False(t, hasError)
}

func TestLogger_FormattedVariants(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DebugLevel, &buf)

	logger.Infof("pruned %d rows", 42)

	entry := decodeLogLine(t, &buf)
	assert.Equal(t, "pruned 42 rows", entry["msg"])
}

func TestLogger_FromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	ctx := contextkeys.WithRequestID(context.Background(), "req-7")
	ctx = contextkeys.WithUserID(ctx, "user-9")
	ctx = contextkeys.WithDistributor(ctx, "dist-3")

	logger.FromContext(ctx).Info("download recorded")

	entry := decodeLogLine(t, &buf)
	assert.Equal(t, "req-7", entry["request_id"])
	assert.Equal(t, "user-9", entry["user_id"])
	assert.Equal(t, "dist-3", entry["distributor_id"])
}

func TestLogger_FromContextEmpty(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.FromContext(context.Background()).Info("plain")

	entry := decodeLogLine(t, &buf)
	_, hasRequestID := entry["request_id"]
	assert.False(t, hasRequestID)
}

func TestLogLevel_String(t *testing.T) {
	assert.Equal(t, "DEBUG", DebugLevel.String())
	assert.Equal(t, "INFO", InfoLevel.String())
	assert.Equal(t, "WARN", WarnLevel.String())
	assert.Equal(t, "ERROR", ErrorLevel.String())
}
