package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.MessageKey = "msg"
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(buf), zap.DebugLevel)

	prev := Log
	Log = zap.New(core)
	t.Cleanup(func() { Log = prev })
	return buf
}

func TestLogger_Info_WithTraceAndRequestID(t *testing.T) {
	buf := captureLog(t)

	ctx := context.WithValue(context.Background(), TraceIdKey, "trace-1")
	ctx = context.WithValue(ctx, RequestIdKey, "req-9")
	Info(ctx, "tick stored", zap.String("symbol", "SPY"), zap.Float64("price", 501.25))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "tick stored", entry["msg"])
	assert.Equal(t, "SPY", entry["symbol"])
	assert.Equal(t, 501.25, entry["price"])
	assert.Equal(t, "trace-1", entry["trace_id"])
	assert.Equal(t, "req-9", entry["request_id"])
}

func TestLogger_Error_NoIDs(t *testing.T) {
	buf := captureLog(t)

	Error(context.Background(), "store unavailable", zap.String("db", "postgres"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	_, hasTrace := entry["trace_id"]
	_, hasReq := entry["request_id"]
	assert.False(t, hasTrace)
	assert.False(t, hasReq)
	assert.Equal(t, "error", entry["level"])
}

func TestLogger_NilContextAndNopDefault(t *testing.T) {
	// the zero-setup logger must be usable
	assert.NotPanics(t, func() {
		//nolint:staticcheck // nil ctx is tolerated on purpose
		Warn(nil, "no ctx")
	})
}
