package logger

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Context keys read by the ctx-aware helpers below.
const (
	TraceIdKey   = "trace_id"
	RequestIdKey = "request_id"
)

// Log is the process-wide logger. It is a no-op until Init is called so that
// library code and tests can log without setup.
var Log = zap.NewNop()

// Config controls Init.
type Config struct {
	Service string `mapstructure:"service"`
	Level   string `mapstructure:"level"`
	// File defaults to logs/{service}.log; "-" disables the file sink.
	File string `mapstructure:"file"`
}

// Init builds the JSON logger used by every service component.
func Init(serviceName string, level string) {
	InitWithConfig(Config{Service: serviceName, Level: level})
}

// InitWithConfig writes to stdout and, unless disabled, to a log file.
func InitWithConfig(c Config) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(c.Level)); err != nil {
		zapLevel = zap.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.MessageKey = "msg"

	sinks := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}
	if f := openLogFile(c); f != nil {
		sinks = append(sinks, zapcore.AddSync(f))
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.NewMultiWriteSyncer(sinks...),
		zapLevel,
	)

	// skip 1: callers go through Info/Warn/... below
	Log = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).
		With(zap.String("service", c.Service))
}

func openLogFile(c Config) *os.File {
	path := c.File
	if path == "-" {
		return nil
	}
	if path == "" {
		path = filepath.Join("logs", c.Service+".log")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil
	}
	return f
}

func Info(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Info(msg, withCtx(ctx, fields)...)
}

func Error(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Error(msg, withCtx(ctx, fields)...)
}

func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Warn(msg, withCtx(ctx, fields)...)
}

func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Debug(msg, withCtx(ctx, fields)...)
}

// Fatal logs and exits the process.
func Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Fatal(msg, withCtx(ctx, fields)...)
}

// withCtx appends trace_id / request_id found in ctx.
func withCtx(ctx context.Context, fields []zap.Field) []zap.Field {
	if ctx == nil {
		return fields
	}
	if v, ok := ctx.Value(TraceIdKey).(string); ok && v != "" {
		fields = append(fields, zap.String(TraceIdKey, v))
	}
	if v, ok := ctx.Value(RequestIdKey).(string); ok && v != "" {
		fields = append(fields, zap.String(RequestIdKey, v))
	}
	return fields
}

// Sync flushes buffered entries; call it from main via defer.
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}
