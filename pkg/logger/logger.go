package logger

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap.Logger with the application's field helpers.
type Logger struct {
	*zap.Logger
}

// New creates a Logger with the given level and encoding ("json" or "console").
func New(level, encoding string) (*Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	if encoding == "" {
		encoding = "json"
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Encoding:         encoding,
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	zl, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("failed to build zap logger: %w", err)
	}

	return &Logger{Logger: zl}, nil
}

// NewNop returns a Logger that discards everything. Used in tests.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// ErrorField wraps an error as a zap field.
func ErrorField(err error) zap.Field {
	return zap.Error(err)
}

// StringField wraps a string as a zap field.
func StringField(key, value string) zap.Field {
	return zap.String(key, value)
}

// IntField wraps an int as a zap field.
func IntField(key string, value int) zap.Field {
	return zap.Int(key, value)
}

// Int64Field wraps an int64 as a zap field.
func Int64Field(key string, value int64) zap.Field {
	return zap.Int64(key, value)
}

// DurationField wraps a duration as a zap field.
func DurationField(key string, value time.Duration) zap.Field {
	return zap.Duration(key, value)
}

// Field wraps an arbitrary value as a zap field.
func Field(key string, value interface{}) zap.Field {
	return zap.Any(key, value)
}
