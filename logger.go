package dispatch

import (
	"go.uber.org/zap"
)

// Logger defines the interface for runtime logging.
// The dispatch runtime uses structured logging with key-value pairs
// to provide consistent, parseable log output across all components.
//
// The Logger interface uses variadic arguments in key-value pairs:
//
//	logger.Info("message", "key1", "value1", "key2", "value2")
//
// This approach is compatible with popular structured logging libraries
// like slog, zap, logrus, and others.
type Logger interface {
	// Info logs an informational message with optional key-value pairs.
	// Used for normal runtime events like provider registration, config
	// application, module attach/detach, etc.
	Info(msg string, args ...any)

	// Error logs an error message with optional key-value pairs.
	// Used for failures that don't abort the operation but should be noted,
	// such as isolated event handler errors.
	Error(msg string, args ...any)

	// Warn logs a warning message with optional key-value pairs.
	Warn(msg string, args ...any)

	// Debug logs a debug message with optional key-value pairs.
	// Used for detailed diagnostic information such as per-event delivery
	// and per-attempt execution traces.
	Debug(msg string, args ...any)
}

// ZapLogger adapts a zap.SugaredLogger to the Logger interface.
// zap's *w methods take loosely typed key-value pairs, which matches the
// Logger contract directly.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger wraps an existing zap logger for use by the runtime.
func NewZapLogger(l *zap.Logger) *ZapLogger {
	return &ZapLogger{sugar: l.Sugar()}
}

// Info implements Logger.
func (z *ZapLogger) Info(msg string, args ...any) { z.sugar.Infow(msg, args...) }

// Error implements Logger.
func (z *ZapLogger) Error(msg string, args ...any) { z.sugar.Errorw(msg, args...) }

// Warn implements Logger.
func (z *ZapLogger) Warn(msg string, args ...any) { z.sugar.Warnw(msg, args...) }

// Debug implements Logger.
func (z *ZapLogger) Debug(msg string, args ...any) { z.sugar.Debugw(msg, args...) }

// NoopLogger discards all log output. It is the default logger for
// components constructed without an explicit one.
type NoopLogger struct{}

// Info implements Logger.
func (NoopLogger) Info(msg string, args ...any) {}

// Error implements Logger.
func (NoopLogger) Error(msg string, args ...any) {}

// Warn implements Logger.
func (NoopLogger) Warn(msg string, args ...any) {}

// Debug implements Logger.
func (NoopLogger) Debug(msg string, args ...any) {}
