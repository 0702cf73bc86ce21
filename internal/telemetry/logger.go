// Package telemetry provides the logging, event-emission, and metrics
// surface shared by every LightQ core package.
//
// Logger exposes structured key-value pairs at four levels; no caller does
// its own fmt.Sprintf formatting. Lifecycle events are emitted as
// CloudEvents through EventEmitter.
package telemetry

import (
	"context"

	"go.uber.org/zap"
)

// Logger is the structured logging contract every core package depends on.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// ZapLogger adapts a zap.SugaredLogger to the Logger interface.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger builds a production zap logger wrapped as a Logger.
func NewZapLogger() (*ZapLogger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return &ZapLogger{sugar: l.Sugar()}, nil
}

// NewZapLoggerFrom wraps an already-constructed zap logger.
func NewZapLoggerFrom(l *zap.Logger) *ZapLogger {
	return &ZapLogger{sugar: l.Sugar()}
}

func (z *ZapLogger) Debug(msg string, kv ...interface{}) { z.sugar.Debugw(msg, kv...) }
func (z *ZapLogger) Info(msg string, kv ...interface{})  { z.sugar.Infow(msg, kv...) }
func (z *ZapLogger) Warn(msg string, kv ...interface{})  { z.sugar.Warnw(msg, kv...) }
func (z *ZapLogger) Error(msg string, kv ...interface{}) { z.sugar.Errorw(msg, kv...) }

// Sync flushes buffered log entries; callers invoke it during shutdown.
func (z *ZapLogger) Sync() error { return z.sugar.Sync() }

// NopLogger discards everything; used by tests that don't assert on logs.
type NopLogger struct{}

func (NopLogger) Debug(string, ...interface{}) {}
func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Warn(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}

// EventEmitter is the narrow event-emission contract queue components
// depend on instead of importing cloudevents directly.
type EventEmitter interface {
	Emit(ctx context.Context, eventType, source string, data map[string]interface{})
}
