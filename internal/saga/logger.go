package saga

import (
	"context"

	"go.uber.org/zap"
)

// Logger interface for saga logging
type Logger interface {
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	// Context-aware logging methods
	InfoContext(ctx context.Context, msg string, fields ...interface{})
	WarnContext(ctx context.Context, msg string, fields ...interface{})
	ErrorContext(ctx context.Context, msg string, fields ...interface{})
}

// NoOpLogger is a no-op logger implementation
type NoOpLogger struct{}

func (l *NoOpLogger) Info(msg string, fields ...interface{})                              {}
func (l *NoOpLogger) Warn(msg string, fields ...interface{})                              {}
func (l *NoOpLogger) Error(msg string, fields ...interface{})                             {}
func (l *NoOpLogger) InfoContext(ctx context.Context, msg string, fields ...interface{})  {}
func (l *NoOpLogger) WarnContext(ctx context.Context, msg string, fields ...interface{})  {}
func (l *NoOpLogger) ErrorContext(ctx context.Context, msg string, fields ...interface{}) {}

// ZapLogger adapts a zap logger to the saga Logger interface
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger creates a saga logger backed by zap
func NewZapLogger(logger *zap.Logger) *ZapLogger {
	return &ZapLogger{sugar: logger.Sugar()}
}

func (l *ZapLogger) Info(msg string, fields ...interface{})  { l.sugar.Infow(msg, fields...) }
func (l *ZapLogger) Warn(msg string, fields ...interface{})  { l.sugar.Warnw(msg, fields...) }
func (l *ZapLogger) Error(msg string, fields ...interface{}) { l.sugar.Errorw(msg, fields...) }

func (l *ZapLogger) InfoContext(ctx context.Context, msg string, fields ...interface{}) {
	l.sugar.Infow(msg, fields...)
}
func (l *ZapLogger) WarnContext(ctx context.Context, msg string, fields ...interface{}) {
	l.sugar.Warnw(msg, fields...)
}
func (l *ZapLogger) ErrorContext(ctx context.Context, msg string, fields ...interface{}) {
	l.sugar.Errorw(msg, fields...)
}
