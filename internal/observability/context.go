package observability

import (
	"context"

	"go.uber.org/zap"
)

type contextKey string

const (
	loggerKey        contextKey = "logger"
	correlationIDKey contextKey = "correlation_id"
)

// WithCorrelationID returns a copy of ctx carrying id and a logger tagged with it.
func WithCorrelationID(ctx context.Context, logger *zap.Logger, id string) context.Context {
	ctx = context.WithValue(ctx, correlationIDKey, id)
	if logger != nil {
		ctx = context.WithValue(ctx, loggerKey, logger.With(zap.String("correlation_id", id)))
	}
	return ctx
}

// CorrelationID returns the request correlation ID, or "" when none is set.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext returns the request-scoped logger, or fallback when ctx has none.
// A nil fallback yields a no-op logger.
func LoggerFromContext(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	if fallback != nil {
		return fallback
	}
	return zap.NewNop()
}
