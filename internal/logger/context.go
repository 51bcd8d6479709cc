package logger

import (
	"context"

	"go.uber.org/zap"
)

type contextKey string

const (
	loggerKey       contextKey = "logger"
	definitionIDKey contextKey = "definition_id"
)

// WithContext returns a new context with the logger attached
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the logger from context, or a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return logger
	}
	return zap.NewNop()
}

// WithDefinitionID records the definition being worked on and returns a
// logger carrying it as a field.
func WithDefinitionID(ctx context.Context, logger *zap.Logger, id string) (context.Context, *zap.Logger) {
	ctx = context.WithValue(ctx, definitionIDKey, id)
	enriched := logger.With(zap.String("definition_id", id))
	return WithContext(ctx, enriched), enriched
}

func GetDefinitionID(ctx context.Context) string {
	if id, ok := ctx.Value(definitionIDKey).(string); ok {
		return id
	}
	return ""
}
