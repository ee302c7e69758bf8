package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type contextKey int

const (
	loggerKey contextKey = iota
	messageKey
)

// messageIDs identifies the message a context is handling
type messageIDs struct {
	correlationID string
	messageID     string
}

// WithContext returns a context carrying logger
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the context's logger, or a nop logger
func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return logger
	}
	return zap.NewNop()
}

// WithMessage records the correlation and message IDs in ctx and tags logger
// with them. An empty messageID is left out. The tagged logger is returned and
// also attached to the context.
func WithMessage(ctx context.Context, logger *zap.Logger, correlationID, messageID string) (context.Context, *zap.Logger) {
	ctx = context.WithValue(ctx, messageKey, messageIDs{correlationID: correlationID, messageID: messageID})

	fields := []zap.Field{zap.String("correlation_id", correlationID)}
	if messageID != "" {
		fields = append(fields, zap.String("message_id", messageID))
	}
	logger = logger.With(fields...)
	return WithContext(ctx, logger), logger
}

// WithCorrelationID is WithMessage for a request that has no message yet
func WithCorrelationID(ctx context.Context, logger *zap.Logger, correlationID string) (context.Context, *zap.Logger) {
	return WithMessage(ctx, logger, correlationID, "")
}

// GetCorrelationID returns the correlation ID recorded by WithMessage
func GetCorrelationID(ctx context.Context) string {
	ids, _ := ctx.Value(messageKey).(messageIDs)
	return ids.correlationID
}

// GetMessageID returns the message ID recorded by WithMessage
func GetMessageID(ctx context.Context) string {
	ids, _ := ctx.Value(messageKey).(messageIDs)
	return ids.messageID
}

// L returns the context's logger with trace_id and span_id added when ctx
// holds a valid span
//
//	logger.L(ctx).Error("handler failed", zap.Error(err))
func L(ctx context.Context) *zap.Logger {
	return WithTraceContext(ctx, FromContext(ctx))
}

// WithTraceContext adds trace_id and span_id from the context's span to
// logger. Without a valid span logger is returned unchanged.
func WithTraceContext(ctx context.Context, logger *zap.Logger) *zap.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return logger
	}
	return logger.With(
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	)
}
