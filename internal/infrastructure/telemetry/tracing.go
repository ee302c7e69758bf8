package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName names the tracer and meter every signal in this module comes from
const TracerName = "servicebus"

// Span attribute keys. Destination and aggregator reuse the metric keys.
var (
	AttrCorrelationID = attribute.Key("messaging.correlation_id")
	AttrMessageID     = attribute.Key("messaging.message_id")
	AttrReplyTo       = attribute.Key("messaging.reply_to")
	AttrKeys          = attribute.Key("enrichment.keys")
)

type SpanOption func(*spanConfig)

type spanConfig struct {
	kind  trace.SpanKind
	attrs []attribute.KeyValue
}

// WithSpanKind sets the span kind; the default is internal
func WithSpanKind(kind trace.SpanKind) SpanOption {
	return func(c *spanConfig) { c.kind = kind }
}

func WithAttributes(attrs ...attribute.KeyValue) SpanOption {
	return func(c *spanConfig) { c.attrs = append(c.attrs, attrs...) }
}

// WithMessage tags the span with the destination and correlation ID of a
// request/reply exchange
func WithMessage(destination, correlationID string) SpanOption {
	return WithAttributes(AttrDestination.String(destination), AttrCorrelationID.String(correlationID))
}

// StartSpan starts a span on the global tracer. The caller ends it.
//
//	ctx, span := telemetry.StartSpan(ctx, "resolver.handle",
//		telemetry.WithSpanKind(trace.SpanKindConsumer),
//		telemetry.WithMessage(destination, env.CorrelationID),
//	)
//	defer span.End()
func StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, trace.Span) {
	cfg := spanConfig{kind: trace.SpanKindInternal}
	for _, opt := range opts {
		opt(&cfg)
	}
	return otel.Tracer(TracerName).Start(ctx, name,
		trace.WithSpanKind(cfg.kind),
		trace.WithAttributes(cfg.attrs...),
	)
}

// RecordError records err on the span and marks it failed. A nil err is a no-op.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetOutcome marks the span failed with err, or successful when err is nil
func SetOutcome(span trace.Span, err error) {
	if err != nil {
		RecordError(span, err)
		return
	}
	span.SetStatus(codes.Ok, "")
}
