package requestreply

import (
	"context"
	"time"

	"github.com/erp/servicebus/internal/infrastructure/logger"
	"github.com/erp/servicebus/internal/infrastructure/telemetry"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Requester performs one blocking round trip: register, publish, await.
// Every call gets a fresh correlation ID and the pending entry is gone by the
// time Request returns, whatever the outcome.
type Requester[T any] struct {
	registry  *PendingRegistry[T]
	publisher *RequestPublisher
	metrics   Metrics
	logger    *zap.Logger
}

// RequesterOption is a functional option for Requester
type RequesterOption func(*requesterOptions)

type requesterOptions struct {
	metrics Metrics
}

// WithRequesterMetrics sets the metrics sink
func WithRequesterMetrics(metrics Metrics) RequesterOption {
	return func(o *requesterOptions) {
		o.metrics = metrics
	}
}

// NewRequester creates a requester. The registry must be the one the reply
// subscriber for publisher.ReplyTo() resolves into.
func NewRequester[T any](registry *PendingRegistry[T], publisher *RequestPublisher, log *zap.Logger, opts ...RequesterOption) *Requester[T] {
	o := requesterOptions{metrics: NopMetrics{}}
	for _, opt := range opts {
		opt(&o)
	}
	return &Requester[T]{
		registry:  registry,
		publisher: publisher,
		metrics:   o.metrics,
		logger:    log,
	}
}

// Request publishes payload to destination and waits up to timeout for the
// correlated reply.
//
// Errors: ErrPublishFailed if the request could not be sent, ErrReplyTimeout
// if no reply arrived in time, ErrRequestCancelled if ctx was cancelled.
func (r *Requester[T]) Request(ctx context.Context, destination string, payload any, timeout time.Duration) (T, error) {
	correlationID := NewCorrelationID()
	ctx, log := logger.WithCorrelationID(ctx, r.logger, correlationID)

	ctx, span := telemetry.StartSpan(ctx, "requestreply.request",
		telemetry.WithSpanKind(trace.SpanKindProducer),
		telemetry.WithMessage(destination, correlationID),
	)
	defer span.End()

	var zero T
	pending, err := r.registry.Register(correlationID)
	if err != nil {
		telemetry.RecordError(span, err)
		return zero, err
	}
	r.metrics.AddPending(ctx, 1)
	defer r.metrics.AddPending(ctx, -1)

	if err := r.publisher.Publish(ctx, destination, correlationID, payload); err != nil {
		r.registry.Cancel(correlationID)
		telemetry.RecordError(span, err)
		return zero, err
	}

	start := time.Now()
	value, err := r.registry.AwaitAndRemove(ctx, correlationID, pending, timeout)
	elapsed := time.Since(start)
	r.metrics.ObserveRoundTrip(ctx, destination, elapsed, err)
	if err != nil {
		log.Warn("request did not complete",
			zap.String("destination", destination),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		telemetry.RecordError(span, err)
		return zero, err
	}

	telemetry.SetOutcome(span, nil)
	return value, nil
}
