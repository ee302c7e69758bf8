package requestreply

import (
	"context"

	"github.com/erp/servicebus/internal/domain/shared"
	"go.uber.org/zap"
)

// ReplySubscriber is the standing handler for one reply destination. It
// decodes each reply as T and settles the matching pending request.
// Replies nobody is waiting for are expected (the wait already timed out)
// and are only logged.
type ReplySubscriber[T any] struct {
	destination string
	registry    *PendingRegistry[T]
	metrics     Metrics
	logger      *zap.Logger
}

// SubscriberOption is a functional option for ReplySubscriber
type SubscriberOption func(*subscriberOptions)

type subscriberOptions struct {
	metrics Metrics
}

// WithSubscriberMetrics sets the metrics sink
func WithSubscriberMetrics(metrics Metrics) SubscriberOption {
	return func(o *subscriberOptions) {
		o.metrics = metrics
	}
}

// NewReplySubscriber creates a subscriber for destination
func NewReplySubscriber[T any](destination string, registry *PendingRegistry[T], logger *zap.Logger, opts ...SubscriberOption) *ReplySubscriber[T] {
	o := subscriberOptions{metrics: NopMetrics{}}
	for _, opt := range opts {
		opt(&o)
	}
	return &ReplySubscriber[T]{
		destination: destination,
		registry:    registry,
		metrics:     o.metrics,
		logger:      logger,
	}
}

// Destination returns the reply destination this subscriber listens on
func (s *ReplySubscriber[T]) Destination() string {
	return s.destination
}

// Bind subscribes the handler to its destination
func (s *ReplySubscriber[T]) Bind(sub shared.MessageSubscriber) error {
	return sub.Subscribe(s.destination, s)
}

// Handle resolves the pending request for the envelope's correlation ID.
// It never returns an error: bad or unexpected replies are dropped.
func (s *ReplySubscriber[T]) Handle(ctx context.Context, env *shared.Envelope) error {
	var value T
	if err := env.DecodePayload(&value); err != nil {
		s.logger.Warn("dropping undecodable reply",
			zap.String("destination", s.destination),
			zap.String("correlation_id", env.CorrelationID),
			zap.String("message_id", env.MessageID),
			zap.Error(err),
		)
		return nil
	}

	if !s.registry.Resolve(env.CorrelationID, value) {
		s.metrics.ObserveLateReply(ctx, s.destination)
	}
	return nil
}

// Ensure ReplySubscriber implements MessageHandler
var _ shared.MessageHandler = (*ReplySubscriber[struct{}])(nil)
