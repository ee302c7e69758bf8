package requestreply

import (
	"context"

	"github.com/erp/servicebus/internal/domain/shared"
	"github.com/erp/servicebus/internal/infrastructure/messaging"
	"go.uber.org/zap"
)

// RequestPublisher builds correlated request envelopes and hands them to the
// broker. It never retries: a failed publish is returned to the caller.
type RequestPublisher struct {
	broker  shared.MessagePublisher
	replyTo string
	source  string
	metrics Metrics
	logger  *zap.Logger
}

// PublisherOption is a functional option for RequestPublisher
type PublisherOption func(*RequestPublisher)

// WithSource stamps outgoing envelopes with the sending service name
func WithSource(source string) PublisherOption {
	return func(p *RequestPublisher) {
		p.source = source
	}
}

// WithPublisherMetrics sets the metrics sink
func WithPublisherMetrics(metrics Metrics) PublisherOption {
	return func(p *RequestPublisher) {
		p.metrics = metrics
	}
}

// NewRequestPublisher creates a publisher whose requests ask for replies on
// replyTo
func NewRequestPublisher(broker shared.MessagePublisher, replyTo string, logger *zap.Logger, opts ...PublisherOption) *RequestPublisher {
	p := &RequestPublisher{
		broker:  broker,
		replyTo: replyTo,
		metrics: NopMetrics{},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ReplyTo returns the destination replies are requested on
func (p *RequestPublisher) ReplyTo() string {
	return p.replyTo
}

// Publish sends payload to destination under correlationID. Any failure is
// wrapped in ErrPublishFailed.
func (p *RequestPublisher) Publish(ctx context.Context, destination, correlationID string, payload any) error {
	raw, err := messaging.EncodePayload(payload)
	if err != nil {
		p.metrics.ObservePublish(ctx, destination, err)
		return shared.ErrPublishFailed.Wrap(err)
	}

	env := shared.NewEnvelope(correlationID, raw)
	env.ReplyTo = p.replyTo
	env.SetHeader(shared.HeaderContentType, "application/json")
	if p.source != "" {
		env.SetHeader(shared.HeaderSource, p.source)
	}
	messaging.InjectTraceContext(ctx, env)

	err = p.broker.Publish(ctx, destination, env)
	p.metrics.ObservePublish(ctx, destination, err)
	if err != nil {
		p.logger.Error("failed to publish request",
			zap.String("destination", destination),
			zap.String("correlation_id", correlationID),
			zap.Error(err),
		)
		return shared.ErrPublishFailed.Wrap(err)
	}

	p.logger.Debug("request published",
		zap.String("destination", destination),
		zap.String("correlation_id", correlationID),
		zap.String("message_id", env.MessageID),
	)
	return nil
}
