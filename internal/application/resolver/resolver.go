// Package resolver answers batch lookup requests arriving over the broker.
// Each request message produces exactly one reply carrying the request's
// correlation ID; keys the store cannot resolve are simply absent.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/servicebus/internal/domain/shared"
	"github.com/erp/servicebus/internal/infrastructure/messaging"
	"github.com/erp/servicebus/internal/infrastructure/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultLookupTimeout bounds a store lookup when none is configured
const DefaultLookupTimeout = 5 * time.Second

// ErrNoReplyDestination is returned when a request has no ReplyTo and no
// default reply destination is configured
var ErrNoReplyDestination = errors.New("resolver: no reply destination")

// Lookup fetches the records for keys. Keys with no record are omitted from
// the result.
type Lookup[K comparable, R any] interface {
	FindByKeys(ctx context.Context, keys []K) ([]R, error)
}

// LookupFunc adapts a function to Lookup
type LookupFunc[K comparable, R any] func(ctx context.Context, keys []K) ([]R, error)

// FindByKeys calls f(ctx, keys)
func (f LookupFunc[K, R]) FindByKeys(ctx context.Context, keys []K) ([]R, error) {
	return f(ctx, keys)
}

// Config holds resolver settings
type Config struct {
	// Name labels logs and spans
	Name string
	// Destination is the request destination the resolver consumes
	Destination string
	// DefaultReplyTo is used for requests that carry no ReplyTo
	DefaultReplyTo string
	// LookupTimeout bounds each store lookup
	LookupTimeout time.Duration
}

// Resolver consumes BatchRequest[K] envelopes and publishes BatchReply[R]
type Resolver[K comparable, R any] struct {
	cfg       Config
	lookup    Lookup[K, R]
	publisher shared.MessagePublisher
	logger    *zap.Logger
}

// New creates a resolver
func New[K comparable, R any](cfg Config, lookup Lookup[K, R], publisher shared.MessagePublisher, logger *zap.Logger) *Resolver[K, R] {
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = DefaultLookupTimeout
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Destination
	}
	return &Resolver[K, R]{
		cfg:       cfg,
		lookup:    lookup,
		publisher: publisher,
		logger:    logger.With(zap.String("resolver", cfg.Name)),
	}
}

// Destination returns the request destination
func (r *Resolver[K, R]) Destination() string {
	return r.cfg.Destination
}

// Bind subscribes the resolver to its request destination. With a non-nil
// store, redelivered request messages are answered only once.
func (r *Resolver[K, R]) Bind(sub shared.MessageSubscriber, store shared.IdempotencyStore, opts ...messaging.IdempotentHandlerOption) error {
	var handler shared.MessageHandler = r
	if store != nil {
		handler = messaging.NewIdempotentHandler(r.cfg.Destination, r, store, r.logger, opts...)
	}
	if err := sub.Subscribe(r.cfg.Destination, handler); err != nil {
		return fmt.Errorf("bind resolver %s: %w", r.cfg.Name, err)
	}
	return nil
}

// Handle answers one request. Undecodable requests and lookup failures still
// get an empty reply so the requester is not left waiting for a timeout.
func (r *Resolver[K, R]) Handle(ctx context.Context, env *shared.Envelope) error {
	replyTo := env.ReplyTo
	if replyTo == "" {
		replyTo = r.cfg.DefaultReplyTo
	}
	if replyTo == "" {
		r.logger.Warn("request has no reply destination, dropping",
			zap.String("correlation_id", env.CorrelationID),
			zap.String("message_id", env.MessageID),
		)
		return ErrNoReplyDestination
	}

	ctx, span := telemetry.StartSpan(ctx, "resolver.handle",
		telemetry.WithSpanKind(trace.SpanKindConsumer),
		telemetry.WithMessage(r.cfg.Destination, env.CorrelationID),
		telemetry.WithAttributes(
			telemetry.AttrMessageID.String(env.MessageID),
			telemetry.AttrReplyTo.String(replyTo),
		),
	)
	defer span.End()

	records := r.resolve(ctx, env)

	raw, err := messaging.EncodePayload(shared.BatchReply[R]{Records: records})
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	reply := shared.NewEnvelope(env.CorrelationID, raw)
	reply.SetHeader(shared.HeaderContentType, "application/json")
	reply.SetHeader(shared.HeaderSource, r.cfg.Name)
	messaging.InjectTraceContext(ctx, reply)

	if err := r.publisher.Publish(ctx, replyTo, reply); err != nil {
		telemetry.RecordError(span, err)
		return shared.ErrPublishFailed.Wrap(err)
	}

	span.SetAttributes(attribute.Int("resolver.returned", len(records)))
	r.logger.Debug("reply published",
		zap.String("correlation_id", env.CorrelationID),
		zap.String("reply_to", replyTo),
		zap.Int("records", len(records)),
	)
	return nil
}

// resolve decodes the request and runs the lookup. It never returns nil so
// the reply always encodes an empty list rather than null.
func (r *Resolver[K, R]) resolve(ctx context.Context, env *shared.Envelope) []R {
	var req shared.BatchRequest[K]
	if err := env.DecodePayload(&req); err != nil {
		r.logger.Warn("undecodable request, replying empty",
			zap.String("correlation_id", env.CorrelationID),
			zap.Error(err),
		)
		return []R{}
	}
	if len(req.Keys) == 0 {
		return []R{}
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.cfg.LookupTimeout)
	defer cancel()

	records, err := r.lookup.FindByKeys(lookupCtx, req.Keys)
	if err != nil {
		r.logger.Warn("lookup failed, replying empty",
			zap.String("correlation_id", env.CorrelationID),
			zap.Int("keys", len(req.Keys)),
			zap.Error(err),
		)
		return []R{}
	}
	if records == nil {
		return []R{}
	}
	return records
}

// Ensure Resolver implements MessageHandler
var _ shared.MessageHandler = (*Resolver[string, struct{}])(nil)
