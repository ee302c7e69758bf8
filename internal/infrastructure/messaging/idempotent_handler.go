package messaging

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/erp/servicebus/internal/domain/shared"
)

// Delivery outcomes reported to DeliveryMetrics
const (
	DeliveryHandled   = "handled"
	DeliveryDuplicate = "duplicate"
	DeliveryFailed    = "failed"
)

// DeliveryMetrics counts deliveries that passed through an IdempotentHandler
type DeliveryMetrics interface {
	RecordDelivery(ctx context.Context, destination, outcome string)
}

type nopDeliveryMetrics struct{}

func (nopDeliveryMetrics) RecordDelivery(context.Context, string, string) {}

// IdempotentHandler handles each message ID once. A failed delivery releases
// its claim so the broker's redelivery gets another attempt.
type IdempotentHandler struct {
	destination string
	next        shared.MessageHandler
	store       shared.IdempotencyStore
	ttl         time.Duration
	metrics     DeliveryMetrics
	logger      *zap.Logger
}

var _ shared.MessageHandler = (*IdempotentHandler)(nil)

// IdempotentHandlerOption is a functional option for IdempotentHandler
type IdempotentHandlerOption func(*IdempotentHandler)

// WithClaimTTL sets how long handled message IDs are remembered
func WithClaimTTL(ttl time.Duration) IdempotentHandlerOption {
	return func(h *IdempotentHandler) {
		if ttl > 0 {
			h.ttl = ttl
		}
	}
}

// WithDeliveryMetrics sets the sink for delivery outcomes
func WithDeliveryMetrics(m DeliveryMetrics) IdempotentHandlerOption {
	return func(h *IdempotentHandler) {
		if m != nil {
			h.metrics = m
		}
	}
}

// NewIdempotentHandler wraps next, the handler subscribed to destination
func NewIdempotentHandler(destination string, next shared.MessageHandler, store shared.IdempotencyStore, logger *zap.Logger, opts ...IdempotentHandlerOption) *IdempotentHandler {
	h := &IdempotentHandler{
		destination: destination,
		next:        next,
		store:       store,
		ttl:         shared.DefaultIdempotencyTTL,
		metrics:     nopDeliveryMetrics{},
		logger:      logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle claims the message ID and runs next unless the ID was already handled
func (h *IdempotentHandler) Handle(ctx context.Context, env *shared.Envelope) error {
	log := h.logger.With(
		zap.String("destination", h.destination),
		zap.String("correlation_id", env.CorrelationID),
		zap.String("message_id", env.MessageID),
	)

	claimed, err := h.store.Claim(ctx, env.MessageID, h.ttl)
	switch {
	case err != nil:
		// handle anyway; requesters discard duplicate replies
		log.Warn("Idempotency store unavailable, handling without a claim", zap.Error(err))
	case !claimed:
		log.Debug("Duplicate delivery skipped")
		h.metrics.RecordDelivery(ctx, h.destination, DeliveryDuplicate)
		return nil
	}

	if err := h.next.Handle(ctx, env); err != nil {
		h.metrics.RecordDelivery(ctx, h.destination, DeliveryFailed)
		if claimed {
			if relErr := h.store.Release(ctx, env.MessageID); relErr != nil {
				log.Warn("Failed to release claim; redelivery will be skipped until it expires", zap.Error(relErr))
			}
		}
		return err
	}

	h.metrics.RecordDelivery(ctx, h.destination, DeliveryHandled)
	return nil
}
