package messaging

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/erp/servicebus/internal/domain/shared"
	"go.uber.org/zap"
)

// InMemoryBroker implements shared.Broker with in-process pub/sub.
// Every delivery runs on its own goroutine, so a handler that blocks never
// holds up the publisher or other deliveries.
type InMemoryBroker struct {
	registry *HandlerRegistry
	codec    *EnvelopeCodec
	logger   *zap.Logger
	running  atomic.Bool
	wg       sync.WaitGroup

	mu      sync.RWMutex
	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewInMemoryBroker creates a new in-memory broker
func NewInMemoryBroker(logger *zap.Logger) *InMemoryBroker {
	return &InMemoryBroker{
		registry: NewHandlerRegistry(),
		codec:    NewEnvelopeCodec(),
		logger:   logger.Named("memory_broker"),
	}
}

// Publish delivers a copy of the envelope to every handler subscribed to the
// destination. It returns once deliveries are scheduled, not handled.
func (b *InMemoryBroker) Publish(ctx context.Context, destination string, env *shared.Envelope) error {
	if err := b.codec.Validate(env); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// The read lock orders wg.Add before Stop flips the running flag
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.running.Load() {
		return shared.ErrBrokerStopped
	}

	handlers := b.registry.GetHandlers(destination)
	if len(handlers) == 0 {
		b.logger.Debug("no subscribers for destination, message dropped",
			zap.String("destination", destination),
			zap.String("message_id", env.MessageID),
		)
		return nil
	}

	baseCtx := b.baseCtx
	for _, handler := range handlers {
		delivery := env.Clone()
		b.wg.Add(1)
		go func(h shared.MessageHandler) {
			defer b.wg.Done()
			_ = dispatchToHandler(baseCtx, b.logger, destination, h, delivery)
		}(handler)
	}
	return nil
}

// Subscribe registers a handler for a destination
func (b *InMemoryBroker) Subscribe(destination string, handler shared.MessageHandler) error {
	b.registry.Register(destination, handler)
	b.logger.Debug("handler subscribed", zap.String("destination", destination))
	return nil
}

// Unsubscribe removes a handler
func (b *InMemoryBroker) Unsubscribe(destination string, handler shared.MessageHandler) {
	b.registry.Unregister(destination, handler)
	b.logger.Debug("handler unsubscribed", zap.String("destination", destination))
}

// Start starts the broker
func (b *InMemoryBroker) Start(ctx context.Context) error {
	b.mu.Lock()
	b.baseCtx, b.cancel = context.WithCancel(context.WithoutCancel(ctx))
	b.running.Store(true)
	b.mu.Unlock()

	b.logger.Info("broker started")
	return nil
}

// Stop stops accepting messages and waits for in-flight deliveries
func (b *InMemoryBroker) Stop(ctx context.Context) error {
	b.mu.Lock()
	b.running.Store(false)
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	defer func() {
		b.mu.Lock()
		if b.cancel != nil {
			b.cancel()
		}
		b.mu.Unlock()
	}()

	select {
	case <-done:
		b.logger.Info("broker stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ensure InMemoryBroker implements Broker
var _ shared.Broker = (*InMemoryBroker)(nil)
