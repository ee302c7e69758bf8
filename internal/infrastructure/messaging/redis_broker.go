package messaging

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/erp/servicebus/internal/domain/shared"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultChannelPrefix namespaces broker channels inside a shared Redis
const DefaultChannelPrefix = "servicebus:"

// RedisBroker implements shared.Broker on top of Redis Pub/Sub.
// Destinations map to channels named prefix+destination. Each received
// message is dispatched on its own goroutine.
type RedisBroker struct {
	client   redis.UniversalClient
	codec    *EnvelopeCodec
	registry *HandlerRegistry
	prefix   string
	logger   *zap.Logger

	mu      sync.Mutex
	pubsub  *redis.PubSub
	cancel  context.CancelFunc
	running atomic.Bool
	wg      sync.WaitGroup
}

// RedisBrokerOption is a functional option for RedisBroker
type RedisBrokerOption func(*RedisBroker)

// WithChannelPrefix sets the channel prefix
func WithChannelPrefix(prefix string) RedisBrokerOption {
	return func(b *RedisBroker) {
		b.prefix = prefix
	}
}

// NewRedisBroker creates a broker using an existing Redis client
func NewRedisBroker(client redis.UniversalClient, logger *zap.Logger, opts ...RedisBrokerOption) *RedisBroker {
	b := &RedisBroker{
		client:   client,
		codec:    NewEnvelopeCodec(),
		registry: NewHandlerRegistry(),
		prefix:   DefaultChannelPrefix,
		logger:   logger.Named("redis_broker"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish encodes the envelope and publishes it to the destination channel
func (b *RedisBroker) Publish(ctx context.Context, destination string, env *shared.Envelope) error {
	if !b.running.Load() {
		return shared.ErrBrokerStopped
	}
	data, err := b.codec.Encode(env)
	if err != nil {
		return err
	}

	channel := b.channel(destination)
	receivers, err := b.client.Publish(ctx, channel, data).Result()
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	if receivers == 0 {
		b.logger.Debug("no subscribers for destination, message dropped",
			zap.String("destination", destination),
			zap.String("message_id", env.MessageID),
		)
	}
	return nil
}

// Subscribe registers a handler and subscribes to the destination channel
// if the broker is already running
func (b *RedisBroker) Subscribe(destination string, handler shared.MessageHandler) error {
	first := b.registry.Register(destination, handler)
	if !first {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubsub == nil {
		// Picked up by Start
		return nil
	}
	if err := b.pubsub.Subscribe(context.Background(), b.channel(destination)); err != nil {
		b.registry.Unregister(destination, handler)
		return fmt.Errorf("failed to subscribe to %s: %w", destination, err)
	}
	b.logger.Debug("handler subscribed", zap.String("destination", destination))
	return nil
}

// Unsubscribe removes a handler and drops the channel subscription when no
// handlers remain
func (b *RedisBroker) Unsubscribe(destination string, handler shared.MessageHandler) {
	empty := b.registry.Unregister(destination, handler)
	if !empty {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubsub == nil {
		return
	}
	if err := b.pubsub.Unsubscribe(context.Background(), b.channel(destination)); err != nil {
		b.logger.Warn("failed to unsubscribe channel",
			zap.String("destination", destination),
			zap.Error(err),
		)
	}
}

// Start subscribes to every registered destination and starts the receive loop
func (b *RedisBroker) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pubsub != nil {
		return nil
	}

	destinations := b.registry.Destinations()
	channels := make([]string, 0, len(destinations))
	for _, d := range destinations {
		channels = append(channels, b.channel(d))
	}

	pubsub := b.client.Subscribe(ctx, channels...)
	if len(channels) > 0 {
		// Wait for the subscription confirmation so messages published right
		// after Start are not missed
		if _, err := pubsub.Receive(ctx); err != nil {
			_ = pubsub.Close()
			return fmt.Errorf("failed to subscribe to redis channels: %w", err)
		}
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.pubsub = pubsub
	b.cancel = cancel
	b.running.Store(true)

	b.wg.Add(1)
	go b.receiveLoop(loopCtx, pubsub.Channel())

	b.logger.Info("broker started",
		zap.String("channel_prefix", b.prefix),
		zap.Strings("destinations", destinations),
	)
	return nil
}

// Stop closes the subscription and waits for in-flight deliveries
func (b *RedisBroker) Stop(ctx context.Context) error {
	b.running.Store(false)

	b.mu.Lock()
	if b.cancel != nil {
		b.cancel()
	}
	var closeErr error
	if b.pubsub != nil {
		closeErr = b.pubsub.Close()
		b.pubsub = nil
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("broker stopped")
		return closeErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// receiveLoop reads messages until the subscription is closed
func (b *RedisBroker) receiveLoop(ctx context.Context, ch <-chan *redis.Message) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.deliver(ctx, msg)
		}
	}
}

// deliver decodes one message and dispatches it to every handler
func (b *RedisBroker) deliver(ctx context.Context, msg *redis.Message) {
	destination := strings.TrimPrefix(msg.Channel, b.prefix)

	env, err := b.codec.Decode([]byte(msg.Payload))
	if err != nil {
		b.logger.Warn("dropping undecodable message",
			zap.String("destination", destination),
			zap.Error(err),
		)
		return
	}

	for _, handler := range b.registry.GetHandlers(destination) {
		delivery := env.Clone()
		b.wg.Add(1)
		go func(h shared.MessageHandler) {
			defer b.wg.Done()
			_ = dispatchToHandler(ctx, b.logger, destination, h, delivery)
		}(handler)
	}
}

func (b *RedisBroker) channel(destination string) string {
	return b.prefix + destination
}

// Ensure RedisBroker implements Broker
var _ shared.Broker = (*RedisBroker)(nil)
