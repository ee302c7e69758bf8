package shared

import "context"

// MessageHandler handles envelopes delivered on a destination
type MessageHandler interface {
	// Handle processes one delivered envelope
	Handle(ctx context.Context, env *Envelope) error
}

// MessageHandlerFunc adapts a function to MessageHandler. Function handlers
// cannot be compared, so they cannot be unsubscribed individually.
type MessageHandlerFunc func(ctx context.Context, env *Envelope) error

// Handle calls f(ctx, env)
func (f MessageHandlerFunc) Handle(ctx context.Context, env *Envelope) error {
	return f(ctx, env)
}

// MessagePublisher publishes envelopes to a named destination
type MessagePublisher interface {
	// Publish hands the envelope to the broker. An error means the broker did
	// not accept the message; nothing is retried.
	Publish(ctx context.Context, destination string, env *Envelope) error
}

// MessageSubscriber binds handlers to destinations
type MessageSubscriber interface {
	// Subscribe registers a handler for a destination
	Subscribe(destination string, handler MessageHandler) error
	// Unsubscribe removes a handler from a destination
	Unsubscribe(destination string, handler MessageHandler)
}

// Broker is an asynchronous publish/subscribe transport. Delivery is
// at-least-once with no ordering guarantee and no deduplication; each
// delivered message is handled on its own goroutine.
type Broker interface {
	MessagePublisher
	MessageSubscriber
	// Start starts delivery
	Start(ctx context.Context) error
	// Stop stops delivery and waits for in-flight handlers
	Stop(ctx context.Context) error
}
