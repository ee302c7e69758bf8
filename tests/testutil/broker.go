package testutil

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/erp/servicebus/internal/domain/shared"
)

// MockMessageHandler records every envelope it is handed.
type MockMessageHandler struct {
	mu      sync.Mutex
	handled []*shared.Envelope
	err     error
}

// NewMockMessageHandler creates a new mock message handler.
func NewMockMessageHandler() *MockMessageHandler {
	return &MockMessageHandler{}
}

// Handle records env and returns the configured error.
func (h *MockMessageHandler) Handle(_ context.Context, env *shared.Envelope) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handled = append(h.handled, env)
	return h.err
}

// Handled returns all handled envelopes.
func (h *MockMessageHandler) Handled() []*shared.Envelope {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*shared.Envelope(nil), h.handled...)
}

// HandledCount returns the number of handled envelopes.
func (h *MockMessageHandler) HandledCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handled)
}

// SetError sets the error to return from Handle.
func (h *MockMessageHandler) SetError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.err = err
}

// Reset clears all handled envelopes.
func (h *MockMessageHandler) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handled = nil
	h.err = nil
}

// Published is one envelope seen by a RecordingBroker.
type Published struct {
	Destination string
	Envelope    *shared.Envelope
}

// RecordingBroker is a synchronous shared.Broker: Publish records the
// envelope and hands it to the subscribers of its destination on the
// caller's goroutine. Handler errors are recorded, not returned.
type RecordingBroker struct {
	mu         sync.Mutex
	handlers   map[string][]shared.MessageHandler
	published  []Published
	errs       []error
	publishErr error
}

// NewRecordingBroker creates a recording broker.
func NewRecordingBroker() *RecordingBroker {
	return &RecordingBroker{handlers: make(map[string][]shared.MessageHandler)}
}

// Publish records env and delivers it to subscribers of destination.
func (b *RecordingBroker) Publish(ctx context.Context, destination string, env *shared.Envelope) error {
	b.mu.Lock()
	if b.publishErr != nil {
		err := b.publishErr
		b.mu.Unlock()
		return err
	}
	b.published = append(b.published, Published{Destination: destination, Envelope: env})
	handlers := append([]shared.MessageHandler(nil), b.handlers[destination]...)
	b.mu.Unlock()

	for _, h := range handlers {
		if err := h.Handle(ctx, env.Clone()); err != nil {
			b.mu.Lock()
			b.errs = append(b.errs, err)
			b.mu.Unlock()
		}
	}
	return nil
}

// Subscribe registers handler for destination.
func (b *RecordingBroker) Subscribe(destination string, handler shared.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[destination] = append(b.handlers[destination], handler)
	return nil
}

// Unsubscribe removes every subscriber of destination.
func (b *RecordingBroker) Unsubscribe(destination string, _ shared.MessageHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, destination)
}

// Start is a no-op.
func (b *RecordingBroker) Start(context.Context) error { return nil }

// Stop is a no-op.
func (b *RecordingBroker) Stop(context.Context) error { return nil }

// SetPublishError makes every later Publish fail with err.
func (b *RecordingBroker) SetPublishError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishErr = err
}

// Published returns every recorded envelope in publish order.
func (b *RecordingBroker) Published() []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Published(nil), b.published...)
}

// PublishedTo returns the envelopes recorded for destination.
func (b *RecordingBroker) PublishedTo(destination string) []*shared.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*shared.Envelope
	for _, p := range b.published {
		if p.Destination == destination {
			out = append(out, p.Envelope)
		}
	}
	return out
}

// HandlerErrors returns the errors subscribers returned.
func (b *RecordingBroker) HandlerErrors() []error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]error(nil), b.errs...)
}

var _ shared.Broker = (*RecordingBroker)(nil)

// NewTestEnvelope encodes payload as JSON into a fresh envelope.
func NewTestEnvelope(t *testing.T, correlationID string, payload any) *shared.Envelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	env := shared.NewEnvelope(correlationID, raw)
	env.SetHeader(shared.HeaderContentType, "application/json")
	return env
}

// WaitForMessageCount waits until the handler has handled at least count envelopes.
func WaitForMessageCount(t *testing.T, handler *MockMessageHandler, count int, timeout time.Duration) bool {
	t.Helper()

	return WaitForCondition(t, func() bool {
		return handler.HandledCount() >= count
	}, timeout, 10*time.Millisecond)
}
