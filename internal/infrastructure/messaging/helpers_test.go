package messaging

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/erp/servicebus/internal/domain/shared"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordingHandler collects every envelope it is handed
type recordingHandler struct {
	mu       sync.Mutex
	received []*shared.Envelope
	contexts []context.Context
	err      error
}

func (h *recordingHandler) Handle(ctx context.Context, env *shared.Envelope) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.received = append(h.received, env)
	h.contexts = append(h.contexts, ctx)
	return h.err
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.received)
}

func (h *recordingHandler) envelopes() []*shared.Envelope {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*shared.Envelope(nil), h.received...)
}

func (h *recordingHandler) lastContext() context.Context {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.contexts[len(h.contexts)-1]
}

func testEnvelope(t *testing.T, correlationID string, payload any) *shared.Envelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return shared.NewEnvelope(correlationID, raw)
}

func startedMemoryBroker(t *testing.T) *InMemoryBroker {
	t.Helper()
	b := NewInMemoryBroker(zap.NewNop())
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { _ = b.Stop(context.Background()) })
	return b
}
