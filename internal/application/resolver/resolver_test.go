package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/erp/servicebus/internal/domain/shared"
	"github.com/erp/servicebus/internal/infrastructure/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type book struct {
	ISBN  string `json:"isbn"`
	Title string `json:"title"`
}

type sentReply struct {
	destination string
	env         *shared.Envelope
}

// capturePublisher records every published envelope instead of sending it
type capturePublisher struct {
	mu   sync.Mutex
	sent []sentReply
	err  error
}

func (p *capturePublisher) Publish(_ context.Context, destination string, env *shared.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, sentReply{destination: destination, env: env})
	return nil
}

func (p *capturePublisher) replies() []sentReply {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sentReply(nil), p.sent...)
}

// captureSubscriber keeps the handler bound to each destination
type captureSubscriber struct {
	handlers map[string]shared.MessageHandler
}

func (s *captureSubscriber) Subscribe(destination string, handler shared.MessageHandler) error {
	if s.handlers == nil {
		s.handlers = make(map[string]shared.MessageHandler)
	}
	s.handlers[destination] = handler
	return nil
}

func (s *captureSubscriber) Unsubscribe(destination string, _ shared.MessageHandler) {
	delete(s.handlers, destination)
}

func catalogLookup(calls *int) LookupFunc[string, book] {
	catalog := map[string]book{
		"isbn-1": {ISBN: "isbn-1", Title: "Dune"},
		"isbn-2": {ISBN: "isbn-2", Title: "Emma"},
	}
	return func(_ context.Context, keys []string) ([]book, error) {
		if calls != nil {
			*calls++
		}
		var out []book
		for _, k := range keys {
			if b, ok := catalog[k]; ok {
				out = append(out, b)
			}
		}
		return out, nil
	}
}

func requestEnvelope(t *testing.T, correlationID, replyTo string, payload any) *shared.Envelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	env := shared.NewEnvelope(correlationID, raw)
	env.ReplyTo = replyTo
	return env
}

func decodeReply(t *testing.T, env *shared.Envelope) shared.BatchReply[book] {
	t.Helper()
	var reply shared.BatchReply[book]
	require.NoError(t, env.DecodePayload(&reply))
	return reply
}

func newTestResolver(lookup Lookup[string, book], pub shared.MessagePublisher, cfg Config) *Resolver[string, book] {
	if cfg.Destination == "" {
		cfg.Destination = "books.lookup"
	}
	return New[string, book](cfg, lookup, pub, zap.NewNop())
}

func TestNew_Defaults(t *testing.T) {
	r := newTestResolver(catalogLookup(nil), &capturePublisher{}, Config{})
	assert.Equal(t, DefaultLookupTimeout, r.cfg.LookupTimeout)
	assert.Equal(t, "books.lookup", r.cfg.Name)
	assert.Equal(t, "books.lookup", r.Destination())
}

func TestResolver_RepliesWithFoundRecords(t *testing.T) {
	pub := &capturePublisher{}
	r := newTestResolver(catalogLookup(nil), pub, Config{Name: "books"})

	req := requestEnvelope(t, "corr-1", "replies.node-1", shared.BatchRequest[string]{Keys: []string{"isbn-1", "isbn-404", "isbn-2"}})
	require.NoError(t, r.Handle(context.Background(), req))

	sent := pub.replies()
	require.Len(t, sent, 1)
	assert.Equal(t, "replies.node-1", sent[0].destination)
	assert.Equal(t, "corr-1", sent[0].env.CorrelationID)
	assert.NotEqual(t, req.MessageID, sent[0].env.MessageID)
	assert.Equal(t, "books", sent[0].env.Header(shared.HeaderSource))

	reply := decodeReply(t, sent[0].env)
	assert.ElementsMatch(t, []book{
		{ISBN: "isbn-1", Title: "Dune"},
		{ISBN: "isbn-2", Title: "Emma"},
	}, reply.Records)
}

func TestResolver_FallsBackToDefaultReplyTo(t *testing.T) {
	pub := &capturePublisher{}
	r := newTestResolver(catalogLookup(nil), pub, Config{DefaultReplyTo: "replies.default"})

	req := requestEnvelope(t, "corr-2", "", shared.BatchRequest[string]{Keys: []string{"isbn-1"}})
	require.NoError(t, r.Handle(context.Background(), req))

	sent := pub.replies()
	require.Len(t, sent, 1)
	assert.Equal(t, "replies.default", sent[0].destination)
}

func TestResolver_NoReplyDestination(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	pub := &capturePublisher{}
	r := New[string, book](Config{Destination: "books.lookup"}, catalogLookup(nil), pub, zap.New(core))

	req := requestEnvelope(t, "corr-3", "", shared.BatchRequest[string]{Keys: []string{"isbn-1"}})
	err := r.Handle(context.Background(), req)

	assert.ErrorIs(t, err, ErrNoReplyDestination)
	assert.Empty(t, pub.replies())
	assert.Equal(t, 1, logs.FilterMessage("request has no reply destination, dropping").Len())
}

func TestResolver_LookupFailureRepliesEmpty(t *testing.T) {
	pub := &capturePublisher{}
	failing := LookupFunc[string, book](func(context.Context, []string) ([]book, error) {
		return nil, errors.New("database down")
	})
	r := newTestResolver(failing, pub, Config{})

	req := requestEnvelope(t, "corr-4", "replies", shared.BatchRequest[string]{Keys: []string{"isbn-1"}})
	require.NoError(t, r.Handle(context.Background(), req))

	sent := pub.replies()
	require.Len(t, sent, 1)
	assert.Equal(t, "corr-4", sent[0].env.CorrelationID)
	assert.JSONEq(t, `{"records":[]}`, string(sent[0].env.Payload))
}

func TestResolver_LookupTimeoutRepliesEmpty(t *testing.T) {
	pub := &capturePublisher{}
	blocking := LookupFunc[string, book](func(ctx context.Context, _ []string) ([]book, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	r := newTestResolver(blocking, pub, Config{LookupTimeout: 20 * time.Millisecond})

	req := requestEnvelope(t, "corr-5", "replies", shared.BatchRequest[string]{Keys: []string{"isbn-1"}})
	require.NoError(t, r.Handle(context.Background(), req))

	sent := pub.replies()
	require.Len(t, sent, 1)
	assert.Empty(t, decodeReply(t, sent[0].env).Records)
}

func TestResolver_UndecodableRequestRepliesEmpty(t *testing.T) {
	pub := &capturePublisher{}
	calls := 0
	r := newTestResolver(catalogLookup(&calls), pub, Config{})

	req := shared.NewEnvelope("corr-6", json.RawMessage(`"not a batch"`))
	req.ReplyTo = "replies"
	require.NoError(t, r.Handle(context.Background(), req))

	sent := pub.replies()
	require.Len(t, sent, 1)
	assert.JSONEq(t, `{"records":[]}`, string(sent[0].env.Payload))
	assert.Zero(t, calls)
}

func TestResolver_EmptyKeysSkipLookup(t *testing.T) {
	pub := &capturePublisher{}
	calls := 0
	r := newTestResolver(catalogLookup(&calls), pub, Config{})

	req := requestEnvelope(t, "corr-7", "replies", shared.BatchRequest[string]{})
	require.NoError(t, r.Handle(context.Background(), req))

	require.Len(t, pub.replies(), 1)
	assert.Zero(t, calls)
}

func TestResolver_PublishFailure(t *testing.T) {
	pub := &capturePublisher{err: errors.New("connection reset")}
	r := newTestResolver(catalogLookup(nil), pub, Config{})

	req := requestEnvelope(t, "corr-8", "replies", shared.BatchRequest[string]{Keys: []string{"isbn-1"}})
	err := r.Handle(context.Background(), req)

	assert.ErrorIs(t, err, shared.ErrPublishFailed)
}

func TestResolver_BindWithoutStore(t *testing.T) {
	sub := &captureSubscriber{}
	r := newTestResolver(catalogLookup(nil), &capturePublisher{}, Config{})

	require.NoError(t, r.Bind(sub, nil))
	assert.Same(t, r, sub.handlers["books.lookup"])
}

func TestResolver_BindSuppressesRedeliveries(t *testing.T) {
	store := cache.NewInMemoryIdempotencyStore()
	t.Cleanup(func() { _ = store.Close() })

	sub := &captureSubscriber{}
	pub := &capturePublisher{}
	calls := 0
	r := newTestResolver(catalogLookup(&calls), pub, Config{})
	require.NoError(t, r.Bind(sub, store))

	handler := sub.handlers["books.lookup"]
	require.NotNil(t, handler)

	req := requestEnvelope(t, "corr-9", "replies", shared.BatchRequest[string]{Keys: []string{"isbn-2"}})
	ctx := context.Background()
	require.NoError(t, handler.Handle(ctx, req))
	require.NoError(t, handler.Handle(ctx, req.Clone()))

	assert.Len(t, pub.replies(), 1)
	assert.Equal(t, 1, calls)

	// a new physical message with the same correlation is answered again
	retry := requestEnvelope(t, "corr-9", "replies", shared.BatchRequest[string]{Keys: []string{"isbn-2"}})
	require.NoError(t, handler.Handle(ctx, retry))
	assert.Len(t, pub.replies(), 2)
}
