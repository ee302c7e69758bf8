package requestreply

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/erp/servicebus/internal/domain/shared"
	"github.com/erp/servicebus/internal/infrastructure/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testRequestDest = "echo.request"
	testReplyDest   = "echo.reply"
)

type echoRequest struct {
	Text string `json:"text"`
}

type echoReply struct {
	Text string `json:"text"`
}

// echoResponder answers each request on its ReplyTo destination
type echoResponder struct {
	broker  shared.MessagePublisher
	copies  int
	delay   time.Duration
	handled atomic.Int32
}

func (r *echoResponder) Handle(ctx context.Context, env *shared.Envelope) error {
	r.handled.Add(1)
	var req echoRequest
	if err := env.DecodePayload(&req); err != nil {
		return err
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	raw, err := messaging.EncodePayload(echoReply{Text: req.Text})
	if err != nil {
		return err
	}
	copies := r.copies
	if copies == 0 {
		copies = 1
	}
	for i := 0; i < copies; i++ {
		if err := r.broker.Publish(ctx, env.ReplyTo, shared.NewEnvelope(env.CorrelationID, raw)); err != nil {
			return err
		}
	}
	return nil
}

type recordingMetrics struct {
	mu         sync.Mutex
	publishes  int
	roundTrips []error
	late       int
	pending    int64
}

func (m *recordingMetrics) ObservePublish(_ context.Context, _ string, _ error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishes++
}

func (m *recordingMetrics) ObserveRoundTrip(_ context.Context, _ string, _ time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roundTrips = append(m.roundTrips, err)
}

func (m *recordingMetrics) ObserveLateReply(_ context.Context, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.late++
}

func (m *recordingMetrics) AddPending(_ context.Context, delta int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending += delta
}

func (m *recordingMetrics) lateReplies() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.late
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, *shared.Envelope) error {
	return errors.New("broker unavailable")
}

type harness struct {
	broker    *messaging.InMemoryBroker
	registry  *PendingRegistry[echoReply]
	requester *Requester[echoReply]
	responder *echoResponder
	metrics   *recordingMetrics
}

func newHarness(t *testing.T, responder *echoResponder) *harness {
	t.Helper()
	logger := zap.NewNop()
	broker := messaging.NewInMemoryBroker(logger)
	metrics := &recordingMetrics{}

	registry := NewPendingRegistry[echoReply](logger)
	sub := NewReplySubscriber(testReplyDest, registry, logger, WithSubscriberMetrics(metrics))
	require.NoError(t, sub.Bind(broker))

	if responder != nil {
		responder.broker = broker
		require.NoError(t, broker.Subscribe(testRequestDest, responder))
	}

	publisher := NewRequestPublisher(broker, testReplyDest, logger, WithSource("test"), WithPublisherMetrics(metrics))
	requester := NewRequester(registry, publisher, logger, WithRequesterMetrics(metrics))

	require.NoError(t, broker.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = broker.Stop(ctx)
	})

	return &harness{
		broker:    broker,
		registry:  registry,
		requester: requester,
		responder: responder,
		metrics:   metrics,
	}
}

func TestRequester_RoundTrip(t *testing.T) {
	h := newHarness(t, &echoResponder{})

	reply, err := h.requester.Request(context.Background(), testRequestDest, echoRequest{Text: "ping"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ping", reply.Text)
	assert.Equal(t, 0, h.registry.Len())

	h.metrics.mu.Lock()
	defer h.metrics.mu.Unlock()
	assert.Equal(t, 1, h.metrics.publishes)
	require.Len(t, h.metrics.roundTrips, 1)
	assert.NoError(t, h.metrics.roundTrips[0])
	assert.Equal(t, int64(0), h.metrics.pending)
}

func TestRequester_ConcurrentRequestsGetTheirOwnReply(t *testing.T) {
	h := newHarness(t, &echoResponder{})

	texts := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	var wg sync.WaitGroup
	for _, text := range texts {
		wg.Add(1)
		go func(text string) {
			defer wg.Done()
			reply, err := h.requester.Request(context.Background(), testRequestDest, echoRequest{Text: text}, 2*time.Second)
			assert.NoError(t, err)
			assert.Equal(t, text, reply.Text)
		}(text)
	}
	wg.Wait()
	assert.Equal(t, 0, h.registry.Len())
}

func TestRequester_TimeoutLeavesNoPendingEntry(t *testing.T) {
	// Nobody answers requests
	h := newHarness(t, nil)

	start := time.Now()
	_, err := h.requester.Request(context.Background(), testRequestDest, echoRequest{Text: "ping"}, 100*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrReplyTimeout))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, 0, h.registry.Len())
}

func TestRequester_LateReplyIsCounted(t *testing.T) {
	h := newHarness(t, &echoResponder{delay: 100 * time.Millisecond})

	_, err := h.requester.Request(context.Background(), testRequestDest, echoRequest{Text: "slow"}, 20*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrReplyTimeout))

	assert.Eventually(t, func() bool {
		return h.metrics.lateReplies() == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, h.registry.Len())
}

func TestRequester_DuplicateReplies(t *testing.T) {
	h := newHarness(t, &echoResponder{copies: 2})

	reply, err := h.requester.Request(context.Background(), testRequestDest, echoRequest{Text: "twice"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "twice", reply.Text)
	assert.Equal(t, 0, h.registry.Len())
}

func TestRequester_PublishFailure(t *testing.T) {
	logger := zap.NewNop()
	registry := NewPendingRegistry[echoReply](logger)
	publisher := NewRequestPublisher(failingPublisher{}, testReplyDest, logger)
	requester := NewRequester(registry, publisher, logger)

	_, err := requester.Request(context.Background(), testRequestDest, echoRequest{Text: "x"}, time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrPublishFailed))
	assert.Equal(t, 0, registry.Len())
}

func TestRequester_StoppedBroker(t *testing.T) {
	logger := zap.NewNop()
	broker := messaging.NewInMemoryBroker(logger)
	registry := NewPendingRegistry[echoReply](logger)
	requester := NewRequester(registry, NewRequestPublisher(broker, testReplyDest, logger), logger)

	_, err := requester.Request(context.Background(), testRequestDest, echoRequest{Text: "x"}, time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrPublishFailed))
	assert.True(t, errors.Is(err, shared.ErrBrokerStopped))
}

func TestRequester_Cancelled(t *testing.T) {
	h := newHarness(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := h.requester.Request(ctx, testRequestDest, echoRequest{Text: "x"}, time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrRequestCancelled))
	assert.Equal(t, 0, h.registry.Len())
}

func TestRequestPublisher_Envelope(t *testing.T) {
	var (
		mu       sync.Mutex
		received *shared.Envelope
	)
	logger := zap.NewNop()
	broker := messaging.NewInMemoryBroker(logger)
	require.NoError(t, broker.Subscribe("target", shared.MessageHandlerFunc(func(_ context.Context, env *shared.Envelope) error {
		mu.Lock()
		defer mu.Unlock()
		received = env
		return nil
	})))
	require.NoError(t, broker.Start(context.Background()))
	defer func() { _ = broker.Stop(context.Background()) }()

	publisher := NewRequestPublisher(broker, "replies", logger, WithSource("svc-a"))
	require.NoError(t, publisher.Publish(context.Background(), "target", "corr-1", echoRequest{Text: "hi"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return received != nil
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "corr-1", received.CorrelationID)
	assert.Equal(t, "replies", received.ReplyTo)
	assert.Equal(t, "svc-a", received.Header(shared.HeaderSource))
	assert.Equal(t, "application/json", received.Header(shared.HeaderContentType))
	assert.NotEmpty(t, received.MessageID)

	var req echoRequest
	require.NoError(t, received.DecodePayload(&req))
	assert.Equal(t, "hi", req.Text)
}

func TestRequestPublisher_UnencodablePayload(t *testing.T) {
	publisher := NewRequestPublisher(failingPublisher{}, "replies", zap.NewNop())
	err := publisher.Publish(context.Background(), "target", "corr-1", make(chan int))
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrPublishFailed))
}

func TestReplySubscriber_DropsUndecodable(t *testing.T) {
	metrics := &recordingMetrics{}
	registry := NewPendingRegistry[echoReply](zap.NewNop())
	p, err := registry.Register("c1")
	require.NoError(t, err)

	sub := NewReplySubscriber(testReplyDest, registry, zap.NewNop(), WithSubscriberMetrics(metrics))
	env := shared.NewEnvelope("c1", []byte(`"not an object"`))
	require.NoError(t, sub.Handle(context.Background(), env))

	_, ok := p.Value()
	assert.False(t, ok)
	assert.Equal(t, 0, metrics.lateReplies())
}
