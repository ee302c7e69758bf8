package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockMessageHandler(t *testing.T) {
	handler := NewMockMessageHandler()
	env := NewTestEnvelope(t, "corr-1", map[string]string{"k": "v"})

	require.NoError(t, handler.Handle(context.Background(), env))
	assert.Equal(t, 1, handler.HandledCount())
	assert.Same(t, env, handler.Handled()[0])

	handler.SetError(assert.AnError)
	assert.Equal(t, assert.AnError, handler.Handle(context.Background(), env))

	handler.Reset()
	assert.Zero(t, handler.HandledCount())
	assert.NoError(t, handler.Handle(context.Background(), env))
}

func TestRecordingBroker_DeliversSynchronously(t *testing.T) {
	b := NewRecordingBroker()
	first := NewMockMessageHandler()
	second := NewMockMessageHandler()
	require.NoError(t, b.Subscribe("users.lookup", first))
	require.NoError(t, b.Subscribe("users.lookup", second))

	env := NewTestEnvelope(t, "corr-1", []string{"u-1"})
	require.NoError(t, b.Publish(context.Background(), "users.lookup", env))
	require.NoError(t, b.Publish(context.Background(), "elsewhere", env))

	assert.Equal(t, 1, first.HandledCount())
	assert.Equal(t, 1, second.HandledCount())
	assert.NotSame(t, env, first.Handled()[0])
	assert.Equal(t, env.CorrelationID, first.Handled()[0].CorrelationID)

	assert.Len(t, b.Published(), 2)
	assert.Len(t, b.PublishedTo("users.lookup"), 1)
}

func TestRecordingBroker_RecordsHandlerErrors(t *testing.T) {
	b := NewRecordingBroker()
	failing := NewMockMessageHandler()
	failing.SetError(assert.AnError)
	require.NoError(t, b.Subscribe("d", failing))

	require.NoError(t, b.Publish(context.Background(), "d", NewTestEnvelope(t, "c", 1)))
	assert.Equal(t, []error{assert.AnError}, b.HandlerErrors())
}

func TestRecordingBroker_PublishError(t *testing.T) {
	b := NewRecordingBroker()
	b.SetPublishError(assert.AnError)

	err := b.Publish(context.Background(), "d", NewTestEnvelope(t, "c", 1))
	assert.Equal(t, assert.AnError, err)
	assert.Empty(t, b.Published())
}

func TestRecordingBroker_Unsubscribe(t *testing.T) {
	b := NewRecordingBroker()
	handler := NewMockMessageHandler()
	require.NoError(t, b.Subscribe("d", handler))
	b.Unsubscribe("d", handler)

	require.NoError(t, b.Publish(context.Background(), "d", NewTestEnvelope(t, "c", 1)))
	assert.Zero(t, handler.HandledCount())
}

func TestWaitForMessageCount(t *testing.T) {
	handler := NewMockMessageHandler()
	env := NewTestEnvelope(t, "corr-1", "x")

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = handler.Handle(context.Background(), env)
		_ = handler.Handle(context.Background(), env)
	}()

	assert.True(t, WaitForMessageCount(t, handler, 2, 500*time.Millisecond))
}
