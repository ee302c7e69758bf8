package shared

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope(t *testing.T) {
	env := NewEnvelope("corr-1", json.RawMessage(`{"keys":["a"]}`))

	assert.NotEmpty(t, env.MessageID)
	assert.Equal(t, "corr-1", env.CorrelationID)
	assert.NotNil(t, env.Headers)
	assert.WithinDuration(t, time.Now(), env.CreatedAt, time.Second)

	other := NewEnvelope("corr-1", nil)
	assert.NotEqual(t, env.MessageID, other.MessageID)
}

func TestEnvelope_Headers(t *testing.T) {
	env := &Envelope{}
	assert.Empty(t, env.Header(HeaderSource))

	env.SetHeader(HeaderSource, "comments")
	assert.Equal(t, "comments", env.Header(HeaderSource))
}

func TestEnvelope_DecodePayload(t *testing.T) {
	env := NewEnvelope("corr-1", json.RawMessage(`{"keys":["a","b"]}`))

	var req BatchRequest[string]
	require.NoError(t, env.DecodePayload(&req))
	assert.Equal(t, []string{"a", "b"}, req.Keys)

	bad := NewEnvelope("corr-1", json.RawMessage(`{"keys":`))
	assert.Error(t, bad.DecodePayload(&req))
}

func TestEnvelope_CloneCopiesHeaders(t *testing.T) {
	env := NewEnvelope("corr-1", json.RawMessage(`{}`))
	env.ReplyTo = "user-info.reply"
	env.SetHeader(HeaderSource, "comments")

	clone := env.Clone()
	assert.Equal(t, env.MessageID, clone.MessageID)
	assert.Equal(t, "user-info.reply", clone.ReplyTo)

	clone.SetHeader(HeaderSource, "history")
	assert.Equal(t, "comments", env.Header(HeaderSource))
}

func TestEnvelope_JSONShape(t *testing.T) {
	env := NewEnvelope("corr-1", json.RawMessage(`{"records":[]}`))

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, "corr-1", fields["correlation_id"])
	assert.Contains(t, fields, "message_id")
	assert.NotContains(t, fields, "reply_to")
}

func TestBatchReply_EmptyRecordsEncodeAsList(t *testing.T) {
	data, err := json.Marshal(BatchReply[string]{Records: []string{}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"records":[]}`, string(data))
}
