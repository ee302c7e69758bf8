package shared

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Well-known envelope header keys
const (
	HeaderContentType = "content-type"
	HeaderSource      = "source"
)

// Envelope is the unit carried by the broker. CorrelationID links a request
// to its reply; MessageID identifies one physical message so redeliveries
// can be detected.
type Envelope struct {
	MessageID     string            `json:"message_id" validate:"required"`
	CorrelationID string            `json:"correlation_id" validate:"required"`
	ReplyTo       string            `json:"reply_to,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	Payload       json.RawMessage   `json:"payload"`
	CreatedAt     time.Time         `json:"created_at"`
}

// NewEnvelope creates an envelope with a fresh message ID. The payload must
// already be encoded.
func NewEnvelope(correlationID string, payload json.RawMessage) *Envelope {
	return &Envelope{
		MessageID:     uuid.NewString(),
		CorrelationID: correlationID,
		Headers:       make(map[string]string),
		Payload:       payload,
		CreatedAt:     time.Now(),
	}
}

// Header returns a header value, or "" when unset
func (e *Envelope) Header(key string) string {
	if e.Headers == nil {
		return ""
	}
	return e.Headers[key]
}

// SetHeader sets a header value, allocating the map on first use
func (e *Envelope) SetHeader(key, value string) {
	if e.Headers == nil {
		e.Headers = make(map[string]string)
	}
	e.Headers[key] = value
}

// DecodePayload unmarshals the payload into v
func (e *Envelope) DecodePayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Clone returns a copy whose headers can be modified independently. The
// payload bytes are shared and must be treated as read-only.
func (e *Envelope) Clone() *Envelope {
	c := *e
	if e.Headers != nil {
		c.Headers = make(map[string]string, len(e.Headers))
		for k, v := range e.Headers {
			c.Headers[k] = v
		}
	}
	return &c
}
