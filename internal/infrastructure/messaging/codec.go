package messaging

import (
	"encoding/json"
	"fmt"

	"github.com/erp/servicebus/internal/domain/shared"
	"github.com/go-playground/validator/v10"
)

// EnvelopeCodec turns envelopes into wire bytes and back. Both directions
// validate the envelope so a message without a correlation ID never reaches
// the broker or a handler.
type EnvelopeCodec struct {
	validate *validator.Validate
}

// NewEnvelopeCodec creates a new envelope codec
func NewEnvelopeCodec() *EnvelopeCodec {
	return &EnvelopeCodec{
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Validate checks the envelope's required fields
func (c *EnvelopeCodec) Validate(env *shared.Envelope) error {
	if env == nil {
		return shared.ErrInvalidEnvelope.Wrap(fmt.Errorf("nil envelope"))
	}
	if err := c.validate.Struct(env); err != nil {
		return shared.ErrInvalidEnvelope.Wrap(err)
	}
	return nil
}

// Encode validates and serializes an envelope to JSON
func (c *EnvelopeCodec) Encode(env *shared.Envelope) ([]byte, error) {
	if err := c.Validate(env); err != nil {
		return nil, err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return data, nil
}

// Decode deserializes and validates an envelope
func (c *EnvelopeCodec) Decode(data []byte) (*shared.Envelope, error) {
	var env shared.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, shared.ErrInvalidEnvelope.Wrap(fmt.Errorf("failed to unmarshal envelope: %w", err))
	}
	if err := c.Validate(&env); err != nil {
		return nil, err
	}
	return &env, nil
}

// EncodePayload marshals a payload into the raw form carried by an envelope
func EncodePayload(payload any) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return data, nil
}
