package messaging

import (
	"context"

	"github.com/erp/servicebus/internal/domain/shared"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// envelopeCarrier adapts envelope headers to propagation.TextMapCarrier
type envelopeCarrier struct {
	env *shared.Envelope
}

func (c envelopeCarrier) Get(key string) string {
	return c.env.Header(key)
}

func (c envelopeCarrier) Set(key, value string) {
	c.env.SetHeader(key, value)
}

func (c envelopeCarrier) Keys() []string {
	keys := make([]string, 0, len(c.env.Headers))
	for k := range c.env.Headers {
		keys = append(keys, k)
	}
	return keys
}

var _ propagation.TextMapCarrier = envelopeCarrier{}

// InjectTraceContext writes the span context of ctx into the envelope headers
// using the globally configured propagator
func InjectTraceContext(ctx context.Context, env *shared.Envelope) {
	otel.GetTextMapPropagator().Inject(ctx, envelopeCarrier{env: env})
}

// ExtractTraceContext returns ctx extended with the span context carried by
// the envelope headers, if any
func ExtractTraceContext(ctx context.Context, env *shared.Envelope) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, envelopeCarrier{env: env})
}
