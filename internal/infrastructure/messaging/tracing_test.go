package messaging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestTraceContext_RoundTripsThroughHeaders(t *testing.T) {
	previous := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(previous) })

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "publish")
	defer span.End()

	env := testEnvelope(t, "corr-1", "x")
	InjectTraceContext(ctx, env)
	require.NotEmpty(t, env.Header("traceparent"))

	extracted := trace.SpanContextFromContext(ExtractTraceContext(context.Background(), env))
	assert.True(t, extracted.IsRemote())
	assert.Equal(t, span.SpanContext().TraceID(), extracted.TraceID())
	assert.Equal(t, span.SpanContext().SpanID(), extracted.SpanID())
}

func TestTraceContext_NoHeaders(t *testing.T) {
	env := testEnvelope(t, "corr-1", "x")
	ctx := ExtractTraceContext(context.Background(), env)
	assert.False(t, trace.SpanContextFromContext(ctx).IsValid())
}
