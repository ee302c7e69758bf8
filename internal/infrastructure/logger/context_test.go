package logger

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func bufferLogger(buf *bytes.Buffer) *zap.Logger {
	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	return zap.New(zapcore.NewCore(encoder, zapcore.AddSync(buf), zapcore.DebugLevel))
}

func TestWithContext(t *testing.T) {
	base := zap.NewExample()
	ctx := WithContext(context.Background(), base)
	assert.Same(t, base, FromContext(ctx))
}

func TestFromContext_NotFound(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))
}

func TestWithMessage(t *testing.T) {
	core, recorded := observer.New(zapcore.InfoLevel)

	ctx, tagged := WithMessage(context.Background(), zap.New(core), "corr-1", "msg-1")
	assert.Equal(t, "corr-1", GetCorrelationID(ctx))
	assert.Equal(t, "msg-1", GetMessageID(ctx))

	tagged.Info("handling")
	FromContext(ctx).Info("from context")

	entries := recorded.All()
	require.Len(t, entries, 2)
	for _, e := range entries {
		fields := e.ContextMap()
		assert.Equal(t, "corr-1", fields["correlation_id"])
		assert.Equal(t, "msg-1", fields["message_id"])
	}
}

func TestWithCorrelationID_OmitsMessageID(t *testing.T) {
	core, recorded := observer.New(zapcore.InfoLevel)

	ctx, tagged := WithCorrelationID(context.Background(), zap.New(core), "corr-2")
	assert.Equal(t, "corr-2", GetCorrelationID(ctx))
	assert.Empty(t, GetMessageID(ctx))

	tagged.Info("waiting")
	require.Equal(t, 1, recorded.Len())
	fields := recorded.All()[0].ContextMap()
	assert.Equal(t, "corr-2", fields["correlation_id"])
	assert.NotContains(t, fields, "message_id")
}

func TestMessageIDs_NotFound(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetCorrelationID(ctx))
	assert.Empty(t, GetMessageID(ctx))
}

func TestWithTraceContext_NoSpan(t *testing.T) {
	base := zap.NewNop()
	assert.Same(t, base, WithTraceContext(context.Background(), base))
}

func TestL_AddsTraceAndMessageFields(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	var buf bytes.Buffer
	ctx, _ = WithMessage(ctx, bufferLogger(&buf), "corr-9", "")

	L(ctx).Info("reply dropped", zap.String("destination", "user-info.reply"))

	output := buf.String()
	assert.Contains(t, output, `"trace_id":"`+span.SpanContext().TraceID().String()+`"`)
	assert.Contains(t, output, `"span_id":"`+span.SpanContext().SpanID().String()+`"`)
	assert.Contains(t, output, `"correlation_id":"corr-9"`)
	assert.Contains(t, output, `"destination":"user-info.reply"`)
}

func TestL_WithoutLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		L(context.Background()).Info("nothing")
	})
}
