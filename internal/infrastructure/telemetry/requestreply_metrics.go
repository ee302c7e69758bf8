package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/erp/servicebus/internal/domain/shared"
)

// Outcome label values
const (
	OutcomeOK        = "ok"
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
	OutcomeError     = "error"
)

// RequestReplyMetrics records publish, round trip and pending request
// instruments. It satisfies the requestreply Metrics interface.
type RequestReplyMetrics struct {
	publishTotal      *Counter
	roundTripTotal    *Counter
	roundTripDuration *Histogram
	lateReplyTotal    *Counter
	pending           *UpDownCounter
}

// NewRequestReplyMetrics creates the instruments on meter.
func NewRequestReplyMetrics(meter metric.Meter) (*RequestReplyMetrics, error) {
	publishTotal, err := NewCounter(meter,
		"servicebus_publish_total",
		"Messages handed to the broker by destination and outcome",
		"{message}",
	)
	if err != nil {
		return nil, err
	}
	roundTripTotal, err := NewCounter(meter,
		"servicebus_request_total",
		"Finished request/reply exchanges by destination and outcome",
		"{request}",
	)
	if err != nil {
		return nil, err
	}
	roundTripDuration, err := NewHistogram(meter, HistogramOpts{
		Name:        "servicebus_request_duration_seconds",
		Description: "Time from publishing a request to its reply or failure",
		Unit:        "s",
		Boundaries:  RoundTripDurationBuckets,
	})
	if err != nil {
		return nil, err
	}
	lateReplyTotal, err := NewCounter(meter,
		"servicebus_late_reply_total",
		"Replies that arrived with no pending request",
		"{message}",
	)
	if err != nil {
		return nil, err
	}
	pending, err := NewUpDownCounter(meter,
		"servicebus_pending_requests",
		"Requests currently awaiting a reply",
		"{request}",
	)
	if err != nil {
		return nil, err
	}

	return &RequestReplyMetrics{
		publishTotal:      publishTotal,
		roundTripTotal:    roundTripTotal,
		roundTripDuration: roundTripDuration,
		lateReplyTotal:    lateReplyTotal,
		pending:           pending,
	}, nil
}

// ObservePublish counts one publish attempt.
func (m *RequestReplyMetrics) ObservePublish(ctx context.Context, destination string, err error) {
	m.publishTotal.Inc(ctx, AttrDestination.String(destination), AttrOutcome.String(OutcomeOf(err)))
}

// ObserveRoundTrip counts a finished wait and records its latency.
func (m *RequestReplyMetrics) ObserveRoundTrip(ctx context.Context, destination string, elapsed time.Duration, err error) {
	attrs := []attribute.KeyValue{AttrDestination.String(destination), AttrOutcome.String(OutcomeOf(err))}
	m.roundTripTotal.Inc(ctx, attrs...)
	m.roundTripDuration.RecordDuration(ctx, elapsed, attrs...)
}

// ObserveLateReply counts a reply nobody was waiting for.
func (m *RequestReplyMetrics) ObserveLateReply(ctx context.Context, destination string) {
	m.lateReplyTotal.Inc(ctx, AttrDestination.String(destination))
}

// AddPending moves the in-flight gauge.
func (m *RequestReplyMetrics) AddPending(ctx context.Context, delta int64) {
	m.pending.Add(ctx, delta)
}

// OutcomeOf maps an error to its outcome label.
func OutcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, shared.ErrReplyTimeout), errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	case errors.Is(err, shared.ErrRequestCancelled), errors.Is(err, context.Canceled):
		return OutcomeCancelled
	default:
		return OutcomeError
	}
}
