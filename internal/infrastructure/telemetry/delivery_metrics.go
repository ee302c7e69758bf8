package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// DeliveryMetrics counts deduplicated deliveries by destination and outcome.
// It satisfies the messaging DeliveryMetrics interface.
type DeliveryMetrics struct {
	deliveries *Counter
}

func NewDeliveryMetrics(meter metric.Meter) (*DeliveryMetrics, error) {
	deliveries, err := NewCounter(meter,
		"servicebus_delivery_total",
		"Deliveries seen by idempotent consumers by destination and outcome",
		"{message}",
	)
	if err != nil {
		return nil, err
	}
	return &DeliveryMetrics{deliveries: deliveries}, nil
}

func (m *DeliveryMetrics) RecordDelivery(ctx context.Context, destination, outcome string) {
	m.deliveries.Inc(ctx, AttrDestination.String(destination), AttrOutcome.String(outcome))
}
