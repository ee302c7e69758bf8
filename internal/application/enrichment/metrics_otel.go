package enrichment

import (
	"context"

	"go.opentelemetry.io/otel/metric"

	"github.com/erp/servicebus/internal/infrastructure/telemetry"
)

// OTelMetrics reports enrichment calls as OpenTelemetry counters
type OTelMetrics struct {
	calls     *telemetry.Counter
	keys      *telemetry.Counter
	cacheHits *telemetry.Counter
	requested *telemetry.Counter
	missing   *telemetry.Counter
}

// NewOTelMetrics creates the enrichment instruments on meter
func NewOTelMetrics(meter metric.Meter) (*OTelMetrics, error) {
	m := &OTelMetrics{}
	counters := []struct {
		target      **telemetry.Counter
		name        string
		description string
		unit        string
	}{
		{&m.calls, "enrichment_calls_total", "Enrich calls by aggregator and outcome", "{call}"},
		{&m.keys, "enrichment_keys_total", "Distinct keys referenced by enriched batches", "{key}"},
		{&m.cacheHits, "enrichment_cache_hits_total", "Keys served from the record cache", "{key}"},
		{&m.requested, "enrichment_requested_keys_total", "Keys sent to the resolver", "{key}"},
		{&m.missing, "enrichment_missing_keys_total", "Keys left unresolved after merge", "{key}"},
	}
	for _, c := range counters {
		counter, err := telemetry.NewCounter(meter, c.name, c.description, c.unit)
		if err != nil {
			return nil, err
		}
		*c.target = counter
	}
	return m, nil
}

// ObserveEnrichment implements Metrics
func (m *OTelMetrics) ObserveEnrichment(ctx context.Context, aggregator string, stats Stats, err error) {
	agg := telemetry.AttrAggregator.String(aggregator)
	m.calls.Inc(ctx, agg, telemetry.AttrOutcome.String(telemetry.OutcomeOf(err)))
	m.keys.Add(ctx, int64(stats.Keys), agg)
	m.cacheHits.Add(ctx, int64(stats.CacheHits), agg)
	m.requested.Add(ctx, int64(stats.Requested), agg)
	m.missing.Add(ctx, int64(stats.Missing), agg)
}

var _ Metrics = (*OTelMetrics)(nil)
