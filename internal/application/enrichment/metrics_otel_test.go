package enrichment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/erp/servicebus/internal/domain/shared"
)

func TestOTelMetrics_ObserveEnrichment(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := NewOTelMetrics(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.ObserveEnrichment(ctx, "comment-authors", Stats{Keys: 4, CacheHits: 1, Requested: 3, Missing: 1}, nil)
	m.ObserveEnrichment(ctx, "comment-authors", Stats{Keys: 2, Requested: 2}, shared.ErrReplyTimeout)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	sums := map[string]map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			data, ok := metric.Data.(metricdata.Sum[int64])
			require.True(t, ok, metric.Name)
			byOutcome := map[string]int64{}
			for _, dp := range data.DataPoints {
				agg, _ := dp.Attributes.Value(attribute.Key("enrichment.aggregator"))
				assert.Equal(t, "comment-authors", agg.AsString())
				outcome, _ := dp.Attributes.Value(attribute.Key("outcome"))
				byOutcome[outcome.AsString()] += dp.Value
			}
			sums[metric.Name] = byOutcome
		}
	}

	assert.Equal(t, map[string]int64{"ok": 1, "timeout": 1}, sums["enrichment_calls_total"])
	assert.Equal(t, int64(6), sums["enrichment_keys_total"][""])
	assert.Equal(t, int64(1), sums["enrichment_cache_hits_total"][""])
	assert.Equal(t, int64(5), sums["enrichment_requested_keys_total"][""])
	assert.Equal(t, int64(1), sums["enrichment_missing_keys_total"][""])
}
