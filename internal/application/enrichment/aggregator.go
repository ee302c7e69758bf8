// Package enrichment resolves foreign-key references held by a batch of owner
// entities against another service, in one request/reply round trip per
// batch, and merges the resolved records back into the owners in place.
package enrichment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/erp/servicebus/internal/domain/shared"
	"github.com/erp/servicebus/internal/infrastructure/telemetry"
)

// ErrMissingDestination is returned by New when no request destination is set
var ErrMissingDestination = errors.New("enrichment: request destination is required")

// ErrInvalidTimeout is returned by New when the reply timeout is not positive
var ErrInvalidTimeout = errors.New("enrichment: reply timeout must be positive")

// Config holds the settings of one aggregator
type Config struct {
	// Name labels logs and metrics
	Name string
	// Destination is where batch requests are published
	Destination string
	// Timeout bounds the wait for the reply and must be positive
	Timeout time.Duration
	// FailurePolicy selects the outcome of a failed round trip
	FailurePolicy FailurePolicy
}

// Option is a functional option for Aggregator
type Option[K comparable, R any] func(*options[K, R])

type options[K comparable, R any] struct {
	cache   RecordCache[K, R]
	metrics Metrics
	policy  *FailurePolicy
}

// WithFailurePolicy overrides Config.FailurePolicy
func WithFailurePolicy[K comparable, R any](policy FailurePolicy) Option[K, R] {
	return func(o *options[K, R]) {
		o.policy = &policy
	}
}

// WithCache serves cached keys without a round trip and stores fetched records
func WithCache[K comparable, R any](cache RecordCache[K, R]) Option[K, R] {
	return func(o *options[K, R]) {
		o.cache = cache
	}
}

// WithMetrics sets the metrics sink
func WithMetrics[K comparable, R any](metrics Metrics) Option[K, R] {
	return func(o *options[K, R]) {
		o.metrics = metrics
	}
}

// Aggregator enriches batches of owners O whose references carry keys K that
// resolve to records R. It holds no per-call state and is safe for concurrent
// use; a batch must not be shared between concurrent calls.
type Aggregator[O any, K comparable, R any] struct {
	cfg       Config
	walk      Walker[O, K, R]
	keyOf     func(R) K
	requester RoundTripper[R]
	cache     RecordCache[K, R]
	metrics   Metrics
	logger    *zap.Logger
}

// New creates an aggregator. walk enumerates references, keyOf extracts the
// key of a resolved record.
func New[O any, K comparable, R any](
	cfg Config,
	walk Walker[O, K, R],
	keyOf func(R) K,
	requester RoundTripper[R],
	logger *zap.Logger,
	opts ...Option[K, R],
) (*Aggregator[O, K, R], error) {
	if cfg.Destination == "" {
		return nil, ErrMissingDestination
	}
	if cfg.Timeout <= 0 {
		return nil, ErrInvalidTimeout
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Destination
	}

	o := options[K, R]{metrics: nopMetrics{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.policy != nil {
		cfg.FailurePolicy = *o.policy
	}

	return &Aggregator[O, K, R]{
		cfg:       cfg,
		walk:      walk,
		keyOf:     keyOf,
		requester: requester,
		cache:     o.cache,
		metrics:   o.metrics,
		logger:    logger.With(zap.String("aggregator", cfg.Name)),
	}, nil
}

// Name returns the aggregator's label
func (a *Aggregator[O, K, R]) Name() string {
	return a.cfg.Name
}

// Enrich resolves every reference in batch and returns the same batch with
// resolved records applied. References the resolver did not return keep their
// placeholder. An empty batch, or one without references, returns at once
// without a round trip.
//
// Errors: under FailFast, ErrPublishFailed, ErrReplyTimeout or
// ErrRequestCancelled from the round trip.
func (a *Aggregator[O, K, R]) Enrich(ctx context.Context, batch []O) ([]O, error) {
	if len(batch) == 0 {
		return batch, nil
	}

	keys := a.collectKeys(batch)
	if len(keys) == 0 {
		return batch, nil
	}

	ctx, span := telemetry.StartSpan(ctx, "enrichment.enrich",
		telemetry.WithAttributes(
			telemetry.AttrAggregator.String(a.cfg.Name),
			telemetry.AttrKeys.Int(len(keys)),
		),
	)
	defer span.End()

	stats := Stats{Keys: len(keys)}
	lookup := make(map[K]R, len(keys))

	misses := keys
	if a.cache != nil {
		misses = a.fromCache(ctx, keys, lookup)
		stats.CacheHits = len(keys) - len(misses)
	}

	var roundTripErr error
	if len(misses) > 0 {
		stats.Requested = len(misses)
		roundTripErr = a.fetch(ctx, misses, lookup)
	}

	if roundTripErr != nil {
		telemetry.RecordError(span, roundTripErr)
		if a.cfg.FailurePolicy == FailFast {
			stats.Missing = len(keys) - len(lookup)
			a.metrics.ObserveEnrichment(ctx, a.cfg.Name, stats, roundTripErr)
			return nil, fmt.Errorf("enrich %s: %w", a.cfg.Name, roundTripErr)
		}
		a.logger.Warn("enrichment round trip failed, returning partially enriched batch",
			zap.Int("requested", len(misses)),
			zap.Error(roundTripErr),
		)
	}

	stats.Missing = a.merge(batch, lookup, roundTripErr == nil)
	span.SetAttributes(
		attribute.Int("enrichment.cache_hits", stats.CacheHits),
		attribute.Int("enrichment.missing", stats.Missing),
	)
	a.metrics.ObserveEnrichment(ctx, a.cfg.Name, stats, roundTripErr)
	return batch, nil
}

// Invalidate drops keys from the record cache so the next Enrich fetches
// them again. A no-op without a cache.
func (a *Aggregator[O, K, R]) Invalidate(ctx context.Context, keys ...K) error {
	if a.cache == nil || len(keys) == 0 {
		return nil
	}
	if err := a.cache.Invalidate(ctx, keys...); err != nil {
		return fmt.Errorf("invalidate %s cache: %w", a.cfg.Name, err)
	}
	return nil
}

// collectKeys returns the distinct non-zero keys in first-seen order
func (a *Aggregator[O, K, R]) collectKeys(batch []O) []K {
	var zero K
	seen := make(map[K]struct{})
	keys := make([]K, 0)
	for _, owner := range batch {
		a.walk(owner, func(key K, _ func(R)) {
			if key == zero {
				return
			}
			if _, ok := seen[key]; ok {
				return
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		})
	}
	return keys
}

// fromCache copies cache hits into lookup and returns the keys still missing.
// A failing cache is treated as empty.
func (a *Aggregator[O, K, R]) fromCache(ctx context.Context, keys []K, lookup map[K]R) []K {
	hits, err := a.cache.GetMany(ctx, keys)
	if err != nil {
		a.logger.Warn("record cache read failed, fetching all keys", zap.Error(err))
		return keys
	}

	misses := make([]K, 0, len(keys))
	for _, key := range keys {
		if rec, ok := hits[key]; ok {
			lookup[key] = rec
			continue
		}
		misses = append(misses, key)
	}
	return misses
}

// fetch performs the single round trip and adds every returned record to
// lookup. Only records present in the reply are added.
func (a *Aggregator[O, K, R]) fetch(ctx context.Context, keys []K, lookup map[K]R) error {
	reply, err := a.requester.Request(ctx, a.cfg.Destination, shared.BatchRequest[K]{Keys: keys}, a.cfg.Timeout)
	if err != nil {
		return err
	}

	fetched := make(map[K]R, len(reply.Records))
	for _, rec := range reply.Records {
		key := a.keyOf(rec)
		fetched[key] = rec
		lookup[key] = rec
	}

	if a.cache != nil && len(fetched) > 0 {
		if err := a.cache.SetMany(ctx, fetched); err != nil {
			a.logger.Warn("record cache write failed", zap.Error(err))
		}
	}

	a.logger.Debug("enrichment reply received",
		zap.Int("requested", len(keys)),
		zap.Int("returned", len(reply.Records)),
	)
	return nil
}

// merge applies resolved records to every reference and returns the number
// of distinct keys left unresolved. Each missing key is logged once when the
// resolver answered; after a failed round trip a single warning was already
// emitted.
func (a *Aggregator[O, K, R]) merge(batch []O, lookup map[K]R, logMissing bool) int {
	var zero K
	missing := make(map[K]struct{})
	for _, owner := range batch {
		a.walk(owner, func(key K, apply func(R)) {
			if key == zero {
				return
			}
			if rec, ok := lookup[key]; ok {
				apply(rec)
				return
			}
			if _, logged := missing[key]; logged {
				return
			}
			missing[key] = struct{}{}
			if logMissing {
				a.logger.Warn("reference not resolved, keeping placeholder",
					zap.Any("missing_key", key),
				)
			}
		})
	}
	return len(missing)
}
