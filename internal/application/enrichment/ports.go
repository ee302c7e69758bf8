package enrichment

import (
	"context"
	"time"

	"github.com/erp/servicebus/internal/domain/shared"
)

// Walker enumerates the foreign-key references held by one owner, including
// every nested child. For each reference it calls visit with the key and a
// setter that overwrites the reference's placeholder with a resolved record.
type Walker[O any, K comparable, R any] func(owner O, visit func(key K, apply func(R)))

// RoundTripper performs one batched request/reply exchange.
// requestreply.Requester[shared.BatchReply[R]] satisfies it.
type RoundTripper[R any] interface {
	Request(ctx context.Context, destination string, payload any, timeout time.Duration) (shared.BatchReply[R], error)
}

// RecordCache holds previously resolved records. Entries leave the cache on
// TTL expiry or through Invalidate; there is no implicit invalidation.
type RecordCache[K comparable, R any] interface {
	// GetMany returns the cached records for keys; absent keys are omitted
	GetMany(ctx context.Context, keys []K) (map[K]R, error)
	// SetMany stores records
	SetMany(ctx context.Context, records map[K]R) error
	// Invalidate drops keys from the cache
	Invalidate(ctx context.Context, keys ...K) error
}

// Stats describes one Enrich call
type Stats struct {
	// Keys is the number of distinct keys referenced by the batch
	Keys int
	// CacheHits is the number of keys served from the cache
	CacheHits int
	// Requested is the number of keys sent to the resolver
	Requested int
	// Missing is the number of distinct keys left unresolved after merge
	Missing int
}

// Metrics receives per-call enrichment observations
type Metrics interface {
	ObserveEnrichment(ctx context.Context, aggregator string, stats Stats, err error)
}

type nopMetrics struct{}

func (nopMetrics) ObserveEnrichment(context.Context, string, Stats, error) {}
