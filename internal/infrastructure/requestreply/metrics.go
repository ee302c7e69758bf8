package requestreply

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Metrics receives request/reply observations. Implementations must be safe
// for concurrent use.
type Metrics interface {
	// ObservePublish records one publish attempt; err is nil on success
	ObservePublish(ctx context.Context, destination string, err error)
	// ObserveRoundTrip records a finished wait; err is nil when a reply arrived
	ObserveRoundTrip(ctx context.Context, destination string, elapsed time.Duration, err error)
	// ObserveLateReply records a reply with no pending request
	ObserveLateReply(ctx context.Context, destination string)
	// AddPending adjusts the number of requests awaiting a reply
	AddPending(ctx context.Context, delta int64)
}

// NopMetrics discards all observations
type NopMetrics struct{}

func (NopMetrics) ObservePublish(context.Context, string, error)                  {}
func (NopMetrics) ObserveRoundTrip(context.Context, string, time.Duration, error) {}
func (NopMetrics) ObserveLateReply(context.Context, string)                       {}
func (NopMetrics) AddPending(context.Context, int64)                              {}

var _ Metrics = NopMetrics{}

// NewCorrelationID returns a fresh random correlation ID
func NewCorrelationID() string {
	return uuid.NewString()
}
