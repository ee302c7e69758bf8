// Package requestreply implements a synchronous-looking request/reply call
// over an asynchronous broker: a registry of pending requests keyed by
// correlation ID, a publisher for correlated requests and a subscriber that
// resolves pending requests from inbound replies.
package requestreply

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/erp/servicebus/internal/domain/shared"
	"go.uber.org/zap"
)

// Pending is a single-assignment cell. It can be settled once and read any
// number of times; readers block on Done until it is settled.
type Pending[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
}

func newPending[T any]() *Pending[T] {
	return &Pending[T]{done: make(chan struct{})}
}

// settle stores v if the cell is still unset. Returns false if it was
// already settled.
func (p *Pending[T]) settle(v T) bool {
	settled := false
	p.once.Do(func() {
		p.value = v
		close(p.done)
		settled = true
	})
	return settled
}

// Done is closed once the cell is settled
func (p *Pending[T]) Done() <-chan struct{} {
	return p.done
}

// Value returns the settled value without blocking. ok is false while the
// cell is unset.
func (p *Pending[T]) Value() (value T, ok bool) {
	select {
	case <-p.done:
		return p.value, true
	default:
		var zero T
		return zero, false
	}
}

// PendingRegistry maps correlation IDs to pending replies. It is safe for
// concurrent use and does no I/O. Each registry is an independent instance;
// create one per reply payload type.
type PendingRegistry[T any] struct {
	mu      sync.Mutex
	entries map[string]*Pending[T]
	logger  *zap.Logger
}

// NewPendingRegistry creates an empty registry
func NewPendingRegistry[T any](logger *zap.Logger) *PendingRegistry[T] {
	return &PendingRegistry[T]{
		entries: make(map[string]*Pending[T]),
		logger:  logger,
	}
}

// Register inserts an unset cell for correlationID. Registering an ID that is
// still pending is a caller bug and returns ErrDuplicateCorrelation.
func (r *PendingRegistry[T]) Register(correlationID string) (*Pending[T], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[correlationID]; exists {
		return nil, shared.ErrDuplicateCorrelation.Wrap(fmt.Errorf("correlation id %s", correlationID))
	}
	p := newPending[T]()
	r.entries[correlationID] = p
	return p, nil
}

// Resolve settles the cell registered under correlationID. It returns false
// when nothing is pending under that ID (a late, duplicate or forged reply);
// that case is logged and otherwise ignored. Settling a cell that already
// holds a value leaves the first value in place. Settling happens under the
// registry lock, so a true result means the waiter receives the value.
func (r *PendingRegistry[T]) Resolve(correlationID string, value T) bool {
	r.mu.Lock()
	p, ok := r.entries[correlationID]
	settled := ok && p.settle(value)
	r.mu.Unlock()

	if !ok {
		r.logger.Warn("no pending request for reply, dropping",
			zap.String("correlation_id", correlationID),
		)
		return false
	}

	if !settled {
		r.logger.Debug("reply already settled, ignoring duplicate",
			zap.String("correlation_id", correlationID),
		)
	}
	return true
}

// AwaitAndRemove blocks the calling goroutine until the cell is settled, the
// timeout elapses or ctx ends. The entry is removed from the registry before
// returning in every outcome. A non-positive timeout waits on ctx alone.
//
// Errors: ErrReplyTimeout when the timeout or ctx deadline passes,
// ErrRequestCancelled when ctx is cancelled.
func (r *PendingRegistry[T]) AwaitAndRemove(ctx context.Context, correlationID string, pending *Pending[T], timeout time.Duration) (T, error) {
	defer r.remove(correlationID, pending)

	var timerC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerC = timer.C
	}

	var zero T
	select {
	case <-pending.done:
		return pending.value, nil
	case <-timerC:
		// A reply that raced the timer still wins
		if v, ok := r.abandon(correlationID, pending); ok {
			return v, nil
		}
		return zero, shared.ErrReplyTimeout.Wrap(fmt.Errorf("correlation id %s after %s", correlationID, timeout))
	case <-ctx.Done():
		if v, ok := r.abandon(correlationID, pending); ok {
			return v, nil
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, shared.ErrReplyTimeout.Wrap(ctx.Err())
		}
		return zero, shared.ErrRequestCancelled.Wrap(ctx.Err())
	}
}

// Cancel removes a pending entry without settling it, for requests that were
// never sent. Returns false if nothing was pending.
func (r *PendingRegistry[T]) Cancel(correlationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[correlationID]; !ok {
		return false
	}
	delete(r.entries, correlationID)
	return true
}

// Contains reports whether correlationID is pending
func (r *PendingRegistry[T]) Contains(correlationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[correlationID]
	return ok
}

// Len returns the number of pending entries
func (r *PendingRegistry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// abandon removes the entry and reads the cell under one lock. After it
// returns, Resolve reports any reply for correlationID as late.
func (r *PendingRegistry[T]) abandon(correlationID string, pending *Pending[T]) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.entries[correlationID]; ok && current == pending {
		delete(r.entries, correlationID)
	}
	return pending.Value()
}

// remove deletes the entry only if it still belongs to this wait, so an ID
// that was reused after cleanup is never removed by a stale waiter
func (r *PendingRegistry[T]) remove(correlationID string, pending *Pending[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.entries[correlationID]; ok && current == pending {
		delete(r.entries, correlationID)
	}
}
