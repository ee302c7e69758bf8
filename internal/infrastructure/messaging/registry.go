package messaging

import (
	"reflect"
	"sync"

	"github.com/erp/servicebus/internal/domain/shared"
)

// HandlerRegistry manages handler registrations per destination
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string][]shared.MessageHandler // destination -> handlers
}

// NewHandlerRegistry creates a new handler registry
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[string][]shared.MessageHandler),
	}
}

// Register adds a handler for a destination.
// Returns true when it is the first handler for that destination.
func (r *HandlerRegistry) Register(destination string, handler shared.MessageHandler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	first := len(r.handlers[destination]) == 0
	r.handlers[destination] = append(r.handlers[destination], handler)
	return first
}

// Unregister removes a handler from a destination.
// Returns true when the destination has no handlers left.
func (r *HandlerRegistry) Unregister(destination string, handler shared.MessageHandler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	handlers, ok := r.handlers[destination]
	if !ok {
		return false
	}
	handlers = removeHandler(handlers, handler)
	if len(handlers) == 0 {
		delete(r.handlers, destination)
		return true
	}
	r.handlers[destination] = handlers
	return false
}

// GetHandlers returns a snapshot of the handlers for a destination
func (r *HandlerRegistry) GetHandlers(destination string) []shared.MessageHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handlers := r.handlers[destination]
	result := make([]shared.MessageHandler, len(handlers))
	copy(result, handlers)
	return result
}

// Destinations returns every destination with at least one handler
func (r *HandlerRegistry) Destinations() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]string, 0, len(r.handlers))
	for destination := range r.handlers {
		result = append(result, destination)
	}
	return result
}

// removeHandler removes a handler from a slice of handlers.
// Handlers whose dynamic type is not comparable (function adapters) never match.
func removeHandler(handlers []shared.MessageHandler, target shared.MessageHandler) []shared.MessageHandler {
	if target == nil || !reflect.TypeOf(target).Comparable() {
		return handlers
	}
	result := make([]shared.MessageHandler, 0, len(handlers))
	for _, h := range handlers {
		if reflect.TypeOf(h).Comparable() && h == target {
			continue
		}
		result = append(result, h)
	}
	return result
}
