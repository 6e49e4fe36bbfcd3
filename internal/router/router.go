// Package router maps event types to their registered handlers.
package router

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/btall/core-africare-identity-sub001/pkg/lifecycle"
)

// Router holds the handler registry consulted for every delivered event.
// Registration happens during startup; Dispatch is safe for concurrent use
// by the consumer workers.
type Router struct {
	mu       sync.RWMutex
	handlers map[lifecycle.EventType]lifecycle.Handler
}

func New() *Router {
	return &Router{handlers: make(map[lifecycle.EventType]lifecycle.Handler)}
}

// Register binds handler to eventType, replacing any previous binding.
func (r *Router) Register(eventType lifecycle.EventType, handler lifecycle.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventType] = handler
}

// RegisterFunc is Register for a bare function.
func (r *Router) RegisterFunc(eventType lifecycle.EventType, fn func(ctx context.Context, evt *lifecycle.Event) error) {
	r.Register(eventType, lifecycle.HandlerFunc(fn))
}

// Types returns the registered event types in stable order.
func (r *Router) Types() []lifecycle.EventType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]lifecycle.EventType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Dispatch routes evt to its handler. An event type with no registered
// handler is a permanent failure: retrying cannot make a handler appear,
// so the entry belongs in quarantine.
func (r *Router) Dispatch(ctx context.Context, evt *lifecycle.Event) error {
	r.mu.RLock()
	handler, ok := r.handlers[evt.Type]
	r.mu.RUnlock()

	if !ok {
		return lifecycle.Permanent("unknown event type", fmt.Errorf("no handler registered for %q", evt.Type))
	}
	return handler.Handle(ctx, evt)
}
