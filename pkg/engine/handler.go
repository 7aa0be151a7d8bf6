package engine

import (
	"fmt"
	"sort"
	"sync"
)

// HandlerRegistry maps resource types to their handlers.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]ResourceHandler
}

// NewHandlerRegistry creates a handler registry holding handlers.
// It panics when two handlers manage the same resource type.
func NewHandlerRegistry(handlers ...ResourceHandler) *HandlerRegistry {
	r := &HandlerRegistry{handlers: make(map[string]ResourceHandler)}
	for _, h := range handlers {
		if err := r.Register(h); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds a handler. Registering a type twice is an error.
func (r *HandlerRegistry) Register(h ResourceHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[h.Type()]; exists {
		return NewConfigurationError(fmt.Sprintf("handler for %s already registered", h.Type()), nil).
			WithCode(ErrCodeValidation)
	}
	r.handlers[h.Type()] = h
	return nil
}

// Get returns the handler for a resource type.
func (r *HandlerRegistry) Get(resourceType string) (ResourceHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[resourceType]
	return h, ok
}

// Types returns the registered resource types, sorted.
func (r *HandlerRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
