package command

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/conduct-dev/conduct/contract"
)

// HandlerFunc is a type-erased command handler that accepts the raw JSON
// payload. The typed Definition[T] is converted to a HandlerFunc at
// registration time by closing over JSON unmarshal + the typed handler.
type HandlerFunc func(ctx context.Context, payload []byte) (Result, error)

// Registry maps command types to type-erased handlers and their options.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	opts     map[string]Options
}

// NewRegistry creates an empty command registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
		opts:     make(map[string]Options),
	}
}

// RegisterDefinition registers a typed command definition. The generic
// handler is wrapped in a closure that JSON-unmarshals the payload into T
// before calling the typed handler. An unmarshal failure is a schema-class
// error: the payload never matched the declared type.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	handler := func(ctx context.Context, payload []byte) (Result, error) {
		var t T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &t); err != nil {
				return Result{}, contract.Errorf(contract.ClassSchema, "unmarshal payload for %q: %v", def.Type, err)
			}
		}
		return def.Handler(ctx, t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[def.Type] = handler
	r.opts[def.Type] = def.Opts
}

// Register registers a raw handler under a command type with options.
func (r *Registry) Register(commandType string, handler HandlerFunc, opts ...Option) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[commandType] = handler
	r.opts[commandType] = o
}

// Get returns the handler for the given command type.
// Returns false if no handler is registered.
func (r *Registry) Get(commandType string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[commandType]
	return h, ok
}

// Opts returns the options for the given command type.
func (r *Registry) Opts(commandType string) (Options, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.opts[commandType]
	return o, ok
}

// Types returns all registered command types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}
