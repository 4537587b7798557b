package command

import "context"

// Definition is a typed command definition with a handler function.
// T is the payload type (must be JSON-serializable).
type Definition[T any] struct {
	// Type is the unique command type this definition handles.
	Type string

	// Handler processes the payload and reports the outcome. It must be
	// safe to invoke more than once for the same idempotency key, or
	// idempotent at its own boundary.
	Handler func(ctx context.Context, payload T) (Result, error)

	// Opts configures profile, queue, priority, timeout, and schema.
	Opts Options
}

// NewDefinition creates a typed command definition.
func NewDefinition[T any](commandType string, handler func(ctx context.Context, payload T) (Result, error), opts ...Option) *Definition[T] {
	def := &Definition[T]{
		Type:    commandType,
		Handler: handler,
		Opts:    DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}
