package middleware

import (
	"context"

	"github.com/conduct-dev/conduct/command"
)

type actorKey struct{}

type traceIDKey struct{}

// Actor returns middleware that restores the admitting actor and trace id
// from the command into the context. Handlers see the same identity and
// trace as the original admission caller.
func Actor() Middleware {
	return func(ctx context.Context, c *command.Command, next Handler) error {
		if c.Actor != "" {
			ctx = context.WithValue(ctx, actorKey{}, c.Actor)
		}
		if c.TraceID != "" {
			ctx = context.WithValue(ctx, traceIDKey{}, c.TraceID)
		}
		return next(ctx)
	}
}

// ActorFrom extracts the admitting actor from the context.
func ActorFrom(ctx context.Context) (string, bool) {
	actor, ok := ctx.Value(actorKey{}).(string)
	return actor, ok
}

// TraceIDFrom extracts the trace id from the context.
func TraceIDFrom(ctx context.Context) (string, bool) {
	traceID, ok := ctx.Value(traceIDKey{}).(string)
	return traceID, ok
}
