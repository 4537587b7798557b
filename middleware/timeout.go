package middleware

import (
	"context"
	"log/slog"

	"github.com/conduct-dev/conduct/command"
)

// Timeout returns middleware that enforces the command's per-attempt
// execution budget. If the command has a non-zero Timeout, a
// context.WithTimeout wraps the handler call. When the deadline is
// exceeded the context is cancelled and the handler should return
// context.DeadlineExceeded, which classifies as a timeout.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, c *command.Command, next Handler) error {
		if c.Timeout > 0 {
			logger.Debug("command timeout set",
				slog.String("command_id", c.ID.String()),
				slog.Duration("timeout", c.Timeout),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.Timeout)
			defer cancel()
		}
		return next(ctx)
	}
}
