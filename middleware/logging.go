package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/conduct-dev/conduct/command"
)

// Logging returns middleware that logs attempt start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, c *command.Command, next Handler) error {
		logger.Info("command started",
			slog.String("command_type", c.Type),
			slog.String("command_id", c.ID.String()),
			slog.String("queue", c.Queue),
			slog.Int("attempt", c.AttemptCount+1),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("command failed",
				slog.String("command_type", c.Type),
				slog.String("command_id", c.ID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("command completed",
				slog.String("command_type", c.Type),
				slog.String("command_id", c.ID.String()),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
