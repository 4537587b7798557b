// Package middleware provides composable middleware for command execution.
//
// A [Middleware] is a function that wraps a command handler. Middleware are
// composed into a chain using [Chain] and applied around every attempt the
// executor runs. They are applied right-to-left: the first middleware in the
// slice is the outermost wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging] — logs command type, queue, duration, and outcome per attempt
//   - [Recover] — catches panics and converts them to errors
//   - [Timeout] — cancels the attempt context after the command's timeout budget
//   - [Tracing] — wraps execution in an OpenTelemetry span
//   - [Metrics] — records per-command duration and outcome counters
//   - [Actor] — injects the admitting actor and trace id into the context
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, c *command.Command, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting (e.g., circuit breaker, rate limiting).
package middleware
