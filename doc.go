// Package conduct provides a composable, auditable command and workflow
// control plane for Go. It turns independently-triggered background work
// (scheduled tasks, cron-fired jobs, route-triggered agent calls) into
// commands executed through registered handlers, with declarative
// retry/timeout/dead-letter policy and checkpointed multi-step workflows.
//
// Conduct is designed library-first. Import it, configure a store,
// register command handlers and workflow definitions, and start the
// runtime. cmd/conductd wraps the same engine in a standalone daemon with
// an admin HTTP API and live event feed.
//
// # Quick Start
//
//	rt, err := conduct.New(
//	    conduct.WithStore(pgStore),
//	    conduct.WithConcurrency(20),
//	)
//
// # Architecture
//
// Conduct follows a composable store pattern where each subsystem (command,
// workflow, mem, dlq, event, cron) defines its own store interface.
// A single backend implements all of them.
//
// Every state transition is validated against a legal-transition table and
// emits exactly one ordered event, so the full history of a command or
// workflow run can be reconstructed from the event stream.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package conduct
