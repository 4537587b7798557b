// Package dlq holds commands and workflow runs that failed terminally,
// retained for inspection and replay. Entries are immutable except for
// their replay fields, and replay status only advances forward.
//
// Replay re-admits the underlying command through the dispatcher using
// the original idempotency key suffixed with a replay epoch, so a replay
// produces a new execution record while the dispatcher's dedup guarantee
// collapses concurrent replay requests into one re-execution. Workflow
// entries replay by resuming the run from its last durable checkpoint.
package dlq
