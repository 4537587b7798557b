// Package cron provides recurring command admission on cron schedules.
//
// Entries are stored in the database and evaluated by a tick loop. Firing
// does not need leader election: each firing admits its command under an
// idempotency key derived from the entry name and the scheduled instant,
// so two nodes firing the same entry for the same tick admit exactly one
// command and the loser observes a dedup.
//
// # Entry
//
// An [Entry] represents a recurring command schedule:
//   - Schedule: standard cron expression (e.g., "0 9 * * 1-5") or a
//     descriptor like "@every 30s"
//   - CommandType: the registered command definition admitted when fired
//   - Queue: target queue override (optional)
//   - Payload: static JSON payload carried by every admitted command
//   - Enabled: whether the entry fires
//
// # Scheduler
//
// The [Scheduler] evaluates due entries on every tick, admits the
// corresponding command through the dispatcher, and advances NextRunAt.
// The cron.fired event and the [ext.CronFired] hook fire after each
// admission that actually inserted a command.
package cron
