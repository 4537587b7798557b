// Package dispatcher is the single admission gate for commands. Every
// command enters the system through [Dispatcher.Admit], which validates
// the payload against the registered schema, resolves the policy profile,
// derives or accepts an idempotency key, and persists the command in
// queued status.
//
// Admission is idempotent: two admissions carrying the same idempotency
// key yield one stored command, and the loser receives the winner's
// record without an error. Events and hooks fire only for the admission
// that actually inserted the row.
package dispatcher
