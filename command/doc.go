// Package command defines the command entity, its attempts, typed
// definitions, and the store interface.
//
// # Command Entity
//
// A [Command] is one unit of schedulable work. It embeds [conduct.Entity]
// for timestamps, carries an opaque JSON payload, and progresses through a
// validator-enforced state machine:
//
//	queued → running → succeeded
//	queued → running → retry_scheduled → queued → ...
//	queued → running → failed_terminal → dead_lettered
//	dead_lettered → replay_requested → queued
//
// Fields of note:
//   - Type: selects the registered handler
//   - Profile: the retry-policy profile governing the command
//   - IdempotencyKey: unique; duplicate admissions return the same command
//   - AttemptCount / MaxAttempts: retry budget, gapless attempt numbering
//   - RunID / StepIndex: back-reference when the command executes a
//     workflow step
//
// # Defining a Command
//
// Use [Definition] with a typed handler. The payload is JSON-serialized at
// admission and deserialized before the handler runs:
//
//	var Charge = command.NewDefinition("payments.charge",
//	    func(ctx context.Context, input ChargeInput) (command.Result, error) {
//	        return command.Result{Summary: "charged"}, gateway.Charge(ctx, input)
//	    },
//	    command.WithProfile(policy.CriticalPath),
//	)
//
// # Registry
//
// [Registry] maps command types to type-erased [HandlerFunc] values plus
// their options. Register definitions at startup via [RegisterDefinition];
// the engine package provides higher-level wrappers.
package command
