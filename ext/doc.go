// Package ext defines the extension system for Conduct.
//
// Extensions are notified of lifecycle events and can react to them —
// recording metrics, emitting webhooks, writing audit logs, etc.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnCommandSucceeded(ctx context.Context, c *command.Command, elapsed time.Duration) error {
//	    log.Printf("command %s succeeded in %s", c.ID, elapsed)
//	    return nil
//	}
//
// # Command Lifecycle Hooks
//
//   - [CommandAdmitted] — command was accepted by the dispatcher
//   - [CommandStarted] — a worker opened an attempt
//   - [CommandSucceeded] — the handler finished successfully
//   - [CommandRetrying] — an attempt failed but will be retried
//   - [CommandDeadLettered] — the command was routed to the dead-letter store
//   - [ReplayRequested] — a dead letter was re-admitted for replay
//
// # Workflow Lifecycle Hooks
//
//   - [WorkflowStarted] — workflow run began
//   - [WorkflowStepChanged] — a step checkpointed and the run advanced
//   - [WorkflowBlocked] — a step's ambiguous outcome paused the run
//   - [WorkflowCompleted] — workflow run finished successfully
//   - [WorkflowFailed] — workflow run failed terminally
//   - [WorkflowResumed] — a paused or failed run was resumed
//
// # Other Hooks
//
//   - [CronFired] — a cron entry was triggered and a command was admitted
//   - [Shutdown] — the runtime is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
