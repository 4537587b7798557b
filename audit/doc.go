// Package audit is a Conduct extension that bridges lifecycle events to
// an immutable audit trail backend.
//
// Every command, workflow, and cron lifecycle hook emits a structured
// audit event through the [Recorder] interface, carrying the actor
// identity that initiated the transition. The extension assigns severity
// levels (info for normal operations, warning for retries and blocked
// runs, critical for terminal failures) and rich metadata (command type,
// queue, elapsed time, errors).
//
// # Usage
//
//	audit.New(audit.RecorderFunc(func(ctx context.Context, evt *audit.Event) error {
//	    return trail.Write(ctx, evt.Action, evt.Resource, evt.ResourceID, evt.Metadata)
//	}))
//
// # Selective filtering
//
//	audit.New(recorder,
//	    audit.WithActions(
//	        audit.ActionCommandDeadLettered,
//	        audit.ActionWorkflowFailed,
//	        audit.ActionReplayRequested,
//	    ),
//	)
package audit
