package ext

import (
	"context"
	"time"

	"github.com/conduct-dev/conduct/command"
	"github.com/conduct-dev/conduct/id"
	"github.com/conduct-dev/conduct/workflow"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Command lifecycle hooks
// ──────────────────────────────────────────────────

// CommandAdmitted is called after the dispatcher persists a new command.
// It does not fire for deduplicated admissions.
type CommandAdmitted interface {
	OnCommandAdmitted(ctx context.Context, c *command.Command) error
}

// CommandStarted is called when a worker opens an attempt.
type CommandStarted interface {
	OnCommandStarted(ctx context.Context, c *command.Command, attempt int) error
}

// CommandSucceeded is called after a command's handler finishes
// successfully.
type CommandSucceeded interface {
	OnCommandSucceeded(ctx context.Context, c *command.Command, elapsed time.Duration) error
}

// CommandRetrying is called when an attempt fails but the command is
// scheduled for retry.
type CommandRetrying interface {
	OnCommandRetrying(ctx context.Context, c *command.Command, attempt int, nextRunAt time.Time) error
}

// CommandDeadLettered is called when a command is routed to the
// dead-letter store.
type CommandDeadLettered interface {
	OnCommandDeadLettered(ctx context.Context, c *command.Command, err error) error
}

// ReplayRequested is called when a dead letter is re-admitted for replay.
type ReplayRequested interface {
	OnReplayRequested(ctx context.Context, deadLetterID id.DeadLetterID, commandID id.CommandID) error
}

// ──────────────────────────────────────────────────
// Workflow lifecycle hooks
// ──────────────────────────────────────────────────

// WorkflowStarted is called when a workflow run begins.
type WorkflowStarted interface {
	OnWorkflowStarted(ctx context.Context, r *workflow.Run) error
}

// WorkflowStepChanged is called after a step checkpoints and the run
// advances.
type WorkflowStepChanged interface {
	OnWorkflowStepChanged(ctx context.Context, r *workflow.Run, stepName string, elapsed time.Duration) error
}

// WorkflowBlocked is called when a step's ambiguous outcome pauses the
// run in blocked or partial status.
type WorkflowBlocked interface {
	OnWorkflowBlocked(ctx context.Context, r *workflow.Run, stepName string) error
}

// WorkflowCompleted is called after a workflow run finishes successfully.
type WorkflowCompleted interface {
	OnWorkflowCompleted(ctx context.Context, r *workflow.Run, elapsed time.Duration) error
}

// WorkflowFailed is called when a workflow run fails terminally.
type WorkflowFailed interface {
	OnWorkflowFailed(ctx context.Context, r *workflow.Run, err error) error
}

// WorkflowResumed is called when a blocked, partial, or failed run is
// resumed.
type WorkflowResumed interface {
	OnWorkflowResumed(ctx context.Context, r *workflow.Run) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// CronFired is called when a cron entry fires and admits a command.
type CronFired interface {
	OnCronFired(ctx context.Context, entryName string, commandID id.CommandID) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
