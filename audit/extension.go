package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/conduct-dev/conduct/command"
	"github.com/conduct-dev/conduct/ext"
	"github.com/conduct-dev/conduct/id"
	"github.com/conduct-dev/conduct/workflow"
)

// Compile-time interface checks.
var (
	_ ext.Extension           = (*Extension)(nil)
	_ ext.CommandAdmitted     = (*Extension)(nil)
	_ ext.CommandStarted      = (*Extension)(nil)
	_ ext.CommandSucceeded    = (*Extension)(nil)
	_ ext.CommandRetrying     = (*Extension)(nil)
	_ ext.CommandDeadLettered = (*Extension)(nil)
	_ ext.ReplayRequested     = (*Extension)(nil)
	_ ext.WorkflowStarted     = (*Extension)(nil)
	_ ext.WorkflowStepChanged = (*Extension)(nil)
	_ ext.WorkflowBlocked     = (*Extension)(nil)
	_ ext.WorkflowCompleted   = (*Extension)(nil)
	_ ext.WorkflowFailed      = (*Extension)(nil)
	_ ext.WorkflowResumed     = (*Extension)(nil)
	_ ext.CronFired           = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// It is defined locally so the audit package does not import any
// particular trail backend. Callers inject the concrete writer at
// wiring time.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *Event) error
}

// Event is the audit record emitted for each lifecycle transition.
type Event struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Actor      string         `json:"actor,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *Event) error

func (f RecorderFunc) Record(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges Conduct lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the
// [Recorder], stamped with the actor that initiated the transition.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided
// Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit" }

// ── Command lifecycle hooks ─────────────────────────

// OnCommandAdmitted implements ext.CommandAdmitted.
func (e *Extension) OnCommandAdmitted(ctx context.Context, c *command.Command) error {
	return e.record(ctx, ActionCommandAdmitted, SeverityInfo, OutcomeSuccess,
		ResourceCommand, c.ID.String(), CategoryCommand, c.Actor, nil,
		"command_type", c.Type,
		"queue", c.Queue,
	)
}

// OnCommandStarted implements ext.CommandStarted.
func (e *Extension) OnCommandStarted(ctx context.Context, c *command.Command, attempt int) error {
	return e.record(ctx, ActionCommandStarted, SeverityInfo, OutcomeSuccess,
		ResourceCommand, c.ID.String(), CategoryCommand, c.Actor, nil,
		"command_type", c.Type,
		"queue", c.Queue,
		"attempt", attempt,
		"worker_id", c.WorkerID.String(),
	)
}

// OnCommandSucceeded implements ext.CommandSucceeded.
func (e *Extension) OnCommandSucceeded(ctx context.Context, c *command.Command, elapsed time.Duration) error {
	return e.record(ctx, ActionCommandSucceeded, SeverityInfo, OutcomeSuccess,
		ResourceCommand, c.ID.String(), CategoryCommand, c.Actor, nil,
		"command_type", c.Type,
		"queue", c.Queue,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnCommandRetrying implements ext.CommandRetrying.
func (e *Extension) OnCommandRetrying(ctx context.Context, c *command.Command, attempt int, nextRunAt time.Time) error {
	return e.record(ctx, ActionCommandRetrying, SeverityWarning, OutcomeFailure,
		ResourceCommand, c.ID.String(), CategoryCommand, c.Actor, nil,
		"command_type", c.Type,
		"queue", c.Queue,
		"attempt", attempt,
		"error_class", c.LastErrorClass,
		"next_run_at", nextRunAt.Format(time.RFC3339),
	)
}

// OnCommandDeadLettered implements ext.CommandDeadLettered.
func (e *Extension) OnCommandDeadLettered(ctx context.Context, c *command.Command, cmdErr error) error {
	return e.record(ctx, ActionCommandDeadLettered, SeverityCritical, OutcomeFailure,
		ResourceCommand, c.ID.String(), CategoryCommand, c.Actor, cmdErr,
		"command_type", c.Type,
		"queue", c.Queue,
		"attempt_count", c.AttemptCount,
		"max_attempts", c.MaxAttempts,
	)
}

// OnReplayRequested implements ext.ReplayRequested.
func (e *Extension) OnReplayRequested(ctx context.Context, deadLetterID id.DeadLetterID, commandID id.CommandID) error {
	return e.record(ctx, ActionReplayRequested, SeverityInfo, OutcomeSuccess,
		ResourceDeadLetter, deadLetterID.String(), CategoryCommand, "", nil,
		"replay_command_id", commandID.String(),
	)
}

// ── Workflow lifecycle hooks ────────────────────────

// OnWorkflowStarted implements ext.WorkflowStarted.
func (e *Extension) OnWorkflowStarted(ctx context.Context, r *workflow.Run) error {
	return e.record(ctx, ActionWorkflowStarted, SeverityInfo, OutcomeSuccess,
		ResourceWorkflow, r.ID.String(), CategoryWorkflow, r.TriggerActor, nil,
		"workflow_name", r.Name,
		"trigger_source", r.TriggerSource,
	)
}

// OnWorkflowStepChanged implements ext.WorkflowStepChanged.
func (e *Extension) OnWorkflowStepChanged(ctx context.Context, r *workflow.Run, stepName string, elapsed time.Duration) error {
	return e.record(ctx, ActionWorkflowStepChanged, SeverityInfo, OutcomeSuccess,
		ResourceWorkflow, r.ID.String(), CategoryWorkflow, r.TriggerActor, nil,
		"workflow_name", r.Name,
		"step_name", stepName,
		"step_index", r.StepIndex,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnWorkflowBlocked implements ext.WorkflowBlocked.
func (e *Extension) OnWorkflowBlocked(ctx context.Context, r *workflow.Run, stepName string) error {
	return e.record(ctx, ActionWorkflowBlocked, SeverityWarning, OutcomeFailure,
		ResourceWorkflow, r.ID.String(), CategoryWorkflow, r.TriggerActor, nil,
		"workflow_name", r.Name,
		"step_name", stepName,
		"status", string(r.Status),
	)
}

// OnWorkflowCompleted implements ext.WorkflowCompleted.
func (e *Extension) OnWorkflowCompleted(ctx context.Context, r *workflow.Run, elapsed time.Duration) error {
	return e.record(ctx, ActionWorkflowCompleted, SeverityInfo, OutcomeSuccess,
		ResourceWorkflow, r.ID.String(), CategoryWorkflow, r.TriggerActor, nil,
		"workflow_name", r.Name,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnWorkflowFailed implements ext.WorkflowFailed.
func (e *Extension) OnWorkflowFailed(ctx context.Context, r *workflow.Run, runErr error) error {
	return e.record(ctx, ActionWorkflowFailed, SeverityCritical, OutcomeFailure,
		ResourceWorkflow, r.ID.String(), CategoryWorkflow, r.TriggerActor, runErr,
		"workflow_name", r.Name,
		"current_step", r.CurrentStep,
	)
}

// OnWorkflowResumed implements ext.WorkflowResumed.
func (e *Extension) OnWorkflowResumed(ctx context.Context, r *workflow.Run) error {
	return e.record(ctx, ActionWorkflowResumed, SeverityInfo, OutcomeSuccess,
		ResourceWorkflow, r.ID.String(), CategoryWorkflow, r.TriggerActor, nil,
		"workflow_name", r.Name,
		"replay_epoch", r.ReplayEpoch,
	)
}

// ── Cron lifecycle hooks ────────────────────────────

// OnCronFired implements ext.CronFired.
func (e *Extension) OnCronFired(ctx context.Context, entryName string, commandID id.CommandID) error {
	return e.record(ctx, ActionCronFired, SeverityInfo, OutcomeSuccess,
		ResourceCron, entryName, CategoryCron, "", nil,
		"command_id", commandID.String(),
	)
}

// ── Internal helpers ────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category, actor string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &Event{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Actor:      actor,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
