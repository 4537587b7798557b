package audit

// Audit event actions. Each constant corresponds to one ext lifecycle
// hook and becomes the Action field of the audit event.
const (
	ActionCommandAdmitted     = "command.admitted"
	ActionCommandStarted      = "command.started"
	ActionCommandSucceeded    = "command.succeeded"
	ActionCommandRetrying     = "command.retrying"
	ActionCommandDeadLettered = "command.dead_lettered"
	ActionReplayRequested     = "replay.requested"
	ActionWorkflowStarted     = "workflow.started"
	ActionWorkflowStepChanged = "workflow.step_changed"
	ActionWorkflowBlocked     = "workflow.blocked"
	ActionWorkflowCompleted   = "workflow.completed"
	ActionWorkflowFailed      = "workflow.failed"
	ActionWorkflowResumed     = "workflow.resumed"
	ActionCronFired           = "cron.fired"
)

// Audit event categories group related actions.
const (
	CategoryCommand  = "conduct.command"
	CategoryWorkflow = "conduct.workflow"
	CategoryCron     = "conduct.cron"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceCommand    = "command"
	ResourceWorkflow   = "workflow_run"
	ResourceDeadLetter = "dead_letter"
	ResourceCron       = "cron_entry"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionCommandAdmitted,
		ActionCommandStarted,
		ActionCommandSucceeded,
		ActionCommandRetrying,
		ActionCommandDeadLettered,
		ActionReplayRequested,
		ActionWorkflowStarted,
		ActionWorkflowStepChanged,
		ActionWorkflowBlocked,
		ActionWorkflowCompleted,
		ActionWorkflowFailed,
		ActionWorkflowResumed,
		ActionCronFired,
	}
}
