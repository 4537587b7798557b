// Package event is the ordered transition log. Every command and workflow
// state change appends exactly one typed event carrying a trace id, so an
// attempt can be linked to its command and its workflow run after the
// fact. External observability is a pure consumer of this stream.
package event

import (
	"time"

	"github.com/conduct-dev/conduct/id"
)

// Type identifies the kind of lifecycle event.
type Type string

const (
	// Command events.
	EventCommandCreated         Type = "command.created"
	EventCommandStarted         Type = "command.started"
	EventCommandSucceeded       Type = "command.succeeded"
	EventCommandRetried         Type = "command.retried"
	EventCommandDeadLettered    Type = "command.dead_lettered"
	EventCommandReplayRequested Type = "command.replay_requested"
	EventCommandReplaySucceeded Type = "command.replay_succeeded"
	EventCommandReplayFailed    Type = "command.replay_failed"

	// Workflow events.
	EventWorkflowStarted     Type = "workflow.started"
	EventWorkflowStepChanged Type = "workflow.step_changed"
	EventWorkflowBlocked     Type = "workflow.blocked"
	EventWorkflowPartial     Type = "workflow.partial"
	EventWorkflowCompleted   Type = "workflow.completed"
	EventWorkflowFailed      Type = "workflow.failed"
	EventWorkflowResumed     Type = "workflow.resumed"

	// Cron events.
	EventCronFired Type = "cron.fired"
)

// EntityKind identifies what an event's EntityID refers to.
type EntityKind string

const (
	EntityCommand    EntityKind = "command"
	EntityWorkflow   EntityKind = "workflow"
	EntityDeadLetter EntityKind = "dead_letter"
	EntityCron       EntityKind = "cron"
)

// Event is one entry in the transition log.
//
// Seq is assigned by the store at append time and increases monotonically
// across the whole stream, so a consumer that reconnects can detect gaps
// and backfill from the last sequence it saw.
type Event struct {
	ID         id.EventID `json:"id"`
	Seq        int64      `json:"seq"`
	Type       Type       `json:"type"`
	EntityKind EntityKind `json:"entity_kind"`
	EntityID   string     `json:"entity_id"`
	RunID      id.RunID   `json:"run_id,omitempty"`
	TraceID    string     `json:"trace_id,omitempty"`
	Actor      string     `json:"actor,omitempty"`
	Payload    []byte     `json:"payload,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
