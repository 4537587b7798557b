package workflow

import (
	"time"

	"github.com/conduct-dev/conduct"
	"github.com/conduct-dev/conduct/contract"
	"github.com/conduct-dev/conduct/id"
)

// Status is the lifecycle state of a workflow run. Legality of moves
// between statuses is owned by the contract package.
type Status string

const (
	// StatusPending means the run is created but has not admitted its
	// first step. Never reachable again once left.
	StatusPending Status = Status(contract.WorkflowPending)
	// StatusActive means a step command is in flight.
	StatusActive Status = Status(contract.WorkflowActive)
	// StatusBlocked means a step's ambiguous outcome requires a human or
	// external trigger before the run can continue.
	StatusBlocked Status = Status(contract.WorkflowBlocked)
	// StatusPartial means a step completed partially; the run holds its
	// checkpoint position until resumed.
	StatusPartial Status = Status(contract.WorkflowPartial)
	// StatusCompleted means every step checkpointed successfully.
	StatusCompleted Status = Status(contract.WorkflowCompleted)
	// StatusFailedTerminal means a step dead-lettered.
	StatusFailedTerminal Status = Status(contract.WorkflowFailedTerminal)
	// StatusReplayActive means a failed run is being replayed from its
	// last durable checkpoint.
	StatusReplayActive Status = Status(contract.WorkflowReplayActive)
)

// Terminal reports whether the status has no outgoing transitions.
func (s Status) Terminal() bool {
	return contract.Terminal(contract.KindWorkflow, string(s))
}

// Resumable reports whether a resume request is meaningful in this status.
func (s Status) Resumable() bool {
	switch s {
	case StatusBlocked, StatusPartial, StatusFailedTerminal:
		return true
	default:
		return false
	}
}

// Run represents a single execution of a registered workflow definition.
//
// StepIndex is the 1-based index of the step currently executing or next
// to execute. It is monotonic non-decreasing except on resume/replay,
// which restores it to one past the last durable checkpoint, never
// beyond it.
type Run struct {
	conduct.Entity

	ID            id.RunID   `json:"id"`
	Name          string     `json:"name"`
	Status        Status     `json:"status"`
	Input         []byte     `json:"input,omitempty"`
	CurrentStep   string     `json:"current_step,omitempty"`
	StepIndex     int        `json:"step_index"`
	TotalSteps    int        `json:"total_steps"`
	ReplayEpoch   int        `json:"replay_epoch"`
	TriggerSource string     `json:"trigger_source,omitempty"`
	TriggerActor  string     `json:"trigger_actor,omitempty"`
	TraceID       string     `json:"trace_id,omitempty"`
	Error         string     `json:"error,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Transition moves the run to a new status after validating legality.
// Illegal moves return an error wrapping conduct.ErrIllegalTransition and
// leave the run unchanged.
func (r *Run) Transition(to Status) error {
	if err := contract.ValidateTransition(contract.KindWorkflow, string(r.Status), string(to)); err != nil {
		return err
	}
	r.Status = to
	r.Touch()
	return nil
}
