package command

import (
	"time"

	"github.com/conduct-dev/conduct"
	"github.com/conduct-dev/conduct/contract"
	"github.com/conduct-dev/conduct/id"
)

// Status is the lifecycle state of a command. Legality of moves between
// statuses is owned by the contract package.
type Status string

const (
	// StatusQueued means the command is waiting to be claimed by a worker.
	StatusQueued Status = Status(contract.CommandQueued)
	// StatusRunning means a worker holds the execution lease.
	StatusRunning Status = Status(contract.CommandRunning)
	// StatusSucceeded means the handler completed successfully.
	StatusSucceeded Status = Status(contract.CommandSucceeded)
	// StatusRetryScheduled means a failed attempt is waiting out its backoff.
	StatusRetryScheduled Status = Status(contract.CommandRetryScheduled)
	// StatusFailedTerminal means the retry budget is exhausted or the error
	// class is non-retryable.
	StatusFailedTerminal Status = Status(contract.CommandFailedTerminal)
	// StatusDeadLettered means a dead-letter record holds the command for
	// inspection and replay.
	StatusDeadLettered Status = Status(contract.CommandDeadLettered)
	// StatusReplayRequested means a replay consumed this command and
	// re-admitted it under an epoch-suffixed key.
	StatusReplayRequested Status = Status(contract.CommandReplayRequested)
)

// Terminal reports whether the status has no outgoing transitions.
func (s Status) Terminal() bool {
	return contract.Terminal(contract.KindCommand, string(s))
}

// CanTransition reports whether moving to the target status is legal.
func (s Status) CanTransition(to Status) error {
	return contract.ValidateTransition(contract.KindCommand, string(s), string(to))
}

// Command represents a single unit of schedulable work.
type Command struct {
	conduct.Entity

	ID             id.CommandID  `json:"id"`
	Type           string        `json:"type"`
	Queue          string        `json:"queue"`
	Payload        []byte        `json:"payload"`
	Status         Status        `json:"status"`
	Profile        string        `json:"profile"`
	Priority       int           `json:"priority"`
	IdempotencyKey string        `json:"idempotency_key"`
	RunID          id.RunID      `json:"run_id,omitempty"`
	StepIndex      int           `json:"step_index,omitempty"`
	AttemptCount   int           `json:"attempt_count"`
	MaxAttempts    int           `json:"max_attempts"`
	LastErrorClass string        `json:"last_error_class,omitempty"`
	LastErrorMsg   string        `json:"last_error_message,omitempty"`
	Actor          string        `json:"actor,omitempty"`
	TraceID        string        `json:"trace_id,omitempty"`
	WorkerID       id.WorkerID   `json:"worker_id,omitempty"`
	RunAt          time.Time     `json:"run_at"`
	StartedAt      *time.Time    `json:"started_at,omitempty"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
	HeartbeatAt    *time.Time    `json:"heartbeat_at,omitempty"`
	Timeout        time.Duration `json:"timeout,omitempty"`
}

// Transition moves the command to a new status after validating legality.
// Illegal moves return an error wrapping conduct.ErrIllegalTransition and
// leave the command unchanged.
func (c *Command) Transition(to Status) error {
	if err := c.Status.CanTransition(to); err != nil {
		return err
	}
	c.Status = to
	c.Touch()
	return nil
}

// Attempt is one execution try of a command. Immutable once CompletedAt
// is set.
type Attempt struct {
	ID          id.AttemptID  `json:"id"`
	CommandID   id.CommandID  `json:"command_id"`
	Number      int           `json:"number"`
	WorkerID    id.WorkerID   `json:"worker_id,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	ErrorClass  string        `json:"error_class,omitempty"`
	ErrorMsg    string        `json:"error_message,omitempty"`
	Summary     string        `json:"result_summary,omitempty"`
	Output      []byte        `json:"output,omitempty"`
	Ambiguous   bool          `json:"ambiguous,omitempty"`
	Usage       Usage         `json:"resource_usage"`
}

// Open reports whether the attempt has started but not yet completed.
func (a *Attempt) Open() bool {
	return !a.StartedAt.IsZero() && a.CompletedAt == nil
}

// Usage records the resources an attempt consumed.
type Usage struct {
	Tokens    int64 `json:"tokens,omitempty"`
	CostCents int64 `json:"cost_cents,omitempty"`
}

// Add accumulates another usage reading.
func (u *Usage) Add(other Usage) {
	u.Tokens += other.Tokens
	u.CostCents += other.CostCents
}

// Result is what a handler returns on completion.
type Result struct {
	// Summary is a short human-readable description recorded on the attempt.
	Summary string `json:"summary,omitempty"`

	// Output is an optional structured value passed to the next workflow
	// step through run-scoped memory.
	Output []byte `json:"output,omitempty"`

	// Ambiguous marks an outcome that cannot be confirmed automatically.
	// Workflow steps declared blocking route the run to blocked/partial
	// without advancing the checkpoint.
	Ambiguous bool `json:"ambiguous,omitempty"`

	// Usage is the resource consumption of this invocation.
	Usage Usage `json:"usage"`
}
