package command

import (
	"fmt"
	"time"

	"github.com/conduct-dev/conduct/id"
)

// Draft is the admission input the dispatcher turns into a Command.
type Draft struct {
	// ID pre-assigns the command's identity. Zero means the dispatcher
	// generates one. Callers that must record the ID before admission
	// (dead-letter replay) set it so a crash between the two writes
	// cannot lose the link.
	ID id.CommandID `json:"id,omitempty"`

	// Type selects the registered handler.
	Type string `json:"type"`

	// Payload is the opaque JSON value passed to the handler.
	Payload []byte `json:"payload,omitempty"`

	// IdempotencyKey deduplicates admissions. Empty means the dispatcher
	// derives one from the draft contents.
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// Profile overrides the handler's registered policy profile.
	Profile string `json:"profile,omitempty"`

	// MaxAttempts overrides the profile's attempt budget.
	MaxAttempts int `json:"max_attempts,omitempty"`

	// Queue overrides the handler's registered queue.
	Queue string `json:"queue,omitempty"`

	// Priority overrides the handler's registered priority.
	Priority int `json:"priority,omitempty"`

	// RunID links the command to the workflow run it executes a step for.
	RunID id.RunID `json:"run_id,omitempty"`

	// StepIndex is the 1-based step position within the run.
	StepIndex int `json:"step_index,omitempty"`

	// Actor is the authorized identity that requested the admission.
	Actor string `json:"actor,omitempty"`

	// TraceID links the command's events back to its trigger.
	TraceID string `json:"trace_id,omitempty"`

	// RunAt defers execution. Zero means immediately eligible.
	RunAt time.Time `json:"run_at,omitempty"`
}

// StepKey derives the idempotency key for a workflow step command.
// Re-entering the same step after a crash produces the same key and
// dedupes; bumping the replay epoch after a failure or ambiguous outcome
// yields a fresh key so only that step re-executes.
func StepKey(runID id.RunID, stepIndex, replayEpoch int) string {
	key := fmt.Sprintf("wf:%s:%d", runID, stepIndex)
	if replayEpoch > 0 {
		key = fmt.Sprintf("%s#r%d", key, replayEpoch)
	}
	return key
}

// ReplayKey derives the idempotency key for replaying a dead-lettered
// command: the original key suffixed with the replay epoch. Concurrent
// replay requests derive the same key, so the dispatcher's dedup
// guarantee collapses them into one re-execution.
func ReplayKey(original string, epoch int) string {
	return fmt.Sprintf("%s#r%d", original, epoch)
}

// CronKey derives the idempotency key for a scheduled firing. Two nodes
// firing the same entry for the same scheduled instant derive the same
// key and admit one command.
func CronKey(entryName string, scheduledAt time.Time) string {
	return fmt.Sprintf("cron:%s:%d", entryName, scheduledAt.Unix())
}
