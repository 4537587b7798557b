package workflow

import (
	"time"

	"github.com/conduct-dev/conduct/id"
)

// Checkpoint records the durable completion of one workflow step. The
// router never re-executes a checkpointed step: resume and replay both
// restart from the step after the highest checkpoint.
type Checkpoint struct {
	ID          id.CheckpointID `json:"id"`
	RunID       id.RunID        `json:"run_id"`
	StepIndex   int             `json:"step_index"`
	StepName    string          `json:"step_name"`
	Output      []byte          `json:"output,omitempty"`
	ReplayEpoch int             `json:"replay_epoch"`
	CreatedAt   time.Time       `json:"created_at"`
}
