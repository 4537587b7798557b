package dlq

import (
	"time"

	"github.com/conduct-dev/conduct/contract"
	"github.com/conduct-dev/conduct/id"
)

// SourceType identifies what kind of entity a dead letter captured.
type SourceType string

const (
	SourceCommand  SourceType = "command"
	SourceWorkflow SourceType = "workflow"
)

// ReplayStatus tracks an entry's replay lifecycle. It only advances
// forward: a failed replay may be requested again, a succeeded replay
// never un-replays.
type ReplayStatus string

const (
	ReplayNone      ReplayStatus = ReplayStatus(contract.ReplayNone)
	ReplayRequested ReplayStatus = ReplayStatus(contract.ReplayRequested)
	ReplaySucceeded ReplayStatus = ReplayStatus(contract.ReplaySucceeded)
	ReplayFailed    ReplayStatus = ReplayStatus(contract.ReplayFailed)
)

// Entry is one terminally-failed command or workflow run. Everything but
// the replay fields is immutable once captured.
type Entry struct {
	ID            id.DeadLetterID `json:"id"`
	SourceType    SourceType      `json:"source_type"`
	SourceID      string          `json:"source_id"`
	CommandType   string          `json:"command_type,omitempty"`
	WorkflowName  string          `json:"workflow_name,omitempty"`
	Queue         string          `json:"queue,omitempty"`
	Reason        string          `json:"reason"`
	ErrorClass    string          `json:"error_class,omitempty"`
	CapturedState []byte          `json:"captured_state"`
	TraceID       string          `json:"trace_id,omitempty"`

	// Replay bookkeeping. ReplayCommandID points at the command a replay
	// admitted; ReplayEpoch counts how many replays have been requested.
	ReplayStatus    ReplayStatus `json:"replay_status"`
	ReplayEpoch     int          `json:"replay_epoch"`
	ReplayCommandID id.CommandID `json:"replay_command_id,omitempty"`
	ReplayedAt      *time.Time   `json:"replayed_at,omitempty"`

	FailedAt  time.Time `json:"failed_at"`
	CreatedAt time.Time `json:"created_at"`
}
