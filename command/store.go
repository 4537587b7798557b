package command

import (
	"context"
	"time"

	"github.com/conduct-dev/conduct/id"
)

// ListOpts controls pagination and filtering for command list queries.
type ListOpts struct {
	// Limit is the maximum number of commands to return. Zero means no limit.
	Limit int
	// Offset is the number of commands to skip.
	Offset int
	// Queue filters by queue name. Empty means all queues.
	Queue string
	// Type filters by command type. Empty means all types.
	Type string
	// Status filters by status. Empty means all statuses.
	Status Status
	// RunID filters to the commands executed for a workflow run.
	RunID id.RunID
}

// CountOpts controls filtering for command count queries.
type CountOpts struct {
	// Queue filters by queue name. Empty means all queues.
	Queue string
	// Status filters by status. Empty means all statuses.
	Status Status
}

// Store defines the persistence contract for commands and their attempts.
//
// Implementations must make CreateCommand, DequeueCommands, and
// OpenAttempt atomic: idempotent admission, single-claim dequeue, and
// gapless attempt numbering all depend on it.
type Store interface {
	// CreateCommand persists a new command in queued status unless one
	// already holds the same idempotency key. It returns the stored
	// command and whether this call inserted it. A losing concurrent
	// insert returns the winner with created=false, never an error.
	CreateCommand(ctx context.Context, c *Command) (*Command, bool, error)

	// GetCommand retrieves a command by ID.
	GetCommand(ctx context.Context, commandID id.CommandID) (*Command, error)

	// GetCommandByKey retrieves a command by idempotency key.
	GetCommandByKey(ctx context.Context, key string) (*Command, error)

	// UpdateCommand persists changes to an existing command.
	UpdateCommand(ctx context.Context, c *Command) error

	// DequeueCommands atomically claims up to limit queued commands whose
	// RunAt has passed from the given queues, sets them running under the
	// worker's lease, and returns them. Commands are ordered by priority
	// (descending) then RunAt (ascending). Two workers never receive the
	// same command.
	DequeueCommands(ctx context.Context, queues []string, workerID id.WorkerID, limit int, lease time.Duration) ([]*Command, error)

	// ReleaseDueRetries moves retry_scheduled commands whose backoff has
	// elapsed back to queued, returning how many were released.
	ReleaseDueRetries(ctx context.Context, limit int) (int, error)

	// HeartbeatCommand extends the lease on a running command, proving the
	// worker is still alive. Fails if the command is not running under the
	// given worker.
	HeartbeatCommand(ctx context.Context, commandID id.CommandID, workerID id.WorkerID, lease time.Duration) error

	// ReapExpiredLeases returns running commands whose lease expired,
	// indicating the owning worker crashed. Any attempt the dead worker
	// left open is closed with error class cancelled before the command
	// is returned, so the next claim can open the next contiguous
	// attempt. The caller requeues the returned commands.
	ReapExpiredLeases(ctx context.Context, limit int) ([]*Command, error)

	// ListCommands returns commands matching the given options, newest
	// first.
	ListCommands(ctx context.Context, opts ListOpts) ([]*Command, error)

	// CountCommands returns the number of commands matching the options.
	CountCommands(ctx context.Context, opts CountOpts) (int64, error)

	// OpenAttempt atomically creates the next attempt for a command,
	// assigning the lowest unused attempt number. Returns
	// conduct.ErrAttemptOpen if the command already has an open attempt.
	OpenAttempt(ctx context.Context, commandID id.CommandID, workerID id.WorkerID) (*Attempt, error)

	// CloseAttempt finalizes an open attempt. A closed attempt is
	// immutable.
	CloseAttempt(ctx context.Context, a *Attempt) error

	// ListAttempts returns a command's attempts ordered by number.
	ListAttempts(ctx context.Context, commandID id.CommandID) ([]*Attempt, error)
}
