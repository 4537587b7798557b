package dlq

import (
	"context"
	"time"

	"github.com/conduct-dev/conduct/id"
)

// ListOpts controls pagination and filtering for dead-letter list queries.
type ListOpts struct {
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
	// SourceType filters by source kind. Empty means all sources.
	SourceType SourceType
	// ReplayStatus filters by replay status. Empty means all statuses.
	ReplayStatus ReplayStatus
	// Queue filters command entries by queue. Empty means all queues.
	Queue string
}

// Store defines the persistence contract for dead letters.
//
// SwapReplayStatus must be an atomic compare-and-swap: concurrent replay
// requests for the same entry race on it, and exactly one may win.
type Store interface {
	// PushDeadLetter persists a new entry.
	PushDeadLetter(ctx context.Context, entry *Entry) error

	// GetDeadLetter retrieves an entry by ID.
	GetDeadLetter(ctx context.Context, entryID id.DeadLetterID) (*Entry, error)

	// UpdateDeadLetter persists changes to an entry's replay fields.
	UpdateDeadLetter(ctx context.Context, entry *Entry) error

	// SwapReplayStatus advances an entry's replay status if it currently
	// equals from. A mismatch returns conduct.ErrReplayInFlight without
	// modifying anything.
	SwapReplayStatus(ctx context.Context, entryID id.DeadLetterID, from, to ReplayStatus) error

	// FindByReplayCommand returns the entry whose last replay admitted
	// the given command.
	FindByReplayCommand(ctx context.Context, commandID id.CommandID) (*Entry, error)

	// FindByRun returns the most recent workflow entry for a run.
	FindByRun(ctx context.Context, runID id.RunID) (*Entry, error)

	// ListDeadLetters returns entries matching the options, newest first.
	ListDeadLetters(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// CountDeadLetters returns the number of entries matching the options.
	CountDeadLetters(ctx context.Context, opts ListOpts) (int64, error)

	// PurgeDeadLetters removes entries that failed before the given time.
	// Returns the number of entries removed. Only archival policy calls
	// this; the runtime itself never deletes entries.
	PurgeDeadLetters(ctx context.Context, before time.Time) (int64, error)
}
