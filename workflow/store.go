package workflow

import (
	"context"

	"github.com/conduct-dev/conduct/id"
)

// ListOpts controls pagination and filtering for workflow run list queries.
type ListOpts struct {
	// Limit is the maximum number of runs to return. Zero means no limit.
	Limit int
	// Offset is the number of runs to skip.
	Offset int
	// Name filters by workflow name. Empty means all workflows.
	Name string
	// Status filters by run status. Empty means all statuses.
	Status Status
}

// Store defines the persistence contract for workflow runs and
// checkpoints.
type Store interface {
	// CreateRun persists a new workflow run.
	CreateRun(ctx context.Context, run *Run) error

	// GetRun retrieves a workflow run by ID.
	GetRun(ctx context.Context, runID id.RunID) (*Run, error)

	// UpdateRun persists changes to an existing workflow run.
	UpdateRun(ctx context.Context, run *Run) error

	// ListRuns returns workflow runs matching the given options, newest
	// first.
	ListRuns(ctx context.Context, opts ListOpts) ([]*Run, error)

	// SaveCheckpoint persists a step checkpoint. If a checkpoint already
	// exists for the same run and step index, it is replaced.
	SaveCheckpoint(ctx context.Context, cp *Checkpoint) error

	// GetCheckpoint retrieves the checkpoint for a specific step index.
	// Returns nil if no checkpoint exists.
	GetCheckpoint(ctx context.Context, runID id.RunID, stepIndex int) (*Checkpoint, error)

	// LatestCheckpoint returns the run's highest-index checkpoint, nil if
	// the run has none.
	LatestCheckpoint(ctx context.Context, runID id.RunID) (*Checkpoint, error)

	// ListCheckpoints returns all checkpoints for a run ordered by step
	// index.
	ListCheckpoints(ctx context.Context, runID id.RunID) ([]*Checkpoint, error)
}
