package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/conduct-dev/conduct"
	"github.com/conduct-dev/conduct/id"
	"github.com/conduct-dev/conduct/workflow"
)

// ── JSON model for KV storage ──

type runEntity struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Status        string     `json:"status"`
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
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func toRunEntity(r *workflow.Run) *runEntity {
	return &runEntity{
		ID:            r.ID.String(),
		Name:          r.Name,
		Status:        string(r.Status),
		Input:         r.Input,
		CurrentStep:   r.CurrentStep,
		StepIndex:     r.StepIndex,
		TotalSteps:    r.TotalSteps,
		ReplayEpoch:   r.ReplayEpoch,
		TriggerSource: r.TriggerSource,
		TriggerActor:  r.TriggerActor,
		TraceID:       r.TraceID,
		Error:         r.Error,
		StartedAt:     r.StartedAt,
		CompletedAt:   r.CompletedAt,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func fromRunEntity(e *runEntity) (*workflow.Run, error) {
	rID, err := id.ParseRunID(e.ID)
	if err != nil {
		return nil, fmt.Errorf("conduct/redis: parse run id: %w", err)
	}

	return &workflow.Run{
		Entity: conduct.Entity{
			CreatedAt: e.CreatedAt,
			UpdatedAt: e.UpdatedAt,
		},
		ID:            rID,
		Name:          e.Name,
		Status:        workflow.Status(e.Status),
		Input:         e.Input,
		CurrentStep:   e.CurrentStep,
		StepIndex:     e.StepIndex,
		TotalSteps:    e.TotalSteps,
		ReplayEpoch:   e.ReplayEpoch,
		TriggerSource: e.TriggerSource,
		TriggerActor:  e.TriggerActor,
		TraceID:       e.TraceID,
		Error:         e.Error,
		StartedAt:     e.StartedAt,
		CompletedAt:   e.CompletedAt,
	}, nil
}

type checkpointEntity struct {
	ID          string    `json:"id"`
	RunID       string    `json:"run_id"`
	StepIndex   int       `json:"step_index"`
	StepName    string    `json:"step_name"`
	Output      []byte    `json:"output,omitempty"`
	ReplayEpoch int       `json:"replay_epoch"`
	CreatedAt   time.Time `json:"created_at"`
}

func toCheckpointEntity(cp *workflow.Checkpoint) *checkpointEntity {
	return &checkpointEntity{
		ID:          cp.ID.String(),
		RunID:       cp.RunID.String(),
		StepIndex:   cp.StepIndex,
		StepName:    cp.StepName,
		Output:      cp.Output,
		ReplayEpoch: cp.ReplayEpoch,
		CreatedAt:   cp.CreatedAt,
	}
}

func fromCheckpointEntity(e *checkpointEntity) (*workflow.Checkpoint, error) {
	cpID, err := id.ParseCheckpointID(e.ID)
	if err != nil {
		return nil, fmt.Errorf("conduct/redis: parse checkpoint id: %w", err)
	}
	rID, err := id.ParseRunID(e.RunID)
	if err != nil {
		return nil, fmt.Errorf("conduct/redis: parse checkpoint run id: %w", err)
	}

	return &workflow.Checkpoint{
		ID:          cpID,
		RunID:       rID,
		StepIndex:   e.StepIndex,
		StepName:    e.StepName,
		Output:      e.Output,
		ReplayEpoch: e.ReplayEpoch,
		CreatedAt:   e.CreatedAt,
	}, nil
}

// CreateRun persists a new workflow run.
func (s *Store) CreateRun(ctx context.Context, run *workflow.Run) error {
	rID := run.ID.String()
	key := runKey(rID)

	exists, err := s.entityExists(ctx, key)
	if err != nil {
		return fmt.Errorf("conduct/redis: create run exists: %w", err)
	}
	if exists {
		return conduct.ErrRunExists
	}

	if err := s.setEntity(ctx, key, toRunEntity(run)); err != nil {
		return fmt.Errorf("conduct/redis: create run: %w", err)
	}
	err = s.client.ZAdd(ctx, runIDsKey, goredis.Z{
		Score:  float64(run.CreatedAt.UnixMilli()),
		Member: rID,
	}).Err()
	if err != nil {
		return fmt.Errorf("conduct/redis: create run index: %w", err)
	}
	return nil
}

// GetRun retrieves a workflow run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	var e runEntity
	if err := s.getEntity(ctx, runKey(runID.String()), &e); err != nil {
		if isNotFound(err) {
			return nil, conduct.ErrRunNotFound
		}
		return nil, fmt.Errorf("conduct/redis: get run: %w", err)
	}
	return fromRunEntity(&e)
}

// UpdateRun persists changes to an existing workflow run.
func (s *Store) UpdateRun(ctx context.Context, run *workflow.Run) error {
	key := runKey(run.ID.String())

	exists, err := s.entityExists(ctx, key)
	if err != nil {
		return fmt.Errorf("conduct/redis: update run exists: %w", err)
	}
	if !exists {
		return conduct.ErrRunNotFound
	}

	e := toRunEntity(run)
	e.UpdatedAt = now()
	if err := s.setEntity(ctx, key, e); err != nil {
		return fmt.Errorf("conduct/redis: update run: %w", err)
	}
	return nil
}

// ListRuns returns workflow runs matching the given options, newest first.
func (s *Store) ListRuns(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	ids, err := s.client.ZRevRange(ctx, runIDsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("conduct/redis: list runs: %w", err)
	}

	var runs []*workflow.Run
	for _, rID := range ids {
		var e runEntity
		if getErr := s.getEntity(ctx, runKey(rID), &e); getErr != nil {
			continue // skip missing
		}
		if opts.Name != "" && e.Name != opts.Name {
			continue
		}
		if opts.Status != "" && e.Status != string(opts.Status) {
			continue
		}
		run, convErr := fromRunEntity(&e)
		if convErr != nil {
			continue
		}
		runs = append(runs, run)
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(runs) {
			return nil, nil
		}
		runs = runs[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(runs) {
		runs = runs[:opts.Limit]
	}
	return runs, nil
}

// SaveCheckpoint persists a step checkpoint, replacing any existing
// checkpoint for the same run and step index.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *workflow.Checkpoint) error {
	rID := cp.RunID.String()
	key := checkpointKey(rID, cp.StepIndex)

	if err := s.setEntity(ctx, key, toCheckpointEntity(cp)); err != nil {
		return fmt.Errorf("conduct/redis: save checkpoint: %w", err)
	}
	err := s.client.ZAdd(ctx, checkpointIdxKey(rID), goredis.Z{
		Score:  float64(cp.StepIndex),
		Member: key,
	}).Err()
	if err != nil {
		return fmt.Errorf("conduct/redis: save checkpoint index: %w", err)
	}
	return nil
}

// GetCheckpoint retrieves the checkpoint for a specific step index.
// Returns nil if no checkpoint exists.
func (s *Store) GetCheckpoint(ctx context.Context, runID id.RunID, stepIndex int) (*workflow.Checkpoint, error) {
	var e checkpointEntity
	if err := s.getEntity(ctx, checkpointKey(runID.String(), stepIndex), &e); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("conduct/redis: get checkpoint: %w", err)
	}
	return fromCheckpointEntity(&e)
}

// LatestCheckpoint returns the run's highest-index checkpoint, nil if the
// run has none.
func (s *Store) LatestCheckpoint(ctx context.Context, runID id.RunID) (*workflow.Checkpoint, error) {
	keys, err := s.client.ZRevRange(ctx, checkpointIdxKey(runID.String()), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("conduct/redis: latest checkpoint: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	var e checkpointEntity
	if err := s.getEntity(ctx, keys[0], &e); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("conduct/redis: latest checkpoint get: %w", err)
	}
	return fromCheckpointEntity(&e)
}

// ListCheckpoints returns all checkpoints for a run ordered by step index.
func (s *Store) ListCheckpoints(ctx context.Context, runID id.RunID) ([]*workflow.Checkpoint, error) {
	keys, err := s.client.ZRange(ctx, checkpointIdxKey(runID.String()), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("conduct/redis: list checkpoints: %w", err)
	}

	cps := make([]*workflow.Checkpoint, 0, len(keys))
	for _, key := range keys {
		var e checkpointEntity
		if getErr := s.getEntity(ctx, key, &e); getErr != nil {
			continue
		}
		cp, convErr := fromCheckpointEntity(&e)
		if convErr != nil {
			continue
		}
		cps = append(cps, cp)
	}
	return cps, nil
}
