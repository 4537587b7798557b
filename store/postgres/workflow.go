package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/conduct-dev/conduct"
	"github.com/conduct-dev/conduct/id"
	"github.com/conduct-dev/conduct/workflow"
)

const runColumns = `
	id, name, status, input, current_step, step_index, total_steps,
	replay_epoch, trigger_source, trigger_actor, trace_id, error,
	started_at, completed_at, created_at, updated_at`

// CreateRun persists a new workflow run.
func (s *Store) CreateRun(ctx context.Context, run *workflow.Run) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conduct_runs (
			id, name, status, input, current_step, step_index, total_steps,
			replay_epoch, trigger_source, trigger_actor, trace_id, error,
			started_at, completed_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15, $16
		)`,
		run.ID, run.Name, string(run.Status), run.Input, run.CurrentStep, run.StepIndex, run.TotalSteps,
		run.ReplayEpoch, run.TriggerSource, run.TriggerActor, run.TraceID, run.Error,
		run.StartedAt, run.CompletedAt, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return conduct.ErrRunExists
		}
		return fmt.Errorf("conduct/postgres: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a workflow run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM conduct_runs WHERE id = $1`,
		runID,
	)

	run, err := scanRun(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conduct.ErrRunNotFound
		}
		return nil, fmt.Errorf("conduct/postgres: get run: %w", err)
	}
	return run, nil
}

// UpdateRun persists changes to an existing workflow run.
func (s *Store) UpdateRun(ctx context.Context, run *workflow.Run) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conduct_runs SET
			name = $2, status = $3, input = $4, current_step = $5,
			step_index = $6, total_steps = $7, replay_epoch = $8,
			trigger_source = $9, trigger_actor = $10, trace_id = $11,
			error = $12, started_at = $13, completed_at = $14,
			updated_at = NOW()
		WHERE id = $1`,
		run.ID, run.Name, string(run.Status), run.Input, run.CurrentStep,
		run.StepIndex, run.TotalSteps, run.ReplayEpoch,
		run.TriggerSource, run.TriggerActor, run.TraceID,
		run.Error, run.StartedAt, run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("conduct/postgres: update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conduct.ErrRunNotFound
	}
	return nil
}

// ListRuns returns workflow runs matching the given options, newest first.
func (s *Store) ListRuns(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	query := `SELECT ` + runColumns + ` FROM conduct_runs WHERE 1=1`
	var args []any

	if opts.Name != "" {
		args = append(args, opts.Name)
		query += fmt.Sprintf(" AND name = $%d", len(args))
	}
	if opts.Status != "" {
		args = append(args, string(opts.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	query += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("conduct/postgres: list runs: %w", err)
	}
	defer rows.Close()

	var runs []*workflow.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("conduct/postgres: scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ──────────────────────────────────────────────────
// Checkpoints
// ──────────────────────────────────────────────────

const checkpointColumns = `
	id, run_id, step_index, step_name, output, replay_epoch, created_at`

// SaveCheckpoint persists a step checkpoint, replacing any existing
// checkpoint for the same run and step index.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *workflow.Checkpoint) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conduct_checkpoints (
			id, run_id, step_index, step_name, output, replay_epoch, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (run_id, step_index) DO UPDATE SET
			id = EXCLUDED.id,
			step_name = EXCLUDED.step_name,
			output = EXCLUDED.output,
			replay_epoch = EXCLUDED.replay_epoch,
			created_at = EXCLUDED.created_at`,
		cp.ID, cp.RunID, cp.StepIndex, cp.StepName, cp.Output, cp.ReplayEpoch, cp.CreatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return conduct.ErrRunNotFound
		}
		return fmt.Errorf("conduct/postgres: save checkpoint: %w", err)
	}
	return nil
}

// GetCheckpoint retrieves the checkpoint for a specific step index.
// Returns nil if no checkpoint exists.
func (s *Store) GetCheckpoint(ctx context.Context, runID id.RunID, stepIndex int) (*workflow.Checkpoint, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+checkpointColumns+` FROM conduct_checkpoints WHERE run_id = $1 AND step_index = $2`,
		runID, stepIndex,
	)

	cp, err := scanCheckpoint(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("conduct/postgres: get checkpoint: %w", err)
	}
	return cp, nil
}

// LatestCheckpoint returns the run's highest-index checkpoint, nil if the
// run has none.
func (s *Store) LatestCheckpoint(ctx context.Context, runID id.RunID) (*workflow.Checkpoint, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+checkpointColumns+` FROM conduct_checkpoints WHERE run_id = $1 ORDER BY step_index DESC LIMIT 1`,
		runID,
	)

	cp, err := scanCheckpoint(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("conduct/postgres: latest checkpoint: %w", err)
	}
	return cp, nil
}

// ListCheckpoints returns all checkpoints for a run ordered by step index.
func (s *Store) ListCheckpoints(ctx context.Context, runID id.RunID) ([]*workflow.Checkpoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+checkpointColumns+` FROM conduct_checkpoints WHERE run_id = $1 ORDER BY step_index ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("conduct/postgres: list checkpoints: %w", err)
	}
	defer rows.Close()

	var cps []*workflow.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("conduct/postgres: scan checkpoint: %w", err)
		}
		cps = append(cps, cp)
	}
	return cps, rows.Err()
}

func scanRun(row pgx.Row) (*workflow.Run, error) {
	var (
		run    workflow.Run
		status string
	)
	err := row.Scan(
		&run.ID, &run.Name, &status, &run.Input, &run.CurrentStep, &run.StepIndex, &run.TotalSteps,
		&run.ReplayEpoch, &run.TriggerSource, &run.TriggerActor, &run.TraceID, &run.Error,
		&run.StartedAt, &run.CompletedAt, &run.CreatedAt, &run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	run.Status = workflow.Status(status)
	return &run, nil
}

func scanCheckpoint(row pgx.Row) (*workflow.Checkpoint, error) {
	var cp workflow.Checkpoint
	err := row.Scan(
		&cp.ID, &cp.RunID, &cp.StepIndex, &cp.StepName, &cp.Output, &cp.ReplayEpoch, &cp.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &cp, nil
}
