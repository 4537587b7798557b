package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/conduct-dev/conduct"
	"github.com/conduct-dev/conduct/dlq"
	"github.com/conduct-dev/conduct/id"
)

const deadLetterColumns = `
	id, source_type, source_id, command_type, workflow_name, queue,
	reason, error_class, captured_state, trace_id,
	replay_status, replay_epoch, replay_command_id, replayed_at,
	failed_at, created_at`

// PushDeadLetter persists a new entry.
func (s *Store) PushDeadLetter(ctx context.Context, entry *dlq.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conduct_dead_letters (
			id, source_type, source_id, command_type, workflow_name, queue,
			reason, error_class, captured_state, trace_id,
			replay_status, replay_epoch, replay_command_id, replayed_at,
			failed_at, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14,
			$15, $16
		)`,
		entry.ID, string(entry.SourceType), entry.SourceID, entry.CommandType, entry.WorkflowName, entry.Queue,
		entry.Reason, entry.ErrorClass, entry.CapturedState, entry.TraceID,
		string(entry.ReplayStatus), entry.ReplayEpoch, entry.ReplayCommandID, entry.ReplayedAt,
		entry.FailedAt, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("conduct/postgres: push dead letter: %w", err)
	}
	return nil
}

// GetDeadLetter retrieves an entry by ID.
func (s *Store) GetDeadLetter(ctx context.Context, entryID id.DeadLetterID) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+deadLetterColumns+` FROM conduct_dead_letters WHERE id = $1`,
		entryID,
	)

	entry, err := scanDeadLetter(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conduct.ErrDeadLetterNotFound
		}
		return nil, fmt.Errorf("conduct/postgres: get dead letter: %w", err)
	}
	return entry, nil
}

// UpdateDeadLetter persists changes to an entry's replay fields.
func (s *Store) UpdateDeadLetter(ctx context.Context, entry *dlq.Entry) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conduct_dead_letters SET
			replay_status = $2, replay_epoch = $3,
			replay_command_id = $4, replayed_at = $5
		WHERE id = $1`,
		entry.ID, string(entry.ReplayStatus), entry.ReplayEpoch,
		entry.ReplayCommandID, entry.ReplayedAt,
	)
	if err != nil {
		return fmt.Errorf("conduct/postgres: update dead letter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conduct.ErrDeadLetterNotFound
	}
	return nil
}

// SwapReplayStatus advances an entry's replay status if it currently
// equals from. A single conditional UPDATE makes the swap atomic, so
// concurrent replay requests race and exactly one wins.
func (s *Store) SwapReplayStatus(ctx context.Context, entryID id.DeadLetterID, from, to dlq.ReplayStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conduct_dead_letters SET replay_status = $3
		WHERE id = $1 AND replay_status = $2`,
		entryID, string(from), string(to),
	)
	if err != nil {
		return fmt.Errorf("conduct/postgres: swap replay status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM conduct_dead_letters WHERE id = $1)`,
			entryID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("conduct/postgres: swap replay status: %w", err)
		}
		if !exists {
			return conduct.ErrDeadLetterNotFound
		}
		return conduct.ErrReplayInFlight
	}
	return nil
}

// FindByReplayCommand returns the entry whose last replay admitted the
// given command.
func (s *Store) FindByReplayCommand(ctx context.Context, commandID id.CommandID) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+deadLetterColumns+` FROM conduct_dead_letters WHERE replay_command_id = $1`,
		commandID,
	)

	entry, err := scanDeadLetter(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conduct.ErrDeadLetterNotFound
		}
		return nil, fmt.Errorf("conduct/postgres: find by replay command: %w", err)
	}
	return entry, nil
}

// FindByRun returns the most recent workflow entry for a run.
func (s *Store) FindByRun(ctx context.Context, runID id.RunID) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+deadLetterColumns+` FROM conduct_dead_letters
		WHERE source_type = $1 AND source_id = $2
		ORDER BY created_at DESC
		LIMIT 1`,
		string(dlq.SourceWorkflow), runID.String(),
	)

	entry, err := scanDeadLetter(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conduct.ErrDeadLetterNotFound
		}
		return nil, fmt.Errorf("conduct/postgres: find by run: %w", err)
	}
	return entry, nil
}

// ListDeadLetters returns entries matching the options, newest first.
func (s *Store) ListDeadLetters(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	query := `SELECT ` + deadLetterColumns + ` FROM conduct_dead_letters WHERE 1=1`
	var args []any

	if opts.SourceType != "" {
		args = append(args, string(opts.SourceType))
		query += fmt.Sprintf(" AND source_type = $%d", len(args))
	}
	if opts.ReplayStatus != "" {
		args = append(args, string(opts.ReplayStatus))
		query += fmt.Sprintf(" AND replay_status = $%d", len(args))
	}
	if opts.Queue != "" {
		args = append(args, opts.Queue)
		query += fmt.Sprintf(" AND queue = $%d", len(args))
	}

	query += " ORDER BY failed_at DESC"
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
		return nil, fmt.Errorf("conduct/postgres: list dead letters: %w", err)
	}
	defer rows.Close()

	var entries []*dlq.Entry
	for rows.Next() {
		entry, err := scanDeadLetter(rows)
		if err != nil {
			return nil, fmt.Errorf("conduct/postgres: scan dead letter: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// CountDeadLetters returns the number of entries matching the options.
func (s *Store) CountDeadLetters(ctx context.Context, opts dlq.ListOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM conduct_dead_letters WHERE 1=1`
	var args []any

	if opts.SourceType != "" {
		args = append(args, string(opts.SourceType))
		query += fmt.Sprintf(" AND source_type = $%d", len(args))
	}
	if opts.ReplayStatus != "" {
		args = append(args, string(opts.ReplayStatus))
		query += fmt.Sprintf(" AND replay_status = $%d", len(args))
	}
	if opts.Queue != "" {
		args = append(args, opts.Queue)
		query += fmt.Sprintf(" AND queue = $%d", len(args))
	}

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("conduct/postgres: count dead letters: %w", err)
	}
	return count, nil
}

// PurgeDeadLetters removes entries that failed before the given time.
func (s *Store) PurgeDeadLetters(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM conduct_dead_letters WHERE failed_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("conduct/postgres: purge dead letters: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanDeadLetter(row pgx.Row) (*dlq.Entry, error) {
	var (
		entry        dlq.Entry
		sourceType   string
		replayStatus string
	)
	err := row.Scan(
		&entry.ID, &sourceType, &entry.SourceID, &entry.CommandType, &entry.WorkflowName, &entry.Queue,
		&entry.Reason, &entry.ErrorClass, &entry.CapturedState, &entry.TraceID,
		&replayStatus, &entry.ReplayEpoch, &entry.ReplayCommandID, &entry.ReplayedAt,
		&entry.FailedAt, &entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	entry.SourceType = dlq.SourceType(sourceType)
	entry.ReplayStatus = dlq.ReplayStatus(replayStatus)
	return &entry, nil
}
