package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/conduct-dev/conduct"
	"github.com/conduct-dev/conduct/command"
	"github.com/conduct-dev/conduct/id"
)

const commandColumns = `
	id, type, queue, payload, status, profile, priority, idempotency_key,
	run_id, step_index, attempt_count, max_attempts,
	last_error_class, last_error_msg, actor, trace_id, worker_id,
	run_at, started_at, completed_at, heartbeat_at,
	timeout_ns, created_at, updated_at`

// CreateCommand persists a new command unless one already holds the same
// idempotency key. The unique index on idempotency_key makes concurrent
// admission race-free: the losing insert reads back the winner.
func (s *Store) CreateCommand(ctx context.Context, c *command.Command) (*command.Command, bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO conduct_commands (
			id, type, queue, payload, status, profile, priority, idempotency_key,
			run_id, step_index, attempt_count, max_attempts,
			last_error_class, last_error_msg, actor, trace_id, worker_id,
			run_at, started_at, completed_at, heartbeat_at,
			timeout_ns, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12,
			$13, $14, $15, $16, $17,
			$18, $19, $20, $21,
			$22, $23, $24
		)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		c.ID, c.Type, c.Queue, c.Payload, string(c.Status), c.Profile, c.Priority, c.IdempotencyKey,
		c.RunID, c.StepIndex, c.AttemptCount, c.MaxAttempts,
		c.LastErrorClass, c.LastErrorMsg, c.Actor, c.TraceID, c.WorkerID,
		c.RunAt, c.StartedAt, c.CompletedAt, c.HeartbeatAt,
		c.Timeout.Nanoseconds(), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("conduct/postgres: create command: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return c, true, nil
	}

	winner, err := s.GetCommandByKey(ctx, c.IdempotencyKey)
	if err != nil {
		return nil, false, fmt.Errorf("conduct/postgres: create command: read winner: %w", err)
	}
	return winner, false, nil
}

// GetCommand retrieves a command by ID.
func (s *Store) GetCommand(ctx context.Context, commandID id.CommandID) (*command.Command, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+commandColumns+` FROM conduct_commands WHERE id = $1`,
		commandID,
	)

	c, err := scanCommand(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conduct.ErrCommandNotFound
		}
		return nil, fmt.Errorf("conduct/postgres: get command: %w", err)
	}
	return c, nil
}

// GetCommandByKey retrieves a command by idempotency key.
func (s *Store) GetCommandByKey(ctx context.Context, key string) (*command.Command, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+commandColumns+` FROM conduct_commands WHERE idempotency_key = $1`,
		key,
	)

	c, err := scanCommand(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conduct.ErrCommandNotFound
		}
		return nil, fmt.Errorf("conduct/postgres: get command by key: %w", err)
	}
	return c, nil
}

// UpdateCommand persists changes to an existing command.
func (s *Store) UpdateCommand(ctx context.Context, c *command.Command) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conduct_commands SET
			type = $2, queue = $3, payload = $4, status = $5, profile = $6,
			priority = $7, run_id = $8, step_index = $9,
			attempt_count = $10, max_attempts = $11,
			last_error_class = $12, last_error_msg = $13,
			actor = $14, trace_id = $15, worker_id = $16,
			run_at = $17, started_at = $18, completed_at = $19, heartbeat_at = $20,
			timeout_ns = $21, updated_at = NOW()
		WHERE id = $1`,
		c.ID, c.Type, c.Queue, c.Payload, string(c.Status), c.Profile,
		c.Priority, c.RunID, c.StepIndex,
		c.AttemptCount, c.MaxAttempts,
		c.LastErrorClass, c.LastErrorMsg,
		c.Actor, c.TraceID, c.WorkerID,
		c.RunAt, c.StartedAt, c.CompletedAt, c.HeartbeatAt,
		c.Timeout.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("conduct/postgres: update command: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conduct.ErrCommandNotFound
	}
	return nil
}

// DequeueCommands atomically claims up to limit due queued commands from
// the given queues using SELECT FOR UPDATE SKIP LOCKED, so two workers
// never receive the same command.
func (s *Store) DequeueCommands(ctx context.Context, queues []string, workerID id.WorkerID, limit int, lease time.Duration) ([]*command.Command, error) {
	if len(queues) == 0 {
		queues = nil
	}

	rows, err := s.pool.Query(ctx, `
		WITH claimed AS (
			UPDATE conduct_commands
			SET status = 'running', worker_id = $2,
			    started_at = NOW(), heartbeat_at = NOW(),
			    lease_until = NOW() + make_interval(secs => $4),
			    updated_at = NOW()
			WHERE id IN (
				SELECT id FROM conduct_commands
				WHERE status = 'queued'
				  AND run_at <= NOW()
				  AND ($1::text[] IS NULL OR queue = ANY($1))
				ORDER BY priority DESC, run_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $3
			)
			RETURNING `+commandColumns+`
		)
		SELECT * FROM claimed ORDER BY priority DESC, run_at ASC`,
		queues, workerID, limit, lease.Seconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("conduct/postgres: dequeue commands: %w", err)
	}
	defer rows.Close()

	return collectCommands(rows)
}

// ReleaseDueRetries moves retry_scheduled commands whose backoff has
// elapsed back to queued.
func (s *Store) ReleaseDueRetries(ctx context.Context, limit int) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conduct_commands
		SET status = 'queued', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM conduct_commands
			WHERE status = 'retry_scheduled' AND run_at <= NOW()
			ORDER BY run_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $1
		)`,
		limit,
	)
	if err != nil {
		return 0, fmt.Errorf("conduct/postgres: release due retries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// HeartbeatCommand extends the lease on a running command.
func (s *Store) HeartbeatCommand(ctx context.Context, commandID id.CommandID, workerID id.WorkerID, lease time.Duration) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conduct_commands
		SET heartbeat_at = NOW(),
		    lease_until = NOW() + make_interval(secs => $3),
		    updated_at = NOW()
		WHERE id = $1 AND status = 'running' AND worker_id = $2`,
		commandID, workerID, lease.Seconds(),
	)
	if err != nil {
		return fmt.Errorf("conduct/postgres: heartbeat command: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM conduct_commands WHERE id = $1)`,
			commandID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("conduct/postgres: heartbeat command: %w", err)
		}
		if !exists {
			return conduct.ErrCommandNotFound
		}
		return fmt.Errorf("conduct/postgres: command %s is not running under worker %s", commandID, workerID)
	}
	return nil
}

// ReapExpiredLeases returns running commands whose lease expired. The
// dead worker's open attempt is closed in the same statement with error
// class cancelled, so the next claim can open the next contiguous
// attempt. The caller decides how to requeue the returned commands.
func (s *Store) ReapExpiredLeases(ctx context.Context, limit int) ([]*command.Command, error) {
	rows, err := s.pool.Query(ctx, `
		WITH expired AS (
			SELECT id FROM conduct_commands
			WHERE status = 'running' AND lease_until < NOW()
			ORDER BY lease_until ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		),
		closed AS (
			UPDATE conduct_attempts a
			SET completed_at = NOW(),
			    duration_ns = (EXTRACT(EPOCH FROM (NOW() - a.started_at)) * 1e9)::BIGINT,
			    error_class = 'cancelled',
			    error_msg = 'execution lease expired'
			FROM expired e
			WHERE a.command_id = e.id AND a.completed_at IS NULL
		)
		SELECT `+commandColumns+`
		FROM conduct_commands
		WHERE id IN (SELECT id FROM expired)
		ORDER BY lease_until ASC`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("conduct/postgres: reap expired leases: %w", err)
	}
	defer rows.Close()

	return collectCommands(rows)
}

// ListCommands returns commands matching the given options, newest first.
func (s *Store) ListCommands(ctx context.Context, opts command.ListOpts) ([]*command.Command, error) {
	query := `SELECT ` + commandColumns + ` FROM conduct_commands WHERE 1=1`
	var args []any

	if opts.Queue != "" {
		args = append(args, opts.Queue)
		query += fmt.Sprintf(" AND queue = $%d", len(args))
	}
	if opts.Type != "" {
		args = append(args, opts.Type)
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if opts.Status != "" {
		args = append(args, string(opts.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if !opts.RunID.IsNil() {
		args = append(args, opts.RunID)
		query += fmt.Sprintf(" AND run_id = $%d", len(args))
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
		return nil, fmt.Errorf("conduct/postgres: list commands: %w", err)
	}
	defer rows.Close()

	return collectCommands(rows)
}

// CountCommands returns the number of commands matching the options.
func (s *Store) CountCommands(ctx context.Context, opts command.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM conduct_commands WHERE 1=1`
	var args []any

	if opts.Queue != "" {
		args = append(args, opts.Queue)
		query += fmt.Sprintf(" AND queue = $%d", len(args))
	}
	if opts.Status != "" {
		args = append(args, string(opts.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("conduct/postgres: count commands: %w", err)
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Attempts
// ──────────────────────────────────────────────────

const attemptColumns = `
	id, command_id, number, worker_id, started_at, completed_at,
	duration_ns, error_class, error_msg, summary, output, ambiguous,
	usage_tokens, usage_cents`

// OpenAttempt atomically creates the next attempt for a command. The
// partial unique index on open attempts rejects a second open attempt,
// and the aggregate subquery assigns the lowest unused number.
func (s *Store) OpenAttempt(ctx context.Context, commandID id.CommandID, workerID id.WorkerID) (*command.Attempt, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO conduct_attempts (id, command_id, number, worker_id, started_at)
		SELECT $1, $2, COALESCE(MAX(number), 0) + 1, $3, NOW()
		FROM conduct_attempts
		WHERE command_id = $2
		RETURNING `+attemptColumns,
		id.NewAttemptID(), commandID, workerID,
	)

	a, err := scanAttempt(row)
	if err != nil {
		if isDuplicateKey(err) {
			return nil, conduct.ErrAttemptOpen
		}
		if isForeignKeyViolation(err) {
			return nil, conduct.ErrCommandNotFound
		}
		return nil, fmt.Errorf("conduct/postgres: open attempt: %w", err)
	}
	return a, nil
}

// CloseAttempt finalizes an open attempt. Closed attempts are immutable.
func (s *Store) CloseAttempt(ctx context.Context, a *command.Attempt) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conduct_attempts SET
			completed_at = $2, duration_ns = $3,
			error_class = $4, error_msg = $5,
			summary = $6, output = $7, ambiguous = $8,
			usage_tokens = $9, usage_cents = $10
		WHERE id = $1 AND completed_at IS NULL`,
		a.ID, a.CompletedAt, a.Duration.Nanoseconds(),
		a.ErrorClass, a.ErrorMsg,
		a.Summary, a.Output, a.Ambiguous,
		a.Usage.Tokens, a.Usage.CostCents,
	)
	if err != nil {
		return fmt.Errorf("conduct/postgres: close attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conduct.ErrAttemptNotFound
	}
	return nil
}

// ListAttempts returns a command's attempts ordered by number.
func (s *Store) ListAttempts(ctx context.Context, commandID id.CommandID) ([]*command.Attempt, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+attemptColumns+` FROM conduct_attempts WHERE command_id = $1 ORDER BY number ASC`,
		commandID,
	)
	if err != nil {
		return nil, fmt.Errorf("conduct/postgres: list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*command.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("conduct/postgres: scan attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// ──────────────────────────────────────────────────
// Row scanning
// ──────────────────────────────────────────────────

func scanCommand(row pgx.Row) (*command.Command, error) {
	var (
		c         command.Command
		status    string
		timeoutNs int64
	)
	err := row.Scan(
		&c.ID, &c.Type, &c.Queue, &c.Payload, &status, &c.Profile, &c.Priority, &c.IdempotencyKey,
		&c.RunID, &c.StepIndex, &c.AttemptCount, &c.MaxAttempts,
		&c.LastErrorClass, &c.LastErrorMsg, &c.Actor, &c.TraceID, &c.WorkerID,
		&c.RunAt, &c.StartedAt, &c.CompletedAt, &c.HeartbeatAt,
		&timeoutNs, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Status = command.Status(status)
	c.Timeout = time.Duration(timeoutNs)
	return &c, nil
}

func collectCommands(rows pgx.Rows) ([]*command.Command, error) {
	var commands []*command.Command
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("conduct/postgres: scan command: %w", err)
		}
		commands = append(commands, c)
	}
	return commands, rows.Err()
}

func scanAttempt(row pgx.Row) (*command.Attempt, error) {
	var (
		a          command.Attempt
		durationNs int64
	)
	err := row.Scan(
		&a.ID, &a.CommandID, &a.Number, &a.WorkerID, &a.StartedAt, &a.CompletedAt,
		&durationNs, &a.ErrorClass, &a.ErrorMsg, &a.Summary, &a.Output, &a.Ambiguous,
		&a.Usage.Tokens, &a.Usage.CostCents,
	)
	if err != nil {
		return nil, err
	}
	a.Duration = time.Duration(durationNs)
	return &a, nil
}
