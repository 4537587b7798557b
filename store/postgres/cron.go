package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/conduct-dev/conduct"
	"github.com/conduct-dev/conduct/cron"
	"github.com/conduct-dev/conduct/id"
)

const cronColumns = `
	id, name, schedule, command_type, queue, payload, profile,
	last_run_at, next_run_at, enabled, created_at, updated_at`

// RegisterCron persists a new cron entry.
func (s *Store) RegisterCron(ctx context.Context, entry *cron.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conduct_crons (
			id, name, schedule, command_type, queue, payload, profile,
			last_run_at, next_run_at, enabled, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12
		)`,
		entry.ID, entry.Name, entry.Schedule, entry.CommandType, entry.Queue, entry.Payload, entry.Profile,
		entry.LastRunAt, entry.NextRunAt, entry.Enabled, entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return conduct.ErrDuplicateCron
		}
		return fmt.Errorf("conduct/postgres: register cron: %w", err)
	}
	return nil
}

// GetCron retrieves a cron entry by ID.
func (s *Store) GetCron(ctx context.Context, entryID id.CronID) (*cron.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+cronColumns+` FROM conduct_crons WHERE id = $1`,
		entryID,
	)

	entry, err := scanCron(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conduct.ErrCronNotFound
		}
		return nil, fmt.Errorf("conduct/postgres: get cron: %w", err)
	}
	return entry, nil
}

// GetCronByName retrieves a cron entry by name.
func (s *Store) GetCronByName(ctx context.Context, name string) (*cron.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+cronColumns+` FROM conduct_crons WHERE name = $1`,
		name,
	)

	entry, err := scanCron(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conduct.ErrCronNotFound
		}
		return nil, fmt.Errorf("conduct/postgres: get cron by name: %w", err)
	}
	return entry, nil
}

// ListCrons returns all cron entries.
func (s *Store) ListCrons(ctx context.Context) ([]*cron.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+cronColumns+` FROM conduct_crons ORDER BY name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("conduct/postgres: list crons: %w", err)
	}
	defer rows.Close()

	var entries []*cron.Entry
	for rows.Next() {
		entry, err := scanCron(rows)
		if err != nil {
			return nil, fmt.Errorf("conduct/postgres: scan cron: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// UpdateCronLastRun records when a cron entry last fired.
func (s *Store) UpdateCronLastRun(ctx context.Context, entryID id.CronID, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conduct_crons SET last_run_at = $2, updated_at = NOW() WHERE id = $1`,
		entryID, at,
	)
	if err != nil {
		return fmt.Errorf("conduct/postgres: update cron last run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conduct.ErrCronNotFound
	}
	return nil
}

// UpdateCronEntry updates a cron entry.
func (s *Store) UpdateCronEntry(ctx context.Context, entry *cron.Entry) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conduct_crons SET
			name = $2, schedule = $3, command_type = $4, queue = $5,
			payload = $6, profile = $7, last_run_at = $8, next_run_at = $9,
			enabled = $10, updated_at = NOW()
		WHERE id = $1`,
		entry.ID, entry.Name, entry.Schedule, entry.CommandType, entry.Queue,
		entry.Payload, entry.Profile, entry.LastRunAt, entry.NextRunAt,
		entry.Enabled,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return conduct.ErrDuplicateCron
		}
		return fmt.Errorf("conduct/postgres: update cron entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conduct.ErrCronNotFound
	}
	return nil
}

// DeleteCron removes a cron entry by ID.
func (s *Store) DeleteCron(ctx context.Context, entryID id.CronID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conduct_crons WHERE id = $1`, entryID)
	if err != nil {
		return fmt.Errorf("conduct/postgres: delete cron: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conduct.ErrCronNotFound
	}
	return nil
}

func scanCron(row pgx.Row) (*cron.Entry, error) {
	var entry cron.Entry
	err := row.Scan(
		&entry.ID, &entry.Name, &entry.Schedule, &entry.CommandType, &entry.Queue, &entry.Payload, &entry.Profile,
		&entry.LastRunAt, &entry.NextRunAt, &entry.Enabled, &entry.CreatedAt, &entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}
