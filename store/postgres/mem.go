package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/conduct-dev/conduct"
	"github.com/conduct-dev/conduct/mem"
)

const snapshotColumns = `
	id, scope_type, scope_key, state, version, expires_at, created_at, updated_at`

// GetSnapshot retrieves a snapshot by scope. Expired snapshots are still
// returned; the manager treats them as absent and reaps them.
func (s *Store) GetSnapshot(ctx context.Context, scopeType mem.ScopeType, scopeKey string) (*mem.Snapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+snapshotColumns+` FROM conduct_snapshots WHERE scope_type = $1 AND scope_key = $2`,
		string(scopeType), scopeKey,
	)

	snap, err := scanSnapshot(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conduct.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("conduct/postgres: get snapshot: %w", err)
	}
	return snap, nil
}

// PutSnapshot writes a snapshot if the stored version equals
// expectedVersion. Version 0 means the snapshot must not exist yet.
// Both paths are single statements, so concurrent writers race on the
// database's own atomicity and exactly one wins.
func (s *Store) PutSnapshot(ctx context.Context, snap *mem.Snapshot, expectedVersion int64) error {
	if expectedVersion == 0 {
		tag, err := s.pool.Exec(ctx, `
			INSERT INTO conduct_snapshots (
				id, scope_type, scope_key, state, version, expires_at, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (scope_type, scope_key) DO NOTHING`,
			snap.ID, string(snap.ScopeType), snap.ScopeKey, snap.State, snap.Version,
			snap.ExpiresAt, snap.CreatedAt, snap.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("conduct/postgres: put snapshot: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return conduct.ErrVersionConflict
		}
		return nil
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE conduct_snapshots SET
			state = $4, version = $5, expires_at = $6, updated_at = NOW()
		WHERE scope_type = $1 AND scope_key = $2 AND version = $3`,
		string(snap.ScopeType), snap.ScopeKey, expectedVersion,
		snap.State, snap.Version, snap.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("conduct/postgres: put snapshot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conduct.ErrVersionConflict
	}
	return nil
}

// TouchSnapshotTTL updates only the expiry of an existing snapshot.
func (s *Store) TouchSnapshotTTL(ctx context.Context, scopeType mem.ScopeType, scopeKey string, expiresAt *time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conduct_snapshots SET expires_at = $3, updated_at = NOW()
		WHERE scope_type = $1 AND scope_key = $2`,
		string(scopeType), scopeKey, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("conduct/postgres: touch snapshot ttl: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conduct.ErrSnapshotNotFound
	}
	return nil
}

// DeleteSnapshot removes a snapshot by scope. Deleting a missing snapshot
// is not an error.
func (s *Store) DeleteSnapshot(ctx context.Context, scopeType mem.ScopeType, scopeKey string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM conduct_snapshots WHERE scope_type = $1 AND scope_key = $2`,
		string(scopeType), scopeKey,
	)
	if err != nil {
		return fmt.Errorf("conduct/postgres: delete snapshot: %w", err)
	}
	return nil
}

// DeleteScopePrefix removes every snapshot of a scope type whose key
// starts with the prefix.
func (s *Store) DeleteScopePrefix(ctx context.Context, scopeType mem.ScopeType, prefix string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM conduct_snapshots WHERE scope_type = $1 AND starts_with(scope_key, $2)`,
		string(scopeType), prefix,
	)
	if err != nil {
		return fmt.Errorf("conduct/postgres: delete scope prefix: %w", err)
	}
	return nil
}

func scanSnapshot(row pgx.Row) (*mem.Snapshot, error) {
	var (
		snap      mem.Snapshot
		scopeType string
	)
	err := row.Scan(
		&snap.ID, &scopeType, &snap.ScopeKey, &snap.State, &snap.Version,
		&snap.ExpiresAt, &snap.CreatedAt, &snap.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	snap.ScopeType = mem.ScopeType(scopeType)
	return &snap, nil
}
