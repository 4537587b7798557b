package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/conduct-dev/conduct"
	"github.com/conduct-dev/conduct/id"
	"github.com/conduct-dev/conduct/mem"
)

// ── JSON model for KV storage ──

type snapshotEntity struct {
	ID        string     `json:"id"`
	ScopeType string     `json:"scope_type"`
	ScopeKey  string     `json:"scope_key"`
	State     []byte     `json:"state,omitempty"`
	Version   int64      `json:"version"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func toSnapshotEntity(snap *mem.Snapshot) *snapshotEntity {
	return &snapshotEntity{
		ID:        snap.ID.String(),
		ScopeType: string(snap.ScopeType),
		ScopeKey:  snap.ScopeKey,
		State:     snap.State,
		Version:   snap.Version,
		ExpiresAt: snap.ExpiresAt,
		CreatedAt: snap.CreatedAt,
		UpdatedAt: snap.UpdatedAt,
	}
}

func fromSnapshotEntity(e *snapshotEntity) (*mem.Snapshot, error) {
	sID, err := id.ParseSnapshotID(e.ID)
	if err != nil {
		return nil, fmt.Errorf("conduct/redis: parse snapshot id: %w", err)
	}

	return &mem.Snapshot{
		Entity: conduct.Entity{
			CreatedAt: e.CreatedAt,
			UpdatedAt: e.UpdatedAt,
		},
		ID:        sID,
		ScopeType: mem.ScopeType(e.ScopeType),
		ScopeKey:  e.ScopeKey,
		State:     e.State,
		Version:   e.Version,
		ExpiresAt: e.ExpiresAt,
	}, nil
}

// GetSnapshot retrieves a snapshot by scope. Expired snapshots are still
// returned; the manager treats them as absent and reaps them.
func (s *Store) GetSnapshot(ctx context.Context, scopeType mem.ScopeType, scopeKey string) (*mem.Snapshot, error) {
	var e snapshotEntity
	if err := s.getEntity(ctx, snapshotKey(string(scopeType), scopeKey), &e); err != nil {
		if isNotFound(err) {
			return nil, conduct.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("conduct/redis: get snapshot: %w", err)
	}
	return fromSnapshotEntity(&e)
}

// PutSnapshot writes a snapshot if the stored version equals
// expectedVersion. The compare and the write run in one server-side
// script, so concurrent writers race and exactly one wins.
func (s *Store) PutSnapshot(ctx context.Context, snap *mem.Snapshot, expectedVersion int64) error {
	data, err := jsonMarshal(toSnapshotEntity(snap))
	if err != nil {
		return fmt.Errorf("conduct/redis: marshal snapshot: %w", err)
	}

	ok, err := putSnapshotScript.Run(ctx, s.client,
		[]string{snapshotKey(string(snap.ScopeType), snap.ScopeKey), snapshotIdxKey(string(snap.ScopeType))},
		expectedVersion, data, snap.ScopeKey,
	).Int()
	if err != nil {
		return fmt.Errorf("conduct/redis: put snapshot: %w", err)
	}
	if ok == 0 {
		return conduct.ErrVersionConflict
	}
	return nil
}

// TouchSnapshotTTL updates only the expiry of an existing snapshot.
func (s *Store) TouchSnapshotTTL(ctx context.Context, scopeType mem.ScopeType, scopeKey string, expiresAt *time.Time) error {
	key := snapshotKey(string(scopeType), scopeKey)

	var e snapshotEntity
	if err := s.getEntity(ctx, key, &e); err != nil {
		if isNotFound(err) {
			return conduct.ErrSnapshotNotFound
		}
		return fmt.Errorf("conduct/redis: touch snapshot get: %w", err)
	}

	e.ExpiresAt = expiresAt
	e.UpdatedAt = now()
	if err := s.setEntity(ctx, key, &e); err != nil {
		return fmt.Errorf("conduct/redis: touch snapshot: %w", err)
	}
	return nil
}

// DeleteSnapshot removes a snapshot by scope. Deleting a missing snapshot
// is not an error.
func (s *Store) DeleteSnapshot(ctx context.Context, scopeType mem.ScopeType, scopeKey string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, snapshotKey(string(scopeType), scopeKey))
	pipe.SRem(ctx, snapshotIdxKey(string(scopeType)), scopeKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conduct/redis: delete snapshot: %w", err)
	}
	return nil
}

// DeleteScopePrefix removes every snapshot of a scope type whose key
// starts with the prefix.
func (s *Store) DeleteScopePrefix(ctx context.Context, scopeType mem.ScopeType, prefix string) error {
	idxKey := snapshotIdxKey(string(scopeType))

	keys, err := s.client.SMembers(ctx, idxKey).Result()
	if err != nil {
		return fmt.Errorf("conduct/redis: delete scope prefix: %w", err)
	}

	pipe := s.client.TxPipeline()
	for _, scopeKey := range keys {
		if !strings.HasPrefix(scopeKey, prefix) {
			continue
		}
		pipe.Del(ctx, snapshotKey(string(scopeType), scopeKey))
		pipe.SRem(ctx, idxKey, scopeKey)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conduct/redis: delete scope prefix exec: %w", err)
	}
	return nil
}
