package mem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/conduct-dev/conduct"
	"github.com/conduct-dev/conduct/id"
)

// Manager layers scope validation, lazy TTL reaping, and version
// bookkeeping over a Store. All state sharing between steps, attempts,
// and runs goes through here; nothing else touches snapshots.
type Manager struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a memory manager backed by the given store.
func NewManager(store Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		logger: logger.With("component", "mem"),
		now:    time.Now,
	}
}

// Read returns the state and version stored at a scope key. A missing or
// expired snapshot returns conduct.ErrSnapshotNotFound; expired snapshots
// are lazily reaped on the way out.
func (m *Manager) Read(ctx context.Context, scopeType ScopeType, scopeKey string) ([]byte, int64, error) {
	if !scopeType.Valid() {
		return nil, 0, fmt.Errorf("mem: invalid scope type %q", scopeType)
	}

	snap, err := m.store.GetSnapshot(ctx, scopeType, scopeKey)
	if err != nil {
		return nil, 0, err
	}

	if snap.Expired(m.now()) {
		if err := m.store.DeleteSnapshot(ctx, scopeType, scopeKey); err != nil {
			m.logger.Warn("failed to reap expired snapshot",
				"scope_type", scopeType, "scope_key", scopeKey, "error", err)
		}
		return nil, 0, conduct.ErrSnapshotNotFound
	}

	return snap.State, snap.Version, nil
}

// Write stores state at a scope key using optimistic concurrency.
// expectedVersion must be the version the caller read, or 0 for a first
// write that requires the key to be absent. On success the new version
// (expectedVersion + 1) is returned; on a version mismatch the write
// fails with conduct.ErrVersionConflict and nothing changes.
//
// A zero ttl keeps the snapshot's current expiry (or no expiry on first
// write); a positive ttl resets it relative to now.
func (m *Manager) Write(ctx context.Context, scopeType ScopeType, scopeKey string, state []byte, expectedVersion int64, ttl time.Duration) (int64, error) {
	if !scopeType.Valid() {
		return 0, fmt.Errorf("mem: invalid scope type %q", scopeType)
	}
	if expectedVersion < 0 {
		return 0, fmt.Errorf("mem: negative expected version %d", expectedVersion)
	}

	// An expired snapshot must not satisfy a versioned write, and must
	// not block a first write. Reap it so the store-level CAS sees the
	// same world the caller read.
	if snap, err := m.store.GetSnapshot(ctx, scopeType, scopeKey); err == nil && snap.Expired(m.now()) {
		if err := m.store.DeleteSnapshot(ctx, scopeType, scopeKey); err != nil {
			return 0, fmt.Errorf("mem: reap expired snapshot: %w", err)
		}
	} else if err != nil && !errors.Is(err, conduct.ErrSnapshotNotFound) {
		return 0, err
	}

	snap := &Snapshot{
		Entity:    conduct.NewEntity(),
		ID:        id.NewSnapshotID(),
		ScopeType: scopeType,
		ScopeKey:  scopeKey,
		State:     state,
		Version:   expectedVersion + 1,
	}
	if ttl > 0 {
		expiry := m.now().Add(ttl)
		snap.ExpiresAt = &expiry
	}

	if err := m.store.PutSnapshot(ctx, snap, expectedVersion); err != nil {
		return 0, err
	}

	m.logger.Debug("snapshot written",
		"scope_type", scopeType, "scope_key", scopeKey, "version", snap.Version)
	return snap.Version, nil
}

// TouchTTL moves the expiry of an existing snapshot without changing its
// state or version.
func (m *Manager) TouchTTL(ctx context.Context, scopeType ScopeType, scopeKey string, ttl time.Duration) error {
	if !scopeType.Valid() {
		return fmt.Errorf("mem: invalid scope type %q", scopeType)
	}

	var expiresAt *time.Time
	if ttl > 0 {
		t := m.now().Add(ttl)
		expiresAt = &t
	}
	return m.store.TouchSnapshotTTL(ctx, scopeType, scopeKey, expiresAt)
}

// Delete removes a snapshot. Deleting a missing snapshot is a no-op.
func (m *Manager) Delete(ctx context.Context, scopeType ScopeType, scopeKey string) error {
	if !scopeType.Valid() {
		return fmt.Errorf("mem: invalid scope type %q", scopeType)
	}
	return m.store.DeleteSnapshot(ctx, scopeType, scopeKey)
}

// CleanupRun removes all run-scoped state belonging to a workflow run.
// Called by the workflow router when a run completes, per the run's
// cleanup rules.
func (m *Manager) CleanupRun(ctx context.Context, runID id.RunID) error {
	return m.store.DeleteScopePrefix(ctx, ScopeRun, runID.String())
}

// RunKey builds the run-scoped key for a step output.
func RunKey(runID id.RunID, name string) string {
	return runID.String() + ":" + name
}
