// Package mem is the scoped key/value store handlers and the workflow
// router use to pass state across steps, attempts, and runs. Snapshots
// carry a monotonic version; every write is an optimistic compare-and-swap
// against the version the writer read.
package mem

import (
	"context"
	"time"

	"github.com/conduct-dev/conduct"
	"github.com/conduct-dev/conduct/id"
)

// ScopeType partitions the snapshot keyspace by owner kind.
type ScopeType string

const (
	// ScopeRun holds state owned by one workflow run, keyed by run ID.
	ScopeRun ScopeType = "run_scope"
	// ScopeAgent holds state shared across a single agent's commands.
	ScopeAgent ScopeType = "agent_scope"
	// ScopeUser holds state shared across everything one user triggers.
	ScopeUser ScopeType = "user_scope"
)

// Valid reports whether the scope type is one of the known scopes.
func (s ScopeType) Valid() bool {
	switch s {
	case ScopeRun, ScopeAgent, ScopeUser:
		return true
	default:
		return false
	}
}

// Snapshot is a versioned state blob keyed by (scope type, scope key).
type Snapshot struct {
	conduct.Entity

	ID        id.SnapshotID `json:"id"`
	ScopeType ScopeType     `json:"scope_type"`
	ScopeKey  string        `json:"scope_key"`
	State     []byte        `json:"state"`
	Version   int64         `json:"version"`
	ExpiresAt *time.Time    `json:"expires_at,omitempty"`
}

// Expired reports whether the snapshot's TTL has passed. Expired
// snapshots behave as absent on read.
func (s *Snapshot) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && !s.ExpiresAt.After(now)
}

// Store defines the persistence contract for memory snapshots.
//
// PutSnapshot must be an atomic compare-and-swap on version so that
// concurrent writers cannot silently overwrite each other.
type Store interface {
	// GetSnapshot retrieves a snapshot by scope. Expired snapshots are
	// still returned; the manager treats them as absent and reaps them.
	// Missing snapshots return conduct.ErrSnapshotNotFound.
	GetSnapshot(ctx context.Context, scopeType ScopeType, scopeKey string) (*Snapshot, error)

	// PutSnapshot writes a snapshot if the stored version equals
	// expectedVersion. Version 0 means "must not exist yet". A mismatch
	// returns conduct.ErrVersionConflict without modifying anything.
	PutSnapshot(ctx context.Context, s *Snapshot, expectedVersion int64) error

	// TouchSnapshotTTL updates only the expiry of an existing snapshot.
	TouchSnapshotTTL(ctx context.Context, scopeType ScopeType, scopeKey string, expiresAt *time.Time) error

	// DeleteSnapshot removes a snapshot by scope. Deleting a missing
	// snapshot is not an error.
	DeleteSnapshot(ctx context.Context, scopeType ScopeType, scopeKey string) error

	// DeleteScopePrefix removes every snapshot of a scope type whose key
	// starts with the prefix. Used for run-completion cleanup.
	DeleteScopePrefix(ctx context.Context, scopeType ScopeType, prefix string) error
}
