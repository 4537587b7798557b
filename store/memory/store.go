// Package memory is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/conduct-dev/conduct"
	"github.com/conduct-dev/conduct/command"
	"github.com/conduct-dev/conduct/contract"
	"github.com/conduct-dev/conduct/cron"
	"github.com/conduct-dev/conduct/dlq"
	"github.com/conduct-dev/conduct/event"
	"github.com/conduct-dev/conduct/id"
	"github.com/conduct-dev/conduct/mem"
	"github.com/conduct-dev/conduct/store"
	"github.com/conduct-dev/conduct/workflow"
)

var _ store.Store = (*Store)(nil)

// Store is a fully in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	commands map[string]*command.Command
	byKey    map[string]string             // idempotency key → command ID
	attempts map[string][]*command.Attempt // command ID → attempts in order
	leases   map[string]time.Time          // command ID → lease expiry

	runs        map[string]*workflow.Run
	checkpoints map[string]*workflow.Checkpoint // key: "runID:stepIndex"

	snapshots map[string]*mem.Snapshot // key: "scopeType\x00scopeKey"

	crons map[string]*cron.Entry

	deadLetters map[string]*dlq.Entry

	events  []*event.Event
	lastSeq int64
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		commands:    make(map[string]*command.Command),
		byKey:       make(map[string]string),
		attempts:    make(map[string][]*command.Attempt),
		leases:      make(map[string]time.Time),
		runs:        make(map[string]*workflow.Run),
		checkpoints: make(map[string]*workflow.Checkpoint),
		snapshots:   make(map[string]*mem.Snapshot),
		crons:       make(map[string]*cron.Entry),
		deadLetters: make(map[string]*dlq.Entry),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Command Store
// ──────────────────────────────────────────────────

// CreateCommand persists a new command unless one already holds the same
// idempotency key. Losing inserts observe the winner with created=false.
func (m *Store) CreateCommand(_ context.Context, c *command.Command) (*command.Command, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if winnerID, exists := m.byKey[c.IdempotencyKey]; exists {
		cp := *m.commands[winnerID]
		return &cp, false, nil
	}

	cp := *c
	m.commands[c.ID.String()] = &cp
	m.byKey[c.IdempotencyKey] = c.ID.String()

	out := cp
	return &out, true, nil
}

// GetCommand retrieves a command by ID.
func (m *Store) GetCommand(_ context.Context, commandID id.CommandID) (*command.Command, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.commands[commandID.String()]
	if !ok {
		return nil, conduct.ErrCommandNotFound
	}
	cp := *c
	return &cp, nil
}

// GetCommandByKey retrieves a command by idempotency key.
func (m *Store) GetCommandByKey(_ context.Context, key string) (*command.Command, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cmdID, ok := m.byKey[key]
	if !ok {
		return nil, conduct.ErrCommandNotFound
	}
	cp := *m.commands[cmdID]
	return &cp, nil
}

// UpdateCommand persists changes to an existing command.
func (m *Store) UpdateCommand(_ context.Context, c *command.Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := c.ID.String()
	if _, ok := m.commands[key]; !ok {
		return conduct.ErrCommandNotFound
	}
	cp := *c
	cp.UpdatedAt = time.Now().UTC()
	m.commands[key] = &cp
	return nil
}

// DequeueCommands atomically claims up to limit eligible queued commands.
func (m *Store) DequeueCommands(_ context.Context, queues []string, workerID id.WorkerID, limit int, lease time.Duration) ([]*command.Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	queueSet := make(map[string]struct{}, len(queues))
	for _, q := range queues {
		queueSet[q] = struct{}{}
	}

	now := time.Now().UTC()

	candidates := make([]*command.Command, 0, len(m.commands))
	for _, c := range m.commands {
		if c.Status != command.StatusQueued {
			continue
		}
		if !c.RunAt.IsZero() && c.RunAt.After(now) {
			continue
		}
		if len(queueSet) > 0 {
			if _, ok := queueSet[c.Queue]; !ok {
				continue
			}
		}
		candidates = append(candidates, c)
	}

	// Sort: priority DESC, RunAt ASC.
	sort.Slice(candidates, func(i, k int) bool {
		if candidates[i].Priority != candidates[k].Priority {
			return candidates[i].Priority > candidates[k].Priority
		}
		return candidates[i].RunAt.Before(candidates[k].RunAt)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	result := make([]*command.Command, len(candidates))
	for i, c := range candidates {
		c.Status = command.StatusRunning
		c.WorkerID = workerID
		n := now
		c.StartedAt = &n
		hb := now
		c.HeartbeatAt = &hb
		m.leases[c.ID.String()] = now.Add(lease)
		// Return a copy so callers can mutate without racing with the store.
		cp := *c
		result[i] = &cp
	}

	return result, nil
}

// ReleaseDueRetries moves retry_scheduled commands whose backoff has
// elapsed back to queued.
func (m *Store) ReleaseDueRetries(_ context.Context, limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	released := 0
	for _, c := range m.commands {
		if limit > 0 && released >= limit {
			break
		}
		if c.Status != command.StatusRetryScheduled {
			continue
		}
		if c.RunAt.After(now) {
			continue
		}
		c.Status = command.StatusQueued
		c.UpdatedAt = now
		released++
	}
	return released, nil
}

// HeartbeatCommand extends the lease on a running command.
func (m *Store) HeartbeatCommand(_ context.Context, commandID id.CommandID, workerID id.WorkerID, lease time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.commands[commandID.String()]
	if !ok {
		return conduct.ErrCommandNotFound
	}
	if c.Status != command.StatusRunning || c.WorkerID.String() != workerID.String() {
		return fmt.Errorf("memory: command %s is not running under worker %s", commandID, workerID)
	}
	now := time.Now().UTC()
	c.HeartbeatAt = &now
	m.leases[commandID.String()] = now.Add(lease)
	return nil
}

// ReapExpiredLeases returns running commands whose lease expired.
func (m *Store) ReapExpiredLeases(_ context.Context, limit int) ([]*command.Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	var expired []*command.Command
	for key, c := range m.commands {
		if limit > 0 && len(expired) >= limit {
			break
		}
		if c.Status != command.StatusRunning {
			continue
		}
		until, ok := m.leases[key]
		if !ok || until.After(now) {
			continue
		}
		m.closeOrphanedAttempt(key, now)
		cp := *c
		expired = append(expired, &cp)
	}
	return expired, nil
}

// closeOrphanedAttempt finalizes the open attempt a crashed worker left
// behind. Without it the next claim's OpenAttempt would refuse forever.
func (m *Store) closeOrphanedAttempt(commandKey string, now time.Time) {
	attempts := m.attempts[commandKey]
	n := len(attempts)
	if n == 0 || !attempts[n-1].Open() {
		return
	}
	a := attempts[n-1]
	completed := now
	a.CompletedAt = &completed
	a.Duration = now.Sub(a.StartedAt)
	a.ErrorClass = string(contract.ClassCancelled)
	a.ErrorMsg = "execution lease expired"
}

// ListCommands returns commands matching the given options, newest first.
func (m *Store) ListCommands(_ context.Context, opts command.ListOpts) ([]*command.Command, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*command.Command, 0, len(m.commands))
	for _, c := range m.commands {
		if opts.Queue != "" && c.Queue != opts.Queue {
			continue
		}
		if opts.Type != "" && c.Type != opts.Type {
			continue
		}
		if opts.Status != "" && c.Status != opts.Status {
			continue
		}
		if !opts.RunID.IsNil() && c.RunID.String() != opts.RunID.String() {
			continue
		}
		cp := *c
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// CountCommands returns the number of commands matching the options.
func (m *Store) CountCommands(_ context.Context, opts command.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, c := range m.commands {
		if opts.Queue != "" && c.Queue != opts.Queue {
			continue
		}
		if opts.Status != "" && c.Status != opts.Status {
			continue
		}
		count++
	}
	return count, nil
}

// OpenAttempt atomically creates the next attempt for a command with the
// lowest unused contiguous number.
func (m *Store) OpenAttempt(_ context.Context, commandID id.CommandID, workerID id.WorkerID) (*command.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := commandID.String()
	if _, ok := m.commands[key]; !ok {
		return nil, conduct.ErrCommandNotFound
	}

	existing := m.attempts[key]
	if n := len(existing); n > 0 && existing[n-1].Open() {
		return nil, conduct.ErrAttemptOpen
	}

	a := &command.Attempt{
		ID:        id.NewAttemptID(),
		CommandID: commandID,
		Number:    len(existing) + 1,
		WorkerID:  workerID,
		StartedAt: time.Now().UTC(),
	}
	m.attempts[key] = append(existing, a)

	cp := *a
	return &cp, nil
}

// CloseAttempt finalizes an open attempt.
func (m *Store) CloseAttempt(_ context.Context, a *command.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, stored := range m.attempts[a.CommandID.String()] {
		if stored.ID.String() == a.ID.String() {
			cp := *a
			m.attempts[a.CommandID.String()][i] = &cp
			return nil
		}
	}
	return conduct.ErrAttemptNotFound
}

// ListAttempts returns a command's attempts ordered by number.
func (m *Store) ListAttempts(_ context.Context, commandID id.CommandID) ([]*command.Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.attempts[commandID.String()]
	result := make([]*command.Attempt, len(stored))
	for i, a := range stored {
		cp := *a
		result[i] = &cp
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// Workflow Store
// ──────────────────────────────────────────────────

// CreateRun persists a new workflow run.
func (m *Store) CreateRun(_ context.Context, run *workflow.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := run.ID.String()
	if _, exists := m.runs[key]; exists {
		return conduct.ErrRunExists
	}
	cp := *run
	m.runs[key] = &cp
	return nil
}

// GetRun retrieves a workflow run by ID.
func (m *Store) GetRun(_ context.Context, runID id.RunID) (*workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.runs[runID.String()]
	if !ok {
		return nil, conduct.ErrRunNotFound
	}
	cp := *r
	return &cp, nil
}

// UpdateRun persists changes to an existing workflow run.
func (m *Store) UpdateRun(_ context.Context, run *workflow.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := run.ID.String()
	if _, ok := m.runs[key]; !ok {
		return conduct.ErrRunNotFound
	}
	cp := *run
	cp.UpdatedAt = time.Now().UTC()
	m.runs[key] = &cp
	return nil
}

// ListRuns returns workflow runs matching the given options, newest first.
func (m *Store) ListRuns(_ context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*workflow.Run, 0, len(m.runs))
	for _, r := range m.runs {
		if opts.Name != "" && r.Name != opts.Name {
			continue
		}
		if opts.Status != "" && r.Status != opts.Status {
			continue
		}
		cp := *r
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// checkpointKey builds a composite map key for a checkpoint.
func checkpointKey(runID id.RunID, stepIndex int) string {
	return fmt.Sprintf("%s:%d", runID, stepIndex)
}

// SaveCheckpoint persists a step checkpoint, replacing any existing
// checkpoint for the same run and step index.
func (m *Store) SaveCheckpoint(_ context.Context, cp *workflow.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *cp
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	m.checkpoints[checkpointKey(cp.RunID, cp.StepIndex)] = &c
	return nil
}

// GetCheckpoint retrieves the checkpoint for a specific step index.
func (m *Store) GetCheckpoint(_ context.Context, runID id.RunID, stepIndex int) (*workflow.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cp, ok := m.checkpoints[checkpointKey(runID, stepIndex)]
	if !ok {
		return nil, nil // no checkpoint is not an error
	}
	c := *cp
	return &c, nil
}

// LatestCheckpoint returns the run's highest-index checkpoint.
func (m *Store) LatestCheckpoint(_ context.Context, runID id.RunID) (*workflow.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *workflow.Checkpoint
	for _, cp := range m.checkpoints {
		if cp.RunID.String() != runID.String() {
			continue
		}
		if latest == nil || cp.StepIndex > latest.StepIndex {
			latest = cp
		}
	}
	if latest == nil {
		return nil, nil
	}
	c := *latest
	return &c, nil
}

// ListCheckpoints returns all checkpoints for a run ordered by step index.
func (m *Store) ListCheckpoints(_ context.Context, runID id.RunID) ([]*workflow.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*workflow.Checkpoint
	for _, cp := range m.checkpoints {
		if cp.RunID.String() != runID.String() {
			continue
		}
		c := *cp
		result = append(result, &c)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].StepIndex < result[k].StepIndex
	})

	return result, nil
}

// ──────────────────────────────────────────────────
// Memory Store
// ──────────────────────────────────────────────────

// snapshotKey builds a composite map key for a snapshot scope.
func snapshotKey(scopeType mem.ScopeType, scopeKey string) string {
	return string(scopeType) + "\x00" + scopeKey
}

// GetSnapshot retrieves a snapshot by scope. Expired snapshots are still
// returned; the manager treats them as absent.
func (m *Store) GetSnapshot(_ context.Context, scopeType mem.ScopeType, scopeKey string) (*mem.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.snapshots[snapshotKey(scopeType, scopeKey)]
	if !ok {
		return nil, conduct.ErrSnapshotNotFound
	}
	cp := *s
	return &cp, nil
}

// PutSnapshot writes a snapshot if the stored version equals
// expectedVersion. Version 0 means "must not exist yet".
func (m *Store) PutSnapshot(_ context.Context, s *mem.Snapshot, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := snapshotKey(s.ScopeType, s.ScopeKey)
	existing, exists := m.snapshots[key]

	if expectedVersion == 0 {
		if exists {
			return conduct.ErrVersionConflict
		}
	} else {
		if !exists || existing.Version != expectedVersion {
			return conduct.ErrVersionConflict
		}
	}

	cp := *s
	cp.UpdatedAt = time.Now().UTC()
	m.snapshots[key] = &cp
	return nil
}

// TouchSnapshotTTL updates only the expiry of an existing snapshot.
func (m *Store) TouchSnapshotTTL(_ context.Context, scopeType mem.ScopeType, scopeKey string, expiresAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.snapshots[snapshotKey(scopeType, scopeKey)]
	if !ok {
		return conduct.ErrSnapshotNotFound
	}
	s.ExpiresAt = expiresAt
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// DeleteSnapshot removes a snapshot by scope. Missing is a no-op.
func (m *Store) DeleteSnapshot(_ context.Context, scopeType mem.ScopeType, scopeKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.snapshots, snapshotKey(scopeType, scopeKey))
	return nil
}

// DeleteScopePrefix removes every snapshot of a scope type whose key
// starts with the prefix.
func (m *Store) DeleteScopePrefix(_ context.Context, scopeType mem.ScopeType, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	keyPrefix := snapshotKey(scopeType, prefix)
	for key := range m.snapshots {
		if strings.HasPrefix(key, keyPrefix) {
			delete(m.snapshots, key)
		}
	}
	return nil
}

// ──────────────────────────────────────────────────
// Cron Store
// ──────────────────────────────────────────────────

// RegisterCron persists a new cron entry. Returns conduct.ErrDuplicateCron
// if the name already exists.
func (m *Store) RegisterCron(_ context.Context, entry *cron.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.crons {
		if e.Name == entry.Name {
			return conduct.ErrDuplicateCron
		}
	}

	cp := *entry
	m.crons[entry.ID.String()] = &cp
	return nil
}

// GetCron retrieves a cron entry by ID.
func (m *Store) GetCron(_ context.Context, entryID id.CronID) (*cron.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.crons[entryID.String()]
	if !ok {
		return nil, conduct.ErrCronNotFound
	}
	cp := *e
	return &cp, nil
}

// GetCronByName retrieves a cron entry by name.
func (m *Store) GetCronByName(_ context.Context, name string) (*cron.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.crons {
		if e.Name == name {
			cp := *e
			return &cp, nil
		}
	}
	return nil, conduct.ErrCronNotFound
}

// ListCrons returns all cron entries.
func (m *Store) ListCrons(_ context.Context) ([]*cron.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*cron.Entry, 0, len(m.crons))
	for _, e := range m.crons {
		cp := *e
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	return result, nil
}

// UpdateCronLastRun records when a cron entry last fired.
func (m *Store) UpdateCronLastRun(_ context.Context, entryID id.CronID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.crons[entryID.String()]
	if !ok {
		return conduct.ErrCronNotFound
	}
	e.LastRunAt = &at
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateCronEntry updates a cron entry (Enabled, NextRunAt, etc.).
func (m *Store) UpdateCronEntry(_ context.Context, entry *cron.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entry.ID.String()
	if _, ok := m.crons[key]; !ok {
		return conduct.ErrCronNotFound
	}
	cp := *entry
	cp.UpdatedAt = time.Now().UTC()
	m.crons[key] = &cp
	return nil
}

// DeleteCron removes a cron entry by ID.
func (m *Store) DeleteCron(_ context.Context, entryID id.CronID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entryID.String()
	if _, ok := m.crons[key]; !ok {
		return conduct.ErrCronNotFound
	}
	delete(m.crons, key)
	return nil
}

// ──────────────────────────────────────────────────
// Dead-Letter Store
// ──────────────────────────────────────────────────

// PushDeadLetter persists a new dead-letter entry.
func (m *Store) PushDeadLetter(_ context.Context, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.deadLetters[entry.ID.String()] = &cp
	return nil
}

// GetDeadLetter retrieves an entry by ID.
func (m *Store) GetDeadLetter(_ context.Context, entryID id.DeadLetterID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.deadLetters[entryID.String()]
	if !ok {
		return nil, conduct.ErrDeadLetterNotFound
	}
	cp := *e
	return &cp, nil
}

// UpdateDeadLetter persists changes to an entry's replay fields.
func (m *Store) UpdateDeadLetter(_ context.Context, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entry.ID.String()
	if _, ok := m.deadLetters[key]; !ok {
		return conduct.ErrDeadLetterNotFound
	}
	cp := *entry
	m.deadLetters[key] = &cp
	return nil
}

// SwapReplayStatus advances an entry's replay status if it currently
// equals from.
func (m *Store) SwapReplayStatus(_ context.Context, entryID id.DeadLetterID, from, to dlq.ReplayStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.deadLetters[entryID.String()]
	if !ok {
		return conduct.ErrDeadLetterNotFound
	}
	if e.ReplayStatus != from {
		return conduct.ErrReplayInFlight
	}
	e.ReplayStatus = to
	return nil
}

// FindByReplayCommand returns the entry whose last replay admitted the
// given command.
func (m *Store) FindByReplayCommand(_ context.Context, commandID id.CommandID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.deadLetters {
		if !e.ReplayCommandID.IsNil() && e.ReplayCommandID.String() == commandID.String() {
			cp := *e
			return &cp, nil
		}
	}
	return nil, conduct.ErrDeadLetterNotFound
}

// FindByRun returns the most recent workflow entry for a run.
func (m *Store) FindByRun(_ context.Context, runID id.RunID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *dlq.Entry
	for _, e := range m.deadLetters {
		if e.SourceType != dlq.SourceWorkflow || e.SourceID != runID.String() {
			continue
		}
		if latest == nil || e.CreatedAt.After(latest.CreatedAt) {
			latest = e
		}
	}
	if latest == nil {
		return nil, conduct.ErrDeadLetterNotFound
	}
	cp := *latest
	return &cp, nil
}

// ListDeadLetters returns entries matching the options, newest first.
func (m *Store) ListDeadLetters(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*dlq.Entry, 0, len(m.deadLetters))
	for _, e := range m.deadLetters {
		if opts.SourceType != "" && e.SourceType != opts.SourceType {
			continue
		}
		if opts.ReplayStatus != "" && e.ReplayStatus != opts.ReplayStatus {
			continue
		}
		if opts.Queue != "" && e.Queue != opts.Queue {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].FailedAt.After(result[k].FailedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// CountDeadLetters returns the number of entries matching the options.
func (m *Store) CountDeadLetters(_ context.Context, opts dlq.ListOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, e := range m.deadLetters {
		if opts.SourceType != "" && e.SourceType != opts.SourceType {
			continue
		}
		if opts.ReplayStatus != "" && e.ReplayStatus != opts.ReplayStatus {
			continue
		}
		if opts.Queue != "" && e.Queue != opts.Queue {
			continue
		}
		count++
	}
	return count, nil
}

// PurgeDeadLetters removes entries that failed before the given time.
func (m *Store) PurgeDeadLetters(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for key, e := range m.deadLetters {
		if e.FailedAt.Before(before) {
			delete(m.deadLetters, key)
			count++
		}
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Event Store
// ──────────────────────────────────────────────────

// AppendEvent persists an event, assigning it the next sequence number.
func (m *Store) AppendEvent(_ context.Context, evt *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastSeq++
	evt.Seq = m.lastSeq
	cp := *evt
	m.events = append(m.events, &cp)
	return nil
}

// ListEvents returns events matching the options in sequence order.
func (m *Store) ListEvents(_ context.Context, opts event.ListOpts) ([]*event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	typeSet := make(map[event.Type]struct{}, len(opts.Types))
	for _, t := range opts.Types {
		typeSet[t] = struct{}{}
	}

	var result []*event.Event
	for _, evt := range m.events {
		if evt.Seq <= opts.AfterSeq {
			continue
		}
		if len(typeSet) > 0 {
			if _, ok := typeSet[evt.Type]; !ok {
				continue
			}
		}
		if opts.EntityID != "" && evt.EntityID != opts.EntityID {
			continue
		}
		if opts.RunID != "" && evt.RunID.String() != opts.RunID {
			continue
		}
		cp := *evt
		result = append(result, &cp)
		if opts.Limit > 0 && len(result) >= opts.Limit {
			break
		}
	}
	return result, nil
}

// LastSeq returns the highest assigned sequence number.
func (m *Store) LastSeq(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSeq, nil
}
