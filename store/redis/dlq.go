package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/conduct-dev/conduct"
	"github.com/conduct-dev/conduct/dlq"
	"github.com/conduct-dev/conduct/id"
)

// ── JSON model for KV storage ──

type deadLetterEntity struct {
	ID              string     `json:"id"`
	SourceType      string     `json:"source_type"`
	SourceID        string     `json:"source_id"`
	CommandType     string     `json:"command_type,omitempty"`
	WorkflowName    string     `json:"workflow_name,omitempty"`
	Queue           string     `json:"queue,omitempty"`
	Reason          string     `json:"reason"`
	ErrorClass      string     `json:"error_class,omitempty"`
	CapturedState   []byte     `json:"captured_state,omitempty"`
	TraceID         string     `json:"trace_id,omitempty"`
	ReplayStatus    string     `json:"replay_status"`
	ReplayEpoch     int        `json:"replay_epoch"`
	ReplayCommandID string     `json:"replay_command_id,omitempty"`
	ReplayedAt      *time.Time `json:"replayed_at,omitempty"`
	FailedAt        time.Time  `json:"failed_at"`
	CreatedAt       time.Time  `json:"created_at"`
}

func toDeadLetterEntity(entry *dlq.Entry) *deadLetterEntity {
	return &deadLetterEntity{
		ID:              entry.ID.String(),
		SourceType:      string(entry.SourceType),
		SourceID:        entry.SourceID,
		CommandType:     entry.CommandType,
		WorkflowName:    entry.WorkflowName,
		Queue:           entry.Queue,
		Reason:          entry.Reason,
		ErrorClass:      entry.ErrorClass,
		CapturedState:   entry.CapturedState,
		TraceID:         entry.TraceID,
		ReplayStatus:    string(entry.ReplayStatus),
		ReplayEpoch:     entry.ReplayEpoch,
		ReplayCommandID: entry.ReplayCommandID.String(),
		ReplayedAt:      entry.ReplayedAt,
		FailedAt:        entry.FailedAt,
		CreatedAt:       entry.CreatedAt,
	}
}

func fromDeadLetterEntity(e *deadLetterEntity) (*dlq.Entry, error) {
	eID, err := id.ParseDeadLetterID(e.ID)
	if err != nil {
		return nil, fmt.Errorf("conduct/redis: parse dead letter id: %w", err)
	}

	entry := &dlq.Entry{
		ID:            eID,
		SourceType:    dlq.SourceType(e.SourceType),
		SourceID:      e.SourceID,
		CommandType:   e.CommandType,
		WorkflowName:  e.WorkflowName,
		Queue:         e.Queue,
		Reason:        e.Reason,
		ErrorClass:    e.ErrorClass,
		CapturedState: e.CapturedState,
		TraceID:       e.TraceID,
		ReplayStatus:  dlq.ReplayStatus(e.ReplayStatus),
		ReplayEpoch:   e.ReplayEpoch,
		ReplayedAt:    e.ReplayedAt,
		FailedAt:      e.FailedAt,
		CreatedAt:     e.CreatedAt,
	}
	if e.ReplayCommandID != "" {
		entry.ReplayCommandID, _ = id.ParseCommandID(e.ReplayCommandID) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	return entry, nil
}

// PushDeadLetter persists a new entry.
func (s *Store) PushDeadLetter(ctx context.Context, entry *dlq.Entry) error {
	eID := entry.ID.String()

	if err := s.setEntity(ctx, dlqKey(eID), toDeadLetterEntity(entry)); err != nil {
		return fmt.Errorf("conduct/redis: push dead letter: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, dlqIDsKey, goredis.Z{
		Score:  float64(entry.FailedAt.UnixMilli()),
		Member: eID,
	})
	if !entry.ReplayCommandID.IsNil() {
		pipe.HSet(ctx, dlqReplayIdxKey, entry.ReplayCommandID.String(), eID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conduct/redis: push dead letter index: %w", err)
	}
	return nil
}

// GetDeadLetter retrieves an entry by ID.
func (s *Store) GetDeadLetter(ctx context.Context, entryID id.DeadLetterID) (*dlq.Entry, error) {
	var e deadLetterEntity
	if err := s.getEntity(ctx, dlqKey(entryID.String()), &e); err != nil {
		if isNotFound(err) {
			return nil, conduct.ErrDeadLetterNotFound
		}
		return nil, fmt.Errorf("conduct/redis: get dead letter: %w", err)
	}
	return fromDeadLetterEntity(&e)
}

// UpdateDeadLetter persists changes to an entry's replay fields.
func (s *Store) UpdateDeadLetter(ctx context.Context, entry *dlq.Entry) error {
	eID := entry.ID.String()
	key := dlqKey(eID)

	exists, err := s.entityExists(ctx, key)
	if err != nil {
		return fmt.Errorf("conduct/redis: update dead letter exists: %w", err)
	}
	if !exists {
		return conduct.ErrDeadLetterNotFound
	}

	if err := s.setEntity(ctx, key, toDeadLetterEntity(entry)); err != nil {
		return fmt.Errorf("conduct/redis: update dead letter: %w", err)
	}
	if !entry.ReplayCommandID.IsNil() {
		if err := s.client.HSet(ctx, dlqReplayIdxKey, entry.ReplayCommandID.String(), eID).Err(); err != nil {
			return fmt.Errorf("conduct/redis: update dead letter index: %w", err)
		}
	}
	return nil
}

// SwapReplayStatus advances an entry's replay status if it currently
// equals from. The compare and the write run in one server-side script,
// so concurrent replay requests race and exactly one wins.
func (s *Store) SwapReplayStatus(ctx context.Context, entryID id.DeadLetterID, from, to dlq.ReplayStatus) error {
	res, err := swapReplayStatusScript.Run(ctx, s.client,
		[]string{dlqKey(entryID.String())},
		string(from), string(to),
	).Int()
	if err != nil {
		return fmt.Errorf("conduct/redis: swap replay status: %w", err)
	}
	switch res {
	case 1:
		return nil
	case -1:
		return conduct.ErrDeadLetterNotFound
	default:
		return conduct.ErrReplayInFlight
	}
}

// FindByReplayCommand returns the entry whose last replay admitted the
// given command.
func (s *Store) FindByReplayCommand(ctx context.Context, commandID id.CommandID) (*dlq.Entry, error) {
	eID, err := s.client.HGet(ctx, dlqReplayIdxKey, commandID.String()).Result()
	if err != nil {
		if isRedisNil(err) {
			return nil, conduct.ErrDeadLetterNotFound
		}
		return nil, fmt.Errorf("conduct/redis: find by replay command: %w", err)
	}

	parsed, err := id.ParseDeadLetterID(eID)
	if err != nil {
		return nil, fmt.Errorf("conduct/redis: parse dead letter id: %w", err)
	}
	return s.GetDeadLetter(ctx, parsed)
}

// FindByRun returns the most recent workflow entry for a run.
func (s *Store) FindByRun(ctx context.Context, runID id.RunID) (*dlq.Entry, error) {
	ids, err := s.client.ZRevRange(ctx, dlqIDsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("conduct/redis: find by run: %w", err)
	}

	rID := runID.String()
	for _, eID := range ids {
		var e deadLetterEntity
		if getErr := s.getEntity(ctx, dlqKey(eID), &e); getErr != nil {
			continue
		}
		if e.SourceType == string(dlq.SourceWorkflow) && e.SourceID == rID {
			return fromDeadLetterEntity(&e)
		}
	}
	return nil, conduct.ErrDeadLetterNotFound
}

// ListDeadLetters returns entries matching the options, newest first.
func (s *Store) ListDeadLetters(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	ids, err := s.client.ZRevRange(ctx, dlqIDsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("conduct/redis: list dead letters: %w", err)
	}

	var entries []*dlq.Entry
	for _, eID := range ids {
		var e deadLetterEntity
		if getErr := s.getEntity(ctx, dlqKey(eID), &e); getErr != nil {
			continue // skip missing
		}
		if opts.SourceType != "" && e.SourceType != string(opts.SourceType) {
			continue
		}
		if opts.ReplayStatus != "" && e.ReplayStatus != string(opts.ReplayStatus) {
			continue
		}
		if opts.Queue != "" && e.Queue != opts.Queue {
			continue
		}
		entry, convErr := fromDeadLetterEntity(&e)
		if convErr != nil {
			continue
		}
		entries = append(entries, entry)
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(entries) {
			return nil, nil
		}
		entries = entries[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(entries) {
		entries = entries[:opts.Limit]
	}
	return entries, nil
}

// CountDeadLetters returns the number of entries matching the options.
func (s *Store) CountDeadLetters(ctx context.Context, opts dlq.ListOpts) (int64, error) {
	entries, err := s.ListDeadLetters(ctx, dlq.ListOpts{
		SourceType:   opts.SourceType,
		ReplayStatus: opts.ReplayStatus,
		Queue:        opts.Queue,
	})
	if err != nil {
		return 0, err
	}
	return int64(len(entries)), nil
}

// PurgeDeadLetters removes entries that failed before the given time.
func (s *Store) PurgeDeadLetters(ctx context.Context, before time.Time) (int64, error) {
	cutoff := fmt.Sprintf("(%d", before.UnixMilli())
	ids, err := s.client.ZRangeByScore(ctx, dlqIDsKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: cutoff,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("conduct/redis: purge dead letters: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := s.client.TxPipeline()
	for _, eID := range ids {
		pipe.Del(ctx, dlqKey(eID))
		pipe.ZRem(ctx, dlqIDsKey, eID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("conduct/redis: purge dead letters exec: %w", err)
	}
	return int64(len(ids)), nil
}
