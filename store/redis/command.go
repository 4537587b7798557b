package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/conduct-dev/conduct"
	"github.com/conduct-dev/conduct/command"
	"github.com/conduct-dev/conduct/id"
)

// ── JSON model for KV storage ──

type commandEntity struct {
	ID             string     `json:"id"`
	Type           string     `json:"type"`
	Queue          string     `json:"queue"`
	Payload        []byte     `json:"payload,omitempty"`
	Status         string     `json:"status"`
	Profile        string     `json:"profile"`
	Priority       int        `json:"priority"`
	IdempotencyKey string     `json:"idempotency_key"`
	RunID          string     `json:"run_id,omitempty"`
	StepIndex      int        `json:"step_index"`
	AttemptCount   int        `json:"attempt_count"`
	MaxAttempts    int        `json:"max_attempts"`
	LastErrorClass string     `json:"last_error_class,omitempty"`
	LastErrorMsg   string     `json:"last_error_msg,omitempty"`
	Actor          string     `json:"actor,omitempty"`
	TraceID        string     `json:"trace_id,omitempty"`
	WorkerID       string     `json:"worker_id,omitempty"`
	RunAt          time.Time  `json:"run_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	HeartbeatAt    *time.Time `json:"heartbeat_at,omitempty"`
	TimeoutNs      int64      `json:"timeout_ns"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func toCommandEntity(c *command.Command) *commandEntity {
	return &commandEntity{
		ID:             c.ID.String(),
		Type:           c.Type,
		Queue:          c.Queue,
		Payload:        c.Payload,
		Status:         string(c.Status),
		Profile:        c.Profile,
		Priority:       c.Priority,
		IdempotencyKey: c.IdempotencyKey,
		RunID:          c.RunID.String(),
		StepIndex:      c.StepIndex,
		AttemptCount:   c.AttemptCount,
		MaxAttempts:    c.MaxAttempts,
		LastErrorClass: c.LastErrorClass,
		LastErrorMsg:   c.LastErrorMsg,
		Actor:          c.Actor,
		TraceID:        c.TraceID,
		WorkerID:       c.WorkerID.String(),
		RunAt:          c.RunAt,
		StartedAt:      c.StartedAt,
		CompletedAt:    c.CompletedAt,
		HeartbeatAt:    c.HeartbeatAt,
		TimeoutNs:      c.Timeout.Nanoseconds(),
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

func fromCommandEntity(e *commandEntity) (*command.Command, error) {
	cID, err := id.ParseCommandID(e.ID)
	if err != nil {
		return nil, fmt.Errorf("conduct/redis: parse command id: %w", err)
	}

	c := &command.Command{
		Entity: conduct.Entity{
			CreatedAt: e.CreatedAt,
			UpdatedAt: e.UpdatedAt,
		},
		ID:             cID,
		Type:           e.Type,
		Queue:          e.Queue,
		Payload:        e.Payload,
		Status:         command.Status(e.Status),
		Profile:        e.Profile,
		Priority:       e.Priority,
		IdempotencyKey: e.IdempotencyKey,
		StepIndex:      e.StepIndex,
		AttemptCount:   e.AttemptCount,
		MaxAttempts:    e.MaxAttempts,
		LastErrorClass: e.LastErrorClass,
		LastErrorMsg:   e.LastErrorMsg,
		Actor:          e.Actor,
		TraceID:        e.TraceID,
		RunAt:          e.RunAt,
		StartedAt:      e.StartedAt,
		CompletedAt:    e.CompletedAt,
		HeartbeatAt:    e.HeartbeatAt,
		Timeout:        time.Duration(e.TimeoutNs),
	}

	if e.RunID != "" {
		c.RunID, _ = id.ParseRunID(e.RunID) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if e.WorkerID != "" {
		c.WorkerID, _ = id.ParseWorkerID(e.WorkerID) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	return c, nil
}

// queueScore orders a queue's sorted set by priority (descending) then
// run_at (ascending). Lower score dequeues first.
func queueScore(priority int, runAt time.Time) float64 {
	return float64(-priority) + float64(runAt.UnixMilli())/1e15
}

// CreateCommand persists a new command unless one already holds the same
// idempotency key. The claim and the write run in one server-side script,
// so a losing concurrent insert always reads back a fully stored winner.
func (s *Store) CreateCommand(ctx context.Context, c *command.Command) (*command.Command, bool, error) {
	e := toCommandEntity(c)
	data, err := jsonMarshal(e)
	if err != nil {
		return nil, false, fmt.Errorf("conduct/redis: marshal command: %w", err)
	}

	res, err := createCommandScript.Run(ctx, s.client,
		[]string{commandKeysKey, commandKey(e.ID), commandIDsKey, queueKey(c.Queue), commandRunAtKey, queuesKey},
		c.IdempotencyKey, e.ID, data,
		c.CreatedAt.UnixMilli(), queueScore(c.Priority, c.RunAt), c.RunAt.UnixMilli(), c.Queue,
	).Text()
	if err != nil {
		return nil, false, fmt.Errorf("conduct/redis: create command: %w", err)
	}
	if res == "" {
		return c, true, nil
	}

	winnerID, err := id.ParseCommandID(res)
	if err != nil {
		return nil, false, fmt.Errorf("conduct/redis: parse winner id: %w", err)
	}
	winner, err := s.GetCommand(ctx, winnerID)
	if err != nil {
		return nil, false, err
	}
	return winner, false, nil
}

// GetCommand retrieves a command by ID.
func (s *Store) GetCommand(ctx context.Context, commandID id.CommandID) (*command.Command, error) {
	var e commandEntity
	if err := s.getEntity(ctx, commandKey(commandID.String()), &e); err != nil {
		if isNotFound(err) {
			return nil, conduct.ErrCommandNotFound
		}
		return nil, fmt.Errorf("conduct/redis: get command: %w", err)
	}
	return fromCommandEntity(&e)
}

// GetCommandByKey retrieves a command by idempotency key.
func (s *Store) GetCommandByKey(ctx context.Context, key string) (*command.Command, error) {
	cID, err := s.client.HGet(ctx, commandKeysKey, key).Result()
	if err != nil {
		if isRedisNil(err) {
			return nil, conduct.ErrCommandNotFound
		}
		return nil, fmt.Errorf("conduct/redis: get command by key: %w", err)
	}

	parsed, err := id.ParseCommandID(cID)
	if err != nil {
		return nil, fmt.Errorf("conduct/redis: parse command id: %w", err)
	}
	return s.GetCommand(ctx, parsed)
}

// UpdateCommand persists changes to an existing command and moves it
// between the queue, retry, and lease indexes to match its status.
func (s *Store) UpdateCommand(ctx context.Context, c *command.Command) error {
	cID := c.ID.String()
	key := commandKey(cID)

	exists, err := s.entityExists(ctx, key)
	if err != nil {
		return fmt.Errorf("conduct/redis: update command exists: %w", err)
	}
	if !exists {
		return conduct.ErrCommandNotFound
	}

	e := toCommandEntity(c)
	e.UpdatedAt = now()
	if err := s.setEntity(ctx, key, e); err != nil {
		return fmt.Errorf("conduct/redis: update command: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, commandRunAtKey, cID, strconv.FormatInt(c.RunAt.UnixMilli(), 10))
	switch c.Status {
	case command.StatusQueued:
		pipe.ZAdd(ctx, queueKey(c.Queue), goredis.Z{Score: queueScore(c.Priority, c.RunAt), Member: cID})
		pipe.SAdd(ctx, queuesKey, c.Queue)
		pipe.ZRem(ctx, retryKey, cID)
		pipe.ZRem(ctx, leaseKey, cID)
	case command.StatusRetryScheduled:
		pipe.ZAdd(ctx, retryKey, goredis.Z{Score: float64(c.RunAt.UnixMilli()), Member: cID})
		pipe.ZRem(ctx, queueKey(c.Queue), cID)
		pipe.ZRem(ctx, leaseKey, cID)
	case command.StatusRunning:
		pipe.ZRem(ctx, queueKey(c.Queue), cID)
		pipe.ZRem(ctx, retryKey, cID)
	default:
		pipe.ZRem(ctx, queueKey(c.Queue), cID)
		pipe.ZRem(ctx, retryKey, cID)
		pipe.ZRem(ctx, leaseKey, cID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conduct/redis: update command indexes: %w", err)
	}
	return nil
}

// DequeueCommands atomically claims up to limit due queued commands. The
// claim script removes each ID from its queue's sorted set, so two
// workers never receive the same command.
func (s *Store) DequeueCommands(ctx context.Context, queues []string, workerID id.WorkerID, limit int, lease time.Duration) ([]*command.Command, error) {
	if len(queues) == 0 {
		all, err := s.client.SMembers(ctx, queuesKey).Result()
		if err != nil {
			return nil, fmt.Errorf("conduct/redis: dequeue list queues: %w", err)
		}
		sort.Strings(all)
		queues = all
	}

	nowT := now()
	var claimed []*command.Command

	for _, q := range queues {
		if len(claimed) >= limit {
			break
		}
		remaining := limit - len(claimed)

		ids, err := dequeueScript.Run(ctx, s.client,
			[]string{queueKey(q), leaseKey, commandRunAtKey},
			nowT.UnixMilli(), remaining, nowT.Add(lease).UnixMilli(),
		).StringSlice()
		if err != nil {
			return nil, fmt.Errorf("conduct/redis: dequeue claim: %w", err)
		}

		for _, cID := range ids {
			var e commandEntity
			if getErr := s.getEntity(ctx, commandKey(cID), &e); getErr != nil {
				continue // entity vanished, claim discarded
			}

			e.Status = string(command.StatusRunning)
			e.WorkerID = workerID.String()
			t := nowT
			e.StartedAt = &t
			e.HeartbeatAt = &t
			e.UpdatedAt = t
			if setErr := s.setEntity(ctx, commandKey(cID), &e); setErr != nil {
				return nil, fmt.Errorf("conduct/redis: dequeue update: %w", setErr)
			}

			c, convErr := fromCommandEntity(&e)
			if convErr != nil {
				continue
			}
			claimed = append(claimed, c)
		}
	}
	return claimed, nil
}

// ReleaseDueRetries moves retry_scheduled commands whose backoff has
// elapsed back to queued.
func (s *Store) ReleaseDueRetries(ctx context.Context, limit int) (int, error) {
	ids, err := releaseRetriesScript.Run(ctx, s.client,
		[]string{retryKey},
		now().UnixMilli(), limit,
	).StringSlice()
	if err != nil {
		return 0, fmt.Errorf("conduct/redis: release retries: %w", err)
	}

	released := 0
	for _, cID := range ids {
		var e commandEntity
		if getErr := s.getEntity(ctx, commandKey(cID), &e); getErr != nil {
			continue
		}
		if e.Status != string(command.StatusRetryScheduled) {
			continue
		}

		e.Status = string(command.StatusQueued)
		e.UpdatedAt = now()
		if setErr := s.setEntity(ctx, commandKey(cID), &e); setErr != nil {
			return released, fmt.Errorf("conduct/redis: release retry update: %w", setErr)
		}

		pipe := s.client.TxPipeline()
		pipe.ZAdd(ctx, queueKey(e.Queue), goredis.Z{Score: queueScore(e.Priority, e.RunAt), Member: cID})
		pipe.SAdd(ctx, queuesKey, e.Queue)
		pipe.HSet(ctx, commandRunAtKey, cID, strconv.FormatInt(e.RunAt.UnixMilli(), 10))
		if _, pErr := pipe.Exec(ctx); pErr != nil {
			return released, fmt.Errorf("conduct/redis: release retry requeue: %w", pErr)
		}
		released++
	}
	return released, nil
}

// HeartbeatCommand extends the lease on a running command.
func (s *Store) HeartbeatCommand(ctx context.Context, commandID id.CommandID, workerID id.WorkerID, lease time.Duration) error {
	cID := commandID.String()

	var e commandEntity
	if err := s.getEntity(ctx, commandKey(cID), &e); err != nil {
		if isNotFound(err) {
			return conduct.ErrCommandNotFound
		}
		return fmt.Errorf("conduct/redis: heartbeat get: %w", err)
	}
	if e.Status != string(command.StatusRunning) || e.WorkerID != workerID.String() {
		return fmt.Errorf("conduct/redis: command %s is not running under worker %s", commandID, workerID)
	}

	t := now()
	e.HeartbeatAt = &t
	e.UpdatedAt = t
	if err := s.setEntity(ctx, commandKey(cID), &e); err != nil {
		return fmt.Errorf("conduct/redis: heartbeat update: %w", err)
	}

	err := s.client.ZAdd(ctx, leaseKey, goredis.Z{
		Score:  float64(t.Add(lease).UnixMilli()),
		Member: cID,
	}).Err()
	if err != nil {
		return fmt.Errorf("conduct/redis: heartbeat lease: %w", err)
	}
	return nil
}

// ReapExpiredLeases returns running commands whose lease expired. The
// caller decides how to requeue them.
func (s *Store) ReapExpiredLeases(ctx context.Context, limit int) ([]*command.Command, error) {
	ids, err := s.client.ZRangeByScore(ctx, leaseKey, &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now().UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("conduct/redis: reap leases: %w", err)
	}

	var expired []*command.Command
	for _, cID := range ids {
		var e commandEntity
		if getErr := s.getEntity(ctx, commandKey(cID), &e); getErr != nil {
			s.client.ZRem(ctx, leaseKey, cID)
			continue
		}
		if e.Status != string(command.StatusRunning) {
			s.client.ZRem(ctx, leaseKey, cID)
			continue
		}
		c, convErr := fromCommandEntity(&e)
		if convErr != nil {
			continue
		}
		// Close the dead worker's open attempt first; a command whose
		// attempt cannot be closed is not claimable and stays for the
		// next reap pass.
		if closeErr := s.closeOrphanedAttempt(ctx, cID); closeErr != nil {
			s.logger.Warn("failed to close orphaned attempt",
				"command_id", cID, "error", closeErr)
			continue
		}
		expired = append(expired, c)
	}
	return expired, nil
}

// ListCommands returns commands matching the given options, newest first.
func (s *Store) ListCommands(ctx context.Context, opts command.ListOpts) ([]*command.Command, error) {
	ids, err := s.client.ZRevRange(ctx, commandIDsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("conduct/redis: list commands: %w", err)
	}

	var commands []*command.Command
	for _, cID := range ids {
		var e commandEntity
		if getErr := s.getEntity(ctx, commandKey(cID), &e); getErr != nil {
			continue // skip missing
		}
		if opts.Queue != "" && e.Queue != opts.Queue {
			continue
		}
		if opts.Type != "" && e.Type != opts.Type {
			continue
		}
		if opts.Status != "" && e.Status != string(opts.Status) {
			continue
		}
		if !opts.RunID.IsNil() && e.RunID != opts.RunID.String() {
			continue
		}
		c, convErr := fromCommandEntity(&e)
		if convErr != nil {
			continue
		}
		commands = append(commands, c)
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(commands) {
			return nil, nil
		}
		commands = commands[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(commands) {
		commands = commands[:opts.Limit]
	}
	return commands, nil
}

// CountCommands returns the number of commands matching the options.
func (s *Store) CountCommands(ctx context.Context, opts command.CountOpts) (int64, error) {
	ids, err := s.client.ZRange(ctx, commandIDsKey, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("conduct/redis: count commands: %w", err)
	}

	var count int64
	for _, cID := range ids {
		var e commandEntity
		if getErr := s.getEntity(ctx, commandKey(cID), &e); getErr != nil {
			continue
		}
		if opts.Queue != "" && e.Queue != opts.Queue {
			continue
		}
		if opts.Status != "" && e.Status != string(opts.Status) {
			continue
		}
		count++
	}
	return count, nil
}
