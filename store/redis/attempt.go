package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/conduct-dev/conduct"
	"github.com/conduct-dev/conduct/command"
	"github.com/conduct-dev/conduct/contract"
	"github.com/conduct-dev/conduct/id"
)

// ── JSON model for KV storage ──

type attemptEntity struct {
	ID          string     `json:"id"`
	CommandID   string     `json:"command_id"`
	Number      int        `json:"number"`
	WorkerID    string     `json:"worker_id,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationNs  int64      `json:"duration_ns"`
	ErrorClass  string     `json:"error_class,omitempty"`
	ErrorMsg    string     `json:"error_msg,omitempty"`
	Summary     string     `json:"summary,omitempty"`
	Output      []byte     `json:"output,omitempty"`
	Ambiguous   bool       `json:"ambiguous"`
	UsageTokens int64      `json:"usage_tokens"`
	UsageCents  int64      `json:"usage_cents"`
}

func toAttemptEntity(a *command.Attempt) *attemptEntity {
	return &attemptEntity{
		ID:          a.ID.String(),
		CommandID:   a.CommandID.String(),
		Number:      a.Number,
		WorkerID:    a.WorkerID.String(),
		StartedAt:   a.StartedAt,
		CompletedAt: a.CompletedAt,
		DurationNs:  a.Duration.Nanoseconds(),
		ErrorClass:  a.ErrorClass,
		ErrorMsg:    a.ErrorMsg,
		Summary:     a.Summary,
		Output:      a.Output,
		Ambiguous:   a.Ambiguous,
		UsageTokens: a.Usage.Tokens,
		UsageCents:  a.Usage.CostCents,
	}
}

func fromAttemptEntity(e *attemptEntity) (*command.Attempt, error) {
	aID, err := id.ParseAttemptID(e.ID)
	if err != nil {
		return nil, fmt.Errorf("conduct/redis: parse attempt id: %w", err)
	}
	cID, err := id.ParseCommandID(e.CommandID)
	if err != nil {
		return nil, fmt.Errorf("conduct/redis: parse attempt command id: %w", err)
	}

	a := &command.Attempt{
		ID:          aID,
		CommandID:   cID,
		Number:      e.Number,
		StartedAt:   e.StartedAt,
		CompletedAt: e.CompletedAt,
		Duration:    time.Duration(e.DurationNs),
		ErrorClass:  e.ErrorClass,
		ErrorMsg:    e.ErrorMsg,
		Summary:     e.Summary,
		Output:      e.Output,
		Ambiguous:   e.Ambiguous,
		Usage: command.Usage{
			Tokens:    e.UsageTokens,
			CostCents: e.UsageCents,
		},
	}
	if e.WorkerID != "" {
		a.WorkerID, _ = id.ParseWorkerID(e.WorkerID) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	return a, nil
}

// OpenAttempt atomically creates the next attempt for a command. The
// script refuses while an open-attempt marker exists and assigns the
// lowest unused number from the attempt index.
func (s *Store) OpenAttempt(ctx context.Context, commandID id.CommandID, workerID id.WorkerID) (*command.Attempt, error) {
	cID := commandID.String()

	exists, err := s.entityExists(ctx, commandKey(cID))
	if err != nil {
		return nil, fmt.Errorf("conduct/redis: open attempt exists: %w", err)
	}
	if !exists {
		return nil, conduct.ErrCommandNotFound
	}

	a := &command.Attempt{
		ID:        id.NewAttemptID(),
		CommandID: commandID,
		WorkerID:  workerID,
		StartedAt: now(),
	}
	data, err := jsonMarshal(toAttemptEntity(a))
	if err != nil {
		return nil, fmt.Errorf("conduct/redis: marshal attempt: %w", err)
	}

	n, err := openAttemptScript.Run(ctx, s.client,
		[]string{openAttemptKey(cID), attemptIdxKey(cID), attemptKey(a.ID.String())},
		a.ID.String(), data,
	).Int()
	if err != nil {
		return nil, fmt.Errorf("conduct/redis: open attempt: %w", err)
	}
	if n == 0 {
		return nil, conduct.ErrAttemptOpen
	}

	a.Number = n
	return a, nil
}

// CloseAttempt finalizes an open attempt.
func (s *Store) CloseAttempt(ctx context.Context, a *command.Attempt) error {
	aID := a.ID.String()
	key := attemptKey(aID)

	exists, err := s.entityExists(ctx, key)
	if err != nil {
		return fmt.Errorf("conduct/redis: close attempt exists: %w", err)
	}
	if !exists {
		return conduct.ErrAttemptNotFound
	}

	if err := s.setEntity(ctx, key, toAttemptEntity(a)); err != nil {
		return fmt.Errorf("conduct/redis: close attempt: %w", err)
	}

	// Clear the open marker if this attempt holds it.
	markerKey := openAttemptKey(a.CommandID.String())
	holder, err := s.client.Get(ctx, markerKey).Result()
	if err != nil && !isRedisNil(err) {
		return fmt.Errorf("conduct/redis: close attempt marker: %w", err)
	}
	if holder == aID {
		if err := s.client.Del(ctx, markerKey).Err(); err != nil {
			return fmt.Errorf("conduct/redis: close attempt unmark: %w", err)
		}
	}
	return nil
}

// closeOrphanedAttempt finalizes the open attempt a crashed worker left
// behind. Without it the next claim's OpenAttempt would refuse forever.
func (s *Store) closeOrphanedAttempt(ctx context.Context, cID string) error {
	markerKey := openAttemptKey(cID)
	aID, err := s.client.Get(ctx, markerKey).Result()
	if err != nil {
		if isRedisNil(err) {
			return nil
		}
		return fmt.Errorf("conduct/redis: orphaned attempt marker: %w", err)
	}

	var e attemptEntity
	if err := s.getEntity(ctx, attemptKey(aID), &e); err != nil {
		return fmt.Errorf("conduct/redis: orphaned attempt load: %w", err)
	}
	ts := now()
	e.CompletedAt = &ts
	e.DurationNs = ts.Sub(e.StartedAt).Nanoseconds()
	e.ErrorClass = string(contract.ClassCancelled)
	e.ErrorMsg = "execution lease expired"
	if err := s.setEntity(ctx, attemptKey(aID), &e); err != nil {
		return fmt.Errorf("conduct/redis: orphaned attempt close: %w", err)
	}
	return s.client.Del(ctx, markerKey).Err()
}

// ListAttempts returns a command's attempts ordered by number.
func (s *Store) ListAttempts(ctx context.Context, commandID id.CommandID) ([]*command.Attempt, error) {
	ids, err := s.client.ZRange(ctx, attemptIdxKey(commandID.String()), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("conduct/redis: list attempts: %w", err)
	}

	attempts := make([]*command.Attempt, 0, len(ids))
	for _, aID := range ids {
		var e attemptEntity
		if getErr := s.getEntity(ctx, attemptKey(aID), &e); getErr != nil {
			continue
		}
		a, convErr := fromAttemptEntity(&e)
		if convErr != nil {
			continue
		}
		attempts = append(attempts, a)
	}
	return attempts, nil
}
