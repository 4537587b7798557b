package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/conduct-dev/conduct"
	"github.com/conduct-dev/conduct/cron"
	"github.com/conduct-dev/conduct/id"
)

// ── JSON model for KV storage ──

type cronEntity struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Schedule    string     `json:"schedule"`
	CommandType string     `json:"command_type"`
	Queue       string     `json:"queue,omitempty"`
	Payload     []byte     `json:"payload,omitempty"`
	Profile     string     `json:"profile,omitempty"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	NextRunAt   *time.Time `json:"next_run_at,omitempty"`
	Enabled     bool       `json:"enabled"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func toCronEntity(e *cron.Entry) *cronEntity {
	return &cronEntity{
		ID:          e.ID.String(),
		Name:        e.Name,
		Schedule:    e.Schedule,
		CommandType: e.CommandType,
		Queue:       e.Queue,
		Payload:     e.Payload,
		Profile:     e.Profile,
		LastRunAt:   e.LastRunAt,
		NextRunAt:   e.NextRunAt,
		Enabled:     e.Enabled,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

func fromCronEntity(e *cronEntity) (*cron.Entry, error) {
	eID, err := id.ParseCronID(e.ID)
	if err != nil {
		return nil, fmt.Errorf("conduct/redis: parse cron id: %w", err)
	}

	return &cron.Entry{
		Entity: conduct.Entity{
			CreatedAt: e.CreatedAt,
			UpdatedAt: e.UpdatedAt,
		},
		ID:          eID,
		Name:        e.Name,
		Schedule:    e.Schedule,
		CommandType: e.CommandType,
		Queue:       e.Queue,
		Payload:     e.Payload,
		Profile:     e.Profile,
		LastRunAt:   e.LastRunAt,
		NextRunAt:   e.NextRunAt,
		Enabled:     e.Enabled,
	}, nil
}

// RegisterCron persists a new cron entry.
func (s *Store) RegisterCron(ctx context.Context, entry *cron.Entry) error {
	eID := entry.ID.String()
	key := cronKey(eID)

	// Claim the name first; HSETNX makes duplicate detection atomic.
	claimed, err := s.client.HSetNX(ctx, cronNamesKey, entry.Name, eID).Result()
	if err != nil {
		return fmt.Errorf("conduct/redis: register cron claim name: %w", err)
	}
	if !claimed {
		return conduct.ErrDuplicateCron
	}

	if setErr := s.setEntity(ctx, key, toCronEntity(entry)); setErr != nil {
		return fmt.Errorf("conduct/redis: register cron set: %w", setErr)
	}
	if err := s.client.SAdd(ctx, cronIDsKey, eID).Err(); err != nil {
		return fmt.Errorf("conduct/redis: register cron index: %w", err)
	}
	return nil
}

// GetCron retrieves a cron entry by ID.
func (s *Store) GetCron(ctx context.Context, entryID id.CronID) (*cron.Entry, error) {
	var e cronEntity
	if err := s.getEntity(ctx, cronKey(entryID.String()), &e); err != nil {
		if isNotFound(err) {
			return nil, conduct.ErrCronNotFound
		}
		return nil, fmt.Errorf("conduct/redis: get cron: %w", err)
	}
	return fromCronEntity(&e)
}

// GetCronByName retrieves a cron entry by name.
func (s *Store) GetCronByName(ctx context.Context, name string) (*cron.Entry, error) {
	eID, err := s.client.HGet(ctx, cronNamesKey, name).Result()
	if err != nil {
		if isRedisNil(err) {
			return nil, conduct.ErrCronNotFound
		}
		return nil, fmt.Errorf("conduct/redis: get cron by name: %w", err)
	}

	parsed, err := id.ParseCronID(eID)
	if err != nil {
		return nil, fmt.Errorf("conduct/redis: parse cron id: %w", err)
	}
	return s.GetCron(ctx, parsed)
}

// ListCrons returns all cron entries.
func (s *Store) ListCrons(ctx context.Context) ([]*cron.Entry, error) {
	ids, err := s.client.SMembers(ctx, cronIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("conduct/redis: list crons: %w", err)
	}

	entries := make([]*cron.Entry, 0, len(ids))
	for _, eID := range ids {
		var e cronEntity
		if getErr := s.getEntity(ctx, cronKey(eID), &e); getErr != nil {
			continue
		}
		entry, convErr := fromCronEntity(&e)
		if convErr != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// UpdateCronLastRun records when a cron entry last fired.
func (s *Store) UpdateCronLastRun(ctx context.Context, entryID id.CronID, at time.Time) error {
	key := cronKey(entryID.String())

	var e cronEntity
	if err := s.getEntity(ctx, key, &e); err != nil {
		if isNotFound(err) {
			return conduct.ErrCronNotFound
		}
		return fmt.Errorf("conduct/redis: update last run get: %w", err)
	}

	e.LastRunAt = &at
	e.UpdatedAt = now()
	if err := s.setEntity(ctx, key, &e); err != nil {
		return fmt.Errorf("conduct/redis: update last run: %w", err)
	}
	return nil
}

// UpdateCronEntry updates a cron entry.
func (s *Store) UpdateCronEntry(ctx context.Context, entry *cron.Entry) error {
	key := cronKey(entry.ID.String())

	var existing cronEntity
	if err := s.getEntity(ctx, key, &existing); err != nil {
		if isNotFound(err) {
			return conduct.ErrCronNotFound
		}
		return fmt.Errorf("conduct/redis: update cron get: %w", err)
	}

	// Renames must re-claim the name index.
	if existing.Name != entry.Name {
		claimed, err := s.client.HSetNX(ctx, cronNamesKey, entry.Name, entry.ID.String()).Result()
		if err != nil {
			return fmt.Errorf("conduct/redis: update cron claim name: %w", err)
		}
		if !claimed {
			return conduct.ErrDuplicateCron
		}
		if err := s.client.HDel(ctx, cronNamesKey, existing.Name).Err(); err != nil {
			return fmt.Errorf("conduct/redis: update cron release name: %w", err)
		}
	}

	e := toCronEntity(entry)
	e.UpdatedAt = now()
	if err := s.setEntity(ctx, key, e); err != nil {
		return fmt.Errorf("conduct/redis: update cron: %w", err)
	}
	return nil
}

// DeleteCron removes a cron entry by ID.
func (s *Store) DeleteCron(ctx context.Context, entryID id.CronID) error {
	eID := entryID.String()
	key := cronKey(eID)

	// Get name for name index cleanup.
	var e cronEntity
	if err := s.getEntity(ctx, key, &e); err != nil {
		if isNotFound(err) {
			return conduct.ErrCronNotFound
		}
		return fmt.Errorf("conduct/redis: delete cron get: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, cronIDsKey, eID)
	if e.Name != "" {
		pipe.HDel(ctx, cronNamesKey, e.Name)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conduct/redis: delete cron: %w", err)
	}
	return nil
}
