package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/conduct-dev/conduct/store"
)

var _ store.Store = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements the composite store.Store interface backed by Redis.
type Store struct {
	client redis.Cmdable
	logger *slog.Logger
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() redis.Cmdable { return s.client }

// Migrate is a no-op for Redis (schemaless).
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op. The caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Entity helpers
// ──────────────────────────────────────────────────

// errNotFound marks a missing entity key. Callers translate it to the
// subsystem's not-found error.
var errNotFound = errors.New("conduct/redis: entity not found")

func isNotFound(err error) bool { return errors.Is(err, errNotFound) }

func isRedisNil(err error) bool { return errors.Is(err, redis.Nil) }

func now() time.Time { return time.Now().UTC() }

// jsonMarshal renders v as a JSON string for script arguments.
func jsonMarshal(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// setEntity stores v as JSON at key.
func (s *Store) setEntity(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("conduct/redis: marshal entity: %w", err)
	}
	return s.client.Set(ctx, key, data, 0).Err()
}

// getEntity loads the JSON value at key into v.
func (s *Store) getEntity(ctx context.Context, key string, v any) error {
	raw, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if isRedisNil(err) {
			return errNotFound
		}
		return err
	}
	return json.Unmarshal([]byte(raw), v)
}

// entityExists reports whether a key holds an entity.
func (s *Store) entityExists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
