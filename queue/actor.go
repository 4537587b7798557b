package queue

import (
	"fmt"

	"golang.org/x/time/rate"
)

// ActorConfig defines rate limits and concurrency for a specific actor
// on a specific queue, identified by the command's Actor field.
type ActorConfig struct {
	// QueueName is the queue this config applies to.
	QueueName string

	// Actor is the actor identifier (typically command.Actor).
	Actor string

	// RateLimit is the sustained commands per second for this actor.
	RateLimit float64

	// RateBurst is the burst size for the actor's rate limiter.
	RateBurst int

	// MaxConcurrency limits simultaneous commands for this actor on this
	// queue. Zero means no actor-specific concurrency limit.
	MaxConcurrency int
}

// actorState tracks runtime state for a single queue+actor pair.
type actorState struct {
	limiter        *rate.Limiter
	maxConcurrency int
	active         int
}

// actorKey builds the map key for a queue+actor pair.
func actorKey(queue, actor string) string {
	return fmt.Sprintf("%s:%s", queue, actor)
}

// SetActorConfig configures rate limits and concurrency for a specific
// actor on a specific queue. Calling this multiple times for the same
// queue+actor replaces the previous configuration.
func (m *Manager) SetActorConfig(cfg ActorConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := actorKey(cfg.QueueName, cfg.Actor)
	existing := m.actors[key]

	as := &actorState{
		maxConcurrency: cfg.MaxConcurrency,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		as.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	// Preserve current active count if reconfiguring.
	if existing != nil {
		as.active = existing.active
	}
	m.actors[key] = as
}

// ActorActiveCount returns the current number of active commands for a
// queue+actor pair.
func (m *Manager) ActorActiveCount(queue, actor string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if as := m.actors[actorKey(queue, actor)]; as != nil {
		return as.active
	}
	return 0
}
