package conduct

import "time"

// Config holds configuration for the Runtime.
type Config struct {
	// Concurrency is the maximum number of commands processed concurrently.
	Concurrency int

	// Queues is the list of queues this runtime will poll.
	Queues []string

	// PollInterval is how often executor workers poll for claimable commands.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// LeaseDuration is how long a worker's claim on a command is valid
	// before it must be renewed by a heartbeat.
	LeaseDuration time.Duration

	// HeartbeatInterval is how often running commands renew their lease.
	HeartbeatInterval time.Duration

	// ReclaimInterval is how often expired claims are swept back to queued.
	ReclaimInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       10,
		Queues:            []string{"default"},
		PollInterval:      1 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		LeaseDuration:     30 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		ReclaimInterval:   30 * time.Second,
	}
}
