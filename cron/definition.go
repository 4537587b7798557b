package cron

// Definition is a typed cron definition. T is the payload type
// (must be JSON-serializable).
type Definition[T any] struct {
	// Name is the unique identifier for this cron entry.
	Name string

	// Schedule is a cron expression (e.g., "*/5 * * * *" or "@every 30s").
	Schedule string

	// CommandType is the command type to admit on each tick.
	CommandType string

	// Payload is the default payload admitted with the command.
	Payload T

	// Queue overrides the command's default queue (optional).
	Queue string

	// Profile overrides the command's default policy profile (optional).
	Profile string
}
