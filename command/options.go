package command

import (
	"time"

	"github.com/conduct-dev/conduct/policy"
)

// Options configures per-definition behavior such as policy profile,
// queue, and priority.
type Options struct {
	// Profile selects the retry-policy profile.
	Profile string

	// MaxAttempts overrides the profile's attempt budget. Zero uses the
	// profile default.
	MaxAttempts int

	// Queue is the queue commands of this type are admitted to.
	Queue string

	// Priority determines dequeue ordering. Higher values are claimed first.
	Priority int

	// Timeout overrides the profile's execution budget. Zero uses the
	// profile default.
	Timeout time.Duration

	// Schema is an optional JSON Schema validated at admission.
	Schema []byte
}

// DefaultOptions returns Options with the standard_async profile on the
// default queue.
func DefaultOptions() Options {
	return Options{
		Profile: policy.StandardAsync,
		Queue:   "default",
	}
}

// Option is a functional option for configuring a command definition.
type Option func(*Options)

// WithProfile selects the retry-policy profile.
func WithProfile(name string) Option {
	return func(o *Options) {
		o.Profile = name
	}
}

// WithMaxAttempts overrides the profile's attempt budget.
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		o.MaxAttempts = n
	}
}

// WithQueue sets the queue for commands of this type.
func WithQueue(q string) Option {
	return func(o *Options) {
		o.Queue = q
	}
}

// WithPriority sets the dequeue priority. Higher values are claimed first.
func WithPriority(p int) Option {
	return func(o *Options) {
		o.Priority = p
	}
}

// WithTimeout overrides the profile's execution budget.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithSchema attaches a JSON Schema validated against every admission
// payload for this command type.
func WithSchema(schema []byte) Option {
	return func(o *Options) {
		o.Schema = schema
	}
}
