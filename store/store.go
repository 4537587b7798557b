// Package store defines the aggregate persistence interface. Each
// subsystem (command, workflow, mem, cron, dlq, event) defines its own
// store interface. The composite Store composes them all. Backends:
// Postgres, Redis, and Memory.
package store

import (
	"context"

	"github.com/conduct-dev/conduct/command"
	"github.com/conduct-dev/conduct/cron"
	"github.com/conduct-dev/conduct/dlq"
	"github.com/conduct-dev/conduct/event"
	"github.com/conduct-dev/conduct/mem"
	"github.com/conduct-dev/conduct/workflow"
)

// Store is the aggregate persistence interface.
// Each subsystem store is a composable interface; a single backend
// (postgres, redis, memory) implements all of them.
type Store interface {
	command.Store
	workflow.Store
	mem.Store
	cron.Store
	dlq.Store
	event.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
