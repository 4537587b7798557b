package event

import "context"

// ListOpts controls filtering for event list queries.
type ListOpts struct {
	// AfterSeq returns only events with a sequence number greater than
	// this. Zero starts from the beginning of the stream.
	AfterSeq int64
	// Limit is the maximum number of events to return. Zero means no limit.
	Limit int
	// Types filters by event type. Empty means all types.
	Types []Type
	// EntityID filters to one entity's events. Empty means all entities.
	EntityID string
	// RunID filters to the events of one workflow run and its commands.
	RunID string
}

// Store defines the persistence contract for the transition log.
type Store interface {
	// AppendEvent persists an event, assigning it the next sequence
	// number. Events are never updated or deleted.
	AppendEvent(ctx context.Context, evt *Event) error

	// ListEvents returns events matching the options in sequence order.
	ListEvents(ctx context.Context, opts ListOpts) ([]*Event, error)

	// LastSeq returns the highest assigned sequence number, zero when the
	// stream is empty.
	LastSeq(ctx context.Context) (int64, error)
}
