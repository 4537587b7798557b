package event

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/conduct-dev/conduct/id"
)

// Sink receives every event after it is durably appended. Sinks must not
// block; the stream broker's non-blocking fan-out is the intended
// consumer.
type Sink func(*Event)

// Publisher appends transition events to the store and forwards them to
// registered live sinks. Persistence happens before fan-out, so the log
// is the source of truth and live delivery is at-least-once relative to
// it: a consumer that misses a live event finds it in the log by
// sequence number.
type Publisher struct {
	store  Store
	logger *slog.Logger

	mu    sync.RWMutex
	sinks []Sink
}

// NewPublisher creates a publisher backed by the given store.
func NewPublisher(store Store, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		store:  store,
		logger: logger.With("component", "event"),
	}
}

// AddSink registers a live delivery sink.
func (p *Publisher) AddSink(sink Sink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sinks = append(p.sinks, sink)
}

// Publish appends one event to the log. The payload is JSON-marshaled;
// a nil payload produces an event with no payload.
func (p *Publisher) Publish(ctx context.Context, evt *Event, payload any) error {
	if evt.ID.IsNil() {
		evt.ID = id.NewEventID()
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now().UTC()
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			// A payload that cannot marshal is a programming error; the
			// transition itself must still be recorded.
			p.logger.Error("failed to marshal event payload",
				"type", evt.Type, "entity_id", evt.EntityID, "error", err)
		} else {
			evt.Payload = data
		}
	}

	if err := p.store.AppendEvent(ctx, evt); err != nil {
		return err
	}

	p.mu.RLock()
	sinks := p.sinks
	p.mu.RUnlock()
	for _, sink := range sinks {
		sink(evt)
	}

	p.logger.Debug("event published",
		"type", evt.Type, "seq", evt.Seq, "entity_id", evt.EntityID)
	return nil
}

// Replay streams stored events after a sequence number to fn in order,
// stopping early if fn returns false. Reconnecting consumers use this to
// backfill gaps before switching to live delivery.
func (p *Publisher) Replay(ctx context.Context, afterSeq int64, batch int, fn func(*Event) bool) error {
	if batch <= 0 {
		batch = 256
	}
	for {
		events, err := p.store.ListEvents(ctx, ListOpts{AfterSeq: afterSeq, Limit: batch})
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		for _, evt := range events {
			if !fn(evt) {
				return nil
			}
			afterSeq = evt.Seq
		}
	}
}
