package event

import (
	"context"
	"testing"

	"github.com/conduct-dev/conduct/id"
)

// fakeStore is an append-only in-memory event store.
type fakeStore struct {
	events  []*Event
	lastSeq int64
}

func (f *fakeStore) AppendEvent(_ context.Context, evt *Event) error {
	f.lastSeq++
	evt.Seq = f.lastSeq
	cp := *evt
	f.events = append(f.events, &cp)
	return nil
}

func (f *fakeStore) ListEvents(_ context.Context, opts ListOpts) ([]*Event, error) {
	var result []*Event
	for _, evt := range f.events {
		if evt.Seq <= opts.AfterSeq {
			continue
		}
		cp := *evt
		result = append(result, &cp)
		if opts.Limit > 0 && len(result) >= opts.Limit {
			break
		}
	}
	return result, nil
}

func (f *fakeStore) LastSeq(_ context.Context) (int64, error) {
	return f.lastSeq, nil
}

func TestPublish_AssignsIDAndSeq(t *testing.T) {
	store := &fakeStore{}
	p := NewPublisher(store, nil)
	ctx := context.Background()

	evt := &Event{
		Type:       EventCommandCreated,
		EntityKind: EntityCommand,
		EntityID:   id.NewCommandID().String(),
	}
	if err := p.Publish(ctx, evt, map[string]any{"queue": "default"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if evt.ID.IsNil() {
		t.Fatal("Publish should assign an event ID")
	}
	if evt.Seq != 1 {
		t.Fatalf("expected seq 1, got %d", evt.Seq)
	}
	if evt.CreatedAt.IsZero() {
		t.Fatal("Publish should stamp CreatedAt")
	}
	if len(evt.Payload) == 0 {
		t.Fatal("payload should be marshaled")
	}
}

func TestPublish_FansOutToSinks(t *testing.T) {
	store := &fakeStore{}
	p := NewPublisher(store, nil)
	ctx := context.Background()

	var got []*Event
	p.AddSink(func(evt *Event) { got = append(got, evt) })

	for range 3 {
		evt := &Event{Type: EventCommandStarted, EntityKind: EntityCommand, EntityID: "cmd"}
		if err := p.Publish(ctx, evt, nil); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	if len(got) != 3 {
		t.Fatalf("sink should see every event, got %d", len(got))
	}
	for i, evt := range got {
		if evt.Seq != int64(i+1) {
			t.Fatalf("sink event %d has seq %d", i, evt.Seq)
		}
	}
}

func TestPublish_UnmarshalablePayloadStillAppends(t *testing.T) {
	store := &fakeStore{}
	p := NewPublisher(store, nil)

	evt := &Event{Type: EventCommandSucceeded, EntityKind: EntityCommand, EntityID: "cmd"}
	// A channel cannot be JSON-marshaled; the transition must still be
	// recorded without a payload.
	if err := p.Publish(context.Background(), evt, make(chan int)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(store.events) != 1 {
		t.Fatal("event should be appended despite the bad payload")
	}
	if len(store.events[0].Payload) != 0 {
		t.Fatal("bad payload should be dropped")
	}
}

func TestReplay_BackfillsInOrder(t *testing.T) {
	store := &fakeStore{}
	p := NewPublisher(store, nil)
	ctx := context.Background()

	for range 10 {
		evt := &Event{Type: EventCommandRetried, EntityKind: EntityCommand, EntityID: "cmd"}
		if err := p.Publish(ctx, evt, nil); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	var seqs []int64
	err := p.Replay(ctx, 4, 3, func(evt *Event) bool {
		seqs = append(seqs, evt.Seq)
		return true
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(seqs) != 6 {
		t.Fatalf("expected 6 backfilled events after seq 4, got %d", len(seqs))
	}
	for i, seq := range seqs {
		if seq != int64(5+i) {
			t.Fatalf("out of order backfill at %d: %d", i, seq)
		}
	}
}

func TestReplay_StopsWhenFnReturnsFalse(t *testing.T) {
	store := &fakeStore{}
	p := NewPublisher(store, nil)
	ctx := context.Background()

	for range 5 {
		p.Publish(ctx, &Event{Type: EventCronFired, EntityKind: EntityCron, EntityID: "c"}, nil)
	}

	var seen int
	err := p.Replay(ctx, 0, 2, func(*Event) bool {
		seen++
		return seen < 3
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if seen != 3 {
		t.Fatalf("replay should stop after fn returns false, saw %d", seen)
	}
}
