package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/conduct-dev/conduct"
	"github.com/conduct-dev/conduct/command"
	"github.com/conduct-dev/conduct/event"
	"github.com/conduct-dev/conduct/id"
	"github.com/conduct-dev/conduct/policy"
	"github.com/conduct-dev/conduct/store/memory"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *memory.Store) {
	t.Helper()
	s := memory.New()
	pub := event.NewPublisher(s, nil)
	d := NewDispatcher(command.NewRegistry(), s, pub, nil, nil)
	return d, s
}

func registerNoop(t *testing.T, d *Dispatcher, commandType string, opts ...command.Option) {
	t.Helper()
	err := d.RegisterRaw(commandType, func(context.Context, []byte) (command.Result, error) {
		return command.Result{}, nil
	}, opts...)
	if err != nil {
		t.Fatalf("RegisterRaw: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Admission
// ---------------------------------------------------------------------------

func TestAdmit_PersistsQueuedCommand(t *testing.T) {
	d, s := newTestDispatcher(t)
	ctx := context.Background()
	registerNoop(t, d, "send-email", command.WithQueue("emails"), command.WithProfile(policy.CriticalPath))

	c, created, err := d.Admit(ctx, command.Draft{
		Type:           "send-email",
		Payload:        []byte(`{"to":"a@b.c"}`),
		IdempotencyKey: "email-1",
		Actor:          "user_1",
	})
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if !created {
		t.Fatal("first admission should create")
	}
	if c.Status != command.StatusQueued {
		t.Fatalf("admitted command should be queued, got %s", c.Status)
	}
	if c.Queue != "emails" || c.Profile != policy.CriticalPath {
		t.Fatalf("options not applied: queue=%s profile=%s", c.Queue, c.Profile)
	}
	if c.MaxAttempts != 3 {
		t.Fatalf("critical_path profile should give 3 attempts, got %d", c.MaxAttempts)
	}
	if c.Timeout != 10*time.Second {
		t.Fatalf("critical_path profile should give a 10s timeout, got %s", c.Timeout)
	}

	// Admission is the only side effect that produces a created event.
	events, err := s.ListEvents(ctx, event.ListOpts{})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 1 || events[0].Type != event.EventCommandCreated {
		t.Fatalf("expected one command.created event, got %+v", events)
	}
}

func TestAdmit_UnknownType(t *testing.T) {
	d, _ := newTestDispatcher(t)

	_, _, err := d.Admit(context.Background(), command.Draft{Type: "never-registered"})
	if !errors.Is(err, conduct.ErrUnknownCommandType) {
		t.Fatalf("expected ErrUnknownCommandType, got %v", err)
	}
}

func TestAdmit_DraftOverrides(t *testing.T) {
	d, _ := newTestDispatcher(t)
	registerNoop(t, d, "work", command.WithQueue("default"), command.WithMaxAttempts(4))

	c, _, err := d.Admit(context.Background(), command.Draft{
		Type:        "work",
		Queue:       "overflow",
		Priority:    9,
		MaxAttempts: 2,
		Profile:     policy.BestEffort,
	})
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if c.Queue != "overflow" {
		t.Fatalf("draft queue override lost: %s", c.Queue)
	}
	if c.Priority != 9 {
		t.Fatalf("draft priority override lost: %d", c.Priority)
	}
	if c.MaxAttempts != 2 {
		t.Fatalf("draft max attempts should win over registration, got %d", c.MaxAttempts)
	}
	if c.Profile != policy.BestEffort {
		t.Fatalf("draft profile override lost: %s", c.Profile)
	}
}

func TestAdmit_PreAssignedID(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()
	registerNoop(t, d, "work")

	pre := id.NewCommandID()
	c, created, err := d.Admit(ctx, command.Draft{Type: "work", ID: pre, IdempotencyKey: "pre-1"})
	if err != nil || !created {
		t.Fatalf("Admit: created=%v err=%v", created, err)
	}
	if c.ID.String() != pre.String() {
		t.Fatalf("pre-assigned ID should be kept, got %s", c.ID)
	}
}

func TestAdmit_UnknownProfile(t *testing.T) {
	d, _ := newTestDispatcher(t)
	registerNoop(t, d, "work")

	if _, _, err := d.Admit(context.Background(), command.Draft{Type: "work", Profile: "no-such-profile"}); err == nil {
		t.Fatal("unknown profile should reject the draft")
	}
}

// ---------------------------------------------------------------------------
// Idempotency
// ---------------------------------------------------------------------------

func TestAdmit_Deduplicates(t *testing.T) {
	d, s := newTestDispatcher(t)
	ctx := context.Background()
	registerNoop(t, d, "charge")

	first, created, err := d.Admit(ctx, command.Draft{Type: "charge", IdempotencyKey: "order-42"})
	if err != nil || !created {
		t.Fatalf("first Admit: created=%v err=%v", created, err)
	}

	dup, created, err := d.Admit(ctx, command.Draft{Type: "charge", IdempotencyKey: "order-42"})
	if err != nil {
		t.Fatalf("duplicate Admit: %v", err)
	}
	if created {
		t.Fatal("duplicate key should not create")
	}
	if dup.ID.String() != first.ID.String() {
		t.Fatal("duplicate admission should return the original command")
	}

	// Dedup causes no side effects: still exactly one created event.
	events, _ := s.ListEvents(ctx, event.ListOpts{Types: []event.Type{event.EventCommandCreated}})
	if len(events) != 1 {
		t.Fatalf("dedup must not publish events, got %d", len(events))
	}
}

func TestAdmit_ConcurrentSameKey(t *testing.T) {
	d, s := newTestDispatcher(t)
	ctx := context.Background()
	registerNoop(t, d, "charge")

	var wg sync.WaitGroup
	var mu sync.Mutex
	var createdCount int

	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := d.Admit(ctx, command.Draft{Type: "charge", IdempotencyKey: "race"})
			if err != nil {
				t.Errorf("Admit: %v", err)
				return
			}
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if createdCount != 1 {
		t.Fatalf("exactly one admission should create, got %d", createdCount)
	}
	n, _ := s.CountCommands(ctx, command.CountOpts{})
	if n != 1 {
		t.Fatalf("expected one stored command, got %d", n)
	}
}

func TestAdmit_DerivedKeyCollapsesIdenticalDrafts(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()
	registerNoop(t, d, "notify")

	first, created, err := d.Admit(ctx, command.Draft{Type: "notify", Payload: []byte(`{"user":"u1"}`)})
	if err != nil || !created {
		t.Fatalf("first Admit: created=%v err=%v", created, err)
	}

	second, created, err := d.Admit(ctx, command.Draft{Type: "notify", Payload: []byte(`{"user":"u1"}`)})
	if err != nil {
		t.Fatalf("second Admit: %v", err)
	}
	if created || second.ID.String() != first.ID.String() {
		t.Fatal("identical keyless drafts should collapse to one command")
	}

	// A different payload derives a different key.
	_, created, err = d.Admit(ctx, command.Draft{Type: "notify", Payload: []byte(`{"user":"u2"}`)})
	if err != nil || !created {
		t.Fatalf("distinct payload should create: created=%v err=%v", created, err)
	}
}

// ---------------------------------------------------------------------------
// Schema validation
// ---------------------------------------------------------------------------

func TestAdmit_SchemaRejection(t *testing.T) {
	d, s := newTestDispatcher(t)
	ctx := context.Background()

	schema := []byte(`{
		"type": "object",
		"required": ["to"],
		"properties": {"to": {"type": "string"}}
	}`)
	registerNoop(t, d, "send-email", command.WithSchema(schema))

	// Valid payload admits.
	if _, _, err := d.Admit(ctx, command.Draft{Type: "send-email", Payload: []byte(`{"to":"a@b.c"}`)}); err != nil {
		t.Fatalf("valid payload should admit: %v", err)
	}

	// Missing required field rejects synchronously; nothing persisted.
	_, _, err := d.Admit(ctx, command.Draft{Type: "send-email", Payload: []byte(`{"subject":"hi"}`)})
	if err == nil {
		t.Fatal("schema violation should reject the draft")
	}
	n, _ := s.CountCommands(ctx, command.CountOpts{})
	if n != 1 {
		t.Fatalf("rejected draft must not be persisted, got %d commands", n)
	}
}

func TestRegister_TypedDefinition(t *testing.T) {
	d, _ := newTestDispatcher(t)

	type emailPayload struct {
		To string `json:"to"`
	}
	def := &command.Definition[emailPayload]{
		Type: "send-email",
		Handler: func(_ context.Context, p emailPayload) (command.Result, error) {
			return command.Result{Summary: "sent to " + p.To}, nil
		},
	}
	if err := Register(d, def); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, ok := d.Registry().Get("send-email"); !ok {
		t.Fatal("typed definition should be registered")
	}
}
