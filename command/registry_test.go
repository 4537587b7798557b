package command_test

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/conduct-dev/conduct/command"
	"github.com/conduct-dev/conduct/contract"
	"github.com/conduct-dev/conduct/policy"
)

type chargePayload struct {
	Amount   int    `json:"amount"`
	Currency string `json:"currency"`
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := command.NewRegistry()

	var got chargePayload
	def := command.NewDefinition("payments.charge", func(_ context.Context, p chargePayload) (command.Result, error) {
		got = p
		return command.Result{Summary: "charged"}, nil
	})

	command.RegisterDefinition(r, def)

	h, ok := r.Get("payments.charge")
	if !ok {
		t.Fatal("expected handler to be registered")
	}

	payload, _ := json.Marshal(chargePayload{Amount: 1500, Currency: "EUR"})
	res, err := h(context.Background(), payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Summary != "charged" {
		t.Errorf("Summary = %q, want %q", res.Summary, "charged")
	}
	if got.Amount != 1500 || got.Currency != "EUR" {
		t.Errorf("payload = %+v, want amount 1500 EUR", got)
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := command.NewRegistry()
	if _, ok := r.Get("nonexistent"); ok {
		t.Fatal("expected no handler for unregistered type")
	}
}

func TestRegistry_Types(t *testing.T) {
	r := command.NewRegistry()

	noop := func(_ context.Context, _ struct{}) (command.Result, error) { return command.Result{}, nil }
	command.RegisterDefinition(r, command.NewDefinition("type-a", noop))
	command.RegisterDefinition(r, command.NewDefinition("type-b", noop))
	command.RegisterDefinition(r, command.NewDefinition("type-c", noop))

	types := r.Types()
	sort.Strings(types)
	want := []string{"type-a", "type-b", "type-c"}
	if len(types) != len(want) {
		t.Fatalf("expected %d types, got %d", len(want), len(types))
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("types[%d] = %q, want %q", i, types[i], want[i])
		}
	}
}

func TestRegistry_InvalidJSONIsSchemaClass(t *testing.T) {
	r := command.NewRegistry()
	command.RegisterDefinition(r, command.NewDefinition("typed", func(_ context.Context, _ chargePayload) (command.Result, error) {
		t.Fatal("handler should not be called with invalid JSON")
		return command.Result{}, nil
	}))

	h, _ := r.Get("typed")
	_, err := h(context.Background(), []byte(`{invalid json`))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if got := contract.Classify(err); got != contract.ClassSchema {
		t.Errorf("Classify = %q, want %q", got, contract.ClassSchema)
	}
}

func TestRegistry_EmptyPayload(t *testing.T) {
	r := command.NewRegistry()
	called := false
	command.RegisterDefinition(r, command.NewDefinition("no-payload", func(_ context.Context, _ struct{}) (command.Result, error) {
		called = true
		return command.Result{}, nil
	}))

	h, _ := r.Get("no-payload")
	if _, err := h(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called with empty payload")
	}
}

func TestRegistry_HandlerError(t *testing.T) {
	r := command.NewRegistry()
	want := errors.New("gateway unreachable")
	command.RegisterDefinition(r, command.NewDefinition("failing", func(_ context.Context, _ struct{}) (command.Result, error) {
		return command.Result{}, want
	}))

	h, _ := r.Get("failing")
	if _, err := h(context.Background(), nil); !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestRegistry_DefinitionOptions(t *testing.T) {
	r := command.NewRegistry()
	command.RegisterDefinition(r, command.NewDefinition("opted",
		func(_ context.Context, _ struct{}) (command.Result, error) { return command.Result{}, nil },
		command.WithProfile(policy.CriticalPath),
		command.WithQueue("payments"),
		command.WithPriority(5),
		command.WithMaxAttempts(2),
		command.WithTimeout(3*time.Second),
	))

	opts, ok := r.Opts("opted")
	if !ok {
		t.Fatal("expected options for registered type")
	}
	if opts.Profile != policy.CriticalPath {
		t.Errorf("Profile = %q, want %q", opts.Profile, policy.CriticalPath)
	}
	if opts.Queue != "payments" || opts.Priority != 5 || opts.MaxAttempts != 2 || opts.Timeout != 3*time.Second {
		t.Errorf("opts = %+v", opts)
	}
}

func TestCommand_TransitionValidatesLegality(t *testing.T) {
	c := &command.Command{Status: command.StatusQueued}

	if err := c.Transition(command.StatusRunning); err != nil {
		t.Fatalf("queued → running: %v", err)
	}
	if err := c.Transition(command.StatusSucceeded); err != nil {
		t.Fatalf("running → succeeded: %v", err)
	}
	if err := c.Transition(command.StatusRunning); err == nil {
		t.Fatal("succeeded → running should be rejected")
	}
	if c.Status != command.StatusSucceeded {
		t.Errorf("illegal transition mutated status to %q", c.Status)
	}
}

func TestAttempt_Open(t *testing.T) {
	a := &command.Attempt{StartedAt: time.Now()}
	if !a.Open() {
		t.Error("attempt with only StartedAt should be open")
	}
	done := time.Now()
	a.CompletedAt = &done
	if a.Open() {
		t.Error("completed attempt should not be open")
	}
}
