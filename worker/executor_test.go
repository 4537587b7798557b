package worker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/conduct-dev/conduct"
	"github.com/conduct-dev/conduct/command"
	"github.com/conduct-dev/conduct/contract"
	"github.com/conduct-dev/conduct/dlq"
	"github.com/conduct-dev/conduct/event"
	"github.com/conduct-dev/conduct/id"
	"github.com/conduct-dev/conduct/policy"
	"github.com/conduct-dev/conduct/store/memory"
)

type executorHarness struct {
	registry *command.Registry
	store    *memory.Store
	dlq      *dlq.Service
	executor *Executor
}

func newExecutorHarness(t *testing.T) *executorHarness {
	t.Helper()
	s := memory.New()
	registry := command.NewRegistry()
	pub := event.NewPublisher(s, nil)
	dlqSvc := dlq.NewService(s, s, nil, nil, pub, nil, nil)
	exec := NewExecutor(registry, s, dlqSvc, pub, nil, nil, nil)
	return &executorHarness{registry: registry, store: s, dlq: dlqSvc, executor: exec}
}

// admitAndClaim stores a command and moves it to running under a lease,
// like the pool would.
func (h *executorHarness) admitAndClaim(t *testing.T, c *command.Command) *command.Command {
	t.Helper()
	ctx := context.Background()
	if _, _, err := h.store.CreateCommand(ctx, c); err != nil {
		t.Fatalf("CreateCommand: %v", err)
	}
	claimed, err := h.store.DequeueCommands(ctx, []string{c.Queue}, id.NewWorkerID(), 1, 30*time.Second)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("DequeueCommands: %v (%d claimed)", err, len(claimed))
	}
	return claimed[0]
}

func newTestCommand(profile string, maxAttempts int) *command.Command {
	return &command.Command{
		Entity:         conduct.NewEntity(),
		ID:             id.NewCommandID(),
		Type:           "process",
		Queue:          "default",
		Payload:        []byte(`{}`),
		Status:         command.StatusQueued,
		Profile:        profile,
		IdempotencyKey: id.NewCommandID().String(),
		MaxAttempts:    maxAttempts,
		RunAt:          time.Now().UTC().Add(-time.Second),
	}
}

// ---------------------------------------------------------------------------
// Success path
// ---------------------------------------------------------------------------

func TestExecute_Success(t *testing.T) {
	h := newExecutorHarness(t)
	ctx := context.Background()

	h.registry.Register("process", func(context.Context, []byte) (command.Result, error) {
		return command.Result{Summary: "done", Usage: command.Usage{Tokens: 42}}, nil
	})

	c := h.admitAndClaim(t, newTestCommand(policy.StandardAsync, 5))
	if err := h.executor.Execute(ctx, c); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, err := h.store.GetCommand(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetCommand: %v", err)
	}
	if got.Status != command.StatusSucceeded {
		t.Fatalf("expected succeeded, got %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Fatal("CompletedAt should be set")
	}
	if !got.WorkerID.IsNil() {
		t.Fatal("worker claim should be cleared on completion")
	}

	attempts, _ := h.store.ListAttempts(ctx, c.ID)
	if len(attempts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(attempts))
	}
	a := attempts[0]
	if a.Number != 1 || a.CompletedAt == nil || a.Summary != "done" || a.Usage.Tokens != 42 {
		t.Fatalf("attempt record wrong: %+v", a)
	}

	// Lifecycle events: started then succeeded.
	events, _ := h.store.ListEvents(ctx, event.ListOpts{})
	if len(events) != 2 ||
		events[0].Type != event.EventCommandStarted ||
		events[1].Type != event.EventCommandSucceeded {
		t.Fatalf("wrong event sequence: %+v", events)
	}
}

// ---------------------------------------------------------------------------
// Retry path
// ---------------------------------------------------------------------------

func TestExecute_TransientFailureSchedulesRetry(t *testing.T) {
	h := newExecutorHarness(t)
	ctx := context.Background()

	h.registry.Register("process", func(context.Context, []byte) (command.Result, error) {
		return command.Result{}, contract.Errorf(contract.ClassTransient, "connection reset")
	})

	c := h.admitAndClaim(t, newTestCommand(policy.StandardAsync, 5))
	before := time.Now().UTC()
	if err := h.executor.Execute(ctx, c); err == nil {
		t.Fatal("Execute should surface the handler error")
	}

	got, _ := h.store.GetCommand(ctx, c.ID)
	if got.Status != command.StatusRetryScheduled {
		t.Fatalf("expected retry_scheduled, got %s", got.Status)
	}
	if got.LastErrorClass != string(contract.ClassTransient) {
		t.Fatalf("error class not recorded: %s", got.LastErrorClass)
	}
	// standard_async base backoff is 1s with 20% jitter.
	delay := got.RunAt.Sub(before)
	if delay < 700*time.Millisecond || delay > 1500*time.Millisecond {
		t.Fatalf("first retry delay out of range: %s", delay)
	}

	attempts, _ := h.store.ListAttempts(ctx, c.ID)
	if len(attempts) != 1 || attempts[0].ErrorClass != string(contract.ClassTransient) {
		t.Fatalf("attempt should record the failure: %+v", attempts)
	}
}

func TestExecute_BestEffortExhaustsAndDeadLetters(t *testing.T) {
	h := newExecutorHarness(t)
	ctx := context.Background()

	h.registry.Register("process", func(context.Context, []byte) (command.Result, error) {
		return command.Result{}, contract.Errorf(contract.ClassTransient, "flaky dependency")
	})

	c := newTestCommand(policy.BestEffort, 2)
	claimed := h.admitAndClaim(t, c)

	// Attempt 1: budget remains, retry is scheduled.
	if err := h.executor.Execute(ctx, claimed); err == nil {
		t.Fatal("attempt 1 should fail")
	}
	got, _ := h.store.GetCommand(ctx, c.ID)
	if got.Status != command.StatusRetryScheduled {
		t.Fatalf("after attempt 1 expected retry_scheduled, got %s", got.Status)
	}

	// Release the retry and claim again.
	got.RunAt = time.Now().UTC().Add(-time.Second)
	if err := h.store.UpdateCommand(ctx, got); err != nil {
		t.Fatalf("UpdateCommand: %v", err)
	}
	if _, err := h.store.ReleaseDueRetries(ctx, 10); err != nil {
		t.Fatalf("ReleaseDueRetries: %v", err)
	}
	reclaimed, err := h.store.DequeueCommands(ctx, []string{"default"}, id.NewWorkerID(), 1, 30*time.Second)
	if err != nil || len(reclaimed) != 1 {
		t.Fatalf("second claim: %v (%d)", err, len(reclaimed))
	}

	// Attempt 2: budget exhausted, dead letter.
	if err := h.executor.Execute(ctx, reclaimed[0]); err == nil {
		t.Fatal("attempt 2 should fail")
	}

	got, _ = h.store.GetCommand(ctx, c.ID)
	if got.Status != command.StatusDeadLettered {
		t.Fatalf("expected dead_lettered after exhausting budget, got %s", got.Status)
	}

	attempts, _ := h.store.ListAttempts(ctx, c.ID)
	if len(attempts) != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", len(attempts))
	}
	for i, a := range attempts {
		if a.Number != i+1 || a.CompletedAt == nil {
			t.Fatalf("attempt %d malformed: %+v", i, a)
		}
	}

	entries, err := h.store.ListDeadLetters(ctx, dlq.ListOpts{})
	if err != nil {
		t.Fatalf("ListDeadLetters: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one dead letter, got %d", len(entries))
	}
	e := entries[0]
	if e.SourceType != dlq.SourceCommand || e.SourceID != c.ID.String() {
		t.Fatalf("dead letter points at the wrong source: %+v", e)
	}
	if e.ReplayStatus != dlq.ReplayNone {
		t.Fatalf("fresh dead letter should have replay status none, got %s", e.ReplayStatus)
	}
}

// ---------------------------------------------------------------------------
// Non-retryable classes
// ---------------------------------------------------------------------------

func TestExecute_ValidationErrorDeadLettersImmediately(t *testing.T) {
	h := newExecutorHarness(t)
	ctx := context.Background()

	h.registry.Register("process", func(context.Context, []byte) (command.Result, error) {
		return command.Result{}, contract.Errorf(contract.ClassValidation, "amount must be positive")
	})

	c := h.admitAndClaim(t, newTestCommand(policy.StandardAsync, 5))
	if err := h.executor.Execute(ctx, c); err == nil {
		t.Fatal("Execute should surface the handler error")
	}

	got, _ := h.store.GetCommand(ctx, c.ID)
	if got.Status != command.StatusDeadLettered {
		t.Fatalf("validation error should skip retries, got %s", got.Status)
	}

	attempts, _ := h.store.ListAttempts(ctx, c.ID)
	if len(attempts) != 1 {
		t.Fatalf("non-retryable failure should use one attempt, got %d", len(attempts))
	}
}

func TestExecute_UnknownHandlerDeadLetters(t *testing.T) {
	h := newExecutorHarness(t)
	ctx := context.Background()

	// Nothing registered for "process".
	c := h.admitAndClaim(t, newTestCommand(policy.StandardAsync, 5))
	if err := h.executor.Execute(ctx, c); err == nil {
		t.Fatal("missing handler should fail the attempt")
	}

	got, _ := h.store.GetCommand(ctx, c.ID)
	if got.Status != command.StatusDeadLettered {
		t.Fatalf("missing handler should dead-letter, not retry forever: %s", got.Status)
	}
	if got.LastErrorClass != string(contract.ClassValidation) {
		t.Fatalf("missing handler should classify as validation: %s", got.LastErrorClass)
	}
}

func TestExecute_ManualReviewNeverRetries(t *testing.T) {
	h := newExecutorHarness(t)
	ctx := context.Background()

	h.registry.Register("process", func(context.Context, []byte) (command.Result, error) {
		return command.Result{}, contract.Errorf(contract.ClassTransient, "would be retryable elsewhere")
	})

	c := h.admitAndClaim(t, newTestCommand(policy.ManualReview, 1))
	if err := h.executor.Execute(ctx, c); err == nil {
		t.Fatal("Execute should surface the handler error")
	}

	got, _ := h.store.GetCommand(ctx, c.ID)
	if got.Status != command.StatusDeadLettered {
		t.Fatalf("manual_review should dead-letter on the first failure, got %s", got.Status)
	}

	// The entry is tagged for human triage.
	entries, _ := h.store.ListDeadLetters(ctx, dlq.ListOpts{SourceType: dlq.SourceCommand})
	if len(entries) != 1 {
		t.Fatalf("expected one dead letter, got %d", len(entries))
	}
	if !strings.Contains(entries[0].Reason, "manual_review") {
		t.Fatalf("entry reason should carry the manual_review tag, got %q", entries[0].Reason)
	}
}

// ---------------------------------------------------------------------------
// Error classification through middleware
// ---------------------------------------------------------------------------

func TestExecute_ContextCancellationIsRetryable(t *testing.T) {
	h := newExecutorHarness(t)
	ctx := context.Background()

	h.registry.Register("process", func(ctx context.Context, _ []byte) (command.Result, error) {
		return command.Result{}, ctx.Err()
	})

	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	c := h.admitAndClaim(t, newTestCommand(policy.StandardAsync, 5))
	if err := h.executor.Execute(cancelled, c); err == nil {
		t.Fatal("cancelled execution should fail")
	}

	got, _ := h.store.GetCommand(context.Background(), c.ID)
	if got.Status != command.StatusRetryScheduled {
		t.Fatalf("cancellation should be retryable, got %s", got.Status)
	}
	if got.LastErrorClass != string(contract.ClassCancelled) {
		t.Fatalf("expected cancelled class, got %s", got.LastErrorClass)
	}
}

// ---------------------------------------------------------------------------
// Attempt accounting
// ---------------------------------------------------------------------------

func TestExecute_RefusesDoubleOpenAttempt(t *testing.T) {
	h := newExecutorHarness(t)
	ctx := context.Background()

	block := make(chan struct{})
	started := make(chan struct{})
	h.registry.Register("process", func(context.Context, []byte) (command.Result, error) {
		close(started)
		<-block
		return command.Result{}, nil
	})

	c := h.admitAndClaim(t, newTestCommand(policy.StandardAsync, 5))

	done := make(chan error, 1)
	go func() { done <- h.executor.Execute(ctx, c) }()
	<-started

	// A second execution of the same command while an attempt is open must
	// be refused before invoking the handler.
	cp := *c
	err := h.executor.Execute(ctx, &cp)
	if !errors.Is(err, conduct.ErrAttemptOpen) {
		t.Fatalf("expected ErrAttemptOpen, got %v", err)
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("first execution should succeed: %v", err)
	}

	attempts, _ := h.store.ListAttempts(ctx, c.ID)
	if len(attempts) != 1 {
		t.Fatalf("expected a single attempt, got %d", len(attempts))
	}
}
