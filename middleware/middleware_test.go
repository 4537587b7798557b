package middleware_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/conduct-dev/conduct/command"
	"github.com/conduct-dev/conduct/id"
	"github.com/conduct-dev/conduct/middleware"
)

func TestChain_ExecutionOrder(t *testing.T) {
	var order []string

	mw1 := func(ctx context.Context, _ *command.Command, next middleware.Handler) error {
		order = append(order, "mw1-before")
		err := next(ctx)
		order = append(order, "mw1-after")
		return err
	}

	mw2 := func(ctx context.Context, _ *command.Command, next middleware.Handler) error {
		order = append(order, "mw2-before")
		err := next(ctx)
		order = append(order, "mw2-after")
		return err
	}

	chain := middleware.Chain(mw1, mw2)
	c := &command.Command{Type: "test", ID: id.NewCommandID()}
	handler := func(_ context.Context) error {
		order = append(order, "handler")
		return nil
	}

	err := chain(context.Background(), c, handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(order), order)
	}
	for i, want := range expected {
		if order[i] != want {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want)
		}
	}
}

func TestChain_Empty(t *testing.T) {
	chain := middleware.Chain()
	called := false
	handler := func(_ context.Context) error {
		called = true
		return nil
	}

	err := chain(context.Background(), &command.Command{ID: id.NewCommandID()}, handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called with empty chain")
	}
}

func TestChain_PropagatesError(t *testing.T) {
	mw := func(ctx context.Context, _ *command.Command, next middleware.Handler) error {
		return next(ctx)
	}
	chain := middleware.Chain(mw)
	want := errors.New("handler error")

	err := chain(context.Background(), &command.Command{ID: id.NewCommandID()}, func(_ context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestRecover_CatchesPanic(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Recover(logger)
	c := &command.Command{Type: "panicky", ID: id.NewCommandID()}

	err := mw(context.Background(), c, func(_ context.Context) error {
		panic("test panic")
	})
	if err == nil {
		t.Fatal("expected error from panic recovery")
	}
	if got := err.Error(); got != "panic in command panicky: test panic" {
		t.Errorf("unexpected error message: %q", got)
	}
}

func TestRecover_PassesThrough(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Recover(logger)
	c := &command.Command{Type: "normal", ID: id.NewCommandID()}

	called := false
	err := mw(context.Background(), c, func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called")
	}
}

func TestLogging_Success(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Logging(logger)
	c := &command.Command{Type: "log-test", ID: id.NewCommandID(), Queue: "default"}

	called := false
	err := mw(context.Background(), c, func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called")
	}
}

func TestLogging_Error(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Logging(logger)
	c := &command.Command{Type: "log-test", ID: id.NewCommandID(), Queue: "default"}
	want := errors.New("fail")

	err := mw(context.Background(), c, func(_ context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestTimeout_EnforcesDeadline(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Timeout(logger)
	c := &command.Command{Type: "slow", ID: id.NewCommandID(), Timeout: 10 * time.Millisecond}

	err := mw(context.Background(), c, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestTimeout_ZeroIsNoDeadline(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Timeout(logger)
	c := &command.Command{Type: "untimed", ID: id.NewCommandID()}

	err := mw(context.Background(), c, func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); ok {
			t.Error("expected no deadline for zero timeout")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestActor_RestoresFromCommand(t *testing.T) {
	mw := middleware.Actor()
	c := &command.Command{
		Type:    "scoped",
		ID:      id.NewCommandID(),
		Actor:   "user_test123",
		TraceID: "trace_test456",
	}

	err := mw(context.Background(), c, func(ctx context.Context) error {
		actor, ok := middleware.ActorFrom(ctx)
		if !ok {
			t.Fatal("expected actor in context")
		}
		if actor != "user_test123" {
			t.Errorf("actor = %q, want %q", actor, "user_test123")
		}
		traceID, ok := middleware.TraceIDFrom(ctx)
		if !ok {
			t.Fatal("expected trace id in context")
		}
		if traceID != "trace_test456" {
			t.Errorf("trace id = %q, want %q", traceID, "trace_test456")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestActor_NoOpWhenEmpty(t *testing.T) {
	mw := middleware.Actor()
	c := &command.Command{Type: "anonymous", ID: id.NewCommandID()}

	err := mw(context.Background(), c, func(ctx context.Context) error {
		if _, ok := middleware.ActorFrom(ctx); ok {
			t.Fatal("expected no actor in context for anonymous command")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
