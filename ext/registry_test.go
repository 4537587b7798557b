package ext_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/conduct-dev/conduct/command"
	"github.com/conduct-dev/conduct/ext"
	"github.com/conduct-dev/conduct/id"
	"github.com/conduct-dev/conduct/workflow"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// nameOnly implements only the base Extension interface.
type nameOnly struct{}

func (nameOnly) Name() string { return "name-only" }

// commandTap implements the command lifecycle hooks and records calls.
type commandTap struct {
	admitted    int
	started     int
	succeeded   int
	retrying    int
	deadLetters int
	err         error
}

func (t *commandTap) Name() string { return "command-tap" }

func (t *commandTap) OnCommandAdmitted(_ context.Context, _ *command.Command) error {
	t.admitted++
	return t.err
}

func (t *commandTap) OnCommandStarted(_ context.Context, _ *command.Command, _ int) error {
	t.started++
	return t.err
}

func (t *commandTap) OnCommandSucceeded(_ context.Context, _ *command.Command, _ time.Duration) error {
	t.succeeded++
	return t.err
}

func (t *commandTap) OnCommandRetrying(_ context.Context, _ *command.Command, _ int, _ time.Time) error {
	t.retrying++
	return t.err
}

func (t *commandTap) OnCommandDeadLettered(_ context.Context, _ *command.Command, _ error) error {
	t.deadLetters++
	return t.err
}

// orderTap records the order extensions fire in.
type orderTap struct {
	name  string
	order *[]string
}

func (t *orderTap) Name() string { return t.name }

func (t *orderTap) OnCommandAdmitted(_ context.Context, _ *command.Command) error {
	*t.order = append(*t.order, t.name)
	return nil
}

// wfTap implements the workflow hooks.
type wfTap struct {
	started   int
	stepped   int
	blocked   int
	completed int
	failed    int
	resumed   int
}

func (t *wfTap) Name() string { return "wf-tap" }

func (t *wfTap) OnWorkflowStarted(_ context.Context, _ *workflow.Run) error {
	t.started++
	return nil
}

func (t *wfTap) OnWorkflowStepChanged(_ context.Context, _ *workflow.Run, _ string, _ time.Duration) error {
	t.stepped++
	return nil
}

func (t *wfTap) OnWorkflowBlocked(_ context.Context, _ *workflow.Run, _ string) error {
	t.blocked++
	return nil
}

func (t *wfTap) OnWorkflowCompleted(_ context.Context, _ *workflow.Run, _ time.Duration) error {
	t.completed++
	return nil
}

func (t *wfTap) OnWorkflowFailed(_ context.Context, _ *workflow.Run, _ error) error {
	t.failed++
	return nil
}

func (t *wfTap) OnWorkflowResumed(_ context.Context, _ *workflow.Run) error {
	t.resumed++
	return nil
}

// ──────────────────────────────────────────────────
// Registration and type caching
// ──────────────────────────────────────────────────

func TestRegistry_Register(t *testing.T) {
	r := ext.NewRegistry(testLogger())

	tap := &commandTap{}
	r.Register(tap)
	r.Register(nameOnly{})

	if got := len(r.Extensions()); got != 2 {
		t.Fatalf("Extensions() = %d, want 2", got)
	}
}

func TestRegistry_EmitOnlyReachesImplementers(t *testing.T) {
	r := ext.NewRegistry(testLogger())
	ctx := context.Background()

	tap := &commandTap{}
	r.Register(tap)
	r.Register(nameOnly{}) // implements no hooks, must be skipped

	c := &command.Command{ID: id.NewCommandID(), Type: "send-email"}

	r.EmitCommandAdmitted(ctx, c)
	r.EmitCommandStarted(ctx, c, 1)
	r.EmitCommandSucceeded(ctx, c, time.Second)
	r.EmitCommandRetrying(ctx, c, 1, time.Now())
	r.EmitCommandDeadLettered(ctx, c, errors.New("boom"))

	if tap.admitted != 1 || tap.started != 1 || tap.succeeded != 1 ||
		tap.retrying != 1 || tap.deadLetters != 1 {
		t.Errorf("command tap counts = %+v, want one call per hook", *tap)
	}
}

func TestRegistry_WorkflowHooks(t *testing.T) {
	r := ext.NewRegistry(testLogger())
	ctx := context.Background()

	tap := &wfTap{}
	r.Register(tap)

	run := &workflow.Run{ID: id.NewRunID(), Name: "order-flow"}

	r.EmitWorkflowStarted(ctx, run)
	r.EmitWorkflowStepChanged(ctx, run, "reserve", time.Second)
	r.EmitWorkflowBlocked(ctx, run, "reserve")
	r.EmitWorkflowCompleted(ctx, run, time.Second)
	r.EmitWorkflowFailed(ctx, run, errors.New("boom"))
	r.EmitWorkflowResumed(ctx, run)

	if tap.started != 1 || tap.stepped != 1 || tap.blocked != 1 ||
		tap.completed != 1 || tap.failed != 1 || tap.resumed != 1 {
		t.Errorf("workflow tap counts = %+v, want one call per hook", *tap)
	}
}

// ──────────────────────────────────────────────────
// Ordering and error isolation
// ──────────────────────────────────────────────────

func TestRegistry_RegistrationOrder(t *testing.T) {
	r := ext.NewRegistry(testLogger())

	var order []string
	r.Register(&orderTap{name: "first", order: &order})
	r.Register(&orderTap{name: "second", order: &order})
	r.Register(&orderTap{name: "third", order: &order})

	c := &command.Command{ID: id.NewCommandID()}
	r.EmitCommandAdmitted(context.Background(), c)

	want := []string{"first", "second", "third"}
	if len(order) != len(want) {
		t.Fatalf("fired %d extensions, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestRegistry_HookErrorDoesNotStopOthers(t *testing.T) {
	r := ext.NewRegistry(testLogger())

	failing := &commandTap{err: errors.New("hook failed")}
	healthy := &commandTap{}
	r.Register(failing)
	r.Register(healthy)

	c := &command.Command{ID: id.NewCommandID()}
	r.EmitCommandAdmitted(context.Background(), c)

	if failing.admitted != 1 {
		t.Errorf("failing hook called %d times, want 1", failing.admitted)
	}
	if healthy.admitted != 1 {
		t.Errorf("healthy hook called %d times, want 1", healthy.admitted)
	}
}

func TestRegistry_EmitWithNoExtensions(t *testing.T) {
	r := ext.NewRegistry(testLogger())
	ctx := context.Background()

	// All emitters must be safe on an empty registry.
	c := &command.Command{ID: id.NewCommandID()}
	run := &workflow.Run{ID: id.NewRunID()}

	r.EmitCommandAdmitted(ctx, c)
	r.EmitCommandStarted(ctx, c, 1)
	r.EmitCommandSucceeded(ctx, c, 0)
	r.EmitCommandRetrying(ctx, c, 1, time.Now())
	r.EmitCommandDeadLettered(ctx, c, errors.New("boom"))
	r.EmitReplayRequested(ctx, id.NewDeadLetterID(), id.NewCommandID())
	r.EmitWorkflowStarted(ctx, run)
	r.EmitWorkflowStepChanged(ctx, run, "s", 0)
	r.EmitWorkflowBlocked(ctx, run, "s")
	r.EmitWorkflowCompleted(ctx, run, 0)
	r.EmitWorkflowFailed(ctx, run, errors.New("boom"))
	r.EmitWorkflowResumed(ctx, run)
	r.EmitCronFired(ctx, "nightly", id.NewCommandID())
	r.EmitShutdown(ctx)
}
