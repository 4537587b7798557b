package audit_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/conduct-dev/conduct/audit"
	"github.com/conduct-dev/conduct/command"
	"github.com/conduct-dev/conduct/ext"
	"github.com/conduct-dev/conduct/id"
	"github.com/conduct-dev/conduct/workflow"
)

// ── Mock recorder ────────────────────────────────────

// mockRecorder captures audit events for verification.
type mockRecorder struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (m *mockRecorder) Record(_ context.Context, evt *audit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockRecorder) last() *audit.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *mockRecorder) findByAction(action string) *audit.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, evt := range m.events {
		if evt.Action == action {
			return evt
		}
	}
	return nil
}

// ── Test helpers ─────────────────────────────────────

func newTestCommand() *command.Command {
	return &command.Command{
		ID:           id.NewCommandID(),
		Type:         "send-email",
		Queue:        "default",
		Actor:        "operator@example.com",
		MaxAttempts:  3,
		AttemptCount: 1,
	}
}

func newTestRun() *workflow.Run {
	return &workflow.Run{
		ID:            id.NewRunID(),
		Name:          "order-flow",
		TriggerSource: "api",
		TriggerActor:  "operator@example.com",
	}
}

// ── Tests ────────────────────────────────────────────

func TestExtension_Name(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)
	if e.Name() != "audit" {
		t.Errorf("expected name %q, got %q", "audit", e.Name())
	}
}

// ── Command lifecycle tests ──────────────────────────

func TestExtension_CommandAdmitted(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)
	ctx := context.Background()
	c := newTestCommand()

	if err := e.OnCommandAdmitted(ctx, c); err != nil {
		t.Fatalf("OnCommandAdmitted: %v", err)
	}

	evt := rec.last()
	if evt == nil {
		t.Fatal("no event recorded")
	}
	if evt.Action != audit.ActionCommandAdmitted {
		t.Errorf("Action: want %q, got %q", audit.ActionCommandAdmitted, evt.Action)
	}
	if evt.Resource != audit.ResourceCommand {
		t.Errorf("Resource: want %q, got %q", audit.ResourceCommand, evt.Resource)
	}
	if evt.Category != audit.CategoryCommand {
		t.Errorf("Category: want %q, got %q", audit.CategoryCommand, evt.Category)
	}
	if evt.ResourceID != c.ID.String() {
		t.Errorf("ResourceID: want %q, got %q", c.ID.String(), evt.ResourceID)
	}
	if evt.Actor != "operator@example.com" {
		t.Errorf("Actor: want %q, got %q", "operator@example.com", evt.Actor)
	}
	if evt.Severity != audit.SeverityInfo {
		t.Errorf("Severity: want %q, got %q", audit.SeverityInfo, evt.Severity)
	}
	if evt.Outcome != audit.OutcomeSuccess {
		t.Errorf("Outcome: want %q, got %q", audit.OutcomeSuccess, evt.Outcome)
	}
	if evt.Metadata["command_type"] != "send-email" {
		t.Errorf("Metadata[command_type]: want %q, got %v", "send-email", evt.Metadata["command_type"])
	}
	if evt.Metadata["queue"] != "default" {
		t.Errorf("Metadata[queue]: want %q, got %v", "default", evt.Metadata["queue"])
	}
}

func TestExtension_CommandStarted(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)

	c := newTestCommand()
	c.WorkerID = id.NewWorkerID()

	if err := e.OnCommandStarted(context.Background(), c, 1); err != nil {
		t.Fatalf("OnCommandStarted: %v", err)
	}

	evt := rec.last()
	if evt.Action != audit.ActionCommandStarted {
		t.Errorf("Action: want %q, got %q", audit.ActionCommandStarted, evt.Action)
	}
	if evt.Metadata["attempt"] != 1 {
		t.Errorf("Metadata[attempt]: want %d, got %v", 1, evt.Metadata["attempt"])
	}
	if evt.Metadata["worker_id"] != c.WorkerID.String() {
		t.Errorf("Metadata[worker_id]: want %q, got %v", c.WorkerID.String(), evt.Metadata["worker_id"])
	}
}

func TestExtension_CommandSucceeded(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)

	c := newTestCommand()
	elapsed := 150 * time.Millisecond

	if err := e.OnCommandSucceeded(context.Background(), c, elapsed); err != nil {
		t.Fatalf("OnCommandSucceeded: %v", err)
	}

	evt := rec.last()
	if evt.Action != audit.ActionCommandSucceeded {
		t.Errorf("Action: want %q, got %q", audit.ActionCommandSucceeded, evt.Action)
	}
	if evt.Severity != audit.SeverityInfo {
		t.Errorf("Severity: want %q, got %q", audit.SeverityInfo, evt.Severity)
	}
	if evt.Metadata["elapsed_ms"] != elapsed.Milliseconds() {
		t.Errorf("Metadata[elapsed_ms]: want %d, got %v", elapsed.Milliseconds(), evt.Metadata["elapsed_ms"])
	}
}

func TestExtension_CommandRetrying(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)

	c := newTestCommand()
	c.LastErrorClass = "transient"
	nextRun := time.Now().Add(30 * time.Second)

	if err := e.OnCommandRetrying(context.Background(), c, 2, nextRun); err != nil {
		t.Fatalf("OnCommandRetrying: %v", err)
	}

	evt := rec.last()
	if evt.Action != audit.ActionCommandRetrying {
		t.Errorf("Action: want %q, got %q", audit.ActionCommandRetrying, evt.Action)
	}
	if evt.Severity != audit.SeverityWarning {
		t.Errorf("Severity: want %q, got %q", audit.SeverityWarning, evt.Severity)
	}
	if evt.Outcome != audit.OutcomeFailure {
		t.Errorf("Outcome: want %q, got %q", audit.OutcomeFailure, evt.Outcome)
	}
	if evt.Metadata["attempt"] != 2 {
		t.Errorf("Metadata[attempt]: want %d, got %v", 2, evt.Metadata["attempt"])
	}
	if evt.Metadata["error_class"] != "transient" {
		t.Errorf("Metadata[error_class]: want %q, got %v", "transient", evt.Metadata["error_class"])
	}
}

func TestExtension_CommandDeadLettered(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)

	c := newTestCommand()
	cmdErr := errors.New("max attempts exceeded")

	if err := e.OnCommandDeadLettered(context.Background(), c, cmdErr); err != nil {
		t.Fatalf("OnCommandDeadLettered: %v", err)
	}

	evt := rec.last()
	if evt.Action != audit.ActionCommandDeadLettered {
		t.Errorf("Action: want %q, got %q", audit.ActionCommandDeadLettered, evt.Action)
	}
	if evt.Severity != audit.SeverityCritical {
		t.Errorf("Severity: want %q, got %q", audit.SeverityCritical, evt.Severity)
	}
	if evt.Reason != "max attempts exceeded" {
		t.Errorf("Reason: want %q, got %q", "max attempts exceeded", evt.Reason)
	}
	if evt.Metadata["error"] != "max attempts exceeded" {
		t.Errorf("Metadata[error]: want %q, got %v", "max attempts exceeded", evt.Metadata["error"])
	}
	if evt.Metadata["attempt_count"] != 1 {
		t.Errorf("Metadata[attempt_count]: want %d, got %v", 1, evt.Metadata["attempt_count"])
	}
}

func TestExtension_ReplayRequested(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)

	dlID := id.NewDeadLetterID()
	cmdID := id.NewCommandID()

	if err := e.OnReplayRequested(context.Background(), dlID, cmdID); err != nil {
		t.Fatalf("OnReplayRequested: %v", err)
	}

	evt := rec.last()
	if evt.Action != audit.ActionReplayRequested {
		t.Errorf("Action: want %q, got %q", audit.ActionReplayRequested, evt.Action)
	}
	if evt.Resource != audit.ResourceDeadLetter {
		t.Errorf("Resource: want %q, got %q", audit.ResourceDeadLetter, evt.Resource)
	}
	if evt.ResourceID != dlID.String() {
		t.Errorf("ResourceID: want %q, got %q", dlID.String(), evt.ResourceID)
	}
	if evt.Metadata["replay_command_id"] != cmdID.String() {
		t.Errorf("Metadata[replay_command_id]: want %q, got %v", cmdID.String(), evt.Metadata["replay_command_id"])
	}
}

// ── Workflow lifecycle tests ─────────────────────────

func TestExtension_WorkflowStarted(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)

	r := newTestRun()

	if err := e.OnWorkflowStarted(context.Background(), r); err != nil {
		t.Fatalf("OnWorkflowStarted: %v", err)
	}

	evt := rec.last()
	if evt.Action != audit.ActionWorkflowStarted {
		t.Errorf("Action: want %q, got %q", audit.ActionWorkflowStarted, evt.Action)
	}
	if evt.Resource != audit.ResourceWorkflow {
		t.Errorf("Resource: want %q, got %q", audit.ResourceWorkflow, evt.Resource)
	}
	if evt.Actor != "operator@example.com" {
		t.Errorf("Actor: want %q, got %q", "operator@example.com", evt.Actor)
	}
	if evt.Metadata["workflow_name"] != "order-flow" {
		t.Errorf("Metadata[workflow_name]: want %q, got %v", "order-flow", evt.Metadata["workflow_name"])
	}
	if evt.Metadata["trigger_source"] != "api" {
		t.Errorf("Metadata[trigger_source]: want %q, got %v", "api", evt.Metadata["trigger_source"])
	}
}

func TestExtension_WorkflowStepChanged(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)

	r := newTestRun()
	r.StepIndex = 1

	if err := e.OnWorkflowStepChanged(context.Background(), r, "validate-order", 200*time.Millisecond); err != nil {
		t.Fatalf("OnWorkflowStepChanged: %v", err)
	}

	evt := rec.last()
	if evt.Action != audit.ActionWorkflowStepChanged {
		t.Errorf("Action: want %q, got %q", audit.ActionWorkflowStepChanged, evt.Action)
	}
	if evt.Metadata["step_name"] != "validate-order" {
		t.Errorf("Metadata[step_name]: want %q, got %v", "validate-order", evt.Metadata["step_name"])
	}
	if evt.Metadata["elapsed_ms"] != int64(200) {
		t.Errorf("Metadata[elapsed_ms]: want %d, got %v", 200, evt.Metadata["elapsed_ms"])
	}
}

func TestExtension_WorkflowBlocked(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)

	r := newTestRun()
	r.Status = workflow.StatusBlocked

	if err := e.OnWorkflowBlocked(context.Background(), r, "charge-payment"); err != nil {
		t.Fatalf("OnWorkflowBlocked: %v", err)
	}

	evt := rec.last()
	if evt.Action != audit.ActionWorkflowBlocked {
		t.Errorf("Action: want %q, got %q", audit.ActionWorkflowBlocked, evt.Action)
	}
	if evt.Severity != audit.SeverityWarning {
		t.Errorf("Severity: want %q, got %q", audit.SeverityWarning, evt.Severity)
	}
	if evt.Metadata["step_name"] != "charge-payment" {
		t.Errorf("Metadata[step_name]: want %q, got %v", "charge-payment", evt.Metadata["step_name"])
	}
}

func TestExtension_WorkflowCompleted(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)

	r := newTestRun()

	if err := e.OnWorkflowCompleted(context.Background(), r, 2*time.Second); err != nil {
		t.Fatalf("OnWorkflowCompleted: %v", err)
	}

	evt := rec.last()
	if evt.Action != audit.ActionWorkflowCompleted {
		t.Errorf("Action: want %q, got %q", audit.ActionWorkflowCompleted, evt.Action)
	}
	if evt.Metadata["elapsed_ms"] != int64(2000) {
		t.Errorf("Metadata[elapsed_ms]: want %d, got %v", 2000, evt.Metadata["elapsed_ms"])
	}
}

func TestExtension_WorkflowFailed(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)

	r := newTestRun()
	r.CurrentStep = "charge-payment"
	runErr := errors.New("step failed")

	if err := e.OnWorkflowFailed(context.Background(), r, runErr); err != nil {
		t.Fatalf("OnWorkflowFailed: %v", err)
	}

	evt := rec.last()
	if evt.Action != audit.ActionWorkflowFailed {
		t.Errorf("Action: want %q, got %q", audit.ActionWorkflowFailed, evt.Action)
	}
	if evt.Severity != audit.SeverityCritical {
		t.Errorf("Severity: want %q, got %q", audit.SeverityCritical, evt.Severity)
	}
	if evt.Metadata["current_step"] != "charge-payment" {
		t.Errorf("Metadata[current_step]: want %q, got %v", "charge-payment", evt.Metadata["current_step"])
	}
}

func TestExtension_WorkflowResumed(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)

	r := newTestRun()
	r.ReplayEpoch = 2

	if err := e.OnWorkflowResumed(context.Background(), r); err != nil {
		t.Fatalf("OnWorkflowResumed: %v", err)
	}

	evt := rec.last()
	if evt.Action != audit.ActionWorkflowResumed {
		t.Errorf("Action: want %q, got %q", audit.ActionWorkflowResumed, evt.Action)
	}
	if evt.Metadata["replay_epoch"] != 2 {
		t.Errorf("Metadata[replay_epoch]: want %d, got %v", 2, evt.Metadata["replay_epoch"])
	}
}

// ── Cron lifecycle tests ─────────────────────────────

func TestExtension_CronFired(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)
	cmdID := id.NewCommandID()

	if err := e.OnCronFired(context.Background(), "daily-cleanup", cmdID); err != nil {
		t.Fatalf("OnCronFired: %v", err)
	}

	evt := rec.last()
	if evt.Action != audit.ActionCronFired {
		t.Errorf("Action: want %q, got %q", audit.ActionCronFired, evt.Action)
	}
	if evt.Resource != audit.ResourceCron {
		t.Errorf("Resource: want %q, got %q", audit.ResourceCron, evt.Resource)
	}
	if evt.ResourceID != "daily-cleanup" {
		t.Errorf("ResourceID: want %q, got %q", "daily-cleanup", evt.ResourceID)
	}
	if evt.Metadata["command_id"] != cmdID.String() {
		t.Errorf("Metadata[command_id]: want %q, got %v", cmdID.String(), evt.Metadata["command_id"])
	}
}

// ── WithActions filter tests ─────────────────────────

func TestExtension_WithActions_FiltersDisabled(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec, audit.WithActions(audit.ActionCommandSucceeded, audit.ActionCommandDeadLettered))

	ctx := context.Background()
	c := newTestCommand()

	// Admitted is NOT enabled — silently skipped.
	if err := e.OnCommandAdmitted(ctx, c); err != nil {
		t.Fatalf("OnCommandAdmitted: %v", err)
	}
	if rec.count() != 0 {
		t.Errorf("expected 0 events (admitted disabled), got %d", rec.count())
	}

	// Succeeded IS enabled.
	if err := e.OnCommandSucceeded(ctx, c, 50*time.Millisecond); err != nil {
		t.Fatalf("OnCommandSucceeded: %v", err)
	}
	if rec.count() != 1 {
		t.Errorf("expected 1 event (succeeded enabled), got %d", rec.count())
	}

	// Dead-lettered IS enabled.
	if err := e.OnCommandDeadLettered(ctx, c, errors.New("boom")); err != nil {
		t.Fatalf("OnCommandDeadLettered: %v", err)
	}
	if rec.count() != 2 {
		t.Errorf("expected 2 events, got %d", rec.count())
	}
}

// ── RecorderFunc adapter test ────────────────────────

func TestRecorderFunc(t *testing.T) {
	var captured *audit.Event
	fn := audit.RecorderFunc(func(_ context.Context, evt *audit.Event) error {
		captured = evt
		return nil
	})

	e := audit.New(fn)
	c := newTestCommand()

	if err := e.OnCommandAdmitted(context.Background(), c); err != nil {
		t.Fatalf("OnCommandAdmitted: %v", err)
	}
	if captured == nil {
		t.Fatal("RecorderFunc was not called")
	}
	if captured.Action != audit.ActionCommandAdmitted {
		t.Errorf("Action: want %q, got %q", audit.ActionCommandAdmitted, captured.Action)
	}
}

// ── Recorder error handling test ─────────────────────

func TestExtension_RecorderError_DoesNotPropagate(t *testing.T) {
	failingRecorder := audit.RecorderFunc(func(_ context.Context, _ *audit.Event) error {
		return errors.New("audit backend down")
	})

	e := audit.New(failingRecorder)
	c := newTestCommand()

	// Hook must NOT return an error. Audit failures cannot be allowed to
	// block the command pipeline.
	if err := e.OnCommandAdmitted(context.Background(), c); err != nil {
		t.Fatalf("expected no error (audit failure swallowed), got: %v", err)
	}
}

// ── Registry integration test ────────────────────────

func TestExtension_ViaRegistry(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)
	logger := slog.Default()

	reg := ext.NewRegistry(logger)
	reg.Register(e)

	ctx := context.Background()
	c := newTestCommand()
	r := newTestRun()

	reg.EmitCommandAdmitted(ctx, c)
	reg.EmitCommandStarted(ctx, c, 1)
	reg.EmitCommandSucceeded(ctx, c, 50*time.Millisecond)
	reg.EmitCommandRetrying(ctx, c, 1, time.Now())
	reg.EmitCommandDeadLettered(ctx, c, errors.New("dead"))
	reg.EmitReplayRequested(ctx, id.NewDeadLetterID(), id.NewCommandID())
	reg.EmitWorkflowStarted(ctx, r)
	reg.EmitWorkflowStepChanged(ctx, r, "step-1", time.Second)
	reg.EmitWorkflowBlocked(ctx, r, "step-2")
	reg.EmitWorkflowCompleted(ctx, r, 2*time.Second)
	reg.EmitWorkflowFailed(ctx, r, errors.New("wf fail"))
	reg.EmitWorkflowResumed(ctx, r)
	reg.EmitCronFired(ctx, "hourly", id.NewCommandID())

	// Verify all 13 event types were recorded.
	allActions := audit.AllActions()
	if rec.count() != len(allActions) {
		t.Fatalf("expected %d events, got %d", len(allActions), rec.count())
	}

	for _, action := range allActions {
		evt := rec.findByAction(action)
		if evt == nil {
			t.Errorf("missing event for action %q", action)
		}
	}
}

// ── AllActions test ──────────────────────────────────

func TestAllActions(t *testing.T) {
	actions := audit.AllActions()
	if len(actions) != 13 {
		t.Errorf("expected 13 actions, got %d", len(actions))
	}
}
