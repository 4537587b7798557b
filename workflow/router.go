package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/conduct-dev/conduct"
	"github.com/conduct-dev/conduct/command"
	"github.com/conduct-dev/conduct/event"
	"github.com/conduct-dev/conduct/id"
	"github.com/conduct-dev/conduct/mem"
)

// Admitter admits step commands. Satisfied by the dispatcher; the
// interface breaks the import cycle between workflow and dispatcher.
type Admitter interface {
	Admit(ctx context.Context, draft command.Draft) (*command.Command, bool, error)
}

// Emitter emits workflow lifecycle hooks. Satisfied by ext.Registry (the
// engine package wires it in) to break the import cycle between workflow
// and ext.
type Emitter interface {
	EmitWorkflowStarted(ctx context.Context, run *Run)
	EmitWorkflowStepChanged(ctx context.Context, run *Run, stepName string, elapsed time.Duration)
	EmitWorkflowBlocked(ctx context.Context, run *Run, stepName string)
	EmitWorkflowCompleted(ctx context.Context, run *Run, elapsed time.Duration)
	EmitWorkflowFailed(ctx context.Context, run *Run, err error)
	EmitWorkflowResumed(ctx context.Context, run *Run)
}

// DeadLetterSink captures terminally-failed runs and resolves pending
// workflow replays when a resumed run reaches a terminal state.
// Satisfied by the dlq service.
type DeadLetterSink interface {
	CaptureWorkflow(ctx context.Context, run *Run, reason string) error
	ResolveWorkflowReplay(ctx context.Context, run *Run, success bool) error
}

// recoverConcurrency bounds how many runs Recover processes at once.
const recoverConcurrency = 8

// Router drives workflow runs step by step. Each step executes as a
// command admitted with a step-scoped idempotency key; the executor
// notifies the router when the command reaches a terminal outcome, and
// the router checkpoints, advances, pauses, or fails the run.
type Router struct {
	registry  *Registry
	store     Store
	memory    *mem.Manager
	admitter  Admitter
	publisher *event.Publisher
	emitter   Emitter
	sink      DeadLetterSink
	logger    *slog.Logger

	// Per-run serialization: step completion, resume, and recovery for
	// the same run must not interleave.
	runLocks sync.Map // runID string → *sync.Mutex
}

// NewRouter creates a workflow router.
func NewRouter(
	registry *Registry,
	store Store,
	memory *mem.Manager,
	admitter Admitter,
	publisher *event.Publisher,
	emitter Emitter,
	sink DeadLetterSink,
	logger *slog.Logger,
) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry:  registry,
		store:     store,
		memory:    memory,
		admitter:  admitter,
		publisher: publisher,
		emitter:   emitter,
		sink:      sink,
		logger:    logger.With("component", "workflow"),
	}
}

// Registry returns the workflow registry.
func (r *Router) Registry() *Registry { return r.registry }

func (r *Router) lockRun(runID id.RunID) func() {
	muAny, _ := r.runLocks.LoadOrStore(runID.String(), &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Trigger starts a new run of a registered workflow with a typed input.
// The input is JSON-marshaled and stored on the Run.
func Trigger[T any](ctx context.Context, r *Router, name string, input T, source, actor string) (*Run, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal input for workflow %q: %w", name, err)
	}
	return r.TriggerRaw(ctx, name, data, source, actor)
}

// TriggerRaw starts a workflow run with pre-serialized JSON input and
// admits its first step.
func (r *Router) TriggerRaw(ctx context.Context, name string, input []byte, source, actor string) (*Run, error) {
	def, ok := r.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("no workflow registered for %q", name)
	}

	run := &Run{
		Entity:        conduct.NewEntity(),
		ID:            id.NewRunID(),
		Name:          name,
		Status:        StatusPending,
		Input:         input,
		StepIndex:     1,
		TotalSteps:    len(def.Steps),
		TriggerSource: source,
		TriggerActor:  actor,
		StartedAt:     time.Now().UTC(),
	}
	run.TraceID = run.ID.String()

	if err := r.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run for workflow %q: %w", name, err)
	}

	r.publishRunEvent(ctx, run, event.EventWorkflowStarted, nil)
	r.emitter.EmitWorkflowStarted(ctx, run)

	unlock := r.lockRun(run.ID)
	defer unlock()

	if err := run.Transition(StatusActive); err != nil {
		return nil, err
	}
	if err := r.store.UpdateRun(ctx, run); err != nil {
		return nil, err
	}
	if err := r.admitStep(ctx, run, def); err != nil {
		return nil, err
	}
	return run, nil
}

// admitStep admits the command for the run's current step. Callers must
// hold the run lock. Deduplicated admission against an already-terminal
// command means we crashed between that command's completion and our
// checkpoint; its recorded outcome is applied immediately.
func (r *Router) admitStep(ctx context.Context, run *Run, def *Definition) error {
	step, ok := def.StepAt(run.StepIndex)
	if !ok {
		return r.completeRun(ctx, run, def)
	}

	if run.CurrentStep != step.Name {
		run.CurrentStep = step.Name
		run.Touch()
		if err := r.store.UpdateRun(ctx, run); err != nil {
			return err
		}
	}

	draft := command.Draft{
		Type:           step.Command,
		Payload:        run.Input,
		IdempotencyKey: command.StepKey(run.ID, run.StepIndex, run.ReplayEpoch),
		Profile:        step.Profile,
		MaxAttempts:    step.MaxAttempts,
		RunID:          run.ID,
		StepIndex:      run.StepIndex,
		Actor:          run.TriggerActor,
		TraceID:        run.TraceID,
	}

	cmd, created, err := r.admitter.Admit(ctx, draft)
	if err != nil {
		return fmt.Errorf("workflow %s step %q: admit: %w", run.Name, step.Name, err)
	}

	r.logger.Debug("step command admitted",
		"run_id", run.ID, "step", step.Name, "command_id", cmd.ID, "created", created)

	if created {
		return nil
	}

	switch cmd.Status {
	case command.StatusSucceeded:
		res, resErr := r.lastResult(ctx, cmd)
		if resErr != nil {
			return resErr
		}
		return r.applyStepSuccess(ctx, run, def, step, cmd, res)
	case command.StatusDeadLettered:
		return r.failRun(ctx, run, step, fmt.Errorf("step %q dead-lettered: %s", step.Name, cmd.LastErrorMsg))
	default:
		// Still in flight; the executor will call back on completion.
		return nil
	}
}

// lastResult reconstructs a command's result from its final attempt.
func (r *Router) lastResult(ctx context.Context, cmd *command.Command) (command.Result, error) {
	attempts, err := r.admitterAttempts(ctx, cmd)
	if err != nil {
		return command.Result{}, err
	}
	if len(attempts) == 0 {
		return command.Result{}, nil
	}
	last := attempts[len(attempts)-1]
	return command.Result{
		Summary:   last.Summary,
		Output:    last.Output,
		Ambiguous: last.Ambiguous,
		Usage:     last.Usage,
	}, nil
}

// AttemptLister is optionally implemented by the Admitter to expose a
// command's attempt history for crash recovery.
type AttemptLister interface {
	ListAttempts(ctx context.Context, commandID id.CommandID) ([]*command.Attempt, error)
}

func (r *Router) admitterAttempts(ctx context.Context, cmd *command.Command) ([]*command.Attempt, error) {
	lister, ok := r.admitter.(AttemptLister)
	if !ok {
		return nil, nil
	}
	return lister.ListAttempts(ctx, cmd.ID)
}

// OnStepSucceeded applies a step command's successful outcome: persist
// the checkpoint, write the step output into run-scoped memory, and
// admit the next step. Implements the executor's step callback.
func (r *Router) OnStepSucceeded(ctx context.Context, cmd *command.Command, res command.Result) error {
	if cmd.RunID.IsNil() {
		return nil
	}

	unlock := r.lockRun(cmd.RunID)
	defer unlock()

	run, def, step, ok, err := r.loadStepContext(ctx, cmd)
	if err != nil || !ok {
		return err
	}
	return r.applyStepSuccess(ctx, run, def, step, cmd, res)
}

// OnStepDeadLettered applies a step command's terminal failure: the run
// fails terminally with its checkpoint position frozen at the failing
// step. Implements the executor's step callback.
func (r *Router) OnStepDeadLettered(ctx context.Context, cmd *command.Command, cmdErr error) error {
	if cmd.RunID.IsNil() {
		return nil
	}

	unlock := r.lockRun(cmd.RunID)
	defer unlock()

	run, _, step, ok, err := r.loadStepContext(ctx, cmd)
	if err != nil || !ok {
		return err
	}
	return r.failRun(ctx, run, step, cmdErr)
}

// loadStepContext loads and guards the run a step command belongs to.
// Outcomes for a stale step (an earlier replay epoch, or a run no longer
// active) are ignored, not errors: the run has moved on.
func (r *Router) loadStepContext(ctx context.Context, cmd *command.Command) (*Run, *Definition, Step, bool, error) {
	run, err := r.store.GetRun(ctx, cmd.RunID)
	if err != nil {
		return nil, nil, Step{}, false, err
	}

	if run.Status != StatusActive {
		r.logger.Debug("ignoring step outcome for inactive run",
			"run_id", run.ID, "status", run.Status, "command_id", cmd.ID)
		return nil, nil, Step{}, false, nil
	}

	if cmd.IdempotencyKey != command.StepKey(run.ID, run.StepIndex, run.ReplayEpoch) {
		r.logger.Debug("ignoring stale step outcome",
			"run_id", run.ID, "step_index", run.StepIndex, "command_key", cmd.IdempotencyKey)
		return nil, nil, Step{}, false, nil
	}

	def, ok := r.registry.Get(run.Name)
	if !ok {
		return nil, nil, Step{}, false, fmt.Errorf("no workflow registered for %q (run %s)", run.Name, run.ID)
	}
	step, ok := def.StepAt(run.StepIndex)
	if !ok {
		return nil, nil, Step{}, false, fmt.Errorf("workflow %s: step index %d out of range", run.Name, run.StepIndex)
	}
	return run, def, step, true, nil
}

func (r *Router) applyStepSuccess(ctx context.Context, run *Run, def *Definition, step Step, cmd *command.Command, res command.Result) error {
	if res.Ambiguous {
		return r.pauseRun(ctx, run, step)
	}

	cp := &Checkpoint{
		ID:          id.NewCheckpointID(),
		RunID:       run.ID,
		StepIndex:   run.StepIndex,
		StepName:    step.Name,
		Output:      res.Output,
		ReplayEpoch: run.ReplayEpoch,
		CreatedAt:   time.Now().UTC(),
	}
	if err := r.store.SaveCheckpoint(ctx, cp); err != nil {
		return fmt.Errorf("workflow %s: save checkpoint %q: %w", run.Name, step.Name, err)
	}

	if len(res.Output) > 0 {
		if err := r.writeStepMemory(ctx, run, step, res.Output, def.MemoryTTL); err != nil {
			return err
		}
	}

	var elapsed time.Duration
	if cmd.StartedAt != nil {
		elapsed = time.Since(*cmd.StartedAt)
	}
	r.publishRunEvent(ctx, run, event.EventWorkflowStepChanged, map[string]any{
		"step":       step.Name,
		"step_index": run.StepIndex,
	})
	r.emitter.EmitWorkflowStepChanged(ctx, run, step.Name, elapsed)

	run.StepIndex++
	run.Touch()
	if run.StepIndex > run.TotalSteps {
		return r.completeRun(ctx, run, def)
	}
	if err := r.store.UpdateRun(ctx, run); err != nil {
		return err
	}
	return r.admitStep(ctx, run, def)
}

// writeStepMemory stores a step's output under the run scope. The
// version is re-read before writing because a replayed step may be
// overwriting the output of an earlier epoch.
func (r *Router) writeStepMemory(ctx context.Context, run *Run, step Step, output []byte, ttl time.Duration) error {
	key := mem.RunKey(run.ID, "step:"+step.Name)
	_, version, err := r.memory.Read(ctx, mem.ScopeRun, key)
	if err != nil && !errors.Is(err, conduct.ErrSnapshotNotFound) {
		return err
	}
	if _, err := r.memory.Write(ctx, mem.ScopeRun, key, output, version, ttl); err != nil {
		return fmt.Errorf("workflow %s: write step memory %q: %w", run.Name, step.Name, err)
	}
	return nil
}

func (r *Router) pauseRun(ctx context.Context, run *Run, step Step) error {
	paused := step.OnAmbiguous
	if paused == "" {
		paused = StatusBlocked
	}
	if err := run.Transition(paused); err != nil {
		return err
	}
	if err := r.store.UpdateRun(ctx, run); err != nil {
		return err
	}

	evtType := event.EventWorkflowBlocked
	if paused == StatusPartial {
		evtType = event.EventWorkflowPartial
	}
	r.publishRunEvent(ctx, run, evtType, map[string]any{"step": step.Name})
	r.emitter.EmitWorkflowBlocked(ctx, run, step.Name)

	r.logger.Info("workflow paused on ambiguous step outcome",
		"run_id", run.ID, "step", step.Name, "status", paused)
	return nil
}

func (r *Router) completeRun(ctx context.Context, run *Run, def *Definition) error {
	if err := run.Transition(StatusCompleted); err != nil {
		return err
	}
	now := time.Now().UTC()
	run.CompletedAt = &now
	if err := r.store.UpdateRun(ctx, run); err != nil {
		return err
	}

	// A completed run may be the outcome of a dead-letter replay; settle
	// the pending entry so it cannot be replayed again.
	if err := r.sink.ResolveWorkflowReplay(ctx, run, true); err != nil {
		r.logger.Error("failed to resolve workflow replay", "run_id", run.ID, "error", err)
	}

	r.publishRunEvent(ctx, run, event.EventWorkflowCompleted, nil)
	r.emitter.EmitWorkflowCompleted(ctx, run, now.Sub(run.StartedAt))

	if !def.KeepMemory {
		if err := r.memory.CleanupRun(ctx, run.ID); err != nil {
			r.logger.Warn("failed to clean up run memory", "run_id", run.ID, "error", err)
		}
	}

	r.logger.Info("workflow completed", "run_id", run.ID, "workflow", run.Name)
	return nil
}

func (r *Router) failRun(ctx context.Context, run *Run, step Step, cause error) error {
	if err := run.Transition(StatusFailedTerminal); err != nil {
		return err
	}
	run.Error = cause.Error()
	now := time.Now().UTC()
	run.CompletedAt = &now
	if err := r.store.UpdateRun(ctx, run); err != nil {
		return err
	}

	// Settle any pending replay before capturing: capture pushes a new
	// entry for this failure, and resolution must land on the entry the
	// replay was requested from.
	if err := r.sink.ResolveWorkflowReplay(ctx, run, false); err != nil {
		r.logger.Error("failed to resolve workflow replay", "run_id", run.ID, "error", err)
	}

	reason := fmt.Sprintf("step %q (index %d): %v", step.Name, run.StepIndex, cause)
	if err := r.sink.CaptureWorkflow(ctx, run, reason); err != nil {
		r.logger.Error("failed to capture workflow dead letter", "run_id", run.ID, "error", err)
	}

	r.publishRunEvent(ctx, run, event.EventWorkflowFailed, map[string]any{
		"step":  step.Name,
		"error": cause.Error(),
	})
	r.emitter.EmitWorkflowFailed(ctx, run, cause)

	r.logger.Warn("workflow failed terminally",
		"run_id", run.ID, "workflow", run.Name, "step", step.Name, "error", cause)
	return nil
}

// Resume restarts a blocked, partial, or failed run from its last
// durable checkpoint. Checkpointed steps are never re-executed; the
// interrupted step gets a fresh replay epoch so its command re-admits
// under a new idempotency key. Resuming a run that is already active is
// a no-op returning the current state, so duplicate resume requests are
// idempotent.
func (r *Router) Resume(ctx context.Context, runID id.RunID, actor string) (*Run, error) {
	unlock := r.lockRun(runID)
	defer unlock()

	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	switch run.Status {
	case StatusPending, StatusActive, StatusReplayActive:
		return run, nil
	case StatusCompleted:
		return nil, fmt.Errorf("workflow %s: run %s already completed", run.Name, run.ID)
	}

	def, ok := r.registry.Get(run.Name)
	if !ok {
		return nil, fmt.Errorf("no workflow registered for %q (run %s)", run.Name, run.ID)
	}

	if run.Status == StatusFailedTerminal {
		if err := run.Transition(StatusReplayActive); err != nil {
			return nil, err
		}
	}
	if err := run.Transition(StatusActive); err != nil {
		return nil, err
	}

	// The interrupted step re-executes under a fresh epoch. Restore the
	// step index from the last durable checkpoint, never beyond it.
	run.ReplayEpoch++
	run.Error = ""
	run.CompletedAt = nil
	cp, err := r.store.LatestCheckpoint(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	if cp != nil {
		run.StepIndex = cp.StepIndex + 1
	} else {
		run.StepIndex = 1
	}
	if actor != "" {
		run.TriggerActor = actor
	}
	run.Touch()

	if err := r.store.UpdateRun(ctx, run); err != nil {
		return nil, err
	}

	r.publishRunEvent(ctx, run, event.EventWorkflowResumed, map[string]any{
		"step_index":   run.StepIndex,
		"replay_epoch": run.ReplayEpoch,
	})
	r.emitter.EmitWorkflowResumed(ctx, run)

	r.logger.Info("workflow resumed",
		"run_id", run.ID, "workflow", run.Name, "step_index", run.StepIndex, "replay_epoch", run.ReplayEpoch)

	if err := r.admitStep(ctx, run, def); err != nil {
		return nil, err
	}
	return run, nil
}

// Recover re-admits the current step of every active run. Called at
// startup: step-scoped idempotency keys make re-admission safe, and a
// step that finished while the router was down is applied from its
// recorded outcome.
func (r *Router) Recover(ctx context.Context) error {
	runs, err := r.store.ListRuns(ctx, ListOpts{Status: StatusActive})
	if err != nil {
		return fmt.Errorf("list active workflow runs: %w", err)
	}

	// Runs are independent, so recovery fans out under a bounded group.
	// Per-run locks serialize against concurrent completions.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(recoverConcurrency)

	for _, run := range runs {
		def, ok := r.registry.Get(run.Name)
		if !ok {
			r.logger.Warn("active run references unregistered workflow",
				"run_id", run.ID, "workflow", run.Name)
			continue
		}

		g.Go(func() error {
			r.logger.Info("recovering workflow run", "run_id", run.ID, "workflow", run.Name)
			unlock := r.lockRun(run.ID)
			defer unlock()
			if err := r.admitStep(gctx, run, def); err != nil {
				r.logger.Error("failed to recover workflow run", "run_id", run.ID, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (r *Router) publishRunEvent(ctx context.Context, run *Run, evtType event.Type, payload map[string]any) {
	evt := &event.Event{
		Type:       evtType,
		EntityKind: event.EntityWorkflow,
		EntityID:   run.ID.String(),
		RunID:      run.ID,
		TraceID:    run.TraceID,
		Actor:      run.TriggerActor,
	}
	if err := r.publisher.Publish(ctx, evt, payload); err != nil {
		r.logger.Error("failed to publish workflow event",
			"type", evtType, "run_id", run.ID, "error", err)
	}
}
