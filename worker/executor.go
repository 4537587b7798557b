// Package worker provides the command execution engine. An Executor runs
// one claimed command through middleware and the registered handler, then
// applies the policy decision: success, retry with backoff, or terminal
// failure and dead-letter capture. A Pool manages concurrent worker
// goroutines that poll for eligible commands, heartbeat their leases, and
// reclaim commands from crashed workers.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/conduct-dev/conduct/command"
	"github.com/conduct-dev/conduct/contract"
	"github.com/conduct-dev/conduct/dlq"
	"github.com/conduct-dev/conduct/event"
	"github.com/conduct-dev/conduct/id"
	"github.com/conduct-dev/conduct/middleware"
	"github.com/conduct-dev/conduct/policy"
)

// Hooks receives command lifecycle notifications. Satisfied by
// ext.Registry.
type Hooks interface {
	EmitCommandStarted(ctx context.Context, c *command.Command, attempt int)
	EmitCommandSucceeded(ctx context.Context, c *command.Command, elapsed time.Duration)
	EmitCommandRetrying(ctx context.Context, c *command.Command, attempt int, nextRunAt time.Time)
	EmitCommandDeadLettered(ctx context.Context, c *command.Command, cmdErr error)
}

// DeadLetters captures terminal failures and resolves replay outcomes.
// Satisfied by *dlq.Service.
type DeadLetters interface {
	CaptureCommand(ctx context.Context, c *command.Command, cause error) (*dlq.Entry, error)
	ResolveReplay(ctx context.Context, c *command.Command, success bool) error
}

// StepCallback receives terminal outcomes for commands admitted as
// workflow steps. Satisfied by workflow.Router.
type StepCallback interface {
	OnStepSucceeded(ctx context.Context, c *command.Command, res command.Result) error
	OnStepDeadLettered(ctx context.Context, c *command.Command, cmdErr error) error
}

// Executor runs a single command through middleware and the registered
// handler, then handles attempt accounting, retry scheduling, dead-letter
// capture, state updates, and lifecycle events.
type Executor struct {
	registry    *command.Registry
	store       command.Store
	deadLetters DeadLetters
	publisher   *event.Publisher
	hooks       Hooks
	steps       StepCallback
	mw          middleware.Middleware
	logger      *slog.Logger
}

// NewExecutor creates an Executor. DeadLetters, hooks, and the step
// callback may be nil.
func NewExecutor(
	registry *command.Registry,
	store command.Store,
	deadLetters DeadLetters,
	publisher *event.Publisher,
	hooks Hooks,
	steps StepCallback,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry:    registry,
		store:       store,
		deadLetters: deadLetters,
		publisher:   publisher,
		hooks:       hooks,
		steps:       steps,
		mw:          middleware.Chain(mws...),
		logger:      logger,
	}
}

// Execute runs a claimed command through the middleware chain and handler.
// The command must be in running status under the given worker's lease.
//
// On success the command transitions to succeeded. On failure the error is
// classified and the policy profile decides between retry_scheduled with a
// jittered backoff delay and failed_terminal followed by dead-letter
// capture. Exactly one attempt record is opened and closed per call.
func (e *Executor) Execute(ctx context.Context, c *command.Command) error {
	attempt, err := e.store.OpenAttempt(ctx, c.ID, c.WorkerID)
	if err != nil {
		return fmt.Errorf("open attempt for %s: %w", c.ID, err)
	}
	c.AttemptCount = attempt.Number

	e.publishCommandEvent(ctx, event.EventCommandStarted, c, map[string]any{
		"attempt": attempt.Number,
	})
	if e.hooks != nil {
		e.hooks.EmitCommandStarted(ctx, c, attempt.Number)
	}

	start := time.Now()
	res, handlerErr := e.invoke(ctx, c)
	elapsed := time.Since(start)

	now := time.Now().UTC()
	attempt.CompletedAt = &now
	attempt.Duration = elapsed
	attempt.Summary = res.Summary
	attempt.Output = res.Output
	attempt.Ambiguous = res.Ambiguous
	attempt.Usage = res.Usage
	if handlerErr != nil {
		attempt.ErrorClass = string(contract.Classify(handlerErr))
		attempt.ErrorMsg = handlerErr.Error()
	}
	if closeErr := e.store.CloseAttempt(ctx, attempt); closeErr != nil {
		e.logger.Error("failed to close attempt",
			slog.String("command_id", c.ID.String()),
			slog.Int("attempt", attempt.Number),
			slog.String("error", closeErr.Error()),
		)
		return closeErr
	}

	if handlerErr != nil {
		return e.handleFailure(ctx, c, handlerErr, now)
	}
	return e.handleSuccess(ctx, c, res, now, elapsed)
}

// invoke runs the registered handler through the middleware chain. A
// command type with no handler on this worker is a validation failure,
// which the policy tables never retry.
func (e *Executor) invoke(ctx context.Context, c *command.Command) (command.Result, error) {
	handler, ok := e.registry.Get(c.Type)
	if !ok {
		return command.Result{}, contract.Errorf(contract.ClassValidation,
			"no handler registered for command type %q", c.Type)
	}

	var res command.Result
	terminal := func(ctx context.Context) error {
		var err error
		res, err = handler(ctx, c.Payload)
		return err
	}

	err := e.mw(ctx, c, terminal)
	return res, err
}

// handleSuccess marks the command succeeded and notifies consumers.
func (e *Executor) handleSuccess(ctx context.Context, c *command.Command, res command.Result, now time.Time, elapsed time.Duration) error {
	if err := c.Transition(command.StatusSucceeded); err != nil {
		return err
	}
	c.CompletedAt = &now
	c.WorkerID = id.WorkerID{}
	c.HeartbeatAt = nil

	if updateErr := e.store.UpdateCommand(ctx, c); updateErr != nil {
		e.logger.Error("failed to update command after success",
			slog.String("command_id", c.ID.String()),
			slog.String("command_type", c.Type),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.publishCommandEvent(ctx, event.EventCommandSucceeded, c, map[string]any{
		"attempt":   c.AttemptCount,
		"ambiguous": res.Ambiguous,
	})
	if e.hooks != nil {
		e.hooks.EmitCommandSucceeded(ctx, c, elapsed)
	}

	e.notifyReplay(ctx, c, true)
	if e.steps != nil && !c.RunID.IsNil() {
		if stepErr := e.steps.OnStepSucceeded(ctx, c, res); stepErr != nil {
			e.logger.Error("workflow step callback failed",
				slog.String("command_id", c.ID.String()),
				slog.String("run_id", c.RunID.String()),
				slog.String("error", stepErr.Error()),
			)
		}
	}
	return nil
}

// handleFailure classifies the error and applies the policy decision.
func (e *Executor) handleFailure(ctx context.Context, c *command.Command, handlerErr error, now time.Time) error {
	class := contract.Classify(handlerErr)
	c.LastErrorClass = string(class)
	c.LastErrorMsg = handlerErr.Error()

	prof, profErr := policy.Lookup(c.Profile)
	if profErr != nil {
		prof = policy.Default()
	}

	decision := policy.Decide(prof, class, c.AttemptCount, c.MaxAttempts)
	if decision.Action == policy.ActionRetry {
		return e.scheduleRetry(ctx, c, decision, now, handlerErr)
	}
	return e.deadLetter(ctx, c, decision, now, handlerErr)
}

// scheduleRetry parks the command in retry_scheduled until its backoff
// elapses.
func (e *Executor) scheduleRetry(ctx context.Context, c *command.Command, decision policy.Decision, now time.Time, handlerErr error) error {
	if err := c.Transition(command.StatusRetryScheduled); err != nil {
		return err
	}
	nextRunAt := now.Add(decision.Delay)
	c.RunAt = nextRunAt
	c.WorkerID = id.WorkerID{}
	c.HeartbeatAt = nil

	if updateErr := e.store.UpdateCommand(ctx, c); updateErr != nil {
		e.logger.Error("failed to update command for retry",
			slog.String("command_id", c.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.publishCommandEvent(ctx, event.EventCommandRetried, c, map[string]any{
		"attempt":     c.AttemptCount,
		"error_class": c.LastErrorClass,
		"next_run_at": nextRunAt,
	})
	if e.hooks != nil {
		e.hooks.EmitCommandRetrying(ctx, c, c.AttemptCount, nextRunAt)
	}

	e.logger.Info("command scheduled for retry",
		slog.String("command_id", c.ID.String()),
		slog.String("command_type", c.Type),
		slog.Int("attempt", c.AttemptCount),
		slog.Int("max_attempts", c.MaxAttempts),
		slog.String("error_class", c.LastErrorClass),
		slog.Duration("delay", decision.Delay),
	)

	return fmt.Errorf("command %s attempt %d/%d: %w", c.Type, c.AttemptCount, c.MaxAttempts, handlerErr)
}

// deadLetter marks the command failed_terminal, captures it in the
// dead-letter store, and moves it to dead_lettered.
func (e *Executor) deadLetter(ctx context.Context, c *command.Command, decision policy.Decision, now time.Time, handlerErr error) error {
	if err := c.Transition(command.StatusFailedTerminal); err != nil {
		return err
	}
	c.CompletedAt = &now
	c.WorkerID = id.WorkerID{}
	c.HeartbeatAt = nil

	if updateErr := e.store.UpdateCommand(ctx, c); updateErr != nil {
		e.logger.Error("failed to update command as failed",
			slog.String("command_id", c.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	if e.deadLetters != nil {
		// The entry's reason carries the policy decision, not just the
		// raw handler error, so listings show why the command landed here.
		cause := fmt.Errorf("%s: %w", decision.Reason, handlerErr)
		if _, dlqErr := e.deadLetters.CaptureCommand(ctx, c, cause); dlqErr != nil {
			e.logger.Error("failed to capture dead letter",
				slog.String("command_id", c.ID.String()),
				slog.String("error", dlqErr.Error()),
			)
		} else if trErr := c.Transition(command.StatusDeadLettered); trErr == nil {
			if updateErr := e.store.UpdateCommand(ctx, c); updateErr != nil {
				e.logger.Error("failed to mark command dead-lettered",
					slog.String("command_id", c.ID.String()),
					slog.String("error", updateErr.Error()),
				)
			}
		}
	}

	e.publishCommandEvent(ctx, event.EventCommandDeadLettered, c, map[string]any{
		"attempt":     c.AttemptCount,
		"error_class": c.LastErrorClass,
		"reason":      decision.Reason,
	})
	if e.hooks != nil {
		e.hooks.EmitCommandDeadLettered(ctx, c, handlerErr)
	}

	e.logger.Warn("command dead-lettered",
		slog.String("command_id", c.ID.String()),
		slog.String("command_type", c.Type),
		slog.Int("attempt_count", c.AttemptCount),
		slog.String("error_class", c.LastErrorClass),
		slog.String("reason", decision.Reason),
	)

	e.notifyReplay(ctx, c, false)
	if e.steps != nil && !c.RunID.IsNil() {
		if stepErr := e.steps.OnStepDeadLettered(ctx, c, handlerErr); stepErr != nil {
			e.logger.Error("workflow step callback failed",
				slog.String("command_id", c.ID.String()),
				slog.String("run_id", c.RunID.String()),
				slog.String("error", stepErr.Error()),
			)
		}
	}

	return handlerErr
}

// notifyReplay resolves the dead-letter replay bookkeeping when a
// replayed command reaches a terminal state.
func (e *Executor) notifyReplay(ctx context.Context, c *command.Command, success bool) {
	if e.deadLetters == nil {
		return
	}
	if err := e.deadLetters.ResolveReplay(ctx, c, success); err != nil {
		e.logger.Error("failed to resolve replay outcome",
			slog.String("command_id", c.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Executor) publishCommandEvent(ctx context.Context, typ event.Type, c *command.Command, payload map[string]any) {
	evt := &event.Event{
		Type:       typ,
		EntityKind: event.EntityCommand,
		EntityID:   c.ID.String(),
		RunID:      c.RunID,
		TraceID:    c.TraceID,
		Actor:      c.Actor,
	}
	if err := e.publisher.Publish(ctx, evt, payload); err != nil {
		e.logger.Error("failed to publish command event",
			slog.String("type", string(typ)),
			slog.String("command_id", c.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}
