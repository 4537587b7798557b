package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/conduct-dev/conduct/command"
	"github.com/conduct-dev/conduct/id"
	"github.com/conduct-dev/conduct/workflow"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type commandAdmittedEntry struct {
	name string
	hook CommandAdmitted
}

type commandStartedEntry struct {
	name string
	hook CommandStarted
}

type commandSucceededEntry struct {
	name string
	hook CommandSucceeded
}

type commandRetryingEntry struct {
	name string
	hook CommandRetrying
}

type commandDeadLetteredEntry struct {
	name string
	hook CommandDeadLettered
}

type replayRequestedEntry struct {
	name string
	hook ReplayRequested
}

type workflowStartedEntry struct {
	name string
	hook WorkflowStarted
}

type workflowStepChangedEntry struct {
	name string
	hook WorkflowStepChanged
}

type workflowBlockedEntry struct {
	name string
	hook WorkflowBlocked
}

type workflowCompletedEntry struct {
	name string
	hook WorkflowCompleted
}

type workflowFailedEntry struct {
	name string
	hook WorkflowFailed
}

type workflowResumedEntry struct {
	name string
	hook WorkflowResumed
}

type cronFiredEntry struct {
	name string
	hook CronFired
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	commandAdmitted     []commandAdmittedEntry
	commandStarted      []commandStartedEntry
	commandSucceeded    []commandSucceededEntry
	commandRetrying     []commandRetryingEntry
	commandDeadLettered []commandDeadLetteredEntry
	replayRequested     []replayRequestedEntry
	workflowStarted     []workflowStartedEntry
	workflowStepChanged []workflowStepChangedEntry
	workflowBlocked     []workflowBlockedEntry
	workflowCompleted   []workflowCompletedEntry
	workflowFailed      []workflowFailedEntry
	workflowResumed     []workflowResumedEntry
	cronFired           []cronFiredEntry
	shutdown            []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(CommandAdmitted); ok {
		r.commandAdmitted = append(r.commandAdmitted, commandAdmittedEntry{name, h})
	}
	if h, ok := e.(CommandStarted); ok {
		r.commandStarted = append(r.commandStarted, commandStartedEntry{name, h})
	}
	if h, ok := e.(CommandSucceeded); ok {
		r.commandSucceeded = append(r.commandSucceeded, commandSucceededEntry{name, h})
	}
	if h, ok := e.(CommandRetrying); ok {
		r.commandRetrying = append(r.commandRetrying, commandRetryingEntry{name, h})
	}
	if h, ok := e.(CommandDeadLettered); ok {
		r.commandDeadLettered = append(r.commandDeadLettered, commandDeadLetteredEntry{name, h})
	}
	if h, ok := e.(ReplayRequested); ok {
		r.replayRequested = append(r.replayRequested, replayRequestedEntry{name, h})
	}
	if h, ok := e.(WorkflowStarted); ok {
		r.workflowStarted = append(r.workflowStarted, workflowStartedEntry{name, h})
	}
	if h, ok := e.(WorkflowStepChanged); ok {
		r.workflowStepChanged = append(r.workflowStepChanged, workflowStepChangedEntry{name, h})
	}
	if h, ok := e.(WorkflowBlocked); ok {
		r.workflowBlocked = append(r.workflowBlocked, workflowBlockedEntry{name, h})
	}
	if h, ok := e.(WorkflowCompleted); ok {
		r.workflowCompleted = append(r.workflowCompleted, workflowCompletedEntry{name, h})
	}
	if h, ok := e.(WorkflowFailed); ok {
		r.workflowFailed = append(r.workflowFailed, workflowFailedEntry{name, h})
	}
	if h, ok := e.(WorkflowResumed); ok {
		r.workflowResumed = append(r.workflowResumed, workflowResumedEntry{name, h})
	}
	if h, ok := e.(CronFired); ok {
		r.cronFired = append(r.cronFired, cronFiredEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Command event emitters
// ──────────────────────────────────────────────────

// EmitCommandAdmitted notifies all extensions that implement CommandAdmitted.
func (r *Registry) EmitCommandAdmitted(ctx context.Context, c *command.Command) {
	for _, e := range r.commandAdmitted {
		if err := e.hook.OnCommandAdmitted(ctx, c); err != nil {
			r.logHookError("OnCommandAdmitted", e.name, err)
		}
	}
}

// EmitCommandStarted notifies all extensions that implement CommandStarted.
func (r *Registry) EmitCommandStarted(ctx context.Context, c *command.Command, attempt int) {
	for _, e := range r.commandStarted {
		if err := e.hook.OnCommandStarted(ctx, c, attempt); err != nil {
			r.logHookError("OnCommandStarted", e.name, err)
		}
	}
}

// EmitCommandSucceeded notifies all extensions that implement CommandSucceeded.
func (r *Registry) EmitCommandSucceeded(ctx context.Context, c *command.Command, elapsed time.Duration) {
	for _, e := range r.commandSucceeded {
		if err := e.hook.OnCommandSucceeded(ctx, c, elapsed); err != nil {
			r.logHookError("OnCommandSucceeded", e.name, err)
		}
	}
}

// EmitCommandRetrying notifies all extensions that implement CommandRetrying.
func (r *Registry) EmitCommandRetrying(ctx context.Context, c *command.Command, attempt int, nextRunAt time.Time) {
	for _, e := range r.commandRetrying {
		if err := e.hook.OnCommandRetrying(ctx, c, attempt, nextRunAt); err != nil {
			r.logHookError("OnCommandRetrying", e.name, err)
		}
	}
}

// EmitCommandDeadLettered notifies all extensions that implement CommandDeadLettered.
func (r *Registry) EmitCommandDeadLettered(ctx context.Context, c *command.Command, cmdErr error) {
	for _, e := range r.commandDeadLettered {
		if err := e.hook.OnCommandDeadLettered(ctx, c, cmdErr); err != nil {
			r.logHookError("OnCommandDeadLettered", e.name, err)
		}
	}
}

// EmitReplayRequested notifies all extensions that implement ReplayRequested.
func (r *Registry) EmitReplayRequested(ctx context.Context, deadLetterID id.DeadLetterID, commandID id.CommandID) {
	for _, e := range r.replayRequested {
		if err := e.hook.OnReplayRequested(ctx, deadLetterID, commandID); err != nil {
			r.logHookError("OnReplayRequested", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Workflow event emitters
// ──────────────────────────────────────────────────

// EmitWorkflowStarted notifies all extensions that implement WorkflowStarted.
func (r *Registry) EmitWorkflowStarted(ctx context.Context, run *workflow.Run) {
	for _, e := range r.workflowStarted {
		if err := e.hook.OnWorkflowStarted(ctx, run); err != nil {
			r.logHookError("OnWorkflowStarted", e.name, err)
		}
	}
}

// EmitWorkflowStepChanged notifies all extensions that implement WorkflowStepChanged.
func (r *Registry) EmitWorkflowStepChanged(ctx context.Context, run *workflow.Run, stepName string, elapsed time.Duration) {
	for _, e := range r.workflowStepChanged {
		if err := e.hook.OnWorkflowStepChanged(ctx, run, stepName, elapsed); err != nil {
			r.logHookError("OnWorkflowStepChanged", e.name, err)
		}
	}
}

// EmitWorkflowBlocked notifies all extensions that implement WorkflowBlocked.
func (r *Registry) EmitWorkflowBlocked(ctx context.Context, run *workflow.Run, stepName string) {
	for _, e := range r.workflowBlocked {
		if err := e.hook.OnWorkflowBlocked(ctx, run, stepName); err != nil {
			r.logHookError("OnWorkflowBlocked", e.name, err)
		}
	}
}

// EmitWorkflowCompleted notifies all extensions that implement WorkflowCompleted.
func (r *Registry) EmitWorkflowCompleted(ctx context.Context, run *workflow.Run, elapsed time.Duration) {
	for _, e := range r.workflowCompleted {
		if err := e.hook.OnWorkflowCompleted(ctx, run, elapsed); err != nil {
			r.logHookError("OnWorkflowCompleted", e.name, err)
		}
	}
}

// EmitWorkflowFailed notifies all extensions that implement WorkflowFailed.
func (r *Registry) EmitWorkflowFailed(ctx context.Context, run *workflow.Run, runErr error) {
	for _, e := range r.workflowFailed {
		if err := e.hook.OnWorkflowFailed(ctx, run, runErr); err != nil {
			r.logHookError("OnWorkflowFailed", e.name, err)
		}
	}
}

// EmitWorkflowResumed notifies all extensions that implement WorkflowResumed.
func (r *Registry) EmitWorkflowResumed(ctx context.Context, run *workflow.Run) {
	for _, e := range r.workflowResumed {
		if err := e.hook.OnWorkflowResumed(ctx, run); err != nil {
			r.logHookError("OnWorkflowResumed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitCronFired notifies all extensions that implement CronFired.
func (r *Registry) EmitCronFired(ctx context.Context, entryName string, commandID id.CommandID) {
	for _, e := range r.cronFired {
		if err := e.hook.OnCronFired(ctx, entryName, commandID); err != nil {
			r.logHookError("OnCronFired", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block the pipeline.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
