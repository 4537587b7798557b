package dlq

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/conduct-dev/conduct/command"
	"github.com/conduct-dev/conduct/event"
	"github.com/conduct-dev/conduct/id"
	"github.com/conduct-dev/conduct/workflow"
)

// Admitter re-admits replayed commands. Satisfied by the dispatcher.
type Admitter interface {
	Admit(ctx context.Context, draft command.Draft) (*command.Command, bool, error)
}

// WorkflowResumer resumes a failed run for a workflow replay. Satisfied
// by the workflow router.
type WorkflowResumer interface {
	Resume(ctx context.Context, runID id.RunID, actor string) (*workflow.Run, error)
}

// Hooks receives replay lifecycle notifications. Satisfied by
// ext.Registry.
type Hooks interface {
	EmitReplayRequested(ctx context.Context, deadLetterID id.DeadLetterID, commandID id.CommandID)
}

// Service provides dead-letter capture and replay over a Store.
type Service struct {
	store     Store
	commands  command.Store
	admitter  Admitter
	resumer   WorkflowResumer
	publisher *event.Publisher
	hooks     Hooks
	logger    *slog.Logger
}

// NewService creates a dead-letter service. The resumer and hooks may be
// nil; workflow replay and hook emission are then disabled.
func NewService(store Store, commands command.Store, admitter Admitter, resumer WorkflowResumer, publisher *event.Publisher, hooks Hooks, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		commands:  commands,
		admitter:  admitter,
		resumer:   resumer,
		publisher: publisher,
		hooks:     hooks,
		logger:    logger.With("component", "dlq"),
	}
}

// SetResumer wires in the workflow resumer after construction. The
// router needs the service as its dead-letter sink and the service
// needs the router for workflow replay, so one side is set late.
func (s *Service) SetResumer(r WorkflowResumer) { s.resumer = r }

// Store returns the underlying store for direct list/get/count access.
func (s *Service) Store() Store { return s.store }

// CaptureCommand builds an entry from a terminally-failed command and
// persists it. The captured state is the full command record at failure
// time.
func (s *Service) CaptureCommand(ctx context.Context, c *command.Command, cause error) (*Entry, error) {
	state, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	entry := &Entry{
		ID:            id.NewDeadLetterID(),
		SourceType:    SourceCommand,
		SourceID:      c.ID.String(),
		CommandType:   c.Type,
		Queue:         c.Queue,
		Reason:        cause.Error(),
		ErrorClass:    c.LastErrorClass,
		CapturedState: state,
		TraceID:       c.TraceID,
		ReplayStatus:  ReplayNone,
		FailedAt:      now,
		CreatedAt:     now,
	}
	if err := s.store.PushDeadLetter(ctx, entry); err != nil {
		return nil, err
	}

	s.logger.Warn("command dead-lettered",
		"entry_id", entry.ID, "command_id", c.ID, "type", c.Type, "reason", entry.Reason)
	return entry, nil
}

// CaptureWorkflow builds an entry from a terminally-failed run and
// persists it. Implements workflow.DeadLetterSink.
func (s *Service) CaptureWorkflow(ctx context.Context, run *workflow.Run, reason string) error {
	state, err := json.Marshal(run)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	entry := &Entry{
		ID:            id.NewDeadLetterID(),
		SourceType:    SourceWorkflow,
		SourceID:      run.ID.String(),
		WorkflowName:  run.Name,
		Reason:        reason,
		CapturedState: state,
		TraceID:       run.TraceID,
		ReplayStatus:  ReplayNone,
		FailedAt:      now,
		CreatedAt:     now,
	}
	if err := s.store.PushDeadLetter(ctx, entry); err != nil {
		return err
	}

	s.logger.Warn("workflow dead-lettered",
		"entry_id", entry.ID, "run_id", run.ID, "workflow", run.Name, "reason", reason)
	return nil
}
