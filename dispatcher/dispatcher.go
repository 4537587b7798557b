package dispatcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/conduct-dev/conduct"
	"github.com/conduct-dev/conduct/command"
	"github.com/conduct-dev/conduct/contract"
	"github.com/conduct-dev/conduct/event"
	"github.com/conduct-dev/conduct/id"
	"github.com/conduct-dev/conduct/policy"
)

// Hooks receives admission notifications. Satisfied by ext.Registry.
type Hooks interface {
	EmitCommandAdmitted(ctx context.Context, c *command.Command)
}

// Dispatcher validates and persists commands. It owns the schema
// registry: schemas attached to definitions are compiled at registration
// time so admission never compiles.
type Dispatcher struct {
	registry  *command.Registry
	schemas   *contract.SchemaRegistry
	store     command.Store
	publisher *event.Publisher
	hooks     Hooks
	logger    *slog.Logger
}

// NewDispatcher creates a dispatcher. Hooks may be nil.
func NewDispatcher(registry *command.Registry, store command.Store, publisher *event.Publisher, hooks Hooks, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry:  registry,
		schemas:   contract.NewSchemaRegistry(),
		store:     store,
		publisher: publisher,
		hooks:     hooks,
		logger:    logger.With("component", "dispatcher"),
	}
}

// Register registers a typed command definition with the dispatcher,
// compiling its payload schema if one is attached.
func Register[T any](d *Dispatcher, def *command.Definition[T]) error {
	command.RegisterDefinition(d.registry, def)
	if len(def.Opts.Schema) > 0 {
		if err := d.schemas.Register(def.Type, def.Opts.Schema); err != nil {
			return err
		}
	}
	return nil
}

// RegisterRaw registers a type-erased handler with the dispatcher,
// compiling its payload schema if one is attached.
func (d *Dispatcher) RegisterRaw(commandType string, handler command.HandlerFunc, opts ...command.Option) error {
	d.registry.Register(commandType, handler, opts...)
	if o, ok := d.registry.Opts(commandType); ok && len(o.Schema) > 0 {
		return d.schemas.Register(commandType, o.Schema)
	}
	return nil
}

// Registry returns the command registry.
func (d *Dispatcher) Registry() *command.Registry { return d.registry }

// Admit validates a draft and persists it as a queued command. It returns
// the stored command and whether this call inserted it: a draft whose
// idempotency key matches an existing command returns that command with
// created=false and causes no side effects.
//
// Validation failures (unknown type, unknown profile, schema violation)
// reject the draft synchronously; nothing is persisted and no attempt is
// ever recorded for it.
func (d *Dispatcher) Admit(ctx context.Context, draft command.Draft) (*command.Command, bool, error) {
	opts, ok := d.registry.Opts(draft.Type)
	if !ok {
		return nil, false, fmt.Errorf("%w: %q", conduct.ErrUnknownCommandType, draft.Type)
	}

	if err := d.schemas.Validate(draft.Type, draft.Payload); err != nil {
		return nil, false, err
	}

	profileName := opts.Profile
	if draft.Profile != "" {
		profileName = draft.Profile
	}
	prof, err := policy.Lookup(profileName)
	if err != nil {
		return nil, false, err
	}

	maxAttempts := prof.MaxAttempts
	if opts.MaxAttempts > 0 {
		maxAttempts = opts.MaxAttempts
	}
	if draft.MaxAttempts > 0 {
		maxAttempts = draft.MaxAttempts
	}

	timeout := prof.TimeoutBudget
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	queue := opts.Queue
	if draft.Queue != "" {
		queue = draft.Queue
	}
	priority := opts.Priority
	if draft.Priority != 0 {
		priority = draft.Priority
	}

	key := draft.IdempotencyKey
	if key == "" {
		key = deriveKey(draft.Type, draft.Payload)
	}

	now := time.Now().UTC()
	runAt := draft.RunAt
	if runAt.IsZero() {
		runAt = now
	}

	commandID := draft.ID
	if commandID.IsNil() {
		commandID = id.NewCommandID()
	}

	c := &command.Command{
		Entity:         conduct.NewEntity(),
		ID:             commandID,
		Type:           draft.Type,
		Queue:          queue,
		Payload:        draft.Payload,
		Status:         command.StatusQueued,
		Profile:        profileName,
		Priority:       priority,
		IdempotencyKey: key,
		RunID:          draft.RunID,
		StepIndex:      draft.StepIndex,
		MaxAttempts:    maxAttempts,
		Actor:          draft.Actor,
		TraceID:        draft.TraceID,
		RunAt:          runAt,
		Timeout:        timeout,
	}

	stored, created, err := d.store.CreateCommand(ctx, c)
	if err != nil {
		return nil, false, err
	}
	if !created {
		d.logger.Debug("admission deduplicated",
			"type", draft.Type, "idempotency_key", key, "command_id", stored.ID)
		return stored, false, nil
	}

	d.publishAdmitted(ctx, stored)
	if d.hooks != nil {
		d.hooks.EmitCommandAdmitted(ctx, stored)
	}

	d.logger.Info("command admitted",
		"command_id", stored.ID, "type", stored.Type, "queue", stored.Queue,
		"profile", stored.Profile, "actor", stored.Actor)
	return stored, true, nil
}

// ListAttempts returns a command's attempts ordered by number. The
// workflow router uses this to reconstruct a step result during crash
// recovery.
func (d *Dispatcher) ListAttempts(ctx context.Context, commandID id.CommandID) ([]*command.Attempt, error) {
	return d.store.ListAttempts(ctx, commandID)
}

// GetCommand retrieves a command by ID.
func (d *Dispatcher) GetCommand(ctx context.Context, commandID id.CommandID) (*command.Command, error) {
	return d.store.GetCommand(ctx, commandID)
}

func (d *Dispatcher) publishAdmitted(ctx context.Context, c *command.Command) {
	evt := &event.Event{
		Type:       event.EventCommandCreated,
		EntityKind: event.EntityCommand,
		EntityID:   c.ID.String(),
		RunID:      c.RunID,
		TraceID:    c.TraceID,
		Actor:      c.Actor,
	}
	payload := map[string]any{
		"type":    c.Type,
		"queue":   c.Queue,
		"profile": c.Profile,
	}
	if err := d.publisher.Publish(ctx, evt, payload); err != nil {
		d.logger.Error("failed to publish admission event",
			"command_id", c.ID, "error", err)
	}
}

// deriveKey produces a deterministic idempotency key for drafts that do
// not carry one, so accidental double submission of the same type and
// payload still collapses to one command.
func deriveKey(commandType string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(commandType))
	h.Write([]byte{0})
	h.Write(payload)
	return "auto:" + hex.EncodeToString(h.Sum(nil)[:16])
}
