package cron

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/conduct-dev/conduct/command"
	"github.com/conduct-dev/conduct/event"
	"github.com/conduct-dev/conduct/id"
)

// Admitter admits fired commands. Satisfied by the dispatcher.
type Admitter interface {
	Admit(ctx context.Context, draft command.Draft) (*command.Command, bool, error)
}

// Emitter emits cron lifecycle events.
// ext.Registry satisfies this interface via EmitCronFired.
type Emitter interface {
	EmitCronFired(ctx context.Context, entryName string, commandID id.CommandID)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
// Exported for use by engine.RegisterCron.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Scheduler fires cron entries on a tick loop. Firing is safe to run on
// every node concurrently: the admission key derived from the entry name
// and the scheduled instant makes each firing idempotent, so only one
// node's admission inserts a command.
type Scheduler struct {
	store     Store
	admitter  Admitter
	publisher *event.Publisher
	emitter   Emitter
	logger    *slog.Logger

	tickInterval time.Duration

	// parsedSchedules caches parsed cron expressions.
	parsedMu sync.RWMutex
	parsed   map[string]cronlib.Schedule

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler. The emitter may be nil.
func NewScheduler(
	store Store,
	admitter Admitter,
	publisher *event.Publisher,
	emitter Emitter,
	logger *slog.Logger,
	opts ...SchedulerOption,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		store:        store,
		admitter:     admitter,
		publisher:    publisher,
		emitter:      emitter,
		logger:       logger.With("component", "cron"),
		tickInterval: 1 * time.Second,
		parsed:       make(map[string]cronlib.Schedule),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the cron tick goroutine.
func (s *Scheduler) Start(_ context.Context) error {
	s.wg.Add(1)
	go s.tickLoop()
	s.logger.Info("cron scheduler started",
		slog.Duration("tick_interval", s.tickInterval),
	)
	return nil
}

// Stop signals the scheduler to stop and waits for the tick loop to finish.
func (s *Scheduler) Stop(_ context.Context) error {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
	return nil
}

// tickLoop fires on each tick interval and processes due cron entries.
func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	ctx := context.Background()

	entries, err := s.store.ListCrons(ctx)
	if err != nil {
		s.logger.Error("list crons error", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, entry := range entries {
		if !entry.Enabled {
			continue
		}
		if entry.NextRunAt == nil || entry.NextRunAt.After(now) {
			continue
		}
		s.fireEntry(ctx, entry, now)
	}
}

// fireEntry admits the entry's command for the scheduled instant. The
// idempotency key uses NextRunAt rather than wall-clock now so two nodes
// firing the same tick derive the same key.
func (s *Scheduler) fireEntry(ctx context.Context, entry *Entry, now time.Time) {
	scheduledAt := entry.NextRunAt.UTC()

	cmd, created, admitErr := s.admitter.Admit(ctx, command.Draft{
		Type:           entry.CommandType,
		Payload:        entry.Payload,
		IdempotencyKey: command.CronKey(entry.Name, scheduledAt),
		Profile:        entry.Profile,
		Queue:          entry.Queue,
		Actor:          "cron:" + entry.Name,
	})
	if admitErr != nil {
		s.logger.Error("cron admit error",
			slog.String("cron_name", entry.Name),
			slog.String("command_type", entry.CommandType),
			slog.String("error", admitErr.Error()),
		)
		return
	}

	// Advance NextRunAt past the fired instant even on a dedup, otherwise
	// the loser node would re-fire the same tick forever.
	if updateErr := s.store.UpdateCronLastRun(ctx, entry.ID, now); updateErr != nil {
		s.logger.Error("update cron last run error",
			slog.String("cron_id", entry.ID.String()),
			slog.String("error", updateErr.Error()),
		)
	}

	sched, parseErr := s.getOrParseSchedule(entry.Schedule)
	if parseErr != nil {
		s.logger.Error("parse cron schedule error",
			slog.String("cron_name", entry.Name),
			slog.String("schedule", entry.Schedule),
			slog.String("error", parseErr.Error()),
		)
	} else {
		next := sched.Next(now)
		entry.NextRunAt = &next
		if updateErr := s.store.UpdateCronEntry(ctx, entry); updateErr != nil {
			s.logger.Error("update cron next run error",
				slog.String("cron_id", entry.ID.String()),
				slog.String("error", updateErr.Error()),
			)
		}
	}

	if !created {
		s.logger.Debug("cron firing deduplicated",
			slog.String("cron_name", entry.Name),
			slog.Time("scheduled_at", scheduledAt),
		)
		return
	}

	s.publishFired(ctx, entry, cmd, scheduledAt)
	if s.emitter != nil {
		s.emitter.EmitCronFired(ctx, entry.Name, cmd.ID)
	}

	s.logger.Info("cron fired",
		slog.String("cron_name", entry.Name),
		slog.String("command_type", entry.CommandType),
		slog.String("command_id", cmd.ID.String()),
	)
}

func (s *Scheduler) publishFired(ctx context.Context, entry *Entry, cmd *command.Command, scheduledAt time.Time) {
	evt := &event.Event{
		Type:       event.EventCronFired,
		EntityKind: event.EntityCron,
		EntityID:   entry.ID.String(),
		TraceID:    cmd.TraceID,
	}
	payload := map[string]any{
		"name":         entry.Name,
		"command_id":   cmd.ID.String(),
		"command_type": entry.CommandType,
		"scheduled_at": scheduledAt,
	}
	if err := s.publisher.Publish(ctx, evt, payload); err != nil {
		s.logger.Error("failed to publish cron event",
			slog.String("cron_name", entry.Name),
			slog.String("error", err.Error()),
		)
	}
}

// getOrParseSchedule caches parsed cron expressions.
func (s *Scheduler) getOrParseSchedule(expr string) (cronlib.Schedule, error) {
	s.parsedMu.RLock()
	sched, ok := s.parsed[expr]
	s.parsedMu.RUnlock()
	if ok {
		return sched, nil
	}

	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}

	s.parsedMu.Lock()
	s.parsed[expr] = sched
	s.parsedMu.Unlock()
	return sched, nil
}
