package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/conduct-dev/conduct"
	"github.com/conduct-dev/conduct/command"
	"github.com/conduct-dev/conduct/cron"
	"github.com/conduct-dev/conduct/dispatcher"
	"github.com/conduct-dev/conduct/dlq"
	"github.com/conduct-dev/conduct/event"
	"github.com/conduct-dev/conduct/ext"
	"github.com/conduct-dev/conduct/id"
	"github.com/conduct-dev/conduct/mem"
	mw "github.com/conduct-dev/conduct/middleware"
	"github.com/conduct-dev/conduct/observability"
	"github.com/conduct-dev/conduct/queue"
	"github.com/conduct-dev/conduct/stream"
	"github.com/conduct-dev/conduct/worker"
	"github.com/conduct-dev/conduct/workflow"
)

// Engine wraps a Runtime with fully wired subsystem access.
// Use Build() to create one from a Runtime.
type Engine struct {
	rt         *conduct.Runtime
	extensions *ext.Registry
	registry   *command.Registry
	d          *dispatcher.Dispatcher
	dlqService *dlq.Service
	pool       *worker.Pool
	mws        []mw.Middleware
	logger     *slog.Logger

	// Event subsystem.
	publisher *event.Publisher
	broker    *stream.Broker

	// Workflow subsystem.
	wfRegistry *workflow.Registry
	router     *workflow.Router
	memory     *mem.Manager

	// Cron subsystem.
	cronStore cron.Store
	scheduler *cron.Scheduler

	// Queue subsystem.
	queueConfigs []queue.Config
	queueManager *queue.Manager

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the engine's chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithQueueConfig registers queue-level rate limiting and concurrency
// configurations. Queues not listed have no limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) {
		eng.queueConfigs = append(eng.queueConfigs, configs...)
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// When set, the tracing middleware uses this provider instead of the global one.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability extension
// use this provider instead of the global one.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Runtime.
// The Runtime's store must implement every subsystem store interface;
// the bundled backends (postgres, redis, memory) all do.
func Build(rt *conduct.Runtime, opts ...Option) (*Engine, error) {
	logger := rt.Logger()
	st := rt.Store()

	if st == nil {
		return nil, conduct.ErrNoStore
	}

	cs, ok := st.(command.Store)
	if !ok {
		return nil, fmt.Errorf("conduct: store does not implement command.Store")
	}
	ws, ok := st.(workflow.Store)
	if !ok {
		return nil, fmt.Errorf("conduct: store does not implement workflow.Store")
	}
	ms, ok := st.(mem.Store)
	if !ok {
		return nil, fmt.Errorf("conduct: store does not implement mem.Store")
	}
	crs, ok := st.(cron.Store)
	if !ok {
		return nil, fmt.Errorf("conduct: store does not implement cron.Store")
	}
	dls, ok := st.(dlq.Store)
	if !ok {
		return nil, fmt.Errorf("conduct: store does not implement dlq.Store")
	}
	es, ok := st.(event.Store)
	if !ok {
		return nil, fmt.Errorf("conduct: store does not implement event.Store")
	}

	eng := &Engine{
		rt:         rt,
		extensions: ext.NewRegistry(logger),
		registry:   command.NewRegistry(),
		logger:     logger,
	}

	for _, opt := range opts {
		opt(eng)
	}

	// Transition log and live stream. The broker receives every durably
	// appended event through the publisher's sink hook.
	eng.publisher = event.NewPublisher(es, logger)
	eng.broker = stream.NewBroker(logger)
	eng.publisher.AddSink(eng.broker.Sink())

	// Admission.
	eng.d = dispatcher.NewDispatcher(eng.registry, cs, eng.publisher, eng.extensions, logger)

	// Workflow subsystem. The dead-letter service and the router need
	// each other (sink one way, resumer the other), so the resumer side
	// is wired after both exist.
	eng.memory = mem.NewManager(ms, logger)
	eng.wfRegistry = workflow.NewRegistry()
	eng.dlqService = dlq.NewService(dls, cs, eng.d, nil, eng.publisher, eng.extensions, logger)
	eng.router = workflow.NewRouter(eng.wfRegistry, ws, eng.memory, eng.d, eng.publisher, eng.extensions, eng.dlqService, logger)
	eng.dlqService.SetResumer(eng.router)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/conduct-dev/conduct")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/conduct-dev/conduct")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/conduct-dev/conduct/observability")
		obsExt = observability.NewMetricsExtensionWithMeter(meter)
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Build default middleware stack: recover → tracing → metrics → logging → actor → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Actor(),
		mw.Timeout(logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	// Create executor and pool.
	config := rt.Config()
	executor := worker.NewExecutor(eng.registry, cs, eng.dlqService, eng.publisher, eng.extensions, eng.router, logger, allMws...)

	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(config.Concurrency),
		worker.WithPoolQueues(config.Queues),
		worker.WithPollInterval(config.PollInterval),
		worker.WithLease(config.LeaseDuration),
		worker.WithHeartbeatInterval(config.HeartbeatInterval),
		worker.WithReapInterval(config.ReclaimInterval),
	}

	// Create queue manager if queue configs were provided.
	if len(eng.queueConfigs) > 0 {
		eng.queueManager = queue.NewManager(eng.queueConfigs...)
		poolOpts = append(poolOpts, worker.WithQueueManager(eng.queueManager))
	}

	eng.pool = worker.NewPool(cs, executor, logger, poolOpts...)

	// Wire back into the Runtime.
	rt.SetPool(eng.pool)
	rt.SetExtensions(eng.extensions)

	// Create cron scheduler. Firing is idempotent across nodes, so the
	// scheduler runs everywhere without leader election.
	eng.cronStore = crs
	eng.scheduler = cron.NewScheduler(crs, eng.d, eng.publisher, eng.extensions, logger)

	return eng, nil
}

// Register registers a typed command definition with the engine.
func Register[T any](eng *Engine, def *command.Definition[T]) error {
	return dispatcher.Register(eng.d, def)
}

// RegisterRaw registers a type-erased command handler with the engine.
func (eng *Engine) RegisterRaw(commandType string, handler command.HandlerFunc, opts ...command.Option) error {
	return eng.d.RegisterRaw(commandType, handler, opts...)
}

// Admit validates and persists a command with a typed payload.
// Returns the stored command and whether this call inserted it.
func Admit[T any](ctx context.Context, eng *Engine, commandType string, payload T) (*command.Command, bool, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, false, fmt.Errorf("marshal payload for command %q: %w", commandType, err)
	}
	return eng.AdmitDraft(ctx, command.Draft{Type: commandType, Payload: data})
}

// AdmitDraft admits a command with full control over the draft fields.
func (eng *Engine) AdmitDraft(ctx context.Context, draft command.Draft) (*command.Command, bool, error) {
	return eng.d.Admit(ctx, draft)
}

// RegisterWorkflow registers a workflow definition with the engine.
func (eng *Engine) RegisterWorkflow(def *workflow.Definition) error {
	return eng.wfRegistry.Register(def)
}

// TriggerWorkflow starts a workflow run with a typed input.
func TriggerWorkflow[T any](ctx context.Context, eng *Engine, name string, input T, source, actor string) (*workflow.Run, error) {
	return workflow.Trigger(ctx, eng.router, name, input, source, actor)
}

// ResumeWorkflow resumes a blocked, partial, or failed run.
func (eng *Engine) ResumeWorkflow(ctx context.Context, runID id.RunID, actor string) (*workflow.Run, error) {
	return eng.router.Resume(ctx, runID, actor)
}

// ReplayDeadLetter re-admits a dead-lettered command or resumes a
// dead-lettered workflow run.
func (eng *Engine) ReplayDeadLetter(ctx context.Context, entryID id.DeadLetterID, actor string) (*command.Command, error) {
	return eng.dlqService.Replay(ctx, entryID, actor)
}

// RegisterCron registers a typed cron definition with the engine.
// It validates the schedule expression, computes the initial NextRunAt,
// and persists the entry. Re-registration of the same name is idempotent.
func RegisterCron[T any](ctx context.Context, eng *Engine, def *cron.Definition[T]) error {
	sched, err := cron.ParseSchedule(def.Schedule)
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", def.Schedule, err)
	}

	payload, err := json.Marshal(def.Payload)
	if err != nil {
		return fmt.Errorf("marshal cron payload: %w", err)
	}

	now := time.Now().UTC()
	next := sched.Next(now)

	entry := &cron.Entry{
		Entity:      conduct.NewEntity(),
		ID:          id.NewCronID(),
		Name:        def.Name,
		Schedule:    def.Schedule,
		CommandType: def.CommandType,
		Queue:       def.Queue,
		Payload:     payload,
		Profile:     def.Profile,
		NextRunAt:   &next,
		Enabled:     true,
	}

	if err := eng.cronStore.RegisterCron(ctx, entry); err != nil {
		// Idempotent: ignore duplicate cron entries.
		if errors.Is(err, conduct.ErrDuplicateCron) {
			return nil
		}
		return fmt.Errorf("register cron %q: %w", def.Name, err)
	}

	eng.logger.Info("cron registered",
		slog.String("name", def.Name),
		slog.String("schedule", def.Schedule),
		slog.String("command_type", def.CommandType),
		slog.Time("next_run_at", next),
	)

	return nil
}

// Start begins command processing by starting the executor pool and
// cron scheduler. It first recovers workflow runs whose in-flight step
// commands reached a terminal outcome while no node was up.
func (eng *Engine) Start(ctx context.Context) error {
	// Crash recovery is best-effort and non-fatal.
	if recoverErr := eng.router.Recover(ctx); recoverErr != nil {
		eng.logger.Warn("workflow recovery incomplete",
			slog.String("error", recoverErr.Error()),
		)
	}

	if err := eng.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start cron scheduler: %w", err)
	}

	return eng.rt.Start(ctx)
}

// Stop gracefully shuts down the engine: scheduler first so no new
// firings admit commands, then the pool drains, then the stream broker
// closes its subscribers.
func (eng *Engine) Stop(ctx context.Context) error {
	if err := eng.scheduler.Stop(ctx); err != nil {
		eng.logger.Error("cron scheduler stop error", slog.String("error", err.Error()))
	}

	stopErr := eng.rt.Stop(ctx)

	if err := eng.broker.Close(ctx); err != nil {
		eng.logger.Error("stream broker close error", slog.String("error", err.Error()))
	}
	return stopErr
}

// Runtime returns the underlying Runtime.
func (eng *Engine) Runtime() *conduct.Runtime { return eng.rt }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the command registry.
func (eng *Engine) Registry() *command.Registry { return eng.registry }

// Dispatcher returns the admission dispatcher.
func (eng *Engine) Dispatcher() *dispatcher.Dispatcher { return eng.d }

// DLQ returns the dead-letter service for replay and inspection.
func (eng *Engine) DLQ() *dlq.Service { return eng.dlqService }

// Router returns the workflow router.
func (eng *Engine) Router() *workflow.Router { return eng.router }

// Memory returns the run and entity memory manager.
func (eng *Engine) Memory() *mem.Manager { return eng.memory }

// Publisher returns the transition event publisher.
func (eng *Engine) Publisher() *event.Publisher { return eng.publisher }

// Broker returns the live stream broker.
func (eng *Engine) Broker() *stream.Broker { return eng.broker }

// CronStore returns the cron store.
func (eng *Engine) CronStore() cron.Store { return eng.cronStore }

// Scheduler returns the cron scheduler.
func (eng *Engine) Scheduler() *cron.Scheduler { return eng.scheduler }

// QueueManager returns the queue manager, or nil if no queue configs
// were provided.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queueManager }
