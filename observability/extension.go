package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/conduct-dev/conduct/command"
	"github.com/conduct-dev/conduct/ext"
	"github.com/conduct-dev/conduct/id"
	"github.com/conduct-dev/conduct/workflow"
)

// meterName is the instrumentation scope name for the extension.
const meterName = "github.com/conduct-dev/conduct/observability"

// Compile-time interface checks.
var (
	_ ext.Extension           = (*MetricsExtension)(nil)
	_ ext.CommandAdmitted     = (*MetricsExtension)(nil)
	_ ext.CommandSucceeded    = (*MetricsExtension)(nil)
	_ ext.CommandRetrying     = (*MetricsExtension)(nil)
	_ ext.CommandDeadLettered = (*MetricsExtension)(nil)
	_ ext.ReplayRequested     = (*MetricsExtension)(nil)
	_ ext.WorkflowStarted     = (*MetricsExtension)(nil)
	_ ext.WorkflowBlocked     = (*MetricsExtension)(nil)
	_ ext.WorkflowCompleted   = (*MetricsExtension)(nil)
	_ ext.WorkflowFailed      = (*MetricsExtension)(nil)
	_ ext.CronFired           = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle counters via OTel.
// Register it as a Conduct extension to automatically track admission
// rates, completion counts, retry counts, dead-letter entries, replay
// requests, workflow outcomes, and cron fires. The per-execution
// duration histogram lives in the metrics middleware; this extension
// covers transitions the middleware never sees.
type MetricsExtension struct {
	commandAdmitted     metric.Int64Counter
	commandSucceeded    metric.Int64Counter
	commandRetried      metric.Int64Counter
	commandDeadLettered metric.Int64Counter
	replayRequested     metric.Int64Counter
	workflowStarted     metric.Int64Counter
	workflowBlocked     metric.Int64Counter
	workflowCompleted   metric.Int64Counter
	workflowFailed      metric.Int64Counter
	cronFired           metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider. If none is configured, the instruments are noops.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. This variant allows injecting a specific MeterProvider
// for testing.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	m := &MetricsExtension{}
	// On error, the OTel API returns noop instruments, so the extension
	// degrades gracefully.
	m.commandAdmitted, _ = meter.Int64Counter("conduct.command.admitted",
		metric.WithDescription("Commands admitted (deduplicated admissions excluded)"))
	m.commandSucceeded, _ = meter.Int64Counter("conduct.command.succeeded",
		metric.WithDescription("Commands that reached succeeded"))
	m.commandRetried, _ = meter.Int64Counter("conduct.command.retried",
		metric.WithDescription("Attempts that ended in retry_scheduled"))
	m.commandDeadLettered, _ = meter.Int64Counter("conduct.command.dead_lettered",
		metric.WithDescription("Commands routed to the dead-letter store"))
	m.replayRequested, _ = meter.Int64Counter("conduct.dlq.replay_requested",
		metric.WithDescription("Dead-letter replay requests"))
	m.workflowStarted, _ = meter.Int64Counter("conduct.workflow.started",
		metric.WithDescription("Workflow runs started"))
	m.workflowBlocked, _ = meter.Int64Counter("conduct.workflow.blocked",
		metric.WithDescription("Workflow runs paused on an ambiguous step"))
	m.workflowCompleted, _ = meter.Int64Counter("conduct.workflow.completed",
		metric.WithDescription("Workflow runs completed"))
	m.workflowFailed, _ = meter.Int64Counter("conduct.workflow.failed",
		metric.WithDescription("Workflow runs failed terminally"))
	m.cronFired, _ = meter.Int64Counter("conduct.cron.fired",
		metric.WithDescription("Cron entries fired"))
	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Command lifecycle hooks ─────────────────────────

// OnCommandAdmitted implements ext.CommandAdmitted.
func (m *MetricsExtension) OnCommandAdmitted(ctx context.Context, c *command.Command) error {
	m.commandAdmitted.Add(ctx, 1, commandAttrs(c))
	return nil
}

// OnCommandSucceeded implements ext.CommandSucceeded.
func (m *MetricsExtension) OnCommandSucceeded(ctx context.Context, c *command.Command, _ time.Duration) error {
	m.commandSucceeded.Add(ctx, 1, commandAttrs(c))
	return nil
}

// OnCommandRetrying implements ext.CommandRetrying.
func (m *MetricsExtension) OnCommandRetrying(ctx context.Context, c *command.Command, _ int, _ time.Time) error {
	m.commandRetried.Add(ctx, 1, commandAttrs(c))
	return nil
}

// OnCommandDeadLettered implements ext.CommandDeadLettered.
func (m *MetricsExtension) OnCommandDeadLettered(ctx context.Context, c *command.Command, _ error) error {
	m.commandDeadLettered.Add(ctx, 1, commandAttrs(c))
	return nil
}

// OnReplayRequested implements ext.ReplayRequested.
func (m *MetricsExtension) OnReplayRequested(ctx context.Context, _ id.DeadLetterID, _ id.CommandID) error {
	m.replayRequested.Add(ctx, 1)
	return nil
}

// ── Workflow lifecycle hooks ────────────────────────

// OnWorkflowStarted implements ext.WorkflowStarted.
func (m *MetricsExtension) OnWorkflowStarted(ctx context.Context, r *workflow.Run) error {
	m.workflowStarted.Add(ctx, 1, workflowAttrs(r))
	return nil
}

// OnWorkflowBlocked implements ext.WorkflowBlocked.
func (m *MetricsExtension) OnWorkflowBlocked(ctx context.Context, r *workflow.Run, _ string) error {
	m.workflowBlocked.Add(ctx, 1, workflowAttrs(r))
	return nil
}

// OnWorkflowCompleted implements ext.WorkflowCompleted.
func (m *MetricsExtension) OnWorkflowCompleted(ctx context.Context, r *workflow.Run, _ time.Duration) error {
	m.workflowCompleted.Add(ctx, 1, workflowAttrs(r))
	return nil
}

// OnWorkflowFailed implements ext.WorkflowFailed.
func (m *MetricsExtension) OnWorkflowFailed(ctx context.Context, r *workflow.Run, _ error) error {
	m.workflowFailed.Add(ctx, 1, workflowAttrs(r))
	return nil
}

// ── Cron lifecycle hooks ────────────────────────────

// OnCronFired implements ext.CronFired.
func (m *MetricsExtension) OnCronFired(ctx context.Context, entryName string, _ id.CommandID) error {
	m.cronFired.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entry", entryName),
	))
	return nil
}

func commandAttrs(c *command.Command) metric.AddOption {
	return metric.WithAttributes(
		attribute.String("command_type", c.Type),
		attribute.String("queue", c.Queue),
	)
}

func workflowAttrs(r *workflow.Run) metric.AddOption {
	return metric.WithAttributes(
		attribute.String("workflow", r.Name),
	)
}
