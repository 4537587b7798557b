// Package observability provides an OpenTelemetry-based metrics
// extension for Conduct. The MetricsExtension implements lifecycle hooks
// to record system-wide counters for command admission, completion,
// retry, dead-lettering, replay, workflow, and cron events.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
