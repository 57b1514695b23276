// Package observability provides an OpenTelemetry-based metrics extension
// for ratchet. The MetricsExtension implements lifecycle hooks to record
// system-wide counters for run starts, completions, failures,
// cancellations, suspensions, resumes, step replays, and cron fires.
//
// For per-step tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
