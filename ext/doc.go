// Package ext defines the extension system for Ratchet.
//
// Extensions are notified of lifecycle events and can react to them —
// recording metrics, emitting webhooks, writing audit logs, etc.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnRunCompleted(ctx context.Context, r *run.Run, elapsed time.Duration) error {
//	    log.Printf("run %s completed in %s", r.ID, elapsed)
//	    return nil
//	}
//
// # Run Lifecycle Hooks
//
//   - [RunStarted] — run began executing its first attempt
//   - [RunCompleted] — run finished successfully
//   - [RunFailed] — run failed terminally
//   - [RunCancelled] — cancellation took effect
//   - [RunSuspended] — run parked on a durable timer
//   - [RunResumed] — suspended run was picked up again
//
// # Step Lifecycle Hooks
//
//   - [StepCompleted] — a live step closure succeeded
//   - [StepFailed] — a live step closure failed
//   - [StepReplayed] — a step was satisfied from the ledger without
//     executing its closure
//
// # Other Hooks
//
//   - [ProgressReported] — a handler reported progress
//   - [CronFired] — a cron entry was triggered and a run was started
//   - [Shutdown] — the runtime is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface. Hook errors are logged
// and never propagated: extensions observe execution, they cannot
// influence it.
package ext
