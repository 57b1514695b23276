// Package cron provides recurring schedules that start durable runs.
//
// Cron entries are stored in the database and evaluated by every host.
// A compare-and-swap on the entry's NextFireAt decides which host wins
// each scheduled fire, so firing is at-most-once cluster-wide without
// leader election.
//
// # Entry
//
// An [Entry] represents a recurring run schedule:
//   - Schedule: standard cron expression (e.g., "0 9 * * 1-5") or a
//     descriptor like "@every 30s"
//   - Handler: the registered handler to start when fired
//   - Input: static JSON input passed to every triggered run
//   - Enabled: whether the entry fires
//   - LastFiredAt / NextFireAt: fire bookkeeping (managed internally)
//
// # Registering a Cron
//
// Use engine.RegisterCron to add a cron entry at startup:
//
//	engine.RegisterCron(ctx, eng, "nightly-reconcile", "0 2 * * *",
//	    "reconcile-accounts", ReconcileInput{Window: "24h"})
//
// # Scheduler
//
// The [Scheduler] evaluates due entries on every tick, claims each fire
// via the store's ClaimCronFire compare-and-swap, starts the handler's
// run, and advances NextFireAt. The [ext.CronFired] extension hook fires
// after each successful start.
package cron
