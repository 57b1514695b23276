// Package host runs the scheduling side of the engine: a claim loop
// that picks up due runs and resumes them on a bounded worker pool,
// heartbeats that keep long attempts from looking dead, a reaper that
// requeues runs abandoned by crashed hosts, and a sweeper that purges
// terminal runs past their retention window.
//
// A host owns no run state. Everything it knows lives in the store, so
// any number of hosts can share one store and a run suspended on one
// host resumes on whichever host claims it next.
//
//	h := host.NewHost(s, s, runner, logger,
//		host.WithConcurrency(25),
//		host.WithPollInterval(500*time.Millisecond),
//		host.WithLimits(host.NewLimits(host.HandlerLimit{
//			Handler:          "sync-invoices",
//			MaxConcurrent:    4,
//			ResumesPerSecond: 2,
//		})),
//	)
//	h.Start(ctx)
//	defer h.Stop(shutdownCtx)
//
// # Crash recovery
//
// A host that dies mid-attempt leaves its runs in the running state.
// Their claims go stale once heartbeats stop, and after StaleAfter any
// surviving host's reaper moves them back to sleeping with an
// immediate wake time. The next claim replays them from the ledger;
// completed steps are not re-executed.
package host
