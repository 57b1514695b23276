// Package engine wires all ratchet subsystems together and provides
// the primary application-level API for registering handlers and
// submitting runs.
//
// The engine package exists to break a fundamental import cycle: the root
// ratchet package defines Entity (imported by run, ledger, cron, etc.)
// and therefore cannot import those packages back. Engine sits above all
// subsystem packages and below the application layer.
//
// # Building an Engine
//
//	rt, err := ratchet.New(
//	    ratchet.WithStore(pgStore),
//	    ratchet.WithConcurrency(20),
//	)
//
//	eng, err := engine.Build(rt,
//	    engine.WithExtension(myExtension),
//	    engine.WithMiddleware(myMiddleware),
//	    engine.WithHandlerLimits(host.HandlerLimit{
//	        Handler:       "sync-invoices",
//	        MaxConcurrent: 5,
//	    }),
//	)
//
// # Registering Handlers
//
//	engine.Register(eng, exec.NewHandler("sync-invoices", func(ex *exec.Execution, in SyncInput) (SyncOutput, error) {
//	    ...
//	}))
//
// # Starting Runs
//
//	// Synchronous first attempt on the calling goroutine.
//	rn, err := engine.Submit(ctx, eng, "sync-invoices", SyncInput{Account: "acme"})
//
//	// Parked due-now for the host's claim loop.
//	rn, err := engine.Enqueue(ctx, eng, "sync-invoices", SyncInput{Account: "acme"})
//
// # Schedules
//
//	engine.Schedule(ctx, eng, "nightly-sync", "0 2 * * *", "sync-invoices", SyncInput{})
//
// # Options
//
//   - [WithExtension] — register a lifecycle extension
//   - [WithMiddleware] — add a middleware to the execution chain
//   - [WithHandlerLimits] — cap per-handler concurrency and resume rate
//   - [WithTracerProvider] — set the OpenTelemetry tracer provider
//   - [WithMeterProvider] — set the OpenTelemetry meter provider
package engine
