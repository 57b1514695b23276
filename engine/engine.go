// Package engine wires all ratchet subsystems together. It creates the
// extension registry, handler registry, middleware chain, run host, and
// cron scheduler, and provides the Register/Submit operations.
//
// This package exists to break the import cycle: the root ratchet package
// defines Entity (imported by run, ledger, cron, etc.) and so cannot
// import those packages back. The engine package sits above all subsystem
// packages and below the application layer.
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

	"github.com/ratchetlabs/ratchet"
	"github.com/ratchetlabs/ratchet/cron"
	"github.com/ratchetlabs/ratchet/exec"
	"github.com/ratchetlabs/ratchet/ext"
	"github.com/ratchetlabs/ratchet/host"
	"github.com/ratchetlabs/ratchet/id"
	"github.com/ratchetlabs/ratchet/ledger"
	mw "github.com/ratchetlabs/ratchet/middleware"
	"github.com/ratchetlabs/ratchet/observability"
	"github.com/ratchetlabs/ratchet/run"
)

// Engine wraps a Runtime with typed subsystem access.
// Use Build() to create one from a Runtime.
type Engine struct {
	rt         *ratchet.Runtime
	extensions *ext.Registry
	registry   *exec.Registry
	runner     *exec.Runner
	runStore   run.Store
	ledger     ledger.Store
	progress   *exec.ChannelSink
	mws        []mw.Middleware
	logger     *slog.Logger

	// Host subsystem.
	host   *host.Host
	limits []host.HandlerLimit

	// Cron subsystem.
	cronStore cron.Store
	scheduler *cron.Scheduler

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

// WithMiddleware adds middleware to the engine's chain, after the
// default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithHandlerLimits configures per-handler concurrency caps and resume
// rate limits on the host. Handlers not listed have no limits.
func WithHandlerLimits(limits ...host.HandlerLimit) Option {
	return func(eng *Engine) {
		eng.limits = append(eng.limits, limits...)
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// When set, the tracing middleware uses this provider instead of the
// global one. If not set, the global otel.GetTracerProvider() is used.
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
// The Runtime's store must implement run.Store, ledger.Store, and
// cron.Store.
func Build(rt *ratchet.Runtime, opts ...Option) (*Engine, error) {
	logger := rt.Logger()
	store := rt.Store()

	if store == nil {
		return nil, ratchet.ErrNoStore
	}

	// Type-assert the store to get the run.Store interface.
	rs, ok := store.(run.Store)
	if !ok {
		return nil, fmt.Errorf("ratchet: store does not implement run.Store")
	}

	// Type-assert the store to get the ledger.Store interface.
	ls, ok := store.(ledger.Store)
	if !ok {
		return nil, fmt.Errorf("ratchet: store does not implement ledger.Store")
	}

	// Type-assert the store to get the cron.Store interface.
	cs, ok := store.(cron.Store)
	if !ok {
		return nil, fmt.Errorf("ratchet: store does not implement cron.Store")
	}

	eng := &Engine{
		rt:         rt,
		extensions: ext.NewRegistry(logger),
		registry:   exec.NewRegistry(),
		runStore:   rs,
		ledger:     ls,
		cronStore:  cs,
		logger:     logger,
	}

	for _, opt := range opts {
		opt(eng)
	}

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/ratchetlabs/ratchet")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/ratchetlabs/ratchet")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/ratchetlabs/ratchet/observability")
		obsExt = observability.NewMetricsExtensionWithMeter(meter)
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Build default middleware stack: recover → tracing → metrics →
	// logging → timeout.
	allMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Timeout(logger),
	}
	allMws = append(allMws, eng.mws...)

	config := rt.Config()

	// Create the runner. ext.Registry satisfies exec.RunEmitter directly.
	eng.runner = exec.NewRunner(eng.registry, eng.runStore, eng.ledger, eng.extensions, logger)
	eng.runner.SetMiddleware(mw.Chain(allMws...))
	eng.runner.SetStepTimeout(config.StepTimeout)

	eng.progress = exec.NewChannelSink(config.ProgressBuffer)
	eng.runner.SetProgressSink(eng.progress)

	// Create the host.
	hostOpts := []host.Option{
		host.WithConcurrency(config.Concurrency),
		host.WithPollInterval(config.PollInterval),
		host.WithClaimBatch(config.ClaimBatch),
		host.WithHeartbeatInterval(config.HeartbeatInterval),
		host.WithStaleAfter(config.StaleAfter),
		host.WithRetention(config.Retention),
		host.WithSweepInterval(config.SweepInterval),
	}
	if len(eng.limits) > 0 {
		hostOpts = append(hostOpts, host.WithLimits(host.NewLimits(eng.limits...)))
	}
	eng.host = host.NewHost(eng.runStore, eng.ledger, eng.runner, logger, hostOpts...)

	// Wire back into the Runtime.
	rt.SetHost(eng.host)
	rt.SetExtensions(eng.extensions)

	// Create the cron scheduler. Fires enqueue runs for the claim loop
	// rather than executing them, so a slow first attempt cannot stall
	// the tick loop.
	startFunc := func(ctx context.Context, handler string, input []byte) (id.RunID, error) {
		rn, err := eng.runner.EnqueueRaw(ctx, handler, input)
		if err != nil {
			return id.Nil, err
		}
		return rn.ID, nil
	}
	var schedOpts []cron.SchedulerOption
	if config.PollInterval > 0 {
		// The tick and claim cadences track each other so a fired entry
		// does not wait disproportionately long for a worker.
		schedOpts = append(schedOpts, cron.WithTickInterval(config.PollInterval))
	}
	eng.scheduler = cron.NewScheduler(cs, startFunc, eng.extensions, logger, schedOpts...)

	return eng, nil
}

// Register registers a typed handler definition with the engine.
func Register[T, R any](eng *Engine, def *exec.Definition[T, R]) {
	exec.RegisterDefinition(eng.registry, def)
}

// Submit starts a run of a registered handler with a typed input. The
// first attempt executes on the calling goroutine: a handler that never
// suspends completes before Submit returns, while one that parks on a
// timer returns in the sleeping state for the host to wake later.
func Submit[T any](ctx context.Context, eng *Engine, handler string, input T) (*run.Run, error) {
	return exec.Start(ctx, eng.runner, handler, input)
}

// SubmitRaw starts a run with a pre-serialized JSON input.
func (eng *Engine) SubmitRaw(ctx context.Context, handler string, input []byte) (*run.Run, error) {
	return eng.runner.StartRaw(ctx, handler, input)
}

// Enqueue creates a run due immediately without executing any of it on
// the calling goroutine. The host's claim loop picks it up within one
// poll interval.
func Enqueue[T any](ctx context.Context, eng *Engine, handler string, input T) (*run.Run, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal input for handler %q: %w", handler, err)
	}

	return eng.runner.EnqueueRaw(ctx, handler, data)
}

// Cancel requests cancellation of a run. A parked run transitions to
// cancelled immediately; a run with a live attempt transitions in the
// store now and the attempt observes it at its next step, sleep, or
// progress report.
func (eng *Engine) Cancel(ctx context.Context, runID id.RunID) (*run.Run, error) {
	rn, err := eng.runStore.CancelRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	// A live attempt emits the event itself when it unwinds; only a
	// parked run needs it emitted here.
	if rn.ClaimedBy.IsNil() {
		eng.extensions.EmitRunCancelled(ctx, rn)
	}

	return rn, nil
}

// GetRun retrieves a run by ID.
func (eng *Engine) GetRun(ctx context.Context, runID id.RunID) (*run.Run, error) {
	return eng.runStore.GetRun(ctx, runID)
}

// ListRuns lists runs matching the given filters.
func (eng *Engine) ListRuns(ctx context.Context, opts run.ListOpts) ([]*run.Run, error) {
	return eng.runStore.ListRuns(ctx, opts)
}

// Timeline returns the recorded step history of a run for inspection.
func (eng *Engine) Timeline(ctx context.Context, runID id.RunID) ([]exec.TimelineEntry, error) {
	return eng.runner.Timeline(ctx, runID)
}

// MigrateRun moves a sleeping run to a different registered version of
// its handler. See exec.Runner.MigrateRun for the compatibility
// requirements.
func (eng *Engine) MigrateRun(ctx context.Context, runID id.RunID, toVersion int) error {
	return eng.runner.MigrateRun(ctx, runID, toVersion)
}

// Progress returns the stream of progress updates reported by handlers.
// The channel is bounded; updates are dropped, never blocked on, when
// no consumer keeps up.
func (eng *Engine) Progress() <-chan exec.Update {
	return eng.progress.Updates()
}

// Schedule registers a recurring schedule that starts a new run of the
// named handler each time it fires. It validates the cron expression,
// computes the initial NextFireAt, and persists the entry.
// Re-registration of the same name is idempotent.
func Schedule[T any](ctx context.Context, eng *Engine, name, schedule, handler string, input T) error {
	// Validate the cron expression.
	sched, err := cron.ParseSchedule(schedule)
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}

	data, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("marshal cron input: %w", err)
	}

	// Compute the initial NextFireAt.
	now := time.Now().UTC()
	next := sched.Next(now)

	entry := &cron.Entry{
		Entity:     ratchet.NewEntity(),
		ID:         id.NewCronID(),
		Name:       name,
		Schedule:   schedule,
		Handler:    handler,
		Input:      data,
		NextFireAt: &next,
		Enabled:    true,
	}

	if err := eng.cronStore.RegisterCron(ctx, entry); err != nil {
		// Idempotent: ignore duplicate cron entries.
		if errors.Is(err, ratchet.ErrDuplicateCron) {
			return nil
		}
		return fmt.Errorf("register cron %q: %w", name, err)
	}

	eng.logger.Info("cron registered",
		slog.String("name", name),
		slog.String("schedule", schedule),
		slog.String("handler", handler),
		slog.Time("next_fire_at", next),
	)

	return nil
}

// Start begins run processing. Runs stranded in the running state by a
// crashed process are requeued first, then the cron scheduler and the
// host's claim loop start.
func (eng *Engine) Start(ctx context.Context) error {
	// Requeue crashed runs now instead of waiting out the first reap
	// interval (best-effort, non-fatal). The StaleAfter cutoff keeps
	// live attempts of other hosts safe.
	cutoff := time.Now().UTC().Add(-eng.rt.Config().StaleAfter)
	if n, requeueErr := eng.runStore.RequeueStaleRuns(ctx, cutoff); requeueErr != nil {
		eng.logger.Warn("failed to requeue stale runs",
			slog.String("error", requeueErr.Error()),
		)
	} else if n > 0 {
		eng.logger.Info("requeued stale runs at startup", slog.Int("count", n))
	}

	// Start the cron scheduler before the host so the first tick can
	// enqueue due entries for the claim loop.
	if err := eng.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start cron scheduler: %w", err)
	}

	return eng.rt.Start(ctx)
}

// Stop gracefully shuts down the engine.
func (eng *Engine) Stop(ctx context.Context) error {
	// Stop the cron scheduler first so nothing new is enqueued while
	// the host drains.
	if err := eng.scheduler.Stop(ctx); err != nil {
		eng.logger.Error("cron scheduler stop error", slog.String("error", err.Error()))
	}

	return eng.rt.Stop(ctx)
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the handler registry.
func (eng *Engine) Registry() *exec.Registry { return eng.registry }

// Runner returns the run runner.
func (eng *Engine) Runner() *exec.Runner { return eng.runner }

// Runtime returns the underlying Runtime.
func (eng *Engine) Runtime() *ratchet.Runtime { return eng.rt }

// Host returns the run host.
func (eng *Engine) Host() *host.Host { return eng.host }

// CronStore returns the cron store.
func (eng *Engine) CronStore() cron.Store { return eng.cronStore }

// Scheduler returns the cron scheduler.
func (eng *Engine) Scheduler() *cron.Scheduler { return eng.scheduler }
