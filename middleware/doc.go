// Package middleware provides composable middleware for step execution.
//
// Middleware wrap the closure of each live step, enabling cross-cutting
// concerns like logging, tracing, metrics, panic recovery, and timeouts.
// Replayed steps bypass the chain entirely: a catch-up hit returns the
// recorded outcome without invoking the closure, so middleware only ever
// observe real executions.
//
// Middleware are composed with Chain and applied right-to-left:
//
//	mw := middleware.Chain(
//	    middleware.Recover(logger),   // outermost
//	    middleware.Logging(logger),
//	    middleware.Timeout(logger),   // innermost
//	)
//
// Custom middleware implement the Middleware function type:
//
//	func Audit(log *slog.Logger) middleware.Middleware {
//	    return func(ctx context.Context, s *middleware.Step, next middleware.Handler) error {
//	        log.Info("step starting", "run_id", s.RunID, "step", s.Name)
//	        return next(ctx)
//	    }
//	}
package middleware
