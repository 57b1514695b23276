package middleware

import (
	"context"
	"log/slog"
)

// Timeout returns middleware that enforces the step's timeout, if set.
// When the deadline is exceeded the closure's context is cancelled and
// the step fails with context.DeadlineExceeded.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, s *Step, next Handler) error {
		if s.Timeout <= 0 {
			return next(ctx)
		}

		tctx, cancel := context.WithTimeout(ctx, s.Timeout)
		defer cancel()

		err := next(tctx)
		if err != nil && tctx.Err() == context.DeadlineExceeded {
			logger.Warn("step timed out",
				slog.String("run_id", s.RunID.String()),
				slog.String("handler", s.Handler),
				slog.Int("step_index", s.Index),
				slog.String("step_name", s.Name),
				slog.Duration("timeout", s.Timeout),
			)
		}
		return err
	}
}
