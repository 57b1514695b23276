package middleware

import (
	"context"
	"log/slog"
	"time"
)

// Logging returns middleware that logs step execution at debug level.
// Steps are fine-grained, so start/complete lines stay at Debug; only
// failures are logged at Error.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, s *Step, next Handler) error {
		start := time.Now()

		logger.Debug("step executing",
			slog.String("run_id", s.RunID.String()),
			slog.String("handler", s.Handler),
			slog.Int("step_index", s.Index),
			slog.String("step_name", s.Name),
			slog.Int("attempt", s.Attempt),
		)

		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("step failed",
				slog.String("run_id", s.RunID.String()),
				slog.String("handler", s.Handler),
				slog.Int("step_index", s.Index),
				slog.String("step_name", s.Name),
				slog.Duration("elapsed", elapsed),
				slog.Any("error", err),
			)
			return err
		}

		logger.Debug("step completed",
			slog.String("run_id", s.RunID.String()),
			slog.String("handler", s.Handler),
			slog.Int("step_index", s.Index),
			slog.String("step_name", s.Name),
			slog.Duration("elapsed", elapsed),
		)
		return nil
	}
}
