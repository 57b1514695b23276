package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Recover returns middleware that recovers from panics in step closures,
// converting them to errors so the run fails cleanly instead of tearing
// down the worker.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, s *Step, next Handler) (err error) {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				logger.Error("panic in step",
					slog.String("run_id", s.RunID.String()),
					slog.String("handler", s.Handler),
					slog.Int("step_index", s.Index),
					slog.String("step_name", s.Name),
					slog.Any("panic", r),
					slog.String("stack", string(stack)),
				)
				err = fmt.Errorf("panic in step %d (%s): %v", s.Index, s.Name, r)
			}
		}()
		return next(ctx)
	}
}
