package middleware

import (
	"context"
	"time"

	"github.com/ratchetlabs/ratchet/id"
)

// Step describes one live step execution about to run. Replayed steps
// never reach the middleware chain — only closures that are actually
// invoked do.
type Step struct {
	// RunID identifies the run the step belongs to.
	RunID id.RunID
	// Handler is the run's registered handler name.
	Handler string
	// Index is the step's position in the run's ledger.
	Index int
	// Name is the diagnostic step name passed by the handler.
	Name string
	// Attempt is the run's attempt number executing this step.
	Attempt int
	// Timeout caps this step's execution; zero means no cap.
	Timeout time.Duration
}

// Handler is the terminal function that executes the step closure.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic.
// It receives the current context, the step being executed, and the
// next handler to call. Middleware MUST call next to continue the chain
// (unless short-circuiting on error).
type Middleware func(ctx context.Context, s *Step, next Handler) error

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recover, timeout) executes as:
//
//	logging → recover → timeout → closure
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, s *Step, next Handler) error {
		// Build the chain from the end backwards.
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, s, prev)
			}
		}
		return h(ctx)
	}
}
