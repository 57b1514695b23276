// Package exec implements durable, replayable execution of multi-step
// handlers.
//
// Handlers are ordinary Go functions that make their side effects
// through an [Execution]: each call to [Execution.Do], [Step], or
// [Execution.Sleep] is assigned the next step index and backed by an
// append-once ledger record. When a run is resumed after a suspension
// or a crash, the handler re-executes from the top; steps whose index
// falls below the replay boundary are satisfied from the ledger without
// invoking their closures, so completed effects never run twice on the
// happy path.
//
// # Defining a Handler
//
//	var Fulfill = exec.NewHandler("order-fulfillment",
//	    func(ex *exec.Execution, input OrderInput) (Receipt, error) {
//	        if err := ex.Do("reserve", func(ctx context.Context) error {
//	            return reserveInventory(ctx, input.Items)
//	        }); err != nil {
//	            return Receipt{}, err
//	        }
//
//	        charge, err := exec.Step(ex, "charge", func(ctx context.Context) (ChargeRef, error) {
//	            return chargeCard(ctx, input.PaymentToken, input.Amount)
//	        })
//	        if err != nil {
//	            return Receipt{}, err
//	        }
//
//	        // Park the run for a day without holding a worker.
//	        if err := ex.Sleep("settlement-delay", 24*time.Hour); err != nil {
//	            return Receipt{}, err
//	        }
//
//	        return Receipt{Charge: charge}, nil
//	    },
//	)
//
// # Suspension
//
// [Execution.Sleep] does not block. The first time a sleep step runs,
// its wake time is computed once, recorded in the ledger, and a
// [Suspension] is returned through the error path. Handlers propagate
// it like any other error; the [Runner] catches it, parks the run in
// the sleeping state, and releases the worker. When the wake time
// arrives the host claims the run and replays the handler, which
// fast-forwards through recorded steps and continues past the timer.
// The recorded wake time is reused on every replay, never recomputed.
//
// # Determinism
//
// Replay correctness requires handlers to be deterministic: the same
// input must produce the same sequence of step calls. Nondeterminism is
// detected and surfaced as an error wrapping ratchet.ErrDeterminism —
// a step whose recorded kind does not match the call, a missing record
// below the replay boundary, or a handler that returns before
// consuming every recorded step. Step names are diagnostic only; a
// name mismatch logs a warning but does not fail the run.
//
// # State Machine
//
// A run moves through these states:
//
//	running → sleeping → running → … → completed
//	running → failed
//	running | sleeping → cancelled
//
// # Key Types
//
//   - [Definition] — typed handler descriptor with Name, Version, Handler
//   - [Execution] — per-attempt context providing Do, Step, Sleep,
//     ReportProgress
//   - [Registry] — maps handler names to versioned runner functions
//   - [Runner] — starts, resumes, and finalizes runs
//   - [Suspension] — control signal that parks a run on a durable timer
package exec
