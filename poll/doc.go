// Package poll implements the poll-until-terminal protocol for remote
// jobs: create the job as a durable step, then alternate durable sleeps
// and durable status polls until the job reaches a terminal state or
// the configured bounds run out.
//
// The protocol is a pure composition of [exec.Step] and
// [exec.Execution.Sleep] — it adds no primitive of its own, so every
// poll observation is on the ledger and the loop replays exactly like
// any other handler code. A process can die between any two polls and
// the next attempt picks up at the same iteration.
//
// # Usage
//
//	out, err := poll.Until(ex, poll.Config{Interval: 10 * time.Second},
//		func(ctx context.Context) (poll.Snapshot[Render], error) {
//			job, err := client.CreateRender(ctx, req)
//			if err != nil {
//				return poll.Snapshot[Render]{}, err
//			}
//			return poll.Snapshot[Render]{JobID: job.ID, Status: poll.StatusStarting}, nil
//		},
//		func(ctx context.Context, jobID string) (poll.Snapshot[Render], error) {
//			job, err := client.GetRender(ctx, jobID)
//			if err != nil {
//				return poll.Snapshot[Render]{}, err
//			}
//			return poll.Snapshot[Render]{
//				JobID:  jobID,
//				Status: toStatus(job.State),
//				Detail: job.Error,
//				Result: job.Output,
//			}, nil
//		})
//
// A Succeeded snapshot returns its Result. Failed and Cancelled return
// a [RemoteError]; exhausted bounds return a [TimeoutError]. Both
// unwrap to the root sentinels, so callers branch with errors.Is:
//
//	if errors.Is(err, ratchet.ErrPollTimeout) { ... }
//
// # Bounds
//
// The loop stops at whichever bound trips first: MaxAttempts polls, or
// MaxWait of accumulated delay. Elapsed time is the sum of requested
// delays, not wall clock — a resumed attempt recomputes the same sums
// from the same recorded sequence, so the loop always replays the
// bound decisions it made live. For the same reason a Backoff strategy
// used here must be deterministic; see [backoff].
package poll
