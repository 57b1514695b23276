package exec

// cursor tracks a handler's position in its run's ledger during one
// attempt. The boundary is the ledger record count fetched exactly once,
// on the first step call of the attempt: indices below it are satisfied
// from recorded outcomes (catch-up), indices at or above it execute
// live. Because a run has at most one live attempt, the count cannot
// move underneath a running handler.
type cursor struct {
	next     int
	boundary int
	resolved bool
}

// remaining returns how many recorded steps the handler has not yet
// consumed. Zero once the cursor has crossed the replay boundary.
func (c *cursor) remaining() int {
	if c.next >= c.boundary {
		return 0
	}
	return c.boundary - c.next
}
