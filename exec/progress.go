package exec

import (
	"time"

	"github.com/ratchetlabs/ratchet/id"
)

// Update is an advisory progress report from a running handler. Updates
// carry no delivery guarantee: they may be dropped under pressure and
// re-delivered when a run replays.
type Update struct {
	RunID    id.RunID  `json:"run_id"`
	Handler  string    `json:"handler"`
	Fraction float64   `json:"fraction"`
	Detail   string    `json:"detail,omitempty"`
	At       time.Time `json:"at"`
}

// Sink receives progress updates from executions. Implementations must
// not block: Report is called inline from handler goroutines.
type Sink interface {
	Report(u Update)
}

// ChannelSink buffers updates on a channel and drops them when the
// buffer is full, keeping handlers non-blocking.
type ChannelSink struct {
	ch chan Update
}

// NewChannelSink creates a sink with the given buffer size. A buffer of
// zero or less defaults to 1.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{ch: make(chan Update, buffer)}
}

// Report queues the update, dropping it if the buffer is full.
func (s *ChannelSink) Report(u Update) {
	select {
	case s.ch <- u:
	default:
	}
}

// Updates returns the receive side of the sink.
func (s *ChannelSink) Updates() <-chan Update { return s.ch }
