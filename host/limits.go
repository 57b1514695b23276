package host

import (
	"sync"

	"golang.org/x/time/rate"
)

// HandlerLimit caps how aggressively one handler's runs are resumed.
type HandlerLimit struct {
	// Handler is the handler name the limit applies to.
	Handler string

	// MaxConcurrent limits how many runs of this handler may execute
	// simultaneously on the local host. Zero means no handler-specific
	// limit (host-wide concurrency still applies).
	MaxConcurrent int

	// ResumesPerSecond is the maximum sustained rate of attempt starts
	// for this handler. Zero disables rate limiting.
	ResumesPerSecond float64

	// Burst is the token-bucket burst size. Defaults to 1 if
	// ResumesPerSecond is set but Burst is zero.
	Burst int
}

// handlerState tracks runtime state for a single handler.
type handlerState struct {
	limit   HandlerLimit
	limiter *rate.Limiter
	active  int
}

// Limits applies per-handler rate and concurrency caps to the claim
// loop. Handlers without a configured limit are unlimited. Safe for
// concurrent use.
type Limits struct {
	mu       sync.Mutex
	handlers map[string]*handlerState
}

// NewLimits creates a Limits from the given handler limits.
func NewLimits(limits ...HandlerLimit) *Limits {
	l := &Limits{handlers: make(map[string]*handlerState, len(limits))}
	for _, hl := range limits {
		l.handlers[hl.Handler] = newHandlerState(hl)
	}
	return l
}

func newHandlerState(hl HandlerLimit) *handlerState {
	hs := &handlerState{limit: hl}
	if hl.ResumesPerSecond > 0 {
		burst := hl.Burst
		if burst <= 0 {
			burst = 1
		}
		hs.limiter = rate.NewLimiter(rate.Limit(hl.ResumesPerSecond), burst)
	}
	return hs
}

// Acquire checks the handler's rate and concurrency caps. If the
// attempt may proceed it increments the active counter and returns
// true; the caller must call Release when the attempt finishes.
func (l *Limits) Acquire(handler string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	hs := l.handlers[handler]
	if hs == nil {
		return true
	}
	if hs.limiter != nil && !hs.limiter.Allow() {
		return false
	}
	if hs.limit.MaxConcurrent > 0 && hs.active >= hs.limit.MaxConcurrent {
		return false
	}
	hs.active++
	return true
}

// Release decrements the handler's active count.
func (l *Limits) Release(handler string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if hs := l.handlers[handler]; hs != nil && hs.active > 0 {
		hs.active--
	}
}

// SetLimit updates (or creates) a handler limit, preserving the
// current active count.
func (l *Limits) SetLimit(hl HandlerLimit) {
	l.mu.Lock()
	defer l.mu.Unlock()

	hs := newHandlerState(hl)
	if existing := l.handlers[hl.Handler]; existing != nil {
		hs.active = existing.active
	}
	l.handlers[hl.Handler] = hs
}

// ActiveCount returns the number of attempts currently executing for
// the handler.
func (l *Limits) ActiveCount(handler string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if hs := l.handlers[handler]; hs != nil {
		return hs.active
	}
	return 0
}
