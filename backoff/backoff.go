// Package backoff provides pluggable delay strategies. The poll protocol
// uses them to space poll attempts; the host uses them to space retries
// after store errors. All strategies are safe for concurrent use.
//
// Strategies used for polling must be deterministic (the same attempt
// number always yields the same delay): a replayed attempt recomputes
// the delay sequence when evaluating its elapsed-time bound, and a
// jittered sequence would diverge from the recorded one. Jittered
// strategies belong on the host side, where nothing is replayed.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before an attempt.
type Strategy interface {
	// Delay returns how long to wait before attempt n (1-indexed).
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay regardless of attempt number.
// Deterministic; the usual choice for fixed-cadence polling.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant delay strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Linear
// ──────────────────────────────────────────────────

// Linear increases the delay linearly with the attempt number.
// Delay = min(Initial * attempt, Max). Deterministic.
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

// NewLinear creates a linear delay strategy.
func NewLinear(initial, maxDelay time.Duration) *Linear {
	return &Linear{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * attempt, capped at Max.
func (l *Linear) Delay(attempt int) time.Duration {
	d := l.Initial * time.Duration(attempt)
	if l.Max > 0 && d > l.Max {
		return l.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max). Deterministic; suits remote
// jobs whose completion time is unknown by orders of magnitude.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential delay strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(attempt-1)))
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// Schedule
// ──────────────────────────────────────────────────

// Schedule returns explicit per-attempt delays; once the list is
// exhausted, the last entry repeats. Deterministic. Useful when a
// provider documents expected completion behavior ("check after 2s,
// then every 10s").
type Schedule struct {
	Delays []time.Duration
}

// NewSchedule creates a schedule strategy from explicit delays.
// It panics if no delays are given (programming error).
func NewSchedule(delays ...time.Duration) *Schedule {
	if len(delays) == 0 {
		panic("backoff: NewSchedule requires at least one delay")
	}
	return &Schedule{Delays: delays}
}

// Delay returns the delay for attempt n; attempts beyond the schedule
// repeat the final entry.
func (s *Schedule) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(s.Delays) {
		return s.Delays[len(s.Delays)-1]
	}
	return s.Delays[attempt-1]
}

// ──────────────────────────────────────────────────
// ExponentialWithJitter (full jitter)
// ──────────────────────────────────────────────────

// ExponentialWithJitter applies full jitter to an exponential base.
// Delay = random value in [0, min(Initial * 2^(attempt-1), Max)].
// This prevents thundering herd when many hosts retry simultaneously.
// Not deterministic — never use it for polling.
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponentialWithJitter creates an exponential strategy with full jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay}
}

// Delay returns a random duration in [0, min(Initial * 2^(attempt-1), Max)].
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	base := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && base > float64(e.Max) {
		base = float64(e.Max)
	}
	return time.Duration(rand.Float64() * base) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// ──────────────────────────────────────────────────
// Defaults
// ──────────────────────────────────────────────────

// DefaultPoll returns the default strategy for poll spacing:
// Exponential with 2s initial and 30s max.
func DefaultPoll() Strategy {
	return NewExponential(2*time.Second, 30*time.Second)
}

// DefaultHostRetry returns the default strategy for host-side retry
// spacing after store errors: ExponentialWithJitter with 1s initial
// and 1m max.
func DefaultHostRetry() Strategy {
	return NewExponentialWithJitter(1*time.Second, 1*time.Minute)
}
