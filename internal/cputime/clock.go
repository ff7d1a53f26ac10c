// Package cputime reads CPU-time clocks and measures CPU consumed between
// readings.
//
// Every clock degrades to a zero reading when the platform cannot provide
// it. Callers treat zero as "CPU time unavailable" and omit it from output.
package cputime

import (
	"sync/atomic"
	"time"

	"github.com/coral-mesh/wallprof/internal/safe"
)

// Clock reports accumulated CPU time.
type Clock interface {
	Now() time.Duration
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Duration

// Now implements Clock.
func (f ClockFunc) Now() time.Duration { return f() }

// Zero is a clock that always reads zero.
var Zero Clock = ClockFunc(func() time.Duration { return 0 })

// Stopwatch returns the CPU time elapsed on a clock since it was last read.
// GetAndReset may be called from any goroutine.
type Stopwatch struct {
	clock Clock
	last  atomic.Int64
}

// NewStopwatch starts a stopwatch on c. A nil clock is treated as Zero.
func NewStopwatch(c Clock) *Stopwatch {
	if c == nil {
		c = Zero
	}
	s := &Stopwatch{clock: c}
	s.last.Store(int64(c.Now()))
	return s
}

// GetAndReset returns the CPU time consumed since the previous call (or since
// construction) and moves the baseline to now.
func (s *Stopwatch) GetAndReset() time.Duration {
	now := s.clock.Now()
	prev := time.Duration(s.last.Swap(int64(now)))
	return safe.NonNegative(now - prev)
}

// Peek returns the CPU time consumed since the baseline without moving it.
func (s *Stopwatch) Peek() time.Duration {
	return safe.NonNegative(s.clock.Now() - time.Duration(s.last.Load()))
}
