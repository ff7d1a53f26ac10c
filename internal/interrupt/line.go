// Package interrupt models the process-wide periodic interrupt that drives
// sampling, and the router that shares it between profilers.
//
// A Line holds exactly one handler at a time, like an OS signal disposition.
// Layers install themselves with Install and keep the previous handler so
// they can chain to it and restore it later.
package interrupt

import (
	"sync"
	"sync/atomic"

	"github.com/coral-mesh/wallprof/internal/unit"
)

// HandlerFunc handles one interrupt delivered to an execution unit. It runs
// on the interrupt path: it must not block or take locks held by normal
// code.
type HandlerFunc func(u unit.ID)

// Line is a single installable interrupt handler slot.
type Line struct {
	handler atomic.Pointer[HandlerFunc]
	raised  atomic.Uint64
}

// NewLine returns a line with no handler.
func NewLine() *Line {
	return &Line{}
}

var process = sync.OnceValue(NewLine)

// Process returns the process-wide line. It is created on first use and
// lives until the process exits.
func Process() *Line {
	return process()
}

// Install makes h the current handler and returns the one it replaced.
// A nil h leaves the line without a handler.
func (l *Line) Install(h HandlerFunc) HandlerFunc {
	var next *HandlerFunc
	if h != nil {
		next = &h
	}
	prev := l.handler.Swap(next)
	if prev == nil {
		return nil
	}
	return *prev
}

// Current returns the installed handler, or nil.
func (l *Line) Current() HandlerFunc {
	if p := l.handler.Load(); p != nil {
		return *p
	}
	return nil
}

// Raise delivers an interrupt for u to the current handler. With no handler
// installed the interrupt is ignored.
func (l *Line) Raise(u unit.ID) {
	l.raised.Add(1)
	if p := l.handler.Load(); p != nil {
		(*p)(u)
	}
}

// Raised returns the number of interrupts raised on the line.
func (l *Line) Raised() uint64 {
	return l.raised.Load()
}
