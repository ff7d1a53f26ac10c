// Package engine is the stack-sampling engine driven by the interrupt line.
//
// An Engine records sampling sessions into call trees. Sampler is the
// implementation used in this module: it samples an execution unit's
// shadow stack each time the unit is interrupted, and builds the tree on a
// separate processing goroutine.
package engine

import (
	"errors"
	"time"
)

var (
	// ErrSessionExists is returned when a session title is already in use.
	ErrSessionExists = errors.New("profiling session already exists")
	// ErrNoSession is returned when stopping a session that is not running.
	ErrNoSession = errors.New("no such profiling session")
)

// Names of the pseudo functions the engine attributes samples to.
const (
	RootName    = "(root)"
	ProgramName = "(program)"
	IdleName    = "(idle)"
	GCName      = "(garbage collector)"
)

// Mode selects how line information is attached to tree nodes.
type Mode int

const (
	// LeafLineNumbers keys nodes by function and records per-line ticks
	// for the sampled line of the leaf.
	LeafLineNumbers Mode = iota
	// CallerLineNumbers keys nodes by function and the line of the call
	// site in the parent.
	CallerLineNumbers
)

func (m Mode) String() string {
	if m == CallerLineNumbers {
		return "caller-lines"
	}
	return "leaf-lines"
}

// Engine records sampling sessions for one execution unit.
type Engine interface {
	// SetSamplingInterval sets the interval used by sessions started later.
	SetSamplingInterval(d time.Duration)
	// StartSession begins recording under title. recordSamples keeps the
	// ordered sample list alongside the tree.
	StartSession(title string, mode Mode, recordSamples bool) error
	// StopSession ends the session and returns what it recorded.
	StopSession(title string) (*Profile, error)
	// CollectSampleNow asks the engine to take a sample synchronously.
	CollectSampleNow()
}

var epoch = time.Now()

// Now returns monotonic nanoseconds since process start. Sample timestamps
// and context windows are both taken from it so they can be compared.
func Now() int64 {
	return int64(time.Since(epoch))
}
