// Package unit identifies independently scheduled execution units.
//
// An execution unit owns at most one wall profiler, one code map and one
// context channel at a time. Identities are process-unique and never reused.
package unit

import (
	"strconv"
	"sync/atomic"
)

// ID is the identity of an execution unit. The zero value is not a valid unit.
type ID uint64

var last atomic.Uint64

// New allocates a fresh execution unit identity.
func New() ID {
	return ID(last.Add(1))
}

// Valid reports whether id was produced by New.
func (id ID) Valid() bool {
	return id != 0
}

func (id ID) String() string {
	return "unit-" + strconv.FormatUint(uint64(id), 10)
}
