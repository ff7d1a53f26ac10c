// Package safe holds clamped integer conversions for counters and addresses.
package safe

import (
	"math"
	"time"
)

// Uint64ToInt64 converts val to int64, clamping to math.MaxInt64.
// The boolean reports whether clamping occurred.
func Uint64ToInt64(val uint64) (int64, bool) {
	if val > math.MaxInt64 {
		return math.MaxInt64, true
	}
	return int64(val), false
}

// Uint64ToInt converts val to int, clamping to math.MaxInt.
func Uint64ToInt(val uint64) (int, bool) {
	if val > math.MaxInt {
		return math.MaxInt, true
	}
	return int(val), false
}

// NonNegative clamps a duration below zero to zero. CPU clocks may step
// backwards across thread migration on some platforms.
func NonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
