// Package testutil provides helpers shared by wallprof tests.
package testutil

import (
	"context"
	"testing"
	"time"
)

// NewTestContext returns a context that expires after timeout and is
// cancelled when the test ends.
func NewTestContext(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// Eventually polls cond every tick until it holds or the deadline passes.
// Reports whether cond held.
func Eventually(deadline, tick time.Duration, cond func() bool) bool {
	end := time.Now().Add(deadline)
	for {
		if cond() {
			return true
		}
		if time.Now().After(end) {
			return false
		}
		time.Sleep(tick)
	}
}
