package codemap

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/wallprof/internal/unit"
)

var directory = struct {
	mu   sync.Mutex
	maps map[unit.ID]*CodeMap
}{maps: make(map[unit.ID]*CodeMap)}

// For returns the code map of u, creating it on first use with source and
// logger. Later calls return the same map and ignore their arguments.
func For(u unit.ID, source EventSource, logger zerolog.Logger) *CodeMap {
	directory.mu.Lock()
	defer directory.mu.Unlock()

	if m, ok := directory.maps[u]; ok {
		return m
	}
	m := New(u, source, logger)
	directory.maps[u] = m
	return m
}

// Release forgets the code map of u when the unit exits. Outstanding Enable
// calls are dropped along with their subscription.
func Release(u unit.ID) {
	directory.mu.Lock()
	m, ok := directory.maps[u]
	delete(directory.maps, u)
	directory.mu.Unlock()

	if !ok {
		return
	}
	for m.Enabled() {
		m.Disable()
	}
}
