// Package registry maps execution units to their active profiler in a way
// that an interrupt handler can read without blocking.
//
// The live map is immutable and published behind an atomic pointer. A
// reader claims it by swapping the pointer for nil, looks up, and swaps it
// back. Writers serialise on a mutex, clone the map, apply the change and
// spin until they can swap the clone in while no reader holds the old copy.
// The spin is the one place busy-waiting is accepted: reader critical
// sections are a single map lookup.
package registry

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// CPUReporter is implemented by registered values that account CPU time.
// CPUTimeSinceLastRead returns the CPU time consumed since its previous
// call.
type CPUReporter interface {
	CPUTimeSinceLastRead() time.Duration
}

// Registry is a copy-on-write map readable from interrupt handlers.
type Registry[K comparable, V comparable] struct {
	live atomic.Pointer[map[K]V]

	mu         sync.Mutex
	terminated time.Duration
}

// New returns an empty registry.
func New[K comparable, V comparable]() *Registry[K, V] {
	r := &Registry[K, V]{}
	empty := make(map[K]V)
	r.live.Store(&empty)
	return r
}

// Get returns the value registered for k. It never blocks on writers.
func (r *Registry[K, V]) Get(k K) (V, bool) {
	m := r.claim()
	v, ok := (*m)[k]
	r.live.Store(m)
	return v, ok
}

// Add registers v for k. It fails, leaving the registry unchanged, when k
// already has a value.
func (r *Registry[K, V]) Add(k K, v V) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.published()
	if _, exists := (*cur)[k]; exists {
		return false
	}
	next := clone(*cur, 1)
	next[k] = v
	r.swap(cur, &next)
	return true
}

// Remove unregisters k if it is currently mapped to v. Removing an absent
// key or a key owned by another value is a no-op that returns false. The
// removed value's pending CPU time is kept for the next WorkerCPUTime call.
func (r *Registry[K, V]) Remove(k K, v V) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.published()
	existing, ok := (*cur)[k]
	if !ok || existing != v {
		return false
	}
	next := clone(*cur, 0)
	delete(next, k)
	r.swap(cur, &next)

	if rep, ok := any(v).(CPUReporter); ok {
		r.terminated += rep.CPUTimeSinceLastRead()
	}
	return true
}

// Len returns the number of registered values.
func (r *Registry[K, V]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(*r.published())
}

// WorkerCPUTime returns the CPU time consumed by every registered value
// since the previous call, plus whatever values removed in the meantime
// reported on their way out.
func (r *Registry[K, V]) WorkerCPUTime() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := r.terminated
	r.terminated = 0
	for _, v := range *r.published() {
		if rep, ok := any(v).(CPUReporter); ok {
			total += rep.CPUTimeSinceLastRead()
		}
	}
	return total
}

func (r *Registry[K, V]) claim() *map[K]V {
	for {
		if m := r.live.Swap(nil); m != nil {
			return m
		}
		runtime.Gosched()
	}
}

// published returns the live map once no reader holds it. Callers hold mu,
// so the returned map cannot be replaced concurrently.
func (r *Registry[K, V]) published() *map[K]V {
	for {
		if m := r.live.Load(); m != nil {
			return m
		}
		runtime.Gosched()
	}
}

func (r *Registry[K, V]) swap(old, next *map[K]V) {
	for !r.live.CompareAndSwap(old, next) {
		runtime.Gosched()
	}
}

func clone[K comparable, V any](m map[K]V, extra int) map[K]V {
	out := make(map[K]V, len(m)+extra)
	for k, v := range m {
		out[k] = v
	}
	return out
}
