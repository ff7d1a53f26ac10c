// Package ringbuf provides a fixed-capacity circular buffer that can be
// written from an interrupt path and drained from normal code.
//
// A Ring never grows. Once it is full, Push refuses the value and counts it
// as dropped. One producer and one consumer may run concurrently; multiple
// producers must be serialised by the caller.
package ringbuf

import (
	"sync/atomic"

	"github.com/coral-mesh/wallprof/internal/safe"
)

// Ring is a lock-free single-producer single-consumer circular buffer.
type Ring[T any] struct {
	buf []T

	// head is the next slot to read, tail the next slot to write. Both grow
	// monotonically and are reduced modulo len(buf) on access.
	head atomic.Uint64
	tail atomic.Uint64

	dropped atomic.Uint64
}

// New allocates a Ring holding at most capacity values. A capacity below one
// is raised to one.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v. It returns false and counts a drop when the ring is full.
// Push never allocates.
func (r *Ring[T]) Push(v T) bool {
	tail := r.tail.Load()
	if tail-r.head.Load() >= uint64(len(r.buf)) {
		r.dropped.Add(1)
		return false
	}
	r.buf[tail%uint64(len(r.buf))] = v
	r.tail.Store(tail + 1)
	return true
}

// Pop removes and returns the oldest value.
func (r *Ring[T]) Pop() (T, bool) {
	var zero T
	head := r.head.Load()
	if head == r.tail.Load() {
		return zero, false
	}
	idx := head % uint64(len(r.buf))
	v := r.buf[idx]
	r.buf[idx] = zero
	r.head.Store(head + 1)
	return v, true
}

// Front returns the oldest value without removing it.
func (r *Ring[T]) Front() (T, bool) {
	var zero T
	head := r.head.Load()
	if head == r.tail.Load() {
		return zero, false
	}
	return r.buf[head%uint64(len(r.buf))], true
}

// Drain pops every value currently stored and appends it to dst in
// insertion order.
func (r *Ring[T]) Drain(dst []T) []T {
	for {
		v, ok := r.Pop()
		if !ok {
			return dst
		}
		dst = append(dst, v)
	}
}

// Len returns the number of stored values.
func (r *Ring[T]) Len() int {
	n, _ := safe.Uint64ToInt(r.tail.Load() - r.head.Load())
	return n
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Empty reports whether no value is stored.
func (r *Ring[T]) Empty() bool { return r.Len() == 0 }

// Full reports whether the next Push would be dropped.
func (r *Ring[T]) Full() bool { return r.Len() >= len(r.buf) }

// Dropped returns how many values Push refused since construction.
func (r *Ring[T]) Dropped() uint64 { return r.dropped.Load() }
