// Package ctxchan publishes the "current context" of an execution unit to
// code running on the interrupt path.
//
// A Channel keeps two slots and an atomic pointer to the selected one. Set
// writes the slot that is not selected and then publishes it, so a reader
// never observes a slot while it is being written. Get never blocks and
// never allocates.
//
// The channel supports one writer. Readers may run concurrently with it.
package ctxchan

import "sync/atomic"

// Handle is an immutable reference to a caller supplied context value.
// Samples share handles with the application; nothing mutates a handle once
// it is published.
type Handle struct {
	value any
}

// NewHandle wraps v. A nil v yields a nil handle, meaning "no context".
func NewHandle(v any) *Handle {
	if v == nil {
		return nil
	}
	return &Handle{value: v}
}

// Value returns the wrapped value. It is safe to call on a nil handle.
func (h *Handle) Value() any {
	if h == nil {
		return nil
	}
	return h.value
}

// Channel is a double-buffered context slot. The zero value is ready to use
// and must not be copied after first use.
type Channel struct {
	slots   [2]atomic.Pointer[Handle]
	current atomic.Pointer[atomic.Pointer[Handle]]
}

// New returns an empty channel.
func New() *Channel {
	return &Channel{}
}

// Set publishes v as the current context. A nil v clears it.
func (c *Channel) Set(v any) {
	c.SetHandle(NewHandle(v))
}

// SetHandle publishes an existing handle, letting callers share one handle
// between several channels.
func (c *Channel) SetHandle(h *Handle) {
	next := &c.slots[1]
	if c.selected() == next {
		next = &c.slots[0]
	}
	next.Store(h)
	// The slot store happens before the publish under the Go memory model,
	// so a reader that loads next also sees h.
	c.current.Store(next)
}

// Get returns the current handle, or nil when no context is set.
func (c *Channel) Get() *Handle {
	return c.selected().Load()
}

// Value returns the current context value, or nil.
func (c *Channel) Value() any {
	return c.Get().Value()
}

func (c *Channel) selected() *atomic.Pointer[Handle] {
	if p := c.current.Load(); p != nil {
		return p
	}
	return &c.slots[0]
}
