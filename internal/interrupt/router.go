package interrupt

import (
	"sync"
	"sync/atomic"

	"github.com/coral-mesh/wallprof/internal/unit"
)

// Target receives interrupts routed to its execution unit. chain invokes
// the handler that was installed before the router; the target decides
// whether and when to call it.
type Target interface {
	HandleInterrupt(u unit.ID, chain HandlerFunc)
}

// LookupFunc finds the target registered for u. It runs on the interrupt
// path.
type LookupFunc func(u unit.ID) (Target, bool)

// Router installs one handler on a Line for every profiler that needs it,
// and dispatches each interrupt to the profiler of the interrupted unit.
type Router struct {
	line   *Line
	lookup LookupFunc
	handle HandlerFunc

	mu       sync.Mutex
	useCount int

	// old is the handler displaced by the first install. A nil pointer
	// means the router has never been installed; a pointer to a nil func
	// means nothing was installed before it.
	old atomic.Pointer[HandlerFunc]

	unowned atomic.Uint64
}

// NewRouter returns a router for line that finds targets with lookup.
func NewRouter(line *Line, lookup LookupFunc) *Router {
	r := &Router{line: line, lookup: lookup}
	r.handle = r.dispatch
	return r
}

// IncreaseUseCount installs the router handler. The handler is reinstalled
// on every call so a layer that replaced it in the meantime is displaced;
// the handler it originally replaced is only saved the first time.
func (r *Router) IncreaseUseCount() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.useCount++
	prev := r.line.Install(r.handle)
	if r.useCount == 1 {
		r.old.Store(&prev)
	}
}

// DecreaseUseCount releases one use. The last release restores the saved
// handler. Calls without a matching increase are ignored.
func (r *Router) DecreaseUseCount() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.useCount == 0 {
		return
	}
	r.useCount--
	if r.useCount > 0 {
		return
	}
	var saved HandlerFunc
	if p := r.old.Load(); p != nil {
		saved = *p
	}
	r.line.Install(saved)
}

// UseCount returns the number of outstanding uses.
func (r *Router) UseCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.useCount
}

// Installed reports whether the router handler is on the line.
func (r *Router) Installed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.useCount > 0
}

// Unowned returns how many interrupts hit units without a target and were
// chained to the saved handler.
func (r *Router) Unowned() uint64 {
	return r.unowned.Load()
}

func (r *Router) dispatch(u unit.ID) {
	p := r.old.Load()
	if p == nil || *p == nil {
		return
	}
	chain := *p

	target, ok := r.lookup(u)
	if !ok {
		r.unowned.Add(1)
		chain(u)
		return
	}
	target.HandleInterrupt(u, chain)
}
