package codemap

import (
	"slices"
	"sync"
)

// EventKind is the type of a code-lifecycle event.
type EventKind uint8

const (
	// CodeCreated announces a new code region.
	CodeCreated EventKind = iota + 1
	// CodeMoved announces that the region at PreviousAddress now lives at
	// Address.
	CodeMoved
	// CodeRemoved announces that the region at Address was freed.
	CodeRemoved
	// ScriptAssigned attaches ScriptID to the region at Address.
	ScriptAssigned
)

func (k EventKind) String() string {
	switch k {
	case CodeCreated:
		return "created"
	case CodeMoved:
		return "moved"
	case CodeRemoved:
		return "removed"
	case ScriptAssigned:
		return "script-assigned"
	default:
		return "unknown"
	}
}

// Event is one notification from the runtime's code-lifecycle feed.
type Event struct {
	Kind            EventKind
	Address         uint64
	PreviousAddress uint64
	Size            uint64
	Line            int
	Column          int
	Comment         string
	FunctionName    string
	ScriptName      string
	ScriptID        int
}

func (e Event) record() *Record {
	r := &Record{
		Address:         e.Address,
		PreviousAddress: e.PreviousAddress,
		Size:            e.Size,
		Line:            e.Line,
		Column:          e.Column,
		Comment:         e.Comment,
		FunctionName:    e.FunctionName,
		ScriptName:      e.ScriptName,
	}
	r.SetScriptID(e.ScriptID)
	return r
}

// EventSource delivers code-lifecycle events. Subscribe replays the code
// that is already live as CodeCreated events before returning, then
// delivers new events on the goroutine that publishes them. The returned
// function cancels the subscription.
type EventSource interface {
	Subscribe(fn func(Event)) (cancel func())
}

// Feed is an in-process EventSource. The runtime hosting an execution unit
// publishes to it as it creates, moves and frees code.
type Feed struct {
	mu     sync.Mutex
	live   map[uint64]Event
	subs   map[int]func(Event)
	nextID int
}

// NewFeed returns an empty feed.
func NewFeed() *Feed {
	return &Feed{
		live: make(map[uint64]Event),
		subs: make(map[int]func(Event)),
	}
}

// Publish records ev and delivers it to every subscriber.
func (f *Feed) Publish(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch ev.Kind {
	case CodeCreated:
		f.live[ev.Address] = ev
	case CodeMoved:
		delete(f.live, ev.PreviousAddress)
		created := ev
		created.Kind = CodeCreated
		f.live[ev.Address] = created
	case CodeRemoved:
		delete(f.live, ev.Address)
	case ScriptAssigned:
		if cur, ok := f.live[ev.Address]; ok {
			cur.ScriptID = ev.ScriptID
			f.live[ev.Address] = cur
		}
	}

	for _, fn := range f.subs {
		fn(ev)
	}
}

// Create publishes a CodeCreated event.
func (f *Feed) Create(address, size uint64, functionName, scriptName string, line, column int) {
	f.Publish(Event{
		Kind:         CodeCreated,
		Address:      address,
		Size:         size,
		FunctionName: functionName,
		ScriptName:   scriptName,
		Line:         line,
		Column:       column,
	})
}

// Move publishes a CodeMoved event carrying the metadata of the code that
// was at from. It publishes nothing and returns false when no code is live
// at from.
func (f *Feed) Move(from, to uint64) bool {
	f.mu.Lock()
	prev, ok := f.live[from]
	f.mu.Unlock()
	if !ok {
		return false
	}
	prev.Kind = CodeMoved
	prev.PreviousAddress = from
	prev.Address = to
	f.Publish(prev)
	return true
}

// Remove publishes a CodeRemoved event.
func (f *Feed) Remove(address uint64) {
	f.Publish(Event{Kind: CodeRemoved, Address: address})
}

// Live returns the number of live code regions.
func (f *Feed) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

// Subscribe implements EventSource.
func (f *Feed) Subscribe(fn func(Event)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	addrs := make([]uint64, 0, len(f.live))
	for addr := range f.live {
		addrs = append(addrs, addr)
	}
	slices.Sort(addrs)
	for _, addr := range addrs {
		fn(f.live[addr])
	}

	id := f.nextID
	f.nextID++
	f.subs[id] = fn

	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}
