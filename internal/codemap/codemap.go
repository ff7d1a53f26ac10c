// Package codemap resolves machine-code addresses to the source location of
// the function that owns them.
//
// A CodeMap is an ordered map from start address to Record, maintained from
// the runtime's code-lifecycle events. It has no internal locking: events
// are delivered on the execution unit's own goroutine, and lookups must run
// there too. Never call into a CodeMap from an interrupt handler.
package codemap

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/wallprof/internal/unit"
)

// CodeMap tracks live code regions of one execution unit.
type CodeMap struct {
	unit   unit.ID
	source EventSource
	logger zerolog.Logger

	// entries is sorted by Address with unique addresses.
	entries []*Record

	refs   int
	cancel func()
}

// New creates a code map for u fed by source. A nil source gives a map that
// is only populated through Add.
func New(u unit.ID, source EventSource, logger zerolog.Logger) *CodeMap {
	return &CodeMap{
		unit:   u,
		source: source,
		logger: logger.With().Str("component", "codemap").Stringer("unit", u).Logger(),
	}
}

// Unit returns the execution unit the map belongs to.
func (m *CodeMap) Unit() unit.ID { return m.unit }

// Enable subscribes to the event feed on the first call. Calls nest.
func (m *CodeMap) Enable() {
	m.refs++
	if m.refs > 1 {
		return
	}
	if m.source != nil {
		m.cancel = m.source.Subscribe(m.HandleEvent)
	}
	m.logger.Debug().Int("entries", len(m.entries)).Msg("Code map enabled")
}

// Disable undoes one Enable. The last Disable unsubscribes and clears every
// entry. Extra calls are ignored.
func (m *CodeMap) Disable() {
	if m.refs == 0 {
		return
	}
	m.refs--
	if m.refs > 0 {
		return
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.Clear()
	m.logger.Debug().Msg("Code map disabled")
}

// Enabled reports whether at least one Enable is outstanding.
func (m *CodeMap) Enabled() bool { return m.refs > 0 }

// Add inserts rec at address, overwriting any record with that start. Records
// whose range overlaps the new one are stale and removed, as is the record
// at rec.PreviousAddress when the code was moved.
func (m *CodeMap) Add(address uint64, rec *Record) {
	rec.Address = address
	if rec.PreviousAddress != 0 && rec.PreviousAddress != address {
		m.Remove(rec.PreviousAddress)
	}

	i := m.search(address)
	if i < len(m.entries) && m.entries[i].Address == address {
		m.entries[i] = rec
	} else {
		m.entries = append(m.entries, nil)
		copy(m.entries[i+1:], m.entries[i:])
		m.entries[i] = rec
	}

	// Predecessor still running into the new region.
	if i > 0 && m.entries[i-1].End() > address {
		m.entries = append(m.entries[:i-1], m.entries[i:]...)
		i--
	}
	// Successors starting inside the new region.
	j := i + 1
	for j < len(m.entries) && m.entries[j].Address < rec.End() {
		j++
	}
	if j > i+1 {
		m.entries = append(m.entries[:i+1], m.entries[j:]...)
	}
}

// Remove deletes the record starting exactly at address.
func (m *CodeMap) Remove(address uint64) bool {
	i := m.search(address)
	if i == len(m.entries) || m.entries[i].Address != address {
		return false
	}
	m.entries = append(m.entries[:i], m.entries[i+1:]...)
	return true
}

// Lookup returns the record whose range contains address, or nil.
func (m *CodeMap) Lookup(address uint64) *Record {
	i := sort.Search(len(m.entries), func(i int) bool {
		return m.entries[i].Address > address
	})
	if i == 0 {
		return nil
	}
	rec := m.entries[i-1]
	if address >= rec.End() {
		return nil
	}
	return rec
}

// At returns the record starting exactly at address, or nil.
func (m *CodeMap) At(address uint64) *Record {
	i := m.search(address)
	if i == len(m.entries) || m.entries[i].Address != address {
		return nil
	}
	return m.entries[i]
}

// Clear drops every record.
func (m *CodeMap) Clear() {
	clear(m.entries)
	m.entries = m.entries[:0]
}

// Len returns the number of records.
func (m *CodeMap) Len() int { return len(m.entries) }

// Entries returns the records in address order.
func (m *CodeMap) Entries() []*Record {
	out := make([]*Record, len(m.entries))
	copy(out, m.entries)
	return out
}

// HandleEvent applies one code-lifecycle event.
func (m *CodeMap) HandleEvent(ev Event) {
	switch ev.Kind {
	case CodeCreated, CodeMoved:
		m.Add(ev.Address, ev.record())
	case CodeRemoved:
		m.Remove(ev.Address)
	case ScriptAssigned:
		if rec := m.At(ev.Address); rec != nil {
			rec.SetScriptID(ev.ScriptID)
		}
	default:
		m.logger.Warn().Stringer("kind", ev.Kind).Msg("Ignoring unknown code event")
	}
}

// Symbolize resolves a stack of raw addresses, innermost frame first, into
// locations ordered outermost first. Addresses that resolve to no record are
// skipped.
func (m *CodeMap) Symbolize(addrs []uint64) []Location {
	out := make([]Location, 0, len(addrs))
	for i := len(addrs) - 1; i >= 0; i-- {
		if rec := m.Lookup(addrs[i]); rec != nil {
			out = append(out, rec.location(addrs[i]))
		}
	}
	return out
}

func (m *CodeMap) search(address uint64) int {
	return sort.Search(len(m.entries), func(i int) bool {
		return m.entries[i].Address >= address
	})
}
