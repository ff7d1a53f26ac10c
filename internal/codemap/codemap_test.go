package codemap

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/wallprof/internal/unit"
)

func newTestMap(src EventSource) *CodeMap {
	return New(unit.New(), src, zerolog.Nop())
}

func TestCodeMap_LookupDisjoint(t *testing.T) {
	m := newTestMap(nil)
	a := NewRecord(0, 0, "a", "a.js", 1, 1)
	b := NewRecord(0, 0, "b", "b.js", 2, 1)
	c := NewRecord(0, 0, "c", "c.js", 3, 1)
	a.Size, b.Size, c.Size = 0x10, 0x20, 0x8

	m.Add(0x2000, b)
	m.Add(0x1000, a)
	m.Add(0x3000, c)

	tests := []struct {
		name string
		addr uint64
		want *Record
	}{
		{name: "below all ranges", addr: 0x0fff, want: nil},
		{name: "start of a", addr: 0x1000, want: a},
		{name: "last byte of a", addr: 0x100f, want: a},
		{name: "end of a is exclusive", addr: 0x1010, want: nil},
		{name: "gap between a and b", addr: 0x1800, want: nil},
		{name: "inside b", addr: 0x2011, want: b},
		{name: "inside c", addr: 0x3007, want: c},
		{name: "past c", addr: 0x3008, want: nil},
		{name: "far above", addr: 0xffff_ffff, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Same(t, tt.want, m.Lookup(tt.addr))
		})
	}

	entries := m.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, []uint64{0x1000, 0x2000, 0x3000},
		[]uint64{entries[0].Address, entries[1].Address, entries[2].Address})
}

func TestCodeMap_EmptyAndZeroSize(t *testing.T) {
	m := newTestMap(nil)
	assert.Nil(t, m.Lookup(42))

	m.Add(100, NewRecord(0, 0, "marker", "", 0, 0))
	assert.Nil(t, m.Lookup(100))
	assert.NotNil(t, m.At(100))
}

func TestCodeMap_AddOverwritesSameStart(t *testing.T) {
	m := newTestMap(nil)
	first := NewRecord(0, 0x10, "first", "x.js", 1, 1)
	second := NewRecord(0, 0x10, "second", "x.js", 5, 1)
	m.Add(0x500, first)
	m.Add(0x500, second)

	assert.Equal(t, 1, m.Len())
	assert.Same(t, second, m.Lookup(0x505))
}

func TestCodeMap_AddEvictsOverlapping(t *testing.T) {
	m := newTestMap(nil)
	m.Add(0x100, NewRecord(0, 0x40, "old-low", "", 0, 0))
	m.Add(0x150, NewRecord(0, 0x10, "old-mid", "", 0, 0))
	m.Add(0x170, NewRecord(0, 0x10, "old-high", "", 0, 0))
	m.Add(0x200, NewRecord(0, 0x10, "untouched", "", 0, 0))

	fresh := NewRecord(0, 0x40, "fresh", "", 0, 0)
	m.Add(0x130, fresh)

	assert.Same(t, fresh, m.Lookup(0x130))
	assert.Same(t, fresh, m.Lookup(0x155), "record starting inside the new region is stale")
	assert.Nil(t, m.Lookup(0x100), "record running into the new region is stale")
	require.NotNil(t, m.Lookup(0x175))
	assert.Equal(t, "old-high", m.Lookup(0x175).FunctionName, "adjacent record is kept")
	require.NotNil(t, m.Lookup(0x200))
	assert.Equal(t, "untouched", m.Lookup(0x200).FunctionName)
	assert.Equal(t, 3, m.Len())
}

func TestCodeMap_Remove(t *testing.T) {
	m := newTestMap(nil)
	m.Add(0x10, NewRecord(0, 0x10, "f", "", 0, 0))

	assert.False(t, m.Remove(0x11), "remove is by exact start address")
	assert.True(t, m.Remove(0x10))
	assert.False(t, m.Remove(0x10))
	assert.Nil(t, m.Lookup(0x10))
}

func TestCodeMap_RelocationRemovesPrevious(t *testing.T) {
	feed := NewFeed()
	m := newTestMap(feed)
	m.Enable()
	defer m.Disable()

	feed.Create(0x1000, 0x20, "handler", "app.js", 10, 2)
	require.NotNil(t, m.Lookup(0x1005))

	// The new location does not overlap the old one.
	require.True(t, feed.Move(0x1000, 0x9000))

	assert.Nil(t, m.Lookup(0x1005))
	assert.Nil(t, m.At(0x1000))
	moved := m.Lookup(0x9005)
	require.NotNil(t, moved)
	assert.Equal(t, "handler", moved.FunctionName)
	assert.Equal(t, uint64(0x1000), moved.PreviousAddress)
	assert.Equal(t, 1, m.Len())
}

func TestCodeMap_MoveFromUnknownAddressKeepsLiveCode(t *testing.T) {
	feed := NewFeed()
	m := newTestMap(feed)
	m.Enable()
	defer m.Disable()

	feed.Create(0x2000, 0x40, "render", "view.js", 3, 1)
	live := feed.Live()

	assert.False(t, feed.Move(0x7000, 0x2010))

	rec := m.Lookup(0x2010)
	require.NotNil(t, rec)
	assert.Equal(t, "render", rec.FunctionName)
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, live, feed.Live())
}

func TestCodeMap_RemovalAndScriptEvents(t *testing.T) {
	feed := NewFeed()
	m := newTestMap(feed)
	m.Enable()
	defer m.Disable()

	feed.Create(0x40, 0x8, "f", "f.js", 1, 1)
	feed.Publish(Event{Kind: ScriptAssigned, Address: 0x40, ScriptID: 77})
	require.NotNil(t, m.Lookup(0x41))
	assert.Equal(t, 77, m.Lookup(0x41).ScriptID())

	// Script events for unknown code are ignored.
	feed.Publish(Event{Kind: ScriptAssigned, Address: 0x99, ScriptID: 1})

	feed.Remove(0x40)
	assert.Nil(t, m.Lookup(0x41))
	assert.Zero(t, m.Len())
}

func TestCodeMap_RefCounting(t *testing.T) {
	feed := NewFeed()
	m := newTestMap(feed)

	const nested = 3
	for range nested {
		m.Enable()
	}
	feed.Create(0x10, 0x10, "f", "", 0, 0)
	require.Equal(t, 1, m.Len())

	for range nested - 1 {
		m.Disable()
		assert.True(t, m.Enabled())
		assert.Equal(t, 1, m.Len(), "partial disable keeps entries")
	}

	m.Disable()
	assert.False(t, m.Enabled())
	assert.Zero(t, m.Len())

	// Unsubscribed: later events are not applied.
	feed.Create(0x80, 0x10, "g", "", 0, 0)
	assert.Zero(t, m.Len())

	// Extra disables are harmless.
	m.Disable()
	assert.False(t, m.Enabled())
}

func TestCodeMap_EnableReplaysLiveCode(t *testing.T) {
	feed := NewFeed()
	feed.Create(0x10, 0x10, "a", "", 0, 0)
	feed.Create(0x20, 0x10, "b", "", 0, 0)
	feed.Remove(0x10)

	m := newTestMap(feed)
	m.Enable()
	require.Equal(t, 1, m.Len())
	assert.Equal(t, "b", m.Lookup(0x25).FunctionName)

	m.Disable()
	assert.Zero(t, m.Len())

	m.Enable()
	assert.Equal(t, 1, m.Len(), "re-enable refills from the live set")
	m.Disable()
}

func TestCodeMap_Symbolize(t *testing.T) {
	m := newTestMap(nil)
	m.Add(0x100, NewRecord(0, 0x10, "main", "main.js", 1, 1))
	m.Add(0x200, NewRecord(0, 0x10, "serve", "http.js", 20, 4))
	m.Add(0x300, NewRecord(0, 0x10, "parse", "json.js", 7, 9))

	// Innermost first, with one unknown address.
	locs := m.Symbolize([]uint64{0x305, 0xdead, 0x201, 0x10f})

	require.Len(t, locs, 3)
	assert.Equal(t, "main", locs[0].FunctionName)
	assert.Equal(t, "serve", locs[1].FunctionName)
	assert.Equal(t, "parse", locs[2].FunctionName)
	assert.Equal(t, uint64(0x305), locs[2].Address)
	assert.Equal(t, 7, locs[2].Line)
	assert.Equal(t, 9, locs[2].Column)
}

func TestRecord_Equal(t *testing.T) {
	a := NewRecord(1, 2, "f", "s", 3, 4)
	b := NewRecord(1, 2, "f", "s", 3, 4)
	assert.True(t, a.Equal(b))

	b.SetScriptID(9)
	assert.False(t, a.Equal(b))
	a.SetScriptID(9)
	assert.True(t, a.Equal(b))

	b.Comment = "LazyCompile"
	assert.False(t, a.Equal(b))

	var nilRec *Record
	assert.False(t, a.Equal(nilRec))
	assert.True(t, nilRec.Equal(nil))
}

func TestFor_SingletonPerUnit(t *testing.T) {
	u := unit.New()
	defer Release(u)

	feed := NewFeed()
	m1 := For(u, feed, zerolog.Nop())
	m2 := For(u, nil, zerolog.Nop())
	assert.Same(t, m1, m2)

	other := unit.New()
	defer Release(other)
	assert.NotSame(t, m1, For(other, feed, zerolog.Nop()))

	m1.Enable()
	m1.Enable()
	Release(u)
	assert.False(t, m1.Enabled())
	assert.NotSame(t, m1, For(u, feed, zerolog.Nop()))
}
