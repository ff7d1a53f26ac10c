package correlate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/wallprof/internal/ctxchan"
)

type node struct {
	name string
	idle bool
}

func ctx(v any, from, to int64) Context {
	return Context{Handle: ctxchan.NewHandle(v), From: from, To: to}
}

func TestMatch_AdjacentInversion(t *testing.T) {
	start := &node{name: "start"}
	s1 := &node{name: "s1"}
	s2 := &node{name: "s2"}
	s3 := &node{name: "s3"}
	s4 := &node{name: "s4"}

	samples := []*node{start, s1, s2, s3, s4}
	timestamps := []int64{10, 20, 19, 31, 40}
	contexts := []Context{
		ctx("c0", 9, 20),
		ctx("c1", 19, 31),
		ctx("c2", 32, 40),
	}

	res := Match(samples, timestamps, contexts, Options[*node]{})

	assert.Equal(t, 3, res.Matched)
	assert.Equal(t, 1, res.Unmatched)
	require.Len(t, res.ByNode, 3)

	values := func(n *node) []any {
		agg, ok := res.ByNode[n]
		if !ok {
			return nil
		}
		out := make([]any, 0, len(agg.Contexts))
		for _, m := range agg.Contexts {
			out = append(out, m.Value)
		}
		return out
	}
	assert.Equal(t, []any{"c0"}, values(s2), "the swapped sample is processed first")
	assert.Equal(t, []any{"c1"}, values(s1))
	assert.Nil(t, values(s3), "window starts after this sample")
	assert.Equal(t, []any{"c2"}, values(s4))
	assert.Nil(t, values(start), "the start sample is never matched")

	for _, agg := range res.ByNode {
		assert.Equal(t, 1, agg.HitCount, "no sample matched twice")
	}
}

func TestMatch_DiscardsExpiredContexts(t *testing.T) {
	a := &node{name: "a"}
	samples := []*node{a, a, a}
	timestamps := []int64{0, 50, 60}
	contexts := []Context{
		ctx("old", 1, 2),
		ctx("older-than-50", 10, 49),
		ctx("hit", 49, 51),
		ctx("later", 70, 80),
	}

	res := Match(samples, timestamps, contexts, Options[*node]{})
	assert.Equal(t, 1, res.Matched)
	assert.Equal(t, 1, res.Unmatched)
	assert.Equal(t, 2, res.Expired)
	require.Contains(t, res.ByNode, a)
	assert.Equal(t, "hit", res.ByNode[a].Contexts[0].Value)
	assert.Equal(t, int64(50), res.ByNode[a].Contexts[0].Timestamp)
}

func TestMatch_InclusiveWindow(t *testing.T) {
	a := &node{name: "a"}
	res := Match([]*node{a, a, a}, []int64{0, 10, 20},
		[]Context{ctx(1, 5, 10), ctx(2, 20, 25)}, Options[*node]{})
	assert.Equal(t, 2, res.Matched)
	assert.Equal(t, 2, res.ByNode[a].HitCount)
}

func TestMatch_EmptyContextCountsHitOnly(t *testing.T) {
	a := &node{name: "a"}
	res := Match([]*node{a, a}, []int64{0, 5},
		[]Context{{From: 4, To: 6}}, Options[*node]{})
	require.Contains(t, res.ByNode, a)
	assert.Equal(t, 1, res.ByNode[a].HitCount)
	assert.Empty(t, res.ByNode[a].Contexts)
}

func TestMatch_NoInput(t *testing.T) {
	a := &node{}
	assert.Empty(t, Match([]*node{a, a}, []int64{1, 2}, nil, Options[*node]{}).ByNode)
	assert.Empty(t, Match(nil, nil, []Context{ctx(1, 0, 9)}, Options[*node]{}).ByNode)
}

func TestMatch_CPUTimeSkipsIdle(t *testing.T) {
	work := &node{name: "work"}
	idle := &node{name: "(idle)", idle: true}
	more := &node{name: "more"}

	samples := []*node{work, work, idle, more}
	timestamps := []int64{0, 10, 20, 30}
	contexts := []Context{
		{Handle: ctxchan.NewHandle("a"), From: 9, To: 11, CPUTime: 15 * time.Millisecond},
		{Handle: ctxchan.NewHandle("b"), From: 19, To: 21, CPUTime: 17 * time.Millisecond},
		{Handle: ctxchan.NewHandle("c"), From: 29, To: 31, CPUTime: 20 * time.Millisecond},
	}

	res := Match(samples, timestamps, contexts, Options[*node]{
		WithCPUTime:  true,
		StartCPUTime: 10 * time.Millisecond,
		IsIdle:       func(n *node) bool { return n.idle },
	})

	require.Len(t, res.ByNode, 3)
	assert.Equal(t, 5*time.Millisecond, res.ByNode[work].Contexts[0].CPUTime)
	assert.Zero(t, res.ByNode[idle].Contexts[0].CPUTime)
	assert.Equal(t, 5*time.Millisecond, res.ByNode[more].Contexts[0].CPUTime,
		"measured from the last non-idle sample")
}

func TestMatch_CPUTimeKeepsEmptyContexts(t *testing.T) {
	a := &node{name: "a"}
	res := Match([]*node{a, a}, []int64{0, 5},
		[]Context{{From: 4, To: 6, CPUTime: time.Millisecond, AsyncID: 9}},
		Options[*node]{WithCPUTime: true})
	require.Len(t, res.ByNode[a].Contexts, 1)
	m := res.ByNode[a].Contexts[0]
	assert.Nil(t, m.Value)
	assert.Equal(t, time.Millisecond, m.CPUTime)
	assert.Equal(t, int64(9), m.AsyncID)
}
