// Package translate turns engine call trees into time profiles carrying the
// contexts matched to each node, and encodes them as pprof.
package translate

import (
	"github.com/coral-mesh/wallprof/internal/correlate"
	"github.com/coral-mesh/wallprof/internal/engine"
)

// TimeNode is a node of a time profile.
type TimeNode struct {
	Name         string
	ScriptName   string
	ScriptID     int
	LineNumber   int
	ColumnNumber int
	HitCount     int
	Children     []*TimeNode
	Contexts     []correlate.Matched
}

// Walk calls fn for n and every descendant with the path from the root,
// n included.
func (n *TimeNode) Walk(fn func(n *TimeNode, path []*TimeNode)) {
	n.walk(nil, fn)
}

func (n *TimeNode) walk(path []*TimeNode, fn func(*TimeNode, []*TimeNode)) {
	path = append(path, n)
	fn(n, path)
	for _, c := range n.Children {
		c.walk(path, fn)
	}
}

// TimeProfile is a translated session.
type TimeProfile struct {
	TopDownRoot *TimeNode
	StartTime   int64
	EndTime     int64
	HasCPUTime  bool
}

// TotalHits sums the hit counts of every node.
func (p *TimeProfile) TotalHits() int {
	total := 0
	p.TopDownRoot.Walk(func(n *TimeNode, _ []*TimeNode) { total += n.HitCount })
	return total
}

// Translate converts p. With byNode nil, nodes keep the engine's hit count.
// Otherwise hit counts and contexts come from byNode, and nodes absent from
// it get no hits: every interrupt sample has a context, so the engine took
// those samples for another reason. includeLines produces one child per
// sampled line under each function; contexts are not carried in that mode.
func Translate(p *engine.Profile, includeLines bool, byNode map[*engine.Node]*correlate.NodeContexts, hasCPUTime bool) *TimeProfile {
	tp := &TimeProfile{
		StartTime:  p.StartTime,
		EndTime:    p.EndTime,
		HasCPUTime: hasCPUTime,
	}
	if includeLines {
		tp.TopDownRoot = lineRoot(p.Root)
	} else {
		t := translator{byNode: byNode}
		tp.TopDownRoot = t.node(p.Root)
	}
	return tp
}

type translator struct {
	byNode map[*engine.Node]*correlate.NodeContexts
}

func (t translator) node(n *engine.Node) *TimeNode {
	out := &TimeNode{
		Name:         n.FunctionName,
		ScriptName:   n.ScriptName,
		ScriptID:     n.ScriptID,
		LineNumber:   n.Line,
		ColumnNumber: n.Column,
		HitCount:     n.HitCount,
		Children:     make([]*TimeNode, 0, len(n.Children)),
	}
	if t.byNode != nil {
		out.HitCount = 0
		if agg, ok := t.byNode[n]; ok {
			out.HitCount = agg.HitCount
			out.Contexts = agg.Contexts
		}
	}
	for _, c := range n.Children {
		out.Children = append(out.Children, t.node(c))
	}
	return out
}

// lineRoot flattens the per-line children of every top level function
// under the root.
func lineRoot(root *engine.Node) *TimeNode {
	out := &TimeNode{
		Name:         root.FunctionName,
		ScriptName:   root.ScriptName,
		ScriptID:     root.ScriptID,
		LineNumber:   root.Line,
		ColumnNumber: root.Column,
	}
	for _, c := range root.Children {
		out.Children = append(out.Children, lineChildren(c)...)
	}
	return out
}

// lineChildren returns one leaf per line tick of n (or a single leaf for
// pseudo functions that only have a hit count), followed by a node per
// callee positioned at its call site.
func lineChildren(n *engine.Node) []*TimeNode {
	var out []*TimeNode
	switch {
	case len(n.LineTicks) > 0:
		for _, lt := range n.LineTicks {
			out = append(out, &TimeNode{
				Name:       n.FunctionName,
				ScriptName: n.ScriptName,
				ScriptID:   n.ScriptID,
				LineNumber: lt.Line,
				HitCount:   lt.HitCount,
			})
		}
	case n.HitCount > 0:
		out = append(out, &TimeNode{
			Name:         n.FunctionName,
			ScriptName:   n.ScriptName,
			ScriptID:     n.ScriptID,
			LineNumber:   n.Line,
			ColumnNumber: n.Column,
			HitCount:     n.HitCount,
		})
	}
	for _, c := range n.Children {
		out = append(out, &TimeNode{
			Name:         n.FunctionName,
			ScriptName:   n.ScriptName,
			ScriptID:     n.ScriptID,
			LineNumber:   c.Line,
			ColumnNumber: c.Column,
			Children:     lineChildren(c),
		})
	}
	return out
}
