package engine

// LineTick counts samples taken on one source line of a function.
type LineTick struct {
	Line     int
	HitCount int
}

// Node is one call-tree node.
type Node struct {
	ID           int
	FunctionName string
	ScriptName   string
	ScriptID     int
	Line         int
	Column       int
	HitCount     int
	LineTicks    []LineTick
	Children     []*Node
}

// IsLeaf reports whether n has no children.
func (n *Node) IsLeaf() bool { return len(n.Children) == 0 }

// IsPseudo reports whether n stands for runtime activity rather than a
// function, such as idle time or the garbage collector.
func (n *Node) IsPseudo() bool {
	if n.ScriptName != "" {
		return false
	}
	switch n.FunctionName {
	case RootName, ProgramName, IdleName, GCName:
		return true
	}
	return false
}

// Walk calls fn for n and every descendant, parents first.
func (n *Node) Walk(fn func(*Node)) {
	fn(n)
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

func (n *Node) addLineTick(line int) {
	for i := range n.LineTicks {
		if n.LineTicks[i].Line == line {
			n.LineTicks[i].HitCount++
			return
		}
	}
	n.LineTicks = append(n.LineTicks, LineTick{Line: line, HitCount: 1})
}

// Profile is the output of one session.
type Profile struct {
	Title string
	Root  *Node

	// Samples and Timestamps are parallel and in the order the engine
	// processed them, which may differ slightly from timestamp order.
	Samples    []*Node
	Timestamps []int64

	StartTime int64
	EndTime   int64
}

// TotalHits sums the hit counts of every node.
func (p *Profile) TotalHits() int {
	total := 0
	p.Root.Walk(func(n *Node) { total += n.HitCount })
	return total
}

// HasZeroHitLeaf reports whether some leaf below the root has no hits.
func (p *Profile) HasZeroHitLeaf() bool {
	found := false
	p.Root.Walk(func(n *Node) {
		if n != p.Root && n.IsLeaf() && n.HitCount == 0 {
			found = true
		}
	})
	return found
}
