// Package correlate matches engine samples with the contexts captured by
// the interrupt handler while each sample was being taken.
package correlate

import (
	"time"

	"github.com/coral-mesh/wallprof/internal/ctxchan"
	"github.com/coral-mesh/wallprof/internal/safe"
)

// Context is what the interrupt handler captured around one engine sample.
// From and To bracket the call into the engine, so the sample's timestamp
// falls inside [From, To].
type Context struct {
	Handle  *ctxchan.Handle
	From    int64
	To      int64
	CPUTime time.Duration
	AsyncID int64
}

// Matched is a context attached to a tree node.
type Matched struct {
	Value     any
	Timestamp int64
	CPUTime   time.Duration
	AsyncID   int64
}

// NodeContexts aggregates the matches of one node. HitCount counts matched
// samples, including those whose context was empty.
type NodeContexts struct {
	Contexts []Matched
	HitCount int
}

// Options tunes matching.
type Options[N comparable] struct {
	// WithCPUTime attributes CPU time deltas to matches.
	WithCPUTime bool
	// StartCPUTime is the CPU clock reading when the session started.
	StartCPUTime time.Duration
	// IsIdle reports whether a node is idle or program time, which never
	// takes CPU attribution.
	IsIdle func(N) bool
}

// Result is the outcome of Match.
type Result[N comparable] struct {
	ByNode map[N]*NodeContexts
	// Matched counts samples paired with a context.
	Matched int
	// Unmatched counts samples examined without finding a context.
	Unmatched int
	// Expired counts contexts discarded because every later sample was
	// past their window.
	Expired int
}

// Match pairs samples (node references with parallel timestamps, in engine
// order) with contexts (in capture order).
//
// The first sample is skipped: the engine takes it synchronously when the
// session starts, outside the interrupt path. Each context matches at most
// one sample. The engine may deliver two adjacent samples swapped; when the
// next timestamp is lower than the current one, the pair is processed in
// swapped order. Longer inversions are not corrected.
func Match[N comparable](samples []N, timestamps []int64, contexts []Context, opts Options[N]) Result[N] {
	res := Result[N]{ByNode: make(map[N]*NodeContexts)}
	count := min(len(samples), len(timestamps))
	if len(contexts) == 0 || count == 0 {
		return res
	}

	lastCPU := opts.StartCPUTime
	next := 0
	delta := 0
	for i := 1; i < count; i++ {
		switch {
		case delta == 1:
			delta = -1
		case delta == -1:
			delta = 0
		case i < count-1 && timestamps[i+1] < timestamps[i]:
			delta = 1
		}

		idx := i + delta
		node := samples[idx]
		ts := timestamps[idx]

		matched := false
		for next < len(contexts) {
			c := contexts[next]
			if c.To < ts {
				next++
				res.Expired++
				continue
			}
			if c.From > ts {
				break
			}

			agg, ok := res.ByNode[node]
			if !ok {
				agg = &NodeContexts{}
				res.ByNode[node] = agg
			}
			agg.HitCount++

			m := Matched{Value: c.Handle.Value(), Timestamp: ts, AsyncID: c.AsyncID}
			if opts.WithCPUTime {
				if opts.IsIdle == nil || !opts.IsIdle(node) {
					m.CPUTime = safe.NonNegative(c.CPUTime - lastCPU)
					lastCPU = c.CPUTime
				}
			}
			if c.Handle != nil || opts.WithCPUTime {
				agg.Contexts = append(agg.Contexts, m)
			}

			next++
			matched = true
			break
		}

		if matched {
			res.Matched++
		} else {
			res.Unmatched++
		}
	}
	return res
}
