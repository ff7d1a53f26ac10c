package translate

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/google/pprof/profile"
	"github.com/zeebo/xxh3"

	"github.com/coral-mesh/wallprof/internal/engine"
)

// Label keys attached to pprof samples.
const (
	ContextLabel = "context"
	AsyncIDLabel = "async_id"
)

// ToPprof encodes tp. Each matched context becomes its own sample carrying
// the context as labels; hits without a context are folded into one
// unlabeled sample per node. Map contexts (map[string]string) are expanded
// into one label per key, anything else is rendered under ContextLabel.
func ToPprof(tp *TimeProfile, period time.Duration, start time.Time) *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "samples", Unit: "count"},
			{Type: "wall", Unit: "nanoseconds"},
		},
		PeriodType:    &profile.ValueType{Type: "wall", Unit: "nanoseconds"},
		Period:        period.Nanoseconds(),
		TimeNanos:     start.UnixNano(),
		DurationNanos: tp.EndTime - tp.StartTime,
	}
	if tp.HasCPUTime {
		p.SampleType = append(p.SampleType, &profile.ValueType{Type: "cpu", Unit: "nanoseconds"})
	}

	b := builder{
		p:         p,
		period:    period.Nanoseconds(),
		withCPU:   tp.HasCPUTime,
		functions: make(map[uint64]*profile.Function),
		locations: make(map[uint64]*profile.Location),
	}
	tp.TopDownRoot.Walk(func(n *TimeNode, path []*TimeNode) {
		if n.HitCount == 0 || len(path) < 2 {
			return
		}
		b.addSamples(n, path[1:])
	})
	return p
}

type builder struct {
	p         *profile.Profile
	period    int64
	withCPU   bool
	functions map[uint64]*profile.Function
	locations map[uint64]*profile.Location
}

func (b *builder) addSamples(n *TimeNode, path []*TimeNode) {
	stack := make([]*profile.Location, 0, len(path))
	for i := len(path) - 1; i >= 0; i-- {
		stack = append(stack, b.location(path[i]))
	}

	unlabeled := n.HitCount
	for _, m := range n.Contexts {
		s := &profile.Sample{
			Location: stack,
			Value:    b.values(1, m.CPUTime.Nanoseconds()),
		}
		setLabels(s, m.Value, m.AsyncID)
		b.p.Sample = append(b.p.Sample, s)
		unlabeled--
	}
	if unlabeled > 0 {
		b.p.Sample = append(b.p.Sample, &profile.Sample{
			Location: stack,
			Value:    b.values(int64(unlabeled), 0),
		})
	}
}

func (b *builder) values(count, cpu int64) []int64 {
	v := []int64{count, count * b.period}
	if b.withCPU {
		v = append(v, cpu)
	}
	return v
}

func (b *builder) location(n *TimeNode) *profile.Location {
	key := xxh3.HashString(n.Name + "\x00" + n.ScriptName + "\x00" +
		strconv.Itoa(n.ScriptID) + ":" + strconv.Itoa(n.LineNumber) + ":" + strconv.Itoa(n.ColumnNumber))
	if loc, ok := b.locations[key]; ok {
		return loc
	}
	loc := &profile.Location{
		ID: uint64(len(b.p.Location) + 1),
		Line: []profile.Line{{
			Function: b.function(n),
			Line:     int64(n.LineNumber),
			Column:   int64(n.ColumnNumber),
		}},
	}
	b.locations[key] = loc
	b.p.Location = append(b.p.Location, loc)
	return loc
}

func (b *builder) function(n *TimeNode) *profile.Function {
	key := xxh3.HashString(n.Name + "\x00" + n.ScriptName + "\x00" + strconv.Itoa(n.ScriptID))
	if fn, ok := b.functions[key]; ok {
		return fn
	}
	name := n.Name
	if name == "" {
		name = "(anonymous)"
	}
	fn := &profile.Function{
		ID:         uint64(len(b.p.Function) + 1),
		Name:       name,
		SystemName: name,
		Filename:   n.ScriptName,
	}
	if n.Name != engine.RootName {
		fn.StartLine = int64(n.LineNumber)
	}
	b.functions[key] = fn
	b.p.Function = append(b.p.Function, fn)
	return fn
}

func setLabels(s *profile.Sample, value any, asyncID int64) {
	switch v := value.(type) {
	case nil:
	case map[string]string:
		s.Label = make(map[string][]string, len(v))
		for _, k := range slices.Sorted(maps.Keys(v)) {
			s.Label[k] = []string{v[k]}
		}
	case string:
		s.Label = map[string][]string{ContextLabel: {v}}
	default:
		s.Label = map[string][]string{ContextLabel: {fmt.Sprint(v)}}
	}
	if asyncID != 0 {
		s.NumLabel = map[string][]int64{AsyncIDLabel: {asyncID}}
	}
}
