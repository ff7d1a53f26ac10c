package cpusampler

import (
	"fmt"
	"time"

	"github.com/google/pprof/profile"
	"github.com/zeebo/xxh3"

	"github.com/coral-mesh/wallprof/internal/codemap"
	"github.com/coral-mesh/wallprof/internal/translate"
)

// ToPprof encodes p. Samples sharing a call path and context are merged.
func (p *Profile) ToPprof(period time.Duration, start time.Time) *profile.Profile {
	out := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "samples", Unit: "count"},
			{Type: "cpu", Unit: "nanoseconds"},
		},
		PeriodType:    &profile.ValueType{Type: "cpu", Unit: "nanoseconds"},
		Period:        period.Nanoseconds(),
		TimeNanos:     start.UnixNano(),
		DurationNanos: p.EndTime - p.StartTime,
	}

	locations := make(map[uint64]*profile.Location)
	functions := make(map[uint64]*profile.Function)
	merged := make(map[uint64]*profile.Sample)

	for _, s := range p.Samples {
		label := ""
		if s.Context != nil {
			label = fmt.Sprint(s.Context)
		}
		key := s.Key() ^ xxh3.HashString(label)
		if ps, ok := merged[key]; ok {
			ps.Value[0]++
			ps.Value[1] += s.CPUTime.Nanoseconds()
			continue
		}

		ps := &profile.Sample{Value: []int64{1, s.CPUTime.Nanoseconds()}}
		for i := len(s.Locations) - 1; i >= 0; i-- {
			ps.Location = append(ps.Location, pprofLocation(out, locations, functions, s.Locations[i]))
		}
		if label != "" {
			ps.Label = map[string][]string{translate.ContextLabel: {label}}
		}
		merged[key] = ps
		out.Sample = append(out.Sample, ps)
	}
	return out
}

func pprofLocation(p *profile.Profile, locations map[uint64]*profile.Location, functions map[uint64]*profile.Function, loc codemap.Location) *profile.Location {
	lkey := xxh3.HashString(fmt.Sprintf("%s\x00%s\x00%d:%d", loc.FunctionName, loc.ScriptName, loc.Line, loc.Column))
	if l, ok := locations[lkey]; ok {
		return l
	}

	fkey := xxh3.HashString(loc.FunctionName + "\x00" + loc.ScriptName)
	fn, ok := functions[fkey]
	if !ok {
		name := loc.FunctionName
		if name == "" {
			name = "(anonymous)"
		}
		fn = &profile.Function{
			ID:         uint64(len(p.Function) + 1),
			Name:       name,
			SystemName: name,
			Filename:   loc.ScriptName,
		}
		functions[fkey] = fn
		p.Function = append(p.Function, fn)
	}

	l := &profile.Location{
		ID:      uint64(len(p.Location) + 1),
		Address: loc.Address,
		Line: []profile.Line{{
			Function: fn,
			Line:     int64(loc.Line),
			Column:   int64(loc.Column),
		}},
	}
	locations[lkey] = l
	p.Location = append(p.Location, l)
	return l
}
