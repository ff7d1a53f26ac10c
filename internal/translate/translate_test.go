package translate

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/pprof/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/wallprof/internal/correlate"
	"github.com/coral-mesh/wallprof/internal/engine"
)

// fixture builds:
//
//	(root)
//	├── main (app.js:1) hits 1, line ticks 3:1
//	│   └── work (app.js:10) hits 4, line ticks 11:1 12:3
//	└── (program) hits 2
func fixture() (*engine.Profile, map[string]*engine.Node) {
	work := &engine.Node{ID: 3, FunctionName: "work", ScriptName: "app.js", ScriptID: 7, Line: 10, Column: 2,
		HitCount: 4, LineTicks: []engine.LineTick{{Line: 11, HitCount: 1}, {Line: 12, HitCount: 3}}}
	mainNode := &engine.Node{ID: 2, FunctionName: "main", ScriptName: "app.js", ScriptID: 7, Line: 1,
		HitCount: 1, LineTicks: []engine.LineTick{{Line: 3, HitCount: 1}}, Children: []*engine.Node{work}}
	program := &engine.Node{ID: 4, FunctionName: engine.ProgramName, HitCount: 2}
	root := &engine.Node{ID: 1, FunctionName: engine.RootName, Children: []*engine.Node{mainNode, program}}
	return &engine.Profile{Root: root, StartTime: 100, EndTime: 1100},
		map[string]*engine.Node{"main": mainNode, "work": work, "program": program}
}

func TestTranslate_KeepsEngineHits(t *testing.T) {
	p, _ := fixture()
	tp := Translate(p, false, nil, false)

	assert.Equal(t, int64(100), tp.StartTime)
	assert.Equal(t, int64(1100), tp.EndTime)
	assert.Equal(t, 7, tp.TotalHits())

	root := tp.TopDownRoot
	assert.Equal(t, engine.RootName, root.Name)
	require.Len(t, root.Children, 2)
	mainNode := root.Children[0]
	assert.Equal(t, "main", mainNode.Name)
	assert.Equal(t, 1, mainNode.HitCount)
	require.Len(t, mainNode.Children, 1)
	assert.Equal(t, 4, mainNode.Children[0].HitCount)
	assert.Equal(t, 7, mainNode.Children[0].ScriptID)
}

func TestTranslate_WithContexts(t *testing.T) {
	p, nodes := fixture()
	byNode := map[*engine.Node]*correlate.NodeContexts{
		nodes["work"]: {HitCount: 2, Contexts: []correlate.Matched{{Value: "a"}, {Value: "b"}}},
	}
	tp := Translate(p, false, byNode, false)

	mainNode := tp.TopDownRoot.Children[0]
	assert.Zero(t, mainNode.HitCount, "node without matches loses its hits")
	assert.Zero(t, tp.TopDownRoot.Children[1].HitCount)
	work := mainNode.Children[0]
	assert.Equal(t, 2, work.HitCount)
	require.Len(t, work.Contexts, 2)
	assert.Equal(t, "b", work.Contexts[1].Value)
	assert.Equal(t, 2, tp.TotalHits())
}

func TestTranslate_IncludeLines(t *testing.T) {
	p, _ := fixture()
	tp := Translate(p, true, nil, false)

	root := tp.TopDownRoot
	// main contributes one line leaf plus one call-site node; (program)
	// contributes a single leaf.
	require.Len(t, root.Children, 3)

	mainLine := root.Children[0]
	assert.Equal(t, "main", mainLine.Name)
	assert.Equal(t, 3, mainLine.LineNumber)
	assert.Equal(t, 1, mainLine.HitCount)
	assert.Empty(t, mainLine.Children)

	callSite := root.Children[1]
	assert.Equal(t, "main", callSite.Name)
	assert.Equal(t, 10, callSite.LineNumber, "positioned at the callee")
	assert.Zero(t, callSite.HitCount)
	require.Len(t, callSite.Children, 2)
	assert.Equal(t, "work", callSite.Children[0].Name)
	assert.Equal(t, 11, callSite.Children[0].LineNumber)
	assert.Equal(t, 3, callSite.Children[1].HitCount)

	program := root.Children[2]
	assert.Equal(t, engine.ProgramName, program.Name)
	assert.Equal(t, 2, program.HitCount)

	assert.Equal(t, 7, tp.TotalHits())
}

func TestToPprof(t *testing.T) {
	p, nodes := fixture()
	byNode := map[*engine.Node]*correlate.NodeContexts{
		nodes["work"]: {HitCount: 3, Contexts: []correlate.Matched{
			{Value: map[string]string{"route": "/a", "user": "u1"}, CPUTime: 2 * time.Millisecond, AsyncID: 5},
			{Value: 42, CPUTime: time.Millisecond},
		}},
		nodes["program"]: {HitCount: 1},
	}
	tp := Translate(p, false, byNode, true)

	start := time.Unix(1700000000, 0)
	prof := ToPprof(tp, 10*time.Millisecond, start)
	require.NoError(t, prof.CheckValid())

	assert.Equal(t, start.UnixNano(), prof.TimeNanos)
	assert.Equal(t, int64(1000), prof.DurationNanos)
	require.Len(t, prof.SampleType, 3)
	assert.Equal(t, "cpu", prof.SampleType[2].Type)

	// work: two labeled samples + one unlabeled; program: one unlabeled.
	require.Len(t, prof.Sample, 4)

	first := prof.Sample[0]
	assert.Equal(t, []int64{1, int64(10 * time.Millisecond), int64(2 * time.Millisecond)}, first.Value)
	assert.Equal(t, []string{"/a"}, first.Label["route"])
	assert.Equal(t, []int64{5}, first.NumLabel[AsyncIDLabel])
	require.Len(t, first.Location, 2, "leaf first, root excluded")
	assert.Equal(t, "work", first.Location[0].Line[0].Function.Name)
	assert.Equal(t, "main", first.Location[1].Line[0].Function.Name)

	second := prof.Sample[1]
	assert.Equal(t, []string{"42"}, second.Label[ContextLabel])
	assert.Nil(t, second.NumLabel)

	third := prof.Sample[2]
	assert.Nil(t, third.Label)
	assert.Equal(t, int64(1), third.Value[0])

	// Locations and functions are shared between samples.
	assert.Same(t, first.Location[0], second.Location[0])
	assert.Len(t, prof.Function, 3)
	assert.Len(t, prof.Location, 3)

	var buf bytes.Buffer
	require.NoError(t, prof.Write(&buf))
	parsed, err := profile.Parse(&buf)
	require.NoError(t, err)
	assert.Len(t, parsed.Sample, 4)
}
