package cpusampler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/wallprof/internal/codemap"
	"github.com/coral-mesh/wallprof/internal/cputime"
	"github.com/coral-mesh/wallprof/internal/metrics"
	"github.com/coral-mesh/wallprof/internal/testutil"
	"github.com/coral-mesh/wallprof/internal/unit"
)

type fixture struct {
	feed  *codemap.Feed
	codes *codemap.CodeMap
	stack []uint64
}

func newFixture() *fixture {
	feed := codemap.NewFeed()
	feed.Create(0x1000, 0x100, "fnA", "a.js", 3, 1)
	feed.Create(0x2000, 0x100, "fnB", "b.js", 7, 5)
	return &fixture{
		feed:  feed,
		codes: codemap.New(unit.New(), feed, zerolog.Nop()),
		stack: []uint64{0x1010, 0x9999, 0x2020},
	}
}

func (f *fixture) sampler(opts ...Option) *Sampler {
	var ticks atomic.Int64
	clock := cputime.ClockFunc(func() time.Duration {
		return time.Duration(ticks.Add(1)) * time.Millisecond
	})
	opts = append([]Option{WithCPUClock(clock)}, opts...)
	return New(f.codes, func() []uint64 { return f.stack }, opts...)
}

func TestSampler_CaptureAndProcess(t *testing.T) {
	f := newFixture()
	f.codes.Enable()
	defer f.codes.Disable()
	s := f.sampler(WithMetrics(metrics.New("test")))

	assert.Nil(t, s.Pending())
	s.SetContext("checkout")
	assert.Equal(t, "checkout", s.Context())

	s.CaptureSample()
	require.NotNil(t, s.Pending())
	assert.Equal(t, 0, s.SampleCount())

	s.ProcessSample()
	assert.Nil(t, s.Pending())
	require.Equal(t, 1, s.SampleCount())

	samples := s.Samples()
	require.Len(t, samples, 1)
	assert.Equal(t, 0, s.SampleCount())

	got := samples[0]
	assert.Equal(t, "checkout", got.Context)
	assert.Equal(t, time.Millisecond, got.CPUTime)
	assert.Equal(t, f.stack, got.Frames)
	require.Len(t, got.Locations, 2)
	assert.Equal(t, "fnB", got.Locations[0].FunctionName)
	assert.Equal(t, "fnA", got.Locations[1].FunctionName)
	assert.Equal(t, uint64(0x1010), got.Locations[1].Address)
}

func TestSampler_DiscardsUnresolvedSamples(t *testing.T) {
	f := newFixture()
	f.codes.Enable()
	defer f.codes.Disable()
	f.stack = []uint64{0x10, 0x20}
	s := f.sampler()

	s.ProcessSample()
	s.CaptureSample()
	s.ProcessSample()
	assert.Equal(t, 0, s.SampleCount())
}

func TestSampler_LatestCaptureWins(t *testing.T) {
	f := newFixture()
	f.codes.Enable()
	defer f.codes.Disable()
	s := f.sampler()

	s.SetContext("first")
	s.CaptureSample()
	s.SetContext("second")
	s.CaptureSample()
	s.ProcessSample()

	samples := s.Samples()
	require.Len(t, samples, 1)
	assert.Equal(t, "second", samples[0].Context)
}

func TestSampler_StartStop(t *testing.T) {
	f := newFixture()
	s := f.sampler()
	assert.Zero(t, s.Frequency())

	s.Start(1000)
	assert.InDelta(t, 1000, s.Frequency(), 0)
	assert.True(t, f.codes.Enabled())
	assert.Equal(t, 2, f.codes.Len())

	s.Start(50)
	assert.InDelta(t, 1000, s.Frequency(), 0)

	assert.True(t, testutil.Eventually(2*time.Second, time.Millisecond, func() bool {
		s.Poll()
		return s.SampleCount() >= 3
	}))

	s.Stop()
	assert.Zero(t, s.Frequency())
	assert.False(t, f.codes.Enabled())
	assert.Equal(t, 0, f.codes.Len())
	s.Stop()
}

func TestSampler_ProfileRollsStartTime(t *testing.T) {
	f := newFixture()
	s := f.sampler()
	s.Start(10)
	defer s.Stop()

	s.CaptureSample()
	s.ProcessSample()

	first := s.Profile()
	assert.Equal(t, RootName, first.Name)
	assert.Len(t, first.Samples, 1)
	assert.LessOrEqual(t, first.StartTime, first.EndTime)

	second := s.Profile()
	assert.Equal(t, first.EndTime, second.StartTime)
	assert.Empty(t, second.Samples)
}

func TestSample_Key(t *testing.T) {
	a := &Sample{Locations: []codemap.Location{{FunctionName: "f", ScriptName: "a.js", Line: 1}}}
	b := &Sample{Locations: []codemap.Location{{FunctionName: "f", ScriptName: "a.js", Line: 1}}}
	c := &Sample{Locations: []codemap.Location{{FunctionName: "f", ScriptName: "a.js", Line: 2}}}
	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), c.Key())
}

func TestProfile_ToPprof(t *testing.T) {
	f := newFixture()
	f.codes.Enable()
	defer f.codes.Disable()
	s := f.sampler()

	s.SetContext("x")
	for range 2 {
		s.CaptureSample()
		s.ProcessSample()
	}
	s.SetContext(nil)
	s.CaptureSample()
	s.ProcessSample()

	prof := s.Profile().ToPprof(10*time.Millisecond, time.Now())
	require.NoError(t, prof.CheckValid())
	require.Len(t, prof.Sample, 2)
	assert.Equal(t, int64(2), prof.Sample[0].Value[0])
	assert.Equal(t, []string{"x"}, prof.Sample[0].Label["context"])
	assert.Nil(t, prof.Sample[1].Label)
	assert.Len(t, prof.Location, 2)
	assert.Len(t, prof.Function, 2)
}
