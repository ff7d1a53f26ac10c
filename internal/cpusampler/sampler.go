// Package cpusampler is a lightweight CPU sampler that records raw code
// addresses and symbolizes them through the unit's code map.
//
// A ticker goroutine posts capture requests at the configured frequency.
// The execution unit services them by calling Poll from its own goroutine,
// so stack capture and code map lookups never leave the unit.
package cpusampler

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/zeebo/xxh3"

	"github.com/coral-mesh/wallprof/internal/codemap"
	"github.com/coral-mesh/wallprof/internal/cputime"
	"github.com/coral-mesh/wallprof/internal/ctxchan"
	"github.com/coral-mesh/wallprof/internal/engine"
	"github.com/coral-mesh/wallprof/internal/metrics"
)

// RootName names every profile the sampler produces.
const RootName = "(root)"

// maxFrames bounds the addresses kept per sample.
const maxFrames = 255

// AddressFunc returns the unit's current call stack as raw code addresses,
// innermost frame first.
type AddressFunc func() []uint64

// Sample is one captured stack.
type Sample struct {
	Timestamp int64
	// Frames holds raw addresses, innermost first.
	Frames []uint64
	// Locations holds the symbolized frames, outermost first.
	Locations []codemap.Location
	Context   any
	// CPUTime is the CPU time consumed since the previous capture.
	CPUTime time.Duration
}

// Key hashes the sample's resolved stack. Samples with equal keys share a
// call path.
func (s *Sample) Key() uint64 {
	h := xxh3.New()
	var buf [8]byte
	for _, loc := range s.Locations {
		_, _ = h.WriteString(loc.FunctionName)
		_, _ = h.WriteString(loc.ScriptName)
		binary.LittleEndian.PutUint64(buf[:], uint64(loc.Line)<<32|uint64(uint32(loc.Column)))
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}

// Profile is the set of samples processed between two Profile calls.
type Profile struct {
	Name      string
	StartTime int64
	EndTime   int64
	Samples   []*Sample
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Sampler) { s.logger = logger }
}

// WithMetrics records symbolization results into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sampler) { s.metrics = m }
}

// WithCPUClock sets the clock sample CPU time is measured on.
func WithCPUClock(c cputime.Clock) Option {
	return func(s *Sampler) { s.clock = c }
}

// Sampler samples one execution unit.
type Sampler struct {
	codes   *codemap.CodeMap
	addrs   AddressFunc
	logger  zerolog.Logger
	metrics *metrics.Metrics
	clock   cputime.Clock
	cpu     *cputime.Stopwatch
	context ctxchan.Channel

	requests chan struct{}
	running  atomic.Bool
	freq     atomic.Uint64
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu      sync.Mutex
	pending *Sample

	samples   []*Sample
	startTime int64
}

// New returns a stopped sampler symbolizing through codes.
func New(codes *codemap.CodeMap, addrs AddressFunc, opts ...Option) *Sampler {
	s := &Sampler{
		codes:    codes,
		addrs:    addrs,
		logger:   zerolog.Nop(),
		clock:    cputime.ThisThread(),
		requests: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cpu = cputime.NewStopwatch(s.clock)
	s.logger = s.logger.With().Str("component", "cpu_sampler").Stringer("unit", codes.Unit()).Logger()
	return s
}

// Frequency returns the sampling frequency in hertz, or zero when stopped.
func (s *Sampler) Frequency() float64 {
	return math.Float64frombits(s.freq.Load())
}

// Start begins requesting captures hz times per second and enables the code
// map. Starting a running sampler does nothing.
func (s *Sampler) Start(hz float64) {
	if hz <= 0 || !s.running.CompareAndSwap(false, true) {
		return
	}
	s.freq.Store(math.Float64bits(hz))

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	interval := time.Duration(float64(time.Second) / hz)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.request(ctx, interval)
	}()

	s.startTime = engine.Now()
	s.codes.Enable()
	s.logger.Debug().Float64("hz", hz).Msg("CPU sampler started")
}

// Stop ends sampling, waits for the ticker goroutine and disables the code
// map. Stopping a stopped sampler does nothing.
func (s *Sampler) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.freq.Store(0)
	s.cancel()
	s.wg.Wait()
	s.codes.Disable()
	s.logger.Debug().Int("pending", len(s.samples)).Msg("CPU sampler stopped")
}

// Poll services an outstanding capture request. It reports whether a
// sample was taken.
func (s *Sampler) Poll() bool {
	select {
	case <-s.requests:
	default:
		return false
	}
	s.CaptureSample()
	s.ProcessSample()
	return true
}

// CaptureSample records the current stack as the pending sample, replacing
// any sample not processed yet.
func (s *Sampler) CaptureSample() {
	frames := s.addrs()
	if len(frames) > maxFrames {
		frames = frames[:maxFrames]
	}
	sample := &Sample{
		Timestamp: engine.Now(),
		Frames:    frames,
		Context:   s.context.Value(),
		CPUTime:   s.cpu.GetAndReset(),
	}

	s.mu.Lock()
	s.pending = sample
	s.mu.Unlock()
}

// ProcessSample symbolizes the pending sample and keeps it when at least
// one frame resolved.
func (s *Sampler) ProcessSample() {
	s.mu.Lock()
	sample := s.pending
	s.pending = nil
	s.mu.Unlock()

	if sample == nil {
		return
	}
	sample.Locations = s.codes.Symbolize(sample.Frames)
	s.metrics.Symbolized(len(sample.Locations), len(sample.Frames)-len(sample.Locations))
	if len(sample.Locations) == 0 {
		return
	}
	s.samples = append(s.samples, sample)
}

// Pending returns the captured sample awaiting ProcessSample.
func (s *Sampler) Pending() *Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// SetContext sets the context attached to later captures.
func (s *Sampler) SetContext(v any) { s.context.Set(v) }

// Context returns the context attached to captures.
func (s *Sampler) Context() any { return s.context.Value() }

// SampleCount returns the number of processed samples not yet collected.
func (s *Sampler) SampleCount() int { return len(s.samples) }

// Samples returns the processed samples and forgets them.
func (s *Sampler) Samples() []*Sample {
	out := s.samples
	s.samples = nil
	return out
}

// Profile collects the processed samples into a profile spanning the time
// since the previous call (or Start).
func (s *Sampler) Profile() *Profile {
	end := engine.Now()
	p := &Profile{
		Name:      RootName,
		StartTime: s.startTime,
		EndTime:   end,
		Samples:   s.Samples(),
	}
	s.startTime = end
	return p
}

func (s *Sampler) request(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case s.requests <- struct{}{}:
			default:
			}
		}
	}
}
