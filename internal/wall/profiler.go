// Package wall implements the interrupt-driven wall-clock profiler.
//
// A Profiler records engine sessions for one execution unit. When contexts
// or CPU time are requested, every interrupt routed to the unit records the
// current context and the window around the engine's sample into a
// fixed-size buffer. Stop matches those records to the engine's samples and
// returns a time profile whose nodes carry the matched contexts.
package wall

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/pprof/profile"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/coral-mesh/wallprof/internal/correlate"
	"github.com/coral-mesh/wallprof/internal/cputime"
	"github.com/coral-mesh/wallprof/internal/ctxchan"
	"github.com/coral-mesh/wallprof/internal/engine"
	"github.com/coral-mesh/wallprof/internal/interrupt"
	"github.com/coral-mesh/wallprof/internal/metrics"
	"github.com/coral-mesh/wallprof/internal/retry"
	"github.com/coral-mesh/wallprof/internal/ringbuf"
	"github.com/coral-mesh/wallprof/internal/translate"
	"github.com/coral-mesh/wallprof/internal/unit"
)

var (
	// ErrAlreadyStarted is returned by Start on a running profiler.
	ErrAlreadyStarted = errors.New("profiler already started")
	// ErrNotStarted is returned by Stop on a stopped profiler.
	ErrNotStarted = errors.New("profiler not started")
	// ErrUnitBusy is returned when another profiler is active on the unit.
	ErrUnitBusy = errors.New("another profiler is already active on this unit")
)

// maxQuiescenceAttempts bounds the wait for in-flight interrupts in Stop.
const maxQuiescenceAttempts = 10

var sessionSeq atomic.Int64

// Mode is the collection mode consulted by the interrupt handler.
type Mode int32

const (
	// ModeNoCollect ignores interrupts and counts them as missed.
	ModeNoCollect Mode = iota
	// ModePassThrough forwards interrupts to the engine only.
	ModePassThrough
	// ModeCollect forwards interrupts and records their context.
	ModeCollect
)

func (m Mode) String() string {
	switch m {
	case ModePassThrough:
		return "pass-through"
	case ModeCollect:
		return "collect"
	default:
		return "no-collect"
	}
}

// Option configures a Profiler.
type Option func(*Profiler)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Profiler) { p.logger = logger }
}

// WithMetrics records diagnostics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Profiler) { p.metrics = m }
}

// WithCPUClock sets the clock CPU time is read from. The default is bound
// to the OS thread calling New, so units wanting accurate attribution lock
// their goroutine to a thread before creating the profiler.
func WithCPUClock(c cputime.Clock) Option {
	return func(p *Profiler) { p.cpuClock = c }
}

// Result is the output of one session.
type Result struct {
	ProfilerID string
	Title      string
	Unit       unit.ID
	Start      time.Time
	Period     time.Duration

	Profile *translate.TimeProfile
	Raw     *engine.Profile

	// Matched and Unmatched count engine samples with and without a
	// captured context.
	Matched   int
	Unmatched int
	// DroppedContexts counts contexts lost to a full capture buffer.
	DroppedContexts uint64
	// MissedInterrupts counts interrupts ignored while collection was
	// paused.
	MissedInterrupts uint64
	// Stuck is only evaluated with the stuck-loop workaround enabled.
	Stuck StuckSeverity
	// CPUTime is the unit's CPU time over the session when CPU time is
	// collected.
	CPUTime time.Duration
}

// Pprof encodes the result as a pprof profile.
func (r *Result) Pprof() *profile.Profile {
	return translate.ToPprof(r.Profile, r.Period, r.Start)
}

// Profiler is the wall profiler of one execution unit. Start and Stop must
// not be called concurrently; SetContext and SetAsyncID belong to the unit's
// own goroutine.
type Profiler struct {
	id     string
	unit   unit.ID
	cfg    Config
	svc    *Service
	engine engine.Engine

	logger    zerolog.Logger
	metrics   *metrics.Metrics
	cpuClock  cputime.Clock
	stopwatch *cputime.Stopwatch

	channel  *ctxchan.Channel
	asyncID  atomic.Int64
	contexts atomic.Pointer[ringbuf.Ring[correlate.Context]]

	mode     atomic.Int32
	inFlight atomic.Int32
	missed   atomic.Uint64

	started   bool
	title     string
	startCPU  time.Duration
	startWall time.Time
}

var _ interrupt.Target = (*Profiler)(nil)

// New validates cfg and builds a stopped profiler for u recording through
// eng. A nil svc selects Default().
func New(svc *Service, u unit.ID, eng engine.Engine, cfg Config, opts ...Option) (*Profiler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if svc == nil {
		svc = Default()
	}

	p := &Profiler{
		id:      uuid.NewString(),
		unit:    u,
		cfg:     cfg,
		svc:     svc,
		engine:  eng,
		logger:  zerolog.Nop(),
		channel: ctxchan.New(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.cpuClock == nil {
		p.cpuClock = cputime.Zero
		if cfg.WithCPUTime {
			p.cpuClock = cputime.ThisThread()
		}
	}
	p.stopwatch = cputime.NewStopwatch(p.cpuClock)
	p.logger = p.logger.With().
		Str("component", "wall_profiler").
		Str("profiler_id", p.id).
		Stringer("unit", u).
		Logger()
	return p, nil
}

// ID returns the profiler's instance id.
func (p *Profiler) ID() string { return p.id }

// Unit returns the execution unit being profiled.
func (p *Profiler) Unit() unit.ID { return p.unit }

// Started reports whether a session is running.
func (p *Profiler) Started() bool { return p.started }

// Mode returns the current collection mode.
func (p *Profiler) Mode() Mode { return Mode(p.mode.Load()) }

// SetContext publishes v as the unit's current context. A nil v clears it.
func (p *Profiler) SetContext(v any) { p.channel.Set(v) }

// Context returns the unit's current context.
func (p *Profiler) Context() any { return p.channel.Value() }

// SetAsyncID publishes the id of the asynchronous operation the unit runs.
func (p *Profiler) SetAsyncID(id int64) { p.asyncID.Store(id) }

// CPUTimeSinceLastRead returns the CPU time the unit consumed since the
// previous call.
func (p *Profiler) CPUTimeSinceLastRead() time.Duration {
	return p.stopwatch.GetAndReset()
}

// Start begins the first session. It fails when the profiler is running or
// another profiler is active on the unit; no state changes in either case.
func (p *Profiler) Start() error {
	if p.started {
		return ErrAlreadyStarted
	}
	// CPU consumed while unregistered is not worker time.
	p.stopwatch.GetAndReset()
	if !p.svc.registry.Add(p.unit, p) {
		return fmt.Errorf("%w: %s", ErrUnitBusy, p.unit)
	}

	p.engine.SetSamplingInterval(p.cfg.SamplingPeriod)
	if p.cfg.captures() {
		p.contexts.Store(ringbuf.New[correlate.Context](p.cfg.captureCapacity()))
	}
	if err := p.startSession(); err != nil {
		p.svc.registry.Remove(p.unit, p)
		return err
	}
	p.mode.Store(int32(p.collectMode()))
	p.started = true

	p.logger.Info().
		Str("title", p.title).
		Dur("period", p.cfg.SamplingPeriod).
		Bool("contexts", p.cfg.WithContexts).
		Bool("cpu_time", p.cfg.WithCPUTime).
		Msg("Wall profiler started")
	return nil
}

// Stop ends the current session and returns its profile. With restart a
// new session begins before the old one ends, so consecutive profiles have
// no gap between them.
func (p *Profiler) Stop(restart bool) (*Result, error) {
	if !p.started {
		return nil, ErrNotStarted
	}
	began := time.Now()

	res := &Result{
		ProfilerID: p.id,
		Title:      p.title,
		Unit:       p.unit,
		Start:      p.startWall,
		Period:     p.cfg.SamplingPeriod,
	}
	oldTitle := p.title
	startCPU := p.startCPU

	interruptDriven := p.cfg.interruptDriven()
	if interruptDriven {
		p.mode.Store(int32(ModeNoCollect))
		p.awaitQuiescence()
		waitForClockTick()
	}

	if restart {
		if err := p.startSession(); err != nil {
			p.logger.Error().Err(err).Msg("Failed to restart session, stopping instead")
			restart = false
		}
	}
	if interruptDriven {
		p.svc.router.DecreaseUseCount()
	}

	raw, err := p.engine.StopSession(oldTitle)

	var contexts []correlate.Context
	if p.cfg.captures() {
		old := p.contexts.Swap(ringbuf.New[correlate.Context](p.cfg.captureCapacity()))
		contexts = old.Drain(make([]correlate.Context, 0, old.Len()))
		res.DroppedContexts = old.Dropped()
	}

	if restart && interruptDriven {
		waitForClockTick()
		p.mode.Store(int32(p.collectMode()))
	}
	if !restart {
		p.dispose()
	}
	p.started = restart

	if err != nil {
		return nil, fmt.Errorf("failed to stop engine session %s: %w", oldTitle, err)
	}

	var byNode map[*engine.Node]*correlate.NodeContexts
	if p.cfg.captures() {
		m := correlate.Match(raw.Samples, raw.Timestamps, contexts, correlate.Options[*engine.Node]{
			WithCPUTime:  p.cfg.WithCPUTime,
			StartCPUTime: startCPU,
			IsIdle:       (*engine.Node).IsPseudo,
		})
		byNode = m.ByNode
		res.Matched, res.Unmatched = m.Matched, m.Unmatched
	}
	if p.cfg.WithCPUTime && len(contexts) > 0 {
		res.CPUTime = contexts[len(contexts)-1].CPUTime - startCPU
	}
	if p.cfg.StuckWorkaround {
		res.Stuck = detectStuck(raw)
	}
	res.Raw = raw
	res.Profile = translate.Translate(raw, p.cfg.IncludeLines, byNode, p.cfg.WithCPUTime)
	res.MissedInterrupts = p.missed.Swap(0)

	p.report(res, restart, time.Since(began))
	return res, nil
}

// HandleInterrupt implements interrupt.Target. It runs on the interrupt
// path and never blocks.
func (p *Profiler) HandleInterrupt(u unit.ID, chain interrupt.HandlerFunc) {
	// Counted before the mode check so Stop cannot observe zero in-flight
	// handlers while one is about to collect.
	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)

	switch Mode(p.mode.Load()) {
	case ModeNoCollect:
		p.missed.Add(1)
		return
	case ModePassThrough:
		chain(u)
		return
	}

	var cpu time.Duration
	if p.cfg.WithCPUTime {
		cpu = p.cpuClock.Now()
	}
	from := engine.Now()
	chain(u)
	to := engine.Now()

	c := correlate.Context{
		Handle:  p.channel.Get(),
		From:    from,
		To:      to,
		CPUTime: cpu,
	}
	if p.cfg.CollectAsyncID {
		c.AsyncID = p.asyncID.Load()
	}
	if ring := p.contexts.Load(); ring != nil {
		ring.Push(c)
	}
}

// collectMode is the mode of a running session. A profiler that captures
// nothing is still routed to while another unit holds the router, and
// forwards to the engine.
func (p *Profiler) collectMode() Mode {
	if p.cfg.captures() {
		return ModeCollect
	}
	return ModePassThrough
}

func (p *Profiler) startSession() error {
	title := fmt.Sprintf("pprof-%d", sessionSeq.Add(1)-1)
	mode := engine.LeafLineNumbers
	if p.cfg.IncludeLines {
		mode = engine.CallerLineNumbers
	}
	record := p.cfg.captures() || p.cfg.StuckWorkaround

	if err := p.engine.StartSession(title, mode, record); err != nil {
		return fmt.Errorf("failed to start engine session: %w", err)
	}
	p.title = title
	p.startCPU = p.cpuClock.Now()
	p.startWall = time.Now()

	if p.cfg.interruptDriven() {
		p.svc.router.IncreaseUseCount()
	}
	if p.cfg.StuckWorkaround {
		p.engine.CollectSampleNow()
		p.engine.CollectSampleNow()
	}
	return nil
}

// awaitQuiescence waits, for a bounded number of sampling periods, until no
// interrupt handler is running for this profiler.
func (p *Profiler) awaitQuiescence() {
	if p.inFlight.Load() == 0 {
		return
	}
	cfg := retry.Constant(maxQuiescenceAttempts, p.cfg.SamplingPeriod)
	err := retry.Until(context.Background(), cfg, func() bool {
		return p.inFlight.Load() == 0
	})
	if err != nil {
		p.logger.Warn().Err(err).Msg("Interrupt still in flight, swapping buffers anyway")
	}
}

func (p *Profiler) dispose() {
	p.svc.registry.Remove(p.unit, p)
	p.mode.Store(int32(ModeNoCollect))
}

func (p *Profiler) report(res *Result, restarted bool, took time.Duration) {
	p.metrics.SessionFinished(restarted, took)
	p.metrics.ContextsDropped(res.DroppedContexts)
	p.metrics.InterruptsMissed(res.MissedInterrupts)
	if p.cfg.captures() {
		p.metrics.Correlated(res.Matched, res.Unmatched)
	}
	if res.Stuck != StuckNone {
		p.metrics.StuckEngine(res.Stuck.String())
		p.logger.Warn().Stringer("severity", res.Stuck).Str("title", res.Title).Msg("Engine processing loop looks stuck")
	}

	p.logger.Debug().
		Str("title", res.Title).
		Bool("restarted", restarted).
		Int("samples", len(res.Raw.Samples)).
		Int("matched", res.Matched).
		Int("unmatched", res.Unmatched).
		Uint64("dropped", res.DroppedContexts).
		Dur("took", took).
		Msg("Wall profile collected")
}

// waitForClockTick spins until engine.Now moves, so samples taken before
// and after a mode change never share a timestamp.
func waitForClockTick() {
	now := engine.Now()
	for engine.Now() == now {
		runtime.Gosched()
	}
}
