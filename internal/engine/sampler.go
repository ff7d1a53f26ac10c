package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/wallprof/internal/interrupt"
	"github.com/coral-mesh/wallprof/internal/unit"
)

const (
	defaultInterval     = 10 * time.Millisecond
	defaultQueueSize    = 4096
	defaultFlushTimeout = time.Second
)

// Option configures a Sampler.
type Option func(*Sampler)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Sampler) { s.logger = logger }
}

// WithQueueSize bounds the number of captured samples waiting for the
// processing goroutine.
func WithQueueSize(n int) Option {
	return func(s *Sampler) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithFlushTimeout bounds how long StopSession waits for queued samples.
func WithFlushTimeout(d time.Duration) Option {
	return func(s *Sampler) {
		if d > 0 {
			s.flushTimeout = d
		}
	}
}

// WithoutTicker disables the built-in interval ticker. Interrupts must then
// be raised on the line by the caller.
func WithoutTicker() Option {
	return func(s *Sampler) { s.noTicker = true }
}

// Sampler is the Engine of one execution unit.
//
// While a session is active a ticker raises the interrupt line for the
// unit at the sampling interval. Whoever handles the interrupt eventually
// chains to the sampler, which captures the stack and queues it. A
// processing goroutine drains the queue into the session trees.
type Sampler struct {
	unit  unit.ID
	line  *interrupt.Line
	stack StackFunc
	hub   *hub

	logger       zerolog.Logger
	queueSize    int
	flushTimeout time.Duration
	noTicker     bool

	queue   chan tick
	dropped atomic.Uint64

	mu       sync.Mutex
	interval time.Duration
	sessions map[string]*session
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

var _ Engine = (*Sampler)(nil)

// NewSampler creates the engine of u. Interrupts arrive through line and
// stacks are captured with stack.
func NewSampler(u unit.ID, line *interrupt.Line, stack StackFunc, opts ...Option) *Sampler {
	s := &Sampler{
		unit:         u,
		line:         line,
		stack:        stack,
		hub:          hubFor(line),
		logger:       zerolog.Nop(),
		queueSize:    defaultQueueSize,
		flushTimeout: defaultFlushTimeout,
		interval:     defaultInterval,
		sessions:     make(map[string]*session),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "engine").Stringer("unit", u).Logger()
	s.queue = make(chan tick, s.queueSize)
	return s
}

// Unit returns the execution unit the sampler records.
func (s *Sampler) Unit() unit.ID { return s.unit }

// SetSamplingInterval implements Engine.
func (s *Sampler) SetSamplingInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.interval = d
	s.mu.Unlock()
}

// StartSession implements Engine. The first sample is taken synchronously.
func (s *Sampler) StartSession(title string, mode Mode, recordSamples bool) error {
	s.mu.Lock()
	if _, exists := s.sessions[title]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionExists, title)
	}
	s.sessions[title] = newSession(title, mode, recordSamples, Now())
	if len(s.sessions) == 1 {
		s.startLocked()
	}
	s.mu.Unlock()

	s.logger.Debug().Str("title", title).Stringer("mode", mode).Msg("Session started")
	s.enqueue(tick{stack: s.stack(), ts: Now()})
	return nil
}

// StopSession implements Engine.
func (s *Sampler) StopSession(title string) (*Profile, error) {
	s.mu.Lock()
	_, ok := s.sessions[title]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, title)
	}

	if !s.flush() {
		s.logger.Warn().Str("title", title).Msg("Processing loop did not drain before stop")
	}

	s.mu.Lock()
	sess := s.sessions[title]
	delete(s.sessions, title)
	var cancel context.CancelFunc
	if len(s.sessions) == 0 {
		cancel, s.cancel = s.cancel, nil
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		s.wg.Wait()
		s.hub.detach(s)
	}

	p := sess.profile(Now())
	s.logger.Debug().
		Str("title", title).
		Int("samples", len(p.Samples)).
		Int("hits", p.TotalHits()).
		Msg("Session stopped")
	return p, nil
}

// CollectSampleNow implements Engine. The sample lands in the sample list
// under (program) without adding a hit.
func (s *Sampler) CollectSampleNow() {
	s.mu.Lock()
	active := len(s.sessions) > 0
	s.mu.Unlock()
	if !active {
		return
	}
	s.enqueue(tick{ts: Now(), forced: true})
}

// Dropped returns the number of interrupt samples lost to a full queue.
func (s *Sampler) Dropped() uint64 { return s.dropped.Load() }

// Interrupt captures a sample for the unit. It is the handler the hub
// dispatches to and never blocks.
func (s *Sampler) Interrupt() {
	t := tick{stack: s.stack(), ts: Now()}
	select {
	case s.queue <- t:
	default:
		s.dropped.Add(1)
	}
}

func (s *Sampler) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.hub.attach(s)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.process(ctx)
	}()

	if s.noTicker {
		return
	}
	interval := s.interval
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.tick(ctx, interval)
	}()
}

func (s *Sampler) tick(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.line.Raise(s.unit)
		}
	}
}

func (s *Sampler) process(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-s.queue:
			if t.ack != nil {
				close(t.ack)
				continue
			}
			s.mu.Lock()
			for _, sess := range s.sessions {
				sess.add(t)
			}
			s.mu.Unlock()
		}
	}
}

func (s *Sampler) enqueue(t tick) {
	select {
	case s.queue <- t:
	case <-time.After(s.flushTimeout):
		s.dropped.Add(1)
	}
}

// flush waits until everything queued so far has been processed.
func (s *Sampler) flush() bool {
	ack := make(chan struct{})
	select {
	case s.queue <- tick{ack: ack}:
	case <-time.After(s.flushTimeout):
		return false
	}
	select {
	case <-ack:
		return true
	case <-time.After(s.flushTimeout):
		return false
	}
}

// hub is the handler every Sampler on a line shares. It is installed while
// at least one sampler has an active session and dispatches interrupts by
// unit, chaining unknown units to whatever it displaced.
type hub struct {
	line  *interrupt.Line
	units sync.Map
	prev  atomic.Pointer[interrupt.HandlerFunc]

	mu   sync.Mutex
	refs int
}

var hubs sync.Map

func hubFor(line *interrupt.Line) *hub {
	h, _ := hubs.LoadOrStore(line, &hub{line: line})
	return h.(*hub)
}

func (h *hub) attach(s *Sampler) {
	h.units.Store(s.unit, s)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.refs++
	if h.refs == 1 {
		prev := h.line.Install(h.dispatch)
		h.prev.Store(&prev)
	}
}

func (h *hub) detach(s *Sampler) {
	h.units.CompareAndDelete(s.unit, s)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.refs == 0 {
		return
	}
	h.refs--
	if h.refs == 0 {
		var prev interrupt.HandlerFunc
		if p := h.prev.Swap(nil); p != nil {
			prev = *p
		}
		h.line.Install(prev)
	}
}

func (h *hub) dispatch(u unit.ID) {
	if v, ok := h.units.Load(u); ok {
		v.(*Sampler).Interrupt()
		return
	}
	if p := h.prev.Load(); p != nil && *p != nil {
		(*p)(u)
	}
}
