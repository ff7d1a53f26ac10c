package run

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/wallprof/internal/codemap"
	"github.com/coral-mesh/wallprof/internal/cpusampler"
	"github.com/coral-mesh/wallprof/internal/engine"
	"github.com/coral-mesh/wallprof/internal/metrics"
	"github.com/coral-mesh/wallprof/internal/unit"
	"github.com/coral-mesh/wallprof/internal/wall"
)

const (
	// sampleQueueSize bounds samples awaiting the engine's processing
	// goroutine. A unit rarely runs ahead of it by more than a few periods.
	sampleQueueSize = 1024

	// flushPeriods is how many sampling periods a session stop waits for
	// queued samples.
	flushPeriods = 50
)

var sink atomic.Uint64

// function is one synthetic function of the workload. Its code occupies
// [address, address+size) and each source line maps to one byte past the
// start.
type function struct {
	frame   engine.Frame
	address uint64
	size    uint64
}

func (f function) pc(line int) uint64 {
	off := uint64(0)
	if line > f.frame.StartLine {
		off = uint64(line - f.frame.StartLine)
	}
	return f.address + min(off, f.size-1)
}

var (
	fnMain    = function{engine.Frame{FunctionName: "main", ScriptName: "server.js", StartLine: 1, Line: 4}, 0x4000, 0x100}
	fnHandle  = function{engine.Frame{FunctionName: "handleRequest", ScriptName: "server.js", StartLine: 20, Line: 22}, 0x4100, 0x100}
	fnParse   = function{engine.Frame{FunctionName: "parseBody", ScriptName: "body.js", StartLine: 5, Line: 9}, 0x4200, 0x80}
	fnHash    = function{engine.Frame{FunctionName: "hashPayload", ScriptName: "crypto.js", StartLine: 12, Line: 15}, 0x4280, 0x80}
	fnRender  = function{engine.Frame{FunctionName: "render", ScriptName: "view.js", StartLine: 30, Line: 33}, 0x4300, 0x100}
	functions = []function{fnMain, fnHandle, fnParse, fnHash, fnRender}
)

// route is one kind of request the workload serves.
type route struct {
	path  string
	steps []step
}

type step struct {
	fn   function
	busy time.Duration
}

var routes = []route{
	{path: "/checkout", steps: []step{{fnParse, 2 * time.Millisecond}, {fnHash, 4 * time.Millisecond}}},
	{path: "/catalog", steps: []step{{fnRender, 3 * time.Millisecond}}},
	{path: "/login", steps: []step{{fnParse, time.Millisecond}, {fnHash, 2 * time.Millisecond}, {fnRender, time.Millisecond}}},
}

// worker is one execution unit running the synthetic server loop.
type worker struct {
	id      unit.ID
	svc     *wall.Service
	cfg     wall.Config
	rotate  time.Duration
	idle    time.Duration
	cpuHz   float64
	logger  zerolog.Logger
	metrics *metrics.Metrics

	stack *engine.ShadowStack
	feed  *codemap.Feed

	results []*wall.Result
	cpu     *cpusampler.Profile
}

func newWorker(svc *wall.Service, cfg wall.Config, logger zerolog.Logger, m *metrics.Metrics) *worker {
	w := &worker{
		id:      unit.New(),
		svc:     svc,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		stack:   &engine.ShadowStack{},
		feed:    codemap.NewFeed(),
	}
	w.logger = logger.With().Stringer("unit", w.id).Logger()
	for _, f := range functions {
		w.feed.Create(f.address, f.size, f.frame.FunctionName, f.frame.ScriptName, f.frame.StartLine, f.frame.Column)
	}
	return w
}

// addresses returns the shadow stack as code addresses, innermost first.
func (w *worker) addresses() []uint64 {
	frames := w.stack.Capture().Frames
	out := make([]uint64, 0, len(frames))
	for i := len(frames) - 1; i >= 0; i-- {
		for _, f := range functions {
			if f.frame.FunctionName == frames[i].FunctionName {
				out = append(out, f.pc(frames[i].Line))
				break
			}
		}
	}
	return out
}

// run serves requests until ctx is done, rotating the wall profile every
// w.rotate. The goroutine is locked to its thread so thread CPU clocks
// measure this unit only.
func (w *worker) run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	codes := codemap.For(w.id, w.feed, w.logger)
	defer codemap.Release(w.id)

	eng := engine.NewSampler(w.id, w.svc.Line(), w.stack.Capture,
		engine.WithLogger(w.logger),
		engine.WithQueueSize(sampleQueueSize),
		engine.WithFlushTimeout(w.cfg.SamplingPeriod*flushPeriods),
	)
	prof, err := wall.New(w.svc, w.id, eng, w.cfg, wall.WithLogger(w.logger), wall.WithMetrics(w.metrics))
	if err != nil {
		return err
	}
	if err := prof.Start(); err != nil {
		return err
	}

	var cpu *cpusampler.Sampler
	if w.cpuHz > 0 {
		cpu = cpusampler.New(codes, w.addresses, cpusampler.WithLogger(w.logger), cpusampler.WithMetrics(w.metrics))
		cpu.Start(w.cpuHz)
	}

	next := time.Now().Add(w.rotate)
	for req := 1; ctx.Err() == nil; req++ {
		r := routes[req%len(routes)]
		prof.SetContext(map[string]string{"route": r.path, "unit": w.id.String()})
		if w.cfg.CollectAsyncID {
			prof.SetAsyncID(int64(req))
		}
		if cpu != nil {
			cpu.SetContext(r.path)
		}

		w.serve(r, cpu)
		prof.SetContext(nil)
		w.wait(cpu)

		if time.Now().After(next) {
			res, err := prof.Stop(true)
			if err != nil {
				return err
			}
			w.results = append(w.results, res)
			next = time.Now().Add(w.rotate)
		}
	}

	res, err := prof.Stop(false)
	if err != nil {
		return err
	}
	w.results = append(w.results, res)

	if cpu != nil {
		cpu.Stop()
		w.cpu = cpu.Profile()
	}
	return nil
}

func (w *worker) serve(r route, cpu *cpusampler.Sampler) {
	defer w.stack.Enter(fnMain.frame)()
	defer w.stack.Enter(fnHandle.frame)()
	for _, s := range r.steps {
		leave := w.stack.Enter(s.fn.frame)
		spin(s.busy, cpu)
		w.stack.SetLine(s.fn.frame.StartLine + 1)
		spin(s.busy/2, cpu)
		leave()
	}
}

// wait leaves the stack empty and idle for w.idle, as a server waiting for
// its next request.
func (w *worker) wait(cpu *cpusampler.Sampler) {
	w.stack.SetIdle(true)
	defer w.stack.SetIdle(false)
	deadline := time.Now().Add(w.idle)
	for time.Now().Before(deadline) {
		if cpu != nil {
			cpu.Poll()
		}
		time.Sleep(w.idle / 4)
	}
}

// spin burns CPU for d, servicing sampler requests as it goes.
func spin(d time.Duration, cpu *cpusampler.Sampler) {
	deadline := time.Now().Add(d)
	x := uint64(1)
	for time.Now().Before(deadline) {
		for i := 0; i < 1000; i++ {
			x = x*6364136223846793005 + 1442695040888963407
		}
		if cpu != nil {
			cpu.Poll()
		}
	}
	sink.Store(x)
}
