package wall

import (
	"sync"
	"time"

	"github.com/coral-mesh/wallprof/internal/interrupt"
	"github.com/coral-mesh/wallprof/internal/registry"
	"github.com/coral-mesh/wallprof/internal/unit"
)

// Service is the process-wide state shared by wall profilers: the
// interrupt line, the registry of active profilers and the router that
// dispatches interrupts to them.
//
// Default returns the instance bound to the process interrupt line. It is
// created on first use and never torn down. Tests build isolated services
// with NewService.
type Service struct {
	line     *interrupt.Line
	registry *registry.Registry[unit.ID, *Profiler]
	router   *interrupt.Router
}

// NewService returns a service routing interrupts raised on line.
func NewService(line *interrupt.Line) *Service {
	s := &Service{
		line:     line,
		registry: registry.New[unit.ID, *Profiler](),
	}
	s.router = interrupt.NewRouter(line, s.lookup)
	return s
}

var defaultService = sync.OnceValue(func() *Service {
	return NewService(interrupt.Process())
})

// Default returns the process-wide service.
func Default() *Service {
	return defaultService()
}

// Line returns the interrupt line the service routes.
func (s *Service) Line() *interrupt.Line { return s.line }

// Router returns the interrupt router.
func (s *Service) Router() *interrupt.Router { return s.router }

// Profiler returns the active profiler of u.
func (s *Service) Profiler(u unit.ID) (*Profiler, bool) {
	return s.registry.Get(u)
}

// Active returns the number of registered profilers.
func (s *Service) Active() int { return s.registry.Len() }

// WorkerCPUTime returns the CPU time consumed by profiled units since the
// previous call, including units whose profiler stopped in the meantime.
func (s *Service) WorkerCPUTime() time.Duration {
	return s.registry.WorkerCPUTime()
}

func (s *Service) lookup(u unit.ID) (interrupt.Target, bool) {
	p, ok := s.registry.Get(u)
	if !ok {
		return nil, false
	}
	return p, true
}
