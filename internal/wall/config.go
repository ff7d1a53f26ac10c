package wall

import (
	"errors"
	"fmt"
	"time"

	"github.com/coral-mesh/wallprof/internal/interrupt"
)

var (
	// ErrInvalidConfig wraps every configuration validation failure.
	ErrInvalidConfig = errors.New("invalid wall profiler configuration")
	// ErrContextsUnsupported is returned when context or CPU capture is
	// requested on a platform without interrupt delivery.
	ErrContextsUnsupported = errors.New("context capture is not supported on this platform")
)

// Config describes one wall profiler.
type Config struct {
	// SamplingPeriod is the interval between samples.
	SamplingPeriod time.Duration
	// Duration is the expected length of one session. It sizes the
	// context capture buffer.
	Duration time.Duration
	// IncludeLines produces per-line nodes instead of per-function ones.
	IncludeLines bool
	// WithContexts attaches the current context to every sample.
	WithContexts bool
	// WithCPUTime attributes CPU time of the unit to samples.
	WithCPUTime bool
	// CollectAsyncID records the async id set with SetAsyncID.
	CollectAsyncID bool
	// StuckWorkaround forces extra samples at session start so a stalled
	// engine processing loop can be detected.
	StuckWorkaround bool
}

// Validate checks c and returns an error wrapping ErrInvalidConfig or
// ErrContextsUnsupported.
func (c Config) Validate() error {
	switch {
	case c.SamplingPeriod <= 0:
		return fmt.Errorf("%w: sampling period must be positive, got %s", ErrInvalidConfig, c.SamplingPeriod)
	case c.Duration <= 0:
		return fmt.Errorf("%w: duration must be positive, got %s", ErrInvalidConfig, c.Duration)
	case c.Duration < c.SamplingPeriod:
		return fmt.Errorf("%w: duration %s is shorter than sampling period %s", ErrInvalidConfig, c.Duration, c.SamplingPeriod)
	case c.IncludeLines && c.WithContexts:
		return fmt.Errorf("%w: line numbers cannot be combined with contexts", ErrInvalidConfig)
	case c.IncludeLines && c.WithCPUTime:
		return fmt.Errorf("%w: line numbers cannot be combined with CPU time", ErrInvalidConfig)
	case c.CollectAsyncID && !c.WithContexts:
		return fmt.Errorf("%w: async ids require contexts", ErrInvalidConfig)
	case c.captures() && !interrupt.Supported():
		return ErrContextsUnsupported
	}
	return nil
}

// captures reports whether the interrupt handler records sample contexts.
func (c Config) captures() bool {
	return c.WithContexts || c.WithCPUTime
}

// interruptDriven reports whether the profiler needs the router.
func (c Config) interruptDriven() bool {
	return c.captures() || c.StuckWorkaround
}

// captureCapacity sizes the context buffer to twice the expected number of
// samples per session.
func (c Config) captureCapacity() int {
	return int(c.Duration * 2 / c.SamplingPeriod)
}
