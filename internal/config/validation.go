package config

import (
	"errors"
	"fmt"

	"github.com/coral-mesh/wallprof/internal/logging"
	"github.com/coral-mesh/wallprof/internal/wall"
)

// ErrInvalid wraps every validation failure outside the profiler section,
// which reports wall.ErrInvalidConfig instead.
var ErrInvalid = errors.New("invalid configuration")

// Validate checks every section.
func (c *Config) Validate() error {
	if c.Version != "" && c.Version != SchemaVersion {
		return fmt.Errorf("%w: unsupported schema version %q", ErrInvalid, c.Version)
	}
	if err := c.Profiler.Wall().Validate(); err != nil {
		return fmt.Errorf("profiler: %w", err)
	}
	if c.CPUSampler.FrequencyHz <= 0 {
		return fmt.Errorf("%w: cpu_sampler.frequency_hz must be positive, got %g", ErrInvalid, c.CPUSampler.FrequencyHz)
	}
	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		return fmt.Errorf("%w: metrics.namespace is required when metrics are enabled", ErrInvalid)
	}
	return nil
}

// Wall converts the profiler section.
func (p ProfilerConfig) Wall() wall.Config {
	return wall.Config{
		SamplingPeriod:  p.SamplingPeriod,
		Duration:        p.Duration,
		IncludeLines:    p.IncludeLines,
		WithContexts:    p.WithContexts,
		WithCPUTime:     p.WithCPUTime,
		CollectAsyncID:  p.CollectAsyncID,
		StuckWorkaround: p.StuckWorkaround,
	}
}

// LoggerConfig converts the logging section.
func (l LoggingConfig) LoggerConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = l.Level
	cfg.Pretty = l.Pretty
	return cfg
}
