// Package config loads the wallprof configuration from a YAML file with
// environment variable overrides.
package config

import "time"

// SchemaVersion is the current config file schema version.
const SchemaVersion = "1"

// Config is the wallprof configuration file.
type Config struct {
	Version    string           `yaml:"version"`
	Profiler   ProfilerConfig   `yaml:"profiler"`
	CPUSampler CPUSamplerConfig `yaml:"cpu_sampler"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ProfilerConfig configures wall profilers.
type ProfilerConfig struct {
	SamplingPeriod  time.Duration `yaml:"sampling_period" env:"WALLPROF_SAMPLING_PERIOD"`
	Duration        time.Duration `yaml:"duration" env:"WALLPROF_DURATION"`
	IncludeLines    bool          `yaml:"include_lines" env:"WALLPROF_INCLUDE_LINES"`
	WithContexts    bool          `yaml:"with_contexts" env:"WALLPROF_WITH_CONTEXTS"`
	WithCPUTime     bool          `yaml:"with_cpu_time" env:"WALLPROF_WITH_CPU_TIME"`
	CollectAsyncID  bool          `yaml:"collect_async_id" env:"WALLPROF_COLLECT_ASYNC_ID"`
	StuckWorkaround bool          `yaml:"stuck_workaround" env:"WALLPROF_STUCK_WORKAROUND"`
}

// CPUSamplerConfig configures the address sampler.
type CPUSamplerConfig struct {
	FrequencyHz float64 `yaml:"frequency_hz" env:"WALLPROF_CPU_FREQUENCY_HZ"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"WALLPROF_LOG_LEVEL"`
	Pretty bool   `yaml:"pretty" env:"WALLPROF_LOG_PRETTY"`
}

// MetricsConfig configures the Prometheus diagnostics.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"WALLPROF_METRICS_ENABLED"`
	Namespace string `yaml:"namespace" env:"WALLPROF_METRICS_NAMESPACE"`
}
