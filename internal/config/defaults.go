package config

import "time"

const (
	DefaultSamplingPeriod = 10 * time.Millisecond
	DefaultDuration       = 60 * time.Second
	DefaultFrequencyHz    = 99.0
	DefaultLogLevel       = "info"
	DefaultNamespace      = "wallprof"
)

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Version: SchemaVersion,
		Profiler: ProfilerConfig{
			SamplingPeriod: DefaultSamplingPeriod,
			Duration:       DefaultDuration,
			WithContexts:   true,
		},
		CPUSampler: CPUSamplerConfig{
			FrequencyHz: DefaultFrequencyHz,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Pretty: true,
		},
		Metrics: MetricsConfig{
			Namespace: DefaultNamespace,
		},
	}
}
