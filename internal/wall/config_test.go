package wall

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	base := Config{SamplingPeriod: time.Millisecond, Duration: time.Second}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "minimal", mutate: func(*Config) {}},
		{name: "contexts and cpu", mutate: func(c *Config) { c.WithContexts, c.WithCPUTime = true, true }},
		{name: "async ids", mutate: func(c *Config) { c.WithContexts, c.CollectAsyncID = true, true }},
		{name: "lines", mutate: func(c *Config) { c.IncludeLines = true }},
		{name: "zero period", mutate: func(c *Config) { c.SamplingPeriod = 0 }, wantErr: true},
		{name: "negative duration", mutate: func(c *Config) { c.Duration = -time.Second }, wantErr: true},
		{name: "duration below period", mutate: func(c *Config) { c.Duration = time.Microsecond }, wantErr: true},
		{name: "lines with contexts", mutate: func(c *Config) { c.IncludeLines, c.WithContexts = true, true }, wantErr: true},
		{name: "lines with cpu", mutate: func(c *Config) { c.IncludeLines, c.WithCPUTime = true, true }, wantErr: true},
		{name: "async ids without contexts", mutate: func(c *Config) { c.CollectAsyncID = true }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestConfig_CaptureCapacity(t *testing.T) {
	cfg := Config{SamplingPeriod: 10 * time.Millisecond, Duration: time.Second}
	assert.Equal(t, 200, cfg.captureCapacity())
}

func TestConfig_Modes(t *testing.T) {
	cfg := Config{SamplingPeriod: time.Millisecond, Duration: time.Second}
	assert.False(t, cfg.captures())
	assert.False(t, cfg.interruptDriven())

	cfg.StuckWorkaround = true
	assert.False(t, cfg.captures())
	assert.True(t, cfg.interruptDriven())

	cfg.WithCPUTime = true
	assert.True(t, cfg.captures())
}
