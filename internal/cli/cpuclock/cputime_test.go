package cpuclock

import (
	"bytes"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/wallprof/internal/cputime"
	"github.com/coral-mesh/wallprof/internal/testutil"
	"github.com/coral-mesh/wallprof/internal/unit"
)

func TestMeasure(t *testing.T) {
	rows, err := measure(testutil.NewTestContext(t, 10*time.Second), 2, 20*time.Millisecond)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(rows), 3)

	byName := make(map[string]string)
	for _, r := range rows {
		byName[r.Clock] = r.Value
	}
	require.Contains(t, byName, "workers")

	if !cputime.ThreadClocksSupported {
		t.Skip("thread CPU clocks unavailable")
	}
	workers, err := time.ParseDuration(byName["workers"])
	require.NoError(t, err)
	assert.GreaterOrEqual(t, workers, 40*time.Millisecond)
}

func TestCPUTimeCommand(t *testing.T) {
	t.Setenv("WALLPROF_LOG_LEVEL", "error")
	t.Setenv("WALLPROF_CONFIG", "")

	cmd := NewCPUTimeCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--workers", "1", "--burn", "5ms", "-o", "json"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), `"clock": "workers"`)
}

func TestBurner_FinishFreezesReading(t *testing.T) {
	var now atomic.Int64
	clock := cputime.ClockFunc(func() time.Duration { return time.Duration(now.Load()) })

	b := &burner{id: unit.New()}
	assert.Zero(t, b.CPUTimeSinceLastRead())

	b.watch.Store(cputime.NewStopwatch(clock))
	now.Store(int64(2 * time.Millisecond))
	assert.Equal(t, 2*time.Millisecond, b.CPUTimeSinceLastRead())

	now.Store(int64(5 * time.Millisecond))
	b.finish()
	now.Store(int64(100 * time.Millisecond))

	assert.Equal(t, 3*time.Millisecond, b.CPUTimeSinceLastRead())
	assert.Zero(t, b.CPUTimeSinceLastRead())
	b.finish()
	assert.Zero(t, b.CPUTimeSinceLastRead())
}
