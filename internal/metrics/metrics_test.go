package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionFinished(true, time.Millisecond)
		m.Correlated(1, 2)
		m.ContextsDropped(3)
		m.InterruptsMissed(4)
		m.StuckEngine("certain")
		m.WorkerCPU(time.Second)
		m.Symbolized(1, 1)
	})
}

func TestMetrics_Record(t *testing.T) {
	m := New("wallprof_test")
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))
	require.NoError(t, m.Register(reg), "registering twice is tolerated")

	m.SessionFinished(true, time.Millisecond)
	m.SessionFinished(false, time.Millisecond)
	m.Correlated(90, 10)
	m.ContextsDropped(0)
	m.ContextsDropped(5)
	m.InterruptsMissed(2)
	m.StuckEngine("possible")
	m.WorkerCPU(1500 * time.Millisecond)
	m.Symbolized(3, 1)

	assert.InDelta(t, 1, testutil.ToFloat64(m.sessions.WithLabelValues("restarted")), 0)
	assert.InDelta(t, 90, testutil.ToFloat64(m.samples.WithLabelValues("matched")), 0)
	assert.InDelta(t, 10, testutil.ToFloat64(m.samples.WithLabelValues("unmatched")), 0)
	assert.InDelta(t, 5, testutil.ToFloat64(m.dropped), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.missed), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.stuck.WithLabelValues("possible")), 0)
	assert.InDelta(t, 1.5, testutil.ToFloat64(m.workerCPU), 1e-9)
	assert.InDelta(t, 3, testutil.ToFloat64(m.symbolized.WithLabelValues("resolved")), 0)

	count, err := testutil.GatherAndCount(reg, "wallprof_test_wall_stop_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
