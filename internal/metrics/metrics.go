// Package metrics exposes profiler diagnostics as Prometheus collectors.
//
// A nil *Metrics is valid and records nothing, so profilers built without
// metrics need no special casing.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the profiler collectors.
type Metrics struct {
	sessions   *prometheus.CounterVec
	samples    *prometheus.CounterVec
	dropped    prometheus.Counter
	missed     prometheus.Counter
	stuck      *prometheus.CounterVec
	workerCPU  prometheus.Counter
	symbolized *prometheus.CounterVec
	stopTime   prometheus.Histogram
}

// New creates the collectors under namespace.
func New(namespace string) *Metrics {
	return &Metrics{
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wall_sessions_total",
			Help:      "Profiling sessions finished, by outcome.",
		}, []string{"outcome"}),
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wall_samples_total",
			Help:      "Engine samples examined by the correlator, by result.",
		}, []string{"result"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wall_contexts_dropped_total",
			Help:      "Sample contexts dropped because the capture buffer was full.",
		}),
		missed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wall_interrupts_missed_total",
			Help:      "Interrupts ignored while collection was paused.",
		}),
		stuck: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wall_stuck_engine_total",
			Help:      "Sessions flagged with a stuck engine processing loop, by severity.",
		}, []string{"severity"}),
		workerCPU: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_cpu_seconds_total",
			Help:      "CPU time consumed by profiled execution units.",
		}),
		symbolized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "symbolized_frames_total",
			Help:      "Raw frames looked up in the code map, by result.",
		}, []string{"result"}),
		stopTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "wall_stop_duration_seconds",
			Help:      "Time spent stopping a session and building its profile.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
		}),
	}
}

// Register adds every collector to reg. Collectors already registered are
// not an error.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return fmt.Errorf("failed to register collector: %w", err)
		}
	}
	return nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.sessions, m.samples, m.dropped, m.missed,
		m.stuck, m.workerCPU, m.symbolized, m.stopTime,
	}
}

// SessionFinished records a stopped session.
func (m *Metrics) SessionFinished(restarted bool, took time.Duration) {
	if m == nil {
		return
	}
	outcome := "stopped"
	if restarted {
		outcome = "restarted"
	}
	m.sessions.WithLabelValues(outcome).Inc()
	m.stopTime.Observe(took.Seconds())
}

// Correlated records correlator results.
func (m *Metrics) Correlated(matched, unmatched int) {
	if m == nil {
		return
	}
	m.samples.WithLabelValues("matched").Add(float64(matched))
	m.samples.WithLabelValues("unmatched").Add(float64(unmatched))
}

// ContextsDropped records contexts lost to a full buffer.
func (m *Metrics) ContextsDropped(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.dropped.Add(float64(n))
}

// InterruptsMissed records interrupts ignored while paused.
func (m *Metrics) InterruptsMissed(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.missed.Add(float64(n))
}

// StuckEngine records a stuck-loop diagnosis.
func (m *Metrics) StuckEngine(severity string) {
	if m == nil {
		return
	}
	m.stuck.WithLabelValues(severity).Inc()
}

// WorkerCPU adds CPU time consumed by execution units.
func (m *Metrics) WorkerCPU(d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.workerCPU.Add(d.Seconds())
}

// Symbolized records code map lookups.
func (m *Metrics) Symbolized(resolved, unresolved int) {
	if m == nil {
		return
	}
	m.symbolized.WithLabelValues("resolved").Add(float64(resolved))
	m.symbolized.WithLabelValues("unresolved").Add(float64(unresolved))
}
