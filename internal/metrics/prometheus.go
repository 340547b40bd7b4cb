// Package metrics provides Prometheus metrics exposition for steamwatch.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/steamwatch/steamwatch/internal/monitor"
)

// Metrics owns the steamwatch Prometheus instruments on a private registry.
// It implements monitor.StatsRecorder so the engine can feed it directly.
type Metrics struct {
	registry *prometheus.Registry

	cycles          *prometheus.CounterVec
	skippedCycles   *prometheus.CounterVec
	cycleLatency    *prometheus.HistogramVec
	gateWait        prometheus.Histogram
	snapshotVersion prometheus.Gauge
	snapshotErr     prometheus.Gauge
	sessionActive   prometheus.Gauge
	sessionElapsed  prometheus.Gauge
	sessionsClosed  prometheus.Counter
	processCPU      prometheus.Gauge
	processRSS      prometheus.Gauge
}

// New creates the steamwatch metrics on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "steamwatch_cycles_total",
			Help: "Polling cycles by tier and outcome",
		}, []string{"tier", "outcome"}),

		skippedCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "steamwatch_skipped_cycles_total",
			Help: "Tier firings suppressed by the re-entrancy guard",
		}, []string{"tier"}),

		cycleLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "steamwatch_cycle_duration_seconds",
			Help:    "Polling cycle duration",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"tier"}),

		gateWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "steamwatch_gate_wait_seconds",
			Help:    "Time spent waiting for the rate gate",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		}),

		snapshotVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "steamwatch_snapshot_version",
			Help: "Version of the canonical snapshot",
		}),

		snapshotErr: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "steamwatch_snapshot_error",
			Help: "Whether the canonical snapshot carries an error flag (0/1)",
		}),

		sessionActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "steamwatch_session_active",
			Help: "Whether a play session window is currently open (0/1)",
		}),

		sessionElapsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "steamwatch_session_elapsed_minutes",
			Help: "Elapsed minutes of the current play session window",
		}),

		sessionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "steamwatch_sessions_closed_total",
			Help: "Play session windows committed to history",
		}),

		processCPU: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "steamwatch_process_cpu_percent",
			Help: "CPU usage of the steamwatch process",
		}),

		processRSS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "steamwatch_process_rss_bytes",
			Help: "Resident memory of the steamwatch process",
		}),
	}

	m.registry.MustRegister(
		m.cycles,
		m.skippedCycles,
		m.cycleLatency,
		m.gateWait,
		m.snapshotVersion,
		m.snapshotErr,
		m.sessionActive,
		m.sessionElapsed,
		m.sessionsClosed,
		m.processCPU,
		m.processRSS,
	)

	return m
}

// Registry returns the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordCycle implements monitor.StatsRecorder.
func (m *Metrics) RecordCycle(tier monitor.TierID, outcome string, elapsed time.Duration) {
	m.cycles.WithLabelValues(string(tier), outcome).Inc()
	if outcome == monitor.OutcomeSkipped {
		m.skippedCycles.WithLabelValues(string(tier)).Inc()
		return
	}
	m.cycleLatency.WithLabelValues(string(tier)).Observe(elapsed.Seconds())
}

// RecordGateWait implements monitor.StatsRecorder.
func (m *Metrics) RecordGateWait(tier monitor.TierID, wait time.Duration) {
	m.gateWait.Observe(wait.Seconds())
}

// RecordSnapshot implements monitor.StatsRecorder.
func (m *Metrics) RecordSnapshot(snap monitor.Snapshot) {
	m.snapshotVersion.Set(float64(snap.Version))
	if snap.HasError {
		m.snapshotErr.Set(1)
	} else {
		m.snapshotErr.Set(0)
	}
}

// SetSessionState updates the play session gauges.
func (m *Metrics) SetSessionState(active bool, elapsedMinutes float64) {
	if active {
		m.sessionActive.Set(1)
	} else {
		m.sessionActive.Set(0)
	}
	m.sessionElapsed.Set(elapsedMinutes)
}

// SessionClosed counts a session window committed to history.
func (m *Metrics) SessionClosed() {
	m.sessionsClosed.Inc()
}

// SetProcessStats updates the self-resource gauges.
func (m *Metrics) SetProcessStats(cpuPercent float64, rssBytes uint64) {
	m.processCPU.Set(cpuPercent)
	m.processRSS.Set(float64(rssBytes))
}
