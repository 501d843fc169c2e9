package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"simctl/internal/domain"
)

const namespace = "simctl"

// Metrics implements the controller's Recorder and ProgressListener on a
// private registry.
type Metrics struct {
	registry        *prometheus.Registry
	ActiveSessions  prometheus.Gauge
	RequestsTotal   *prometheus.CounterVec
	RequestLatency  *prometheus.HistogramVec
	RotationsTotal  *prometheus.CounterVec
	IterationsTotal prometheus.Counter
	Progress        *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	r := prometheus.NewRegistry()
	m := &Metrics{
		registry: r,
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "1 while a simulation session is running",
		}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests issued by transport and outcome",
		}, []string{"transport", "outcome"}),
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Request latency including callback delivery",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"transport"}),
		RotationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rotations_total",
			Help:      "Identity rotation attempts by outcome",
		}, []string{"outcome"}),
		IterationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iterations_completed_total",
			Help:      "Iterations completed across all sessions",
		}),
		Progress: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_progress",
			Help:      "Current session progress",
		}, []string{"kind"}),
	}
	r.MustRegister(m.ActiveSessions, m.RequestsTotal, m.RequestLatency, m.RotationsTotal, m.IterationsTotal, m.Progress)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) RequestFinished(mode domain.TransportMode, ok bool, latency time.Duration) {
	m.RequestsTotal.WithLabelValues(string(mode), outcome(ok)).Inc()
	m.RequestLatency.WithLabelValues(string(mode)).Observe(latency.Seconds())
}

func (m *Metrics) RotationFinished(ok bool) {
	m.RotationsTotal.WithLabelValues(outcome(ok)).Inc()
}

func (m *Metrics) IterationCompleted() { m.IterationsTotal.Inc() }

func (m *Metrics) SessionActive(active bool) {
	if active {
		m.ActiveSessions.Set(1)
		return
	}
	m.ActiveSessions.Set(0)
}

func (m *Metrics) OnProgress(current, total int) {
	m.Progress.WithLabelValues("current").Set(float64(current))
	m.Progress.WithLabelValues("total").Set(float64(total))
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
