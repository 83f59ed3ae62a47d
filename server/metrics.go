package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"zkrwa-prover/shared"
)

// Metrics holds the session counters of one host on a private registry
type Metrics struct {
	registry *prometheus.Registry
	sessions *prometheus.CounterVec
	duration *prometheus.HistogramVec
	active   *prometheus.GaugeVec
}

// NewMetrics registers the session metrics and the Go runtime collectors
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		sessions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zkrwa_sessions_total",
			Help: "Finished sessions by role and outcome.",
		}, []string{"role", "outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "zkrwa_session_duration_seconds",
			Help:    "Wall-clock duration of finished sessions.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"role"}),
		active: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "zkrwa_sessions_active",
			Help: "Sessions currently running.",
		}, []string{"role"}),
	}
}

func (m *Metrics) started(role shared.Role) {
	m.active.WithLabelValues(string(role)).Inc()
}

func (m *Metrics) finished(outcome shared.SessionOutcome, elapsed time.Duration) {
	role := string(outcome.Role)
	label := "success"
	if !outcome.Success {
		label = outcome.Reason
	}
	m.active.WithLabelValues(role).Dec()
	m.sessions.WithLabelValues(role, label).Inc()
	m.duration.WithLabelValues(role).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
