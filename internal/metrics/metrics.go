// internal/metrics/metrics.go
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Capture outcomes used as the "outcome" label.
const (
	OutcomeCaptured = "captured"
	OutcomeNotFound = "not_found"
	OutcomeCanceled = "canceled"
	OutcomeError    = "error"
)

// Metrics holds the collectors of a single run on a private registry, so
// tests and repeated runs never collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	captureAttempts *prometheus.CounterVec
	pollChecks      prometheus.Histogram
	captureDuration prometheus.Histogram
	observations    *prometheus.CounterVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		captureAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authtap_capture_attempts_total",
				Help: "Capture runs by outcome",
			},
			[]string{"outcome"},
		),
		// Checks performed before the poll returned.
		pollChecks: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "authtap_poll_checks",
			Help:    "Number of poll checks performed per capture run",
			Buckets: []float64{1, 2, 5, 10, 20, 40, 80},
		}),
		captureDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "authtap_capture_duration_seconds",
			Help:    "Wall time of a capture run",
			Buckets: []float64{1, 2, 5, 10, 20, 40, 60, 120},
		}),
		observations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authtap_observations_total",
				Help: "Requests carrying an authorization header, by observer source",
			},
			[]string{"source"},
		),
	}

	m.registry.MustRegister(m.captureAttempts, m.pollChecks, m.captureDuration, m.observations)
	return m
}

// Registry exposes the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveCapture records the end of a capture run.
func (m *Metrics) ObserveCapture(outcome string, checks int, elapsed time.Duration) {
	m.captureAttempts.WithLabelValues(outcome).Inc()
	if checks > 0 {
		m.pollChecks.Observe(float64(checks))
	}
	m.captureDuration.Observe(elapsed.Seconds())
}

// ObserveRequest counts one request carrying the header.
func (m *Metrics) ObserveRequest(source string) {
	m.observations.WithLabelValues(source).Inc()
}

// WriteTextfile writes the registry in the node-exporter textfile collector
// format. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile %s: %w", path, err)
	}
	return nil
}
