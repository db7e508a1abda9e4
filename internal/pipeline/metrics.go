package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal     *prometheus.CounterVec
	phaseDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers the pipeline collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "imager",
				Subsystem: "pipeline",
				Name:      "runs_total",
				Help:      "Total number of flash runs by result",
			},
			[]string{"result"},
		),
		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "imager",
				Subsystem: "pipeline",
				Name:      "phase_duration_seconds",
				Help:      "Duration of pipeline phases in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14), // 100ms to ~27min
			},
			[]string{"phase"},
		),
	}
	m.registry.MustRegister(m.runsTotal, m.phaseDuration)
	return m
}

// Registry exposes the collectors for scraping or tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) recordRun(result Phase) {
	m.runsTotal.WithLabelValues(string(result)).Inc()
}

func (m *Metrics) recordPhase(phase Phase, d time.Duration) {
	m.phaseDuration.WithLabelValues(string(phase)).Observe(d.Seconds())
}

// WriteTextfile writes the current values in the node-exporter textfile
// format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
