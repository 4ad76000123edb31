package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the pipeline's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	StepDuration *prometheus.HistogramVec
	Runs         *prometheus.CounterVec
	Errors       *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when reg
// is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tradeagent_pipeline_step_duration_seconds",
				Help:    "Duration of each pipeline step in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"step", "result"},
		),
		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradeagent_pipeline_runs_total",
				Help: "Completed pipeline runs by terminal status",
			},
			[]string{"status"},
		),
		Errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradeagent_pipeline_errors_total",
				Help: "Errors recorded during pipeline runs by kind",
			},
			[]string{"kind"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.StepDuration, m.Runs, m.Errors)
	}
	return m
}

func (m *Metrics) observeStep(step, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.StepDuration.WithLabelValues(step, result).Observe(d.Seconds())
}

func (m *Metrics) countRun(status Status) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) countError(kind string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(kind).Inc()
}
