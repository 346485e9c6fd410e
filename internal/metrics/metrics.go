// Package metrics exposes Prometheus collectors for run execution.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Run outcomes used as the "outcome" label.
const (
	OutcomeDone    = "done"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

// Metrics groups the run collectors. A nil *Metrics records nothing.
type Metrics struct {
	runsStarted  prometheus.Counter
	runsFinished *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	inFlight     prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tsupgrade",
			Name:      "runs_started_total",
			Help:      "Runs that passed validation and started executing.",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tsupgrade",
			Name:      "runs_finished_total",
			Help:      "Runs that reached a terminal state, by outcome.",
		}, []string{"outcome"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tsupgrade",
			Name:      "step_duration_seconds",
			Help:      "Duration of each run step.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"step", "result"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tsupgrade",
			Name:      "runs_in_flight",
			Help:      "Runs currently executing.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.runsStarted, m.runsFinished, m.stepDuration, m.inFlight)
	}
	return m
}

// RunStarted counts a run and marks it in flight.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.runsStarted.Inc()
	m.inFlight.Inc()
}

// RunFinished records a terminal outcome and clears the in-flight mark.
func (m *Metrics) RunFinished(outcome string) {
	if m == nil {
		return
	}
	m.runsFinished.WithLabelValues(outcome).Inc()
	m.inFlight.Dec()
}

// ObserveStep records how long a step took.
func (m *Metrics) ObserveStep(step string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.stepDuration.WithLabelValues(step, result).Observe(d.Seconds())
}
