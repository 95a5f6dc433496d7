// Package telemetry exposes Prometheus metrics for turns and step
// execution.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	TurnsTotal    *prometheus.CounterVec
	StepsTotal    *prometheus.CounterVec
	StepDuration  *prometheus.HistogramVec
	PlanSteps     prometheus.Histogram
	TurnDuration  prometheus.Histogram
	ActiveWorkers prometheus.Gauge
}

// New registers the engine metrics on reg. Pass prometheus.DefaultRegisterer
// for the global registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sidekick",
			Name:      "turns_total",
			Help:      "Turns by terminal plan status.",
		}, []string{"status"}),
		StepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sidekick",
			Name:      "steps_total",
			Help:      "Executed steps by tool and outcome.",
		}, []string{"tool", "outcome"}),
		StepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sidekick",
			Name:      "step_duration_seconds",
			Help:      "Wall time per step execution.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"tool"}),
		PlanSteps: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sidekick",
			Name:      "plan_steps",
			Help:      "Steps per approved plan.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
		}),
		TurnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sidekick",
			Name:      "turn_duration_seconds",
			Help:      "Wall time per turn, intent through synthesis.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		ActiveWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "sidekick",
			Name:      "active_workers",
			Help:      "Steps currently executing.",
		}),
	}
}

// WorkerStarted marks one step as running.
func (m *Metrics) WorkerStarted() {
	if m == nil {
		return
	}
	m.ActiveWorkers.Inc()
}

// WorkerDone marks one running step as finished.
func (m *Metrics) WorkerDone() {
	if m == nil {
		return
	}
	m.ActiveWorkers.Dec()
}

// ObserveStep records one step execution.
func (m *Metrics) ObserveStep(tool, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.StepsTotal.WithLabelValues(tool, outcome).Inc()
	m.StepDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// ObserveTurn records one finished turn.
func (m *Metrics) ObserveTurn(status string, steps int, duration time.Duration) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(status).Inc()
	m.PlanSteps.Observe(float64(steps))
	m.TurnDuration.Observe(duration.Seconds())
}
