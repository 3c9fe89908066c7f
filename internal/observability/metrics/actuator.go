package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// ActuatorMetrics contains all Prometheus metrics related to actuator
// actions (mute, dim, database writes, notifications).
type ActuatorMetrics struct {
	ActionsExecuted *prometheus.CounterVec
	ActionErrors    *prometheus.CounterVec
	ActionLatency   prometheus.Histogram
	registry        *prometheus.Registry
}

// NewActuatorMetrics creates a new instance of ActuatorMetrics registered
// against the given registry.
func NewActuatorMetrics(registry *prometheus.Registry) (*ActuatorMetrics, error) {
	m := &ActuatorMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register actuator metrics: %w", err)
	}
	return m, nil
}

func (m *ActuatorMetrics) initMetrics() {
	m.ActionsExecuted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "actuator_actions_executed_total",
		Help: "Total number of actuator actions executed",
	}, []string{"action"})

	m.ActionErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "actuator_action_errors_total",
		Help: "Total number of actuator actions that failed",
	}, []string{"action"})

	m.ActionLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "actuator_action_latency_seconds",
		Help:    "Latency of actuator action execution",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
	})
}

// RecordAction records one executed action and its latency.
func (m *ActuatorMetrics) RecordAction(action string, latencySeconds float64) {
	m.ActionsExecuted.WithLabelValues(action).Inc()
	m.ActionLatency.Observe(latencySeconds)
}

// RecordActionError records one failed action.
func (m *ActuatorMetrics) RecordActionError(action string) {
	m.ActionErrors.WithLabelValues(action).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *ActuatorMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.ActionsExecuted.Describe(ch)
	m.ActionErrors.Describe(ch)
	m.ActionLatency.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *ActuatorMetrics) Collect(ch chan<- prometheus.Metric) {
	m.ActionsExecuted.Collect(ch)
	m.ActionErrors.Collect(ch)
	m.ActionLatency.Collect(ch)
}
