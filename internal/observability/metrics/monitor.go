// Package metrics provides custom Prometheus metrics for the monitor
// pipeline and its actuators.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// MonitorMetrics contains all Prometheus metrics related to the audio
// monitor loop.
type MonitorMetrics struct {
	TicksProcessed prometheus.Counter
	BufferOverruns prometheus.Counter
	StreamStalls   prometheus.Counter
	ReadRetries    prometheus.Counter
	Detections     *prometheus.CounterVec
	BestScore      prometheus.Gauge
	MatchActive    prometheus.Gauge
	TickDuration   prometheus.Histogram
	registry       *prometheus.Registry
}

// NewMonitorMetrics creates a new instance of MonitorMetrics registered
// against the given registry.
func NewMonitorMetrics(registry *prometheus.Registry) (*MonitorMetrics, error) {
	m := &MonitorMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register monitor metrics: %w", err)
	}
	return m, nil
}

func (m *MonitorMetrics) initMetrics() {
	m.TicksProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "monitor_ticks_processed_total",
		Help: "Total number of audio chunks scored against the pattern catalogue",
	})

	m.BufferOverruns = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "monitor_buffer_overruns_total",
		Help: "Total number of audio chunks dropped because the analysis buffer was full",
	})

	m.StreamStalls = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "monitor_stream_stalls_total",
		Help: "Total number of times the capture stream stalled past the stall timeout",
	})

	m.ReadRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "monitor_read_retries_total",
		Help: "Total number of retried chunk reads",
	})

	m.Detections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "monitor_detections_total",
		Help: "Total number of confirmed pattern detections",
	}, []string{"pattern"})

	m.BestScore = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "monitor_best_match_score",
		Help: "Best similarity score of the most recent tick",
	})

	m.MatchActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "monitor_match_active",
		Help: "Whether a confirmed match is currently active (1) or not (0)",
	})

	m.TickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "monitor_tick_duration_seconds",
		Help:    "Time spent extracting features and scoring one chunk",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
	})
}

// RecordTick records one completed scoring pass and its best score.
func (m *MonitorMetrics) RecordTick(bestScore, durationSeconds float64) {
	m.TicksProcessed.Inc()
	m.BestScore.Set(bestScore)
	m.TickDuration.Observe(durationSeconds)
}

// IncrementBufferOverruns increments the dropped chunk count.
func (m *MonitorMetrics) IncrementBufferOverruns() {
	m.BufferOverruns.Inc()
}

// IncrementStreamStalls increments the stall count.
func (m *MonitorMetrics) IncrementStreamStalls() {
	m.StreamStalls.Inc()
}

// IncrementReadRetries increments the retried read count.
func (m *MonitorMetrics) IncrementReadRetries() {
	m.ReadRetries.Inc()
}

// RecordDetection records one confirmed detection for a pattern.
func (m *MonitorMetrics) RecordDetection(patternID string) {
	m.Detections.WithLabelValues(patternID).Inc()
}

// SetMatchActive flags whether a match is currently active.
func (m *MonitorMetrics) SetMatchActive(active bool) {
	if active {
		m.MatchActive.Set(1)
	} else {
		m.MatchActive.Set(0)
	}
}

// Describe implements the prometheus.Collector interface.
func (m *MonitorMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.TicksProcessed.Describe(ch)
	m.BufferOverruns.Describe(ch)
	m.StreamStalls.Describe(ch)
	m.ReadRetries.Describe(ch)
	m.Detections.Describe(ch)
	m.BestScore.Describe(ch)
	m.MatchActive.Describe(ch)
	m.TickDuration.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *MonitorMetrics) Collect(ch chan<- prometheus.Metric) {
	m.TicksProcessed.Collect(ch)
	m.BufferOverruns.Collect(ch)
	m.StreamStalls.Collect(ch)
	m.ReadRetries.Collect(ch)
	m.Detections.Collect(ch)
	m.BestScore.Collect(ch)
	m.MatchActive.Collect(ch)
	m.TickDuration.Collect(ch)
}
