// Package middleware provides cross-cutting observability for the scoring
// engine: Prometheus metrics and OpenTelemetry tracing.
package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ahrav/go-cubecomp/internal/ports"
)

// Metric names understood by PrometheusMetrics. Any other counter or gauge
// name is recorded in the generic operation and state vectors.
const (
	MetricResultsSubmitted = "results_submitted_total"
	MetricRecalculations   = "leaderboard_recalculations_total"
	MetricCacheLookups     = "leaderboard_cache_lookups_total"
	MetricLeaderboardRows  = "leaderboard_rows"
)

// PrometheusMetrics implements the MetricsCollector interface using
// Prometheus. It tracks result submissions, leaderboard recalculations,
// cache efficiency and leaderboard sizes.
type PrometheusMetrics struct {
	resultsSubmitted *prometheus.CounterVec
	recalculations   *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
	leaderboardRows  *prometheus.GaugeVec
	executionLatency *prometheus.HistogramVec
	operationCounter *prometheus.CounterVec
	systemGauges     *prometheus.GaugeVec
}

// NewPrometheusMetrics creates a PrometheusMetrics instance and registers
// its metrics with reg. A nil reg registers with the default registry.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		resultsSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricResultsSubmitted,
				Help: "Total number of result submissions by outcome.",
			},
			[]string{"discipline", "status"},
		),
		recalculations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRecalculations,
				Help: "Total number of leaderboard recalculations by scope and outcome.",
			},
			[]string{"scope", "status"},
		),
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricCacheLookups,
				Help: "Rendered leaderboard cache lookups by result.",
			},
			[]string{"result"},
		),
		leaderboardRows: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: MetricLeaderboardRows,
				Help: "Number of rows in the most recently computed leaderboard.",
			},
			[]string{"scope"},
		),

		executionLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scoring_operation_duration_seconds",
				Help:    "Execution time of scoring operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "scope"},
		),
		operationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scoring_operations_total",
				Help: "Total number of other scoring operations.",
			},
			[]string{"operation", "status"},
		),
		systemGauges: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "scoring_system_state",
				Help: "Current system state values for the scoring engine.",
			},
			[]string{"metric"},
		),
	}
}

// RecordLatency records an operation's duration in the latency histogram.
func (pm *PrometheusMetrics) RecordLatency(
	operation string,
	duration time.Duration,
	labels map[string]string,
) {
	pm.executionLatency.WithLabelValues(operation, labelOr(labels, "scope")).Observe(duration.Seconds())
}

// RecordCounter increments the counter that metric names.
func (pm *PrometheusMetrics) RecordCounter(
	metric string, value float64, labels map[string]string,
) {
	switch metric {
	case MetricResultsSubmitted:
		pm.resultsSubmitted.WithLabelValues(labelOr(labels, "discipline"), labelOr(labels, "status")).Add(value)
	case MetricRecalculations:
		pm.recalculations.WithLabelValues(labelOr(labels, "scope"), labelOr(labels, "status")).Add(value)
	case MetricCacheLookups:
		pm.cacheLookups.WithLabelValues(labelOr(labels, "result")).Add(value)
	default:
		status := labels["status"]
		if status == "" {
			status = "success"
		}
		pm.operationCounter.WithLabelValues(metric, status).Add(value)
	}
}

// RecordGauge sets the gauge that metric names.
func (pm *PrometheusMetrics) RecordGauge(
	metric string, value float64, labels map[string]string,
) {
	switch metric {
	case MetricLeaderboardRows:
		pm.leaderboardRows.WithLabelValues(labelOr(labels, "scope")).Set(value)
	default:
		pm.systemGauges.WithLabelValues(metric).Set(value)
	}
}

// labelOr returns labels[name], or "unknown" when it is missing or empty.
func labelOr(labels map[string]string, name string) string {
	if v := labels[name]; v != "" {
		return v
	}
	return "unknown"
}

// Compile-time verification that PrometheusMetrics implements MetricsCollector.
var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)
