package metrics

import "github.com/prometheus/client_golang/prometheus"

// Query, classification and recommendation Prometheus metrics.
var (
	EngineRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_request_duration_seconds",
			Help:      "Engine operation duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"operation", "status"},
	)

	QueryWidenRounds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_widen_rounds",
			Help:      "Oversampling rounds needed per similarity query",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 8},
		},
	)

	QueryNonExhaustiveTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_non_exhaustive_total",
			Help:      "Query pages returned after hitting the oversampling ceiling",
		},
	)

	DegradedInputTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_input_total",
			Help:      "Identifiers skipped because they were missing from the index or metadata store",
		},
		[]string{"operation", "reason"},
	)

	ClassifyLabelsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classify_results_total",
			Help:      "Classification outcomes",
		},
		[]string{"outcome"}, // "labeled" / "uncategorized"
	)
)

var engineMetricsRegistered bool

// RegisterEngineMetrics registers Prometheus engine metrics. Must be called once from main.
func RegisterEngineMetrics() {
	if engineMetricsRegistered {
		return
	}
	prometheus.MustRegister(EngineRequestDuration)
	prometheus.MustRegister(QueryWidenRounds)
	prometheus.MustRegister(QueryNonExhaustiveTotal)
	prometheus.MustRegister(DegradedInputTotal)
	prometheus.MustRegister(ClassifyLabelsTotal)
	engineMetricsRegistered = true
}

// ObserveEngine records an engine operation's duration and outcome.
func ObserveEngine(operation string, seconds float64, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	EngineRequestDuration.WithLabelValues(operation, status).Observe(seconds)
}
