package metrics

import "github.com/prometheus/client_golang/prometheus"

// Vector index Prometheus metrics.
var (
	IndexVectors = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_vectors",
			Help:      "Number of vectors in the current index generation",
		},
	)

	IndexGenerationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_generations_total",
			Help:      "Index generations published",
		},
	)

	IndexSearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "index_search_duration_seconds",
			Help:      "Nearest-neighbor search duration in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"mode"},
	)

	IndexProbedListsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_probed_lists_total",
			Help:      "Inverted lists scanned by IVF searches",
		},
	)

	IndexEffectiveProbes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_effective_probes",
			Help:      "IVF probe cap in effect after recall calibration (0 = unbounded)",
		},
	)

	IndexRecallTop1 = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_recall_top1",
			Help:      "Top-1 agreement with exact search measured at the last calibration",
		},
	)

	IndexTrainingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_trainings_total",
			Help:      "Coarse quantizer trainings",
		},
		[]string{"status"},
	)

	IndexCorruptionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_corruptions_total",
			Help:      "Index generations marked corrupt",
		},
	)

	IndexRecoveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_recoveries_total",
			Help:      "Index recoveries from persisted snapshots",
		},
		[]string{"status"},
	)

	IndexSnapshotsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_snapshots_total",
			Help:      "Index snapshot saves",
		},
		[]string{"status"},
	)
)

var indexMetricsRegistered bool

// RegisterIndexMetrics registers Prometheus index metrics. Must be called once from main.
func RegisterIndexMetrics() {
	if indexMetricsRegistered {
		return
	}
	prometheus.MustRegister(IndexVectors)
	prometheus.MustRegister(IndexGenerationsTotal)
	prometheus.MustRegister(IndexSearchDuration)
	prometheus.MustRegister(IndexProbedListsTotal)
	prometheus.MustRegister(IndexEffectiveProbes)
	prometheus.MustRegister(IndexRecallTop1)
	prometheus.MustRegister(IndexTrainingsTotal)
	prometheus.MustRegister(IndexCorruptionsTotal)
	prometheus.MustRegister(IndexRecoveriesTotal)
	prometheus.MustRegister(IndexSnapshotsTotal)
	indexMetricsRegistered = true
}
