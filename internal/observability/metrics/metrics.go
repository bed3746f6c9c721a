package metrics

import "github.com/prometheus/client_golang/prometheus"

// AnalyticsMetrics exposes counters/histograms for the aggregation paths.
type AnalyticsMetrics struct {
	queryDuration *prometheus.HistogramVec
	storeErrors   *prometheus.CounterVec
	exportRows    prometheus.Counter
	exportCapped  prometheus.Counter
}

func NewAnalyticsMetrics(reg prometheus.Registerer) *AnalyticsMetrics {
	m := &AnalyticsMetrics{
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "voxlane",
			Subsystem: "analytics",
			Name:      "query_duration_seconds",
			Help:      "Latency of aggregation, drill-down and table queries",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "status"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voxlane",
			Subsystem: "analytics",
			Name:      "store_errors_total",
			Help:      "Backing-store failures by operation",
		}, []string{"operation"}),
		exportRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voxlane",
			Subsystem: "analytics",
			Name:      "export_rows_total",
			Help:      "Rows written by the CSV exporter",
		}),
		exportCapped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voxlane",
			Subsystem: "analytics",
			Name:      "export_capped_total",
			Help:      "Exports truncated at the row cap",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.queryDuration, m.storeErrors, m.exportRows, m.exportCapped)
	return m
}

func (m *AnalyticsMetrics) ObserveQuery(operation, status string, seconds float64) {
	if m == nil {
		return
	}
	m.queryDuration.WithLabelValues(operation, status).Observe(seconds)
}

func (m *AnalyticsMetrics) ObserveStoreError(operation string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(operation).Inc()
}

func (m *AnalyticsMetrics) ObserveExport(rows int, capped bool) {
	if m == nil {
		return
	}
	m.exportRows.Add(float64(rows))
	if capped {
		m.exportCapped.Inc()
	}
}
