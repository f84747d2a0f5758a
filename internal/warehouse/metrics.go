package warehouse

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// queryMetrics is shared by every Reader implementation so dashboards don't
// need to distinguish backend.
type queryMetrics struct {
	duration *prometheus.HistogramVec
	errors   *prometheus.CounterVec
	results  *prometheus.HistogramVec
}

var (
	queryMetricsOnce sync.Once
	queryMetricsInst *queryMetrics
)

// newQueryMetrics registers the collectors on the first call and returns
// that same instance to every later reader, since promauto panics when a
// metric name is registered twice.
func newQueryMetrics() *queryMetrics {
	queryMetricsOnce.Do(func() { queryMetricsInst = buildQueryMetrics() })
	return queryMetricsInst
}

func buildQueryMetrics() *queryMetrics {
	return &queryMetrics{
		duration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "adctl", Subsystem: "warehouse", Name: "query_duration_seconds",
			Help:    "Warehouse query duration by operation.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"operation"}),
		errors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adctl", Subsystem: "warehouse", Name: "query_errors_total",
			Help: "Warehouse query errors by operation.",
		}, []string{"operation"}),
		results: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "adctl", Subsystem: "warehouse", Name: "query_results_total",
			Help:    "Row count returned by warehouse queries.",
			Buckets: []float64{0, 1, 10, 50, 100, 500, 1000, 5000},
		}, []string{"operation"}),
	}
}
