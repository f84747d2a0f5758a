package execution

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type executionMetrics struct {
	outcomes *prometheus.CounterVec
	duration prometheus.Histogram
	retries  *prometheus.CounterVec
}

var (
	executionMetricsOnce sync.Once
	executionMetricsInst *executionMetrics
)

// newExecutionMetrics registers the collectors on the first call and returns
// that same instance to every later engine, since promauto panics when a
// metric name is registered twice.
func newExecutionMetrics() *executionMetrics {
	executionMetricsOnce.Do(func() { executionMetricsInst = buildExecutionMetrics() })
	return executionMetricsInst
}

func buildExecutionMetrics() *executionMetrics {
	return &executionMetrics{
		outcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adctl", Subsystem: "execution", Name: "proposals_total",
			Help: "Executed proposals by mode and outcome.",
		}, []string{"mode", "outcome"}),
		duration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "adctl", Subsystem: "execution", Name: "batch_duration_seconds",
			Help:    "Wall-clock duration of one ExecuteBatch call.",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
		retries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adctl", Subsystem: "execution", Name: "adapter_retries_total",
			Help: "Ads API Adapter retry attempts by outcome.",
		}, []string{"outcome"}),
	}
}
