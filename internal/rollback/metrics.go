package rollback

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type rollbackMetrics struct {
	ticks        prometheus.Counter
	tickDuration prometheus.Histogram
	evaluated    *prometheus.CounterVec
	locksLost    prometheus.Counter
}

var (
	rollbackMetricsOnce sync.Once
	rollbackMetricsInst *rollbackMetrics
)

// newRollbackMetrics registers the collectors on the first call and returns
// that same instance to every later monitor, since promauto panics when a
// metric name is registered twice.
func newRollbackMetrics() *rollbackMetrics {
	rollbackMetricsOnce.Do(func() { rollbackMetricsInst = buildRollbackMetrics() })
	return rollbackMetricsInst
}

func buildRollbackMetrics() *rollbackMetrics {
	return &rollbackMetrics{
		ticks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "adctl", Subsystem: "rollback", Name: "ticks_total",
			Help: "Rollback Monitor ticks run.",
		}),
		tickDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "adctl", Subsystem: "rollback", Name: "tick_duration_seconds",
			Help:    "Wall-clock duration of one monitor tick.",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30},
		}),
		evaluated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adctl", Subsystem: "rollback", Name: "records_evaluated_total",
			Help: "Change records evaluated by outcome.",
		}, []string{"outcome"}),
		locksLost: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "adctl", Subsystem: "rollback", Name: "lock_contended_total",
			Help: "Records skipped because another tick already held the advisory lock.",
		}),
	}
}
