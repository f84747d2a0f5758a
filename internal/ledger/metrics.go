package ledger

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type ledgerMetrics struct {
	duration *prometheus.HistogramVec
	errors   *prometheus.CounterVec
	appended prometheus.Counter
}

var (
	ledgerMetricsOnce sync.Once
	ledgerMetricsInst *ledgerMetrics
)

// newLedgerMetrics registers the collectors on the first call and returns
// that same instance to every later store, since promauto panics when a
// metric name is registered twice.
func newLedgerMetrics() *ledgerMetrics {
	ledgerMetricsOnce.Do(func() { ledgerMetricsInst = buildLedgerMetrics() })
	return ledgerMetricsInst
}

func buildLedgerMetrics() *ledgerMetrics {
	return &ledgerMetrics{
		duration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "adctl", Subsystem: "ledger", Name: "query_duration_seconds",
			Help:    "Change Ledger query duration by operation.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"operation"}),
		errors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adctl", Subsystem: "ledger", Name: "query_errors_total",
			Help: "Change Ledger query errors by operation.",
		}, []string{"operation"}),
		appended: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "adctl", Subsystem: "ledger", Name: "records_appended_total",
			Help: "Total ChangeRecords appended.",
		}),
	}
}
