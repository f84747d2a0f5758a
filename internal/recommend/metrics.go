package recommend

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type runMetrics struct {
	runsTotal    *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	ruleEmits    *prometheus.CounterVec
	ruleErrors   *prometheus.CounterVec
	proposalsOut *prometheus.HistogramVec
}

var (
	runMetricsOnce sync.Once
	runMetricsInst *runMetrics
)

// newRunMetrics registers the collectors on the first call and returns that
// same instance to every later engine, since promauto panics when a metric
// name is registered twice.
func newRunMetrics() *runMetrics {
	runMetricsOnce.Do(func() { runMetricsInst = buildRunMetrics() })
	return runMetricsInst
}

func buildRunMetrics() *runMetrics {
	return &runMetrics{
		runsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adctl", Subsystem: "recommend", Name: "runs_total",
			Help: "Recommendation generation runs by outcome.",
		}, []string{"outcome"}),
		runDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "adctl", Subsystem: "recommend", Name: "run_duration_seconds",
			Help:    "Generation run duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"entity_kind"}),
		ruleEmits: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adctl", Subsystem: "recommend", Name: "rule_emits_total",
			Help: "Proposals emitted per rule before dedup.",
		}, []string{"rule_id"}),
		ruleErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adctl", Subsystem: "recommend", Name: "rule_errors_total",
			Help: "Rule evaluation panics/errors, proposal dropped.",
		}, []string{"rule_id"}),
		proposalsOut: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "adctl", Subsystem: "recommend", Name: "proposals_emitted",
			Help:    "Final proposal count per run, after dedup.",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 500},
		}, []string{"customer_id"}),
	}
}
