package adsapi

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type adapterMetrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

var (
	adapterMetricsOnce sync.Once
	adapterMetricsInst *adapterMetrics
)

// newAdapterMetrics registers the collectors on the first call and returns
// that same instance to every later adapter, since promauto panics when a
// metric name is registered twice.
func newAdapterMetrics() *adapterMetrics {
	adapterMetricsOnce.Do(func() { adapterMetricsInst = buildAdapterMetrics() })
	return adapterMetricsInst
}

func buildAdapterMetrics() *adapterMetrics {
	return &adapterMetrics{
		calls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adctl", Subsystem: "adsapi", Name: "calls_total",
			Help: "Ads API Adapter calls by mode and outcome.",
		}, []string{"mode", "outcome"}),
		duration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "adctl", Subsystem: "adsapi", Name: "call_duration_seconds",
			Help:    "Ads API Adapter call duration by mode.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"mode"}),
	}
}
