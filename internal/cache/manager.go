package cache

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks cache operation counts and latency. Unlike the teacher's
// cache, this one is generic over value shape, so metrics carry no
// value-type label.
type Metrics struct {
	Hits      *prometheus.CounterVec
	Misses    *prometheus.CounterVec
	Evictions *prometheus.CounterVec
	Errors    *prometheus.CounterVec
	Size      *prometheus.GaugeVec
	Latency   *prometheus.HistogramVec
}

var (
	metricsOnce sync.Once
	metricsInst *Metrics
)

// NewMetrics registers the collectors on the first call and returns that
// same instance to every later manager, since promauto panics when a metric
// name is registered twice.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() { metricsInst = buildMetrics() })
	return metricsInst
}

func buildMetrics() *Metrics {
	return &Metrics{
		Hits: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adctl", Subsystem: "cache", Name: "hits_total", Help: "Cache hits by tier.",
		}, []string{"tier"}),
		Misses: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adctl", Subsystem: "cache", Name: "misses_total", Help: "Cache misses by tier.",
		}, []string{"tier"}),
		Evictions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adctl", Subsystem: "cache", Name: "evictions_total", Help: "Evictions by tier.",
		}, []string{"tier"}),
		Errors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adctl", Subsystem: "cache", Name: "errors_total", Help: "Cache errors by tier and type.",
		}, []string{"tier", "type"}),
		Size: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "adctl", Subsystem: "cache", Name: "size", Help: "Current entry count by tier.",
		}, []string{"tier"}),
		Latency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "adctl", Subsystem: "cache", Name: "operation_latency_seconds",
			Help:    "Cache operation latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

// Manager is the Expiring Cache: a mapping from opaque string keys to
// opaque byte-slice values with a per-entry insertion timestamp, consulted
// L1-then-L2. Callers that want typed values use the package-level
// GetJSON/PutJSON helpers.
type Manager struct {
	l1        *L1
	l2        *L2
	l1Enabled bool
	l2Enabled bool
	logger    *slog.Logger
	metrics   *Metrics
}

// NewManager wires L1/L2 per cfg. l2 may be nil when cfg.L2Enabled is false
// (e.g. lite profile).
func NewManager(cfg *Config, l2 *L2, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		l1Enabled: cfg.L1Enabled,
		l2Enabled: cfg.L2Enabled && l2 != nil,
		l2:        l2,
		logger:    logger,
		metrics:   NewMetrics(),
	}
	if cfg.L1Enabled {
		l1, err := NewL1(cfg.L1MaxEntries, cfg.L1TTL)
		if err != nil {
			return nil, err
		}
		m.l1 = l1
	}
	return m, nil
}

// Get returns the raw bytes for key, consulting L1 then L2. An L2 hit
// backfills L1.
func (m *Manager) Get(ctx context.Context, key string) ([]byte, bool) {
	if m.l1Enabled {
		if v, ok := m.l1.Get(key); ok {
			m.metrics.Hits.WithLabelValues("l1").Inc()
			return v, true
		}
		m.metrics.Misses.WithLabelValues("l1").Inc()
	}

	if !m.l2Enabled {
		return nil, false
	}

	v, err := m.l2.Get(ctx, key)
	if err != nil {
		if err != ErrNotFound {
			m.logger.Warn("cache l2 get failed", "key", key, "error", err)
			m.metrics.Errors.WithLabelValues("l2", "get").Inc()
		}
		m.metrics.Misses.WithLabelValues("l2").Inc()
		return nil, false
	}

	m.metrics.Hits.WithLabelValues("l2").Inc()
	if m.l1Enabled {
		m.l1.Set(key, v)
	}
	return v, true
}

// Put writes value to every enabled tier.
func (m *Manager) Put(ctx context.Context, key string, value []byte) {
	if m.l1Enabled {
		m.l1.Set(key, value)
	}
	if m.l2Enabled {
		if err := m.l2.Set(ctx, key, value); err != nil {
			m.logger.Warn("cache l2 set failed", "key", key, "error", err)
			m.metrics.Errors.WithLabelValues("l2", "set").Inc()
		}
	}
}

// Invalidate removes key from every enabled tier.
func (m *Manager) Invalidate(ctx context.Context, key string) {
	if m.l1Enabled {
		m.l1.Delete(key)
	}
	if m.l2Enabled {
		if err := m.l2.Delete(ctx, key); err != nil {
			m.logger.Warn("cache l2 delete failed", "key", key, "error", err)
		}
	}
}

// InvalidatePrefix removes every key starting with prefix from every
// enabled tier — used by the Execution Engine after a batch to drop cached
// reads for the customer whose entities just changed.
func (m *Manager) InvalidatePrefix(ctx context.Context, prefix string) {
	if m.l1Enabled {
		m.l1.DeletePrefix(prefix)
	}
	if m.l2Enabled {
		if err := m.l2.DeletePrefix(ctx, prefix); err != nil {
			m.logger.Warn("cache l2 prefix delete failed", "prefix", prefix, "error", err)
		}
	}
}

// Close releases any held connections.
func (m *Manager) Close() error {
	if m.l2Enabled {
		return m.l2.Close()
	}
	return nil
}

// Key hashes an arbitrary request shape into a stable cache key of the form
// "<namespace>:v1:<hash>".
func Key(namespace string, request any) (string, error) {
	data, err := json.Marshal(request)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return namespace + ":v1:" + base64.URLEncoding.EncodeToString(sum[:]), nil
}

// GetJSON is a typed convenience wrapper over Manager.Get for callers that
// store JSON-marshaled values.
func GetJSON[T any](ctx context.Context, m *Manager, key string) (T, bool) {
	var zero T
	raw, ok := m.Get(ctx, key)
	if !ok {
		return zero, false
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		m.logger.Warn("cache value failed to unmarshal, treating as miss", "key", key, "error", err)
		return zero, false
	}
	return v, true
}

// PutJSON is a typed convenience wrapper over Manager.Put.
func PutJSON[T any](ctx context.Context, m *Manager, key string, value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return errSerialization("failed to marshal cache value", err)
	}
	m.Put(ctx, key, raw)
	return nil
}
