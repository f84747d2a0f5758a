// Package rollback is the Rollback Monitor (C10): it polls the Change Ledger
// for records whose post-change monitoring window has elapsed, compares
// baseline and post-change metrics from the Warehouse Reader, and either
// confirms the change or submits its inverse back through the Execution
// Engine.
package rollback

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/solari-labs/adctl/internal/config"
	"github.com/solari-labs/adctl/internal/domain"
	"github.com/solari-labs/adctl/internal/execution"
	"github.com/solari-labs/adctl/internal/ledger"
	"github.com/solari-labs/adctl/internal/lock"
	"github.com/solari-labs/adctl/internal/rules"
	"github.com/solari-labs/adctl/internal/warehouse"
)

const lockKeyPrefix = "rollback:"

// Monitor owns the post-execution regression check and rollback submission
// for every change still in the "monitoring" rollback state.
type Monitor struct {
	ledger    ledger.Store
	warehouse warehouse.Reader
	registry  *rules.Registry
	engine    *execution.Engine
	locker    lock.Locker
	cfg       config.RollbackConfig

	logger  *slog.Logger
	metrics *rollbackMetrics
}

func New(
	ledgerStore ledger.Store,
	warehouseReader warehouse.Reader,
	registry *rules.Registry,
	engine *execution.Engine,
	locker lock.Locker,
	cfg config.RollbackConfig,
	logger *slog.Logger,
) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		ledger:    ledgerStore,
		warehouse: warehouseReader,
		registry:  registry,
		engine:    engine,
		locker:    locker,
		cfg:       cfg,
		logger:    logger,
		metrics:   newRollbackMetrics(),
	}
}

// Run ticks every interval until ctx is cancelled. interval falls back to
// the configured TickSeconds when zero.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Duration(m.cfg.TickSeconds) * time.Second
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Tick(ctx); err != nil {
				m.logger.Error("rollback monitor tick failed", "error", err)
			}
		}
	}
}

// Tick evaluates every change record due for monitoring exactly once. It
// never returns an error for a single record's failure — those are logged
// and counted — only for a failure to list the due set at all.
func (m *Monitor) Tick(ctx context.Context) error {
	start := time.Now()
	defer func() { m.metrics.tickDuration.Observe(time.Since(start).Seconds()) }()
	m.metrics.ticks.Inc()

	windowDays := m.cfg.WindowDays
	if windowDays <= 0 {
		windowDays = 7
	}
	cutoff := start.AddDate(0, 0, -windowDays)

	due, err := m.ledger.DueForMonitoring(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("listing records due for monitoring: %w", err)
	}

	for _, rec := range due {
		m.evaluateOne(ctx, rec, start, windowDays)
	}
	return nil
}

func (m *Monitor) evaluateOne(ctx context.Context, rec domain.ChangeRecord, now time.Time, windowDays int) {
	key := fmt.Sprintf("%s%d", lockKeyPrefix, rec.ChangeID)
	acquired, err := m.locker.TryAcquire(ctx, key)
	if err != nil {
		m.logger.Error("rollback lock acquire failed", "change_id", rec.ChangeID, "error", err)
		return
	}
	if !acquired {
		m.metrics.locksLost.Inc()
		return
	}
	defer func() {
		if err := m.locker.Release(ctx, key); err != nil {
			m.logger.Error("rollback lock release failed", "change_id", rec.ChangeID, "error", err)
		}
	}()

	window := time.Duration(windowDays) * 24 * time.Hour
	baselineRows, err := m.warehouse.GetEntityMetricsBetween(ctx, rec.Identity, rec.ExecutedAt.Add(-window), rec.ExecutedAt)
	if err != nil {
		m.logger.Error("rollback baseline fetch failed", "change_id", rec.ChangeID, "error", err)
		return
	}
	postRows, err := m.warehouse.GetEntityMetricsBetween(ctx, rec.Identity, rec.ExecutedAt, rec.ExecutedAt.Add(window))
	if err != nil {
		m.logger.Error("rollback post-change fetch failed", "change_id", rec.ChangeID, "error", err)
		return
	}
	baseline := domain.SumMetricRows(baselineRows)
	post := domain.SumMetricRows(postRows)

	minPoints := m.cfg.MinPostDataPoints
	if minPoints <= 0 {
		minPoints = 20
		if baseline.Clicks > minPoints {
			minPoints = baseline.Clicks
		}
	}
	if post.Clicks < minPoints {
		m.handleInsufficientSignal(ctx, rec, now)
		return
	}

	rule, ok := m.registry.RuleByID(rec.RuleID)
	if !ok {
		m.logger.Error("rollback rule not found, leaving record monitoring", "change_id", rec.ChangeID, "rule_id", rec.RuleID)
		return
	}

	if !isRegression(rule, baseline, post, m.cfg.Regression) {
		if err := m.ledger.MarkRollbackResult(ctx, rec.ChangeID, domain.RollbackConfirmedGood, ""); err != nil {
			m.logger.Error("rollback mark confirmed_good failed", "change_id", rec.ChangeID, "error", err)
			return
		}
		m.metrics.evaluated.WithLabelValues("confirmed_good").Inc()
		return
	}

	reason := "performance_regression"
	if baseROAS := baseline.ROAS(); baseROAS > 0 {
		if drop := (baseROAS - post.ROAS()) / baseROAS; drop > m.cfg.Regression.ROASDropPct && post.CostMicros > baseline.CostMicros {
			reason = fmt.Sprintf("roas_regression_%.0f%%", drop*100)
		}
	}
	if baseCPA := baseline.CPA(); reason == "performance_regression" && baseCPA > 0 {
		if increase := (post.CPA() - baseCPA) / baseCPA; increase > m.cfg.Regression.CPAIncreasePct {
			reason = fmt.Sprintf("cpa_regression_%.0f%%", increase*100)
		}
	}
	m.rollback(ctx, rec, reason)
}

// handleInsufficientSignal leaves a record in "monitoring" for the next tick
// unless it has already been monitored past the extension cap, in which
// case it is confirmed good on the theory that a change too small to ever
// generate a clean signal is not one worth reversing.
func (m *Monitor) handleInsufficientSignal(ctx context.Context, rec domain.ChangeRecord, now time.Time) {
	capDays := m.cfg.ExtensionCapDays
	if capDays <= 0 {
		capDays = 14
	}
	if rec.MonitoringStartedAt == nil || now.Sub(*rec.MonitoringStartedAt) < time.Duration(capDays)*24*time.Hour {
		m.metrics.evaluated.WithLabelValues("extended").Inc()
		return
	}
	if err := m.ledger.MarkRollbackResult(ctx, rec.ChangeID, domain.RollbackConfirmedGood, "insufficient_signal"); err != nil {
		m.logger.Error("rollback mark insufficient_signal failed", "change_id", rec.ChangeID, "error", err)
		return
	}
	m.metrics.evaluated.WithLabelValues("insufficient_signal").Inc()
}

func (m *Monitor) rollback(ctx context.Context, rec domain.ChangeRecord, reason string) {
	action, oldValue, newValue, ok := inverseAction(rec)
	if !ok {
		if err := m.ledger.MarkRollbackResult(ctx, rec.ChangeID, domain.RollbackRolledBack, "manual_intervention_required"); err != nil {
			m.logger.Error("rollback mark manual_intervention failed", "change_id", rec.ChangeID, "error", err)
		}
		m.metrics.evaluated.WithLabelValues("manual_intervention_required").Inc()
		m.logger.Warn("rollback requires manual intervention, no numeric inverse", "change_id", rec.ChangeID, "action_kind", rec.ActionKind)
		return
	}

	if _, err := m.engine.SubmitRollback(ctx, rec, action, oldValue, newValue, "rollback-monitor"); err != nil {
		m.logger.Error("rollback submission failed", "change_id", rec.ChangeID, "error", err)
		m.metrics.evaluated.WithLabelValues("rollback_failed").Inc()
		return
	}
	if err := m.ledger.MarkRollbackResult(ctx, rec.ChangeID, domain.RollbackRolledBack, reason); err != nil {
		m.logger.Error("rollback mark rolled_back failed", "change_id", rec.ChangeID, "error", err)
		return
	}
	m.metrics.evaluated.WithLabelValues("rolled_back").Inc()
}
