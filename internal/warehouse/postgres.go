package warehouse

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solari-labs/adctl/internal/domain"
)

// PostgresReader implements Reader over the standard profile's Postgres
// warehouse using raw parameterized SQL — no ORM, following the query-shape
// idiom of a read-model repository: windowed-aggregate queries, a
// time-range metrics query, and the entity liveness re-read.
type PostgresReader struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	metrics *queryMetrics
}

func NewPostgresReader(pool *pgxpool.Pool, logger *slog.Logger) *PostgresReader {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresReader{pool: pool, logger: logger, metrics: newQueryMetrics()}
}

func (r *PostgresReader) observe(operation string, start time.Time, err *error, rows int) {
	r.metrics.duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if *err != nil {
		r.metrics.errors.WithLabelValues(operation).Inc()
		return
	}
	r.metrics.results.WithLabelValues(operation).Observe(float64(rows))
}

// GetEntityWindow joins entity_snapshot with analytics.entity_metrics_windowed
// (the `analytics.*_daily` view family) to return entities with
// their precomputed 7d/30d windows as of snapshotDate.
func (r *PostgresReader) GetEntityWindow(ctx context.Context, kind domain.EntityKind, customerID, snapshotDate string, windowDays int) (out []domain.EntityWithMetrics, err error) {
	start := time.Now()
	defer func() { r.observe("get_entity_window", start, &err, len(out)) }()

	const query = `
		SELECT e.entity_id, e.name, e.status, e.ad_group_id, e.match_type, e.keyword_text,
		       e.bid_micros, e.budget_micros,
		       w.clicks_7d, w.impressions_7d, w.cost_micros_7d, w.conversions_7d, w.conv_value_7d,
		       w.clicks_30d, w.impressions_30d, w.cost_micros_30d, w.conversions_30d, w.conv_value_30d
		FROM analytics.entity_snapshot e
		JOIN analytics.entity_metrics_windowed w
		  ON w.customer_id = e.customer_id AND w.entity_kind = e.entity_kind AND w.entity_id = e.entity_id
		WHERE e.customer_id = $1 AND e.entity_kind = $2 AND w.snapshot_date = $3`

	rows, err := r.pool.Query(ctx, query, customerID, string(kind), snapshotDate)
	if err != nil {
		return nil, &domain.WarehouseUnavailable{Cause: err}
	}
	defer rows.Close()

	for rows.Next() {
		var ent domain.Entity
		var wm domain.WindowedMetrics
		ent.Identity = domain.EntityID{CustomerID: customerID, Kind: kind}
		wm.Identity = ent.Identity
		wm.SnapshotDate = snapshotDate

		if err = rows.Scan(
			&ent.Identity.ID, &ent.Name, &ent.Status, &ent.AdGroupID, &ent.MatchType, &ent.KeywordText,
			&ent.BidMicros, &ent.BudgetMicros,
			&wm.Clicks7d, &wm.Impressions7d, &wm.CostMicros7d, &wm.Conversions7d, &wm.ConvValue7d,
			&wm.Clicks30d, &wm.Impressions30d, &wm.CostMicros30d, &wm.Conversions30d, &wm.ConvValue30d,
		); err != nil {
			return nil, &domain.WarehouseUnavailable{Cause: err}
		}
		wm.Identity.ID = ent.Identity.ID
		out = append(out, domain.EntityWithMetrics{Entity: ent, Metrics: wm})
	}
	if err = rows.Err(); err != nil {
		return nil, &domain.WarehouseUnavailable{Cause: err}
	}
	return out, nil
}

// GetRecentChanges reads analytics.change_log, the read-model mirror of the
// ledger's change_log table; this is a convenience read path the Warehouse
// Reader exposes for collaborators that want recent history without
// depending on the ledger package.
func (r *PostgresReader) GetRecentChanges(ctx context.Context, customerID string, since time.Time) (out []domain.ChangeRecord, err error) {
	start := time.Now()
	defer func() { r.observe("get_recent_changes", start, &err, len(out)) }()

	const query = `
		SELECT change_id, entity_kind, entity_id, lever, action_kind, old_value, new_value, change_pct,
		       rule_id, risk_tier, metadata, change_date, executed_at, approved_by,
		       rollback_status, rollback_id, rollback_reason
		FROM analytics.change_log
		WHERE customer_id = $1 AND change_date >= $2
		ORDER BY change_id ASC`

	rows, err := r.pool.Query(ctx, query, customerID, since)
	if err != nil {
		return nil, &domain.WarehouseUnavailable{Cause: err}
	}
	defer rows.Close()

	for rows.Next() {
		var rec domain.ChangeRecord
		var metadataRaw []byte
		rec.Identity.CustomerID = customerID

		if err = rows.Scan(
			&rec.ChangeID, &rec.Identity.Kind, &rec.Identity.ID, &rec.Lever, &rec.ActionKind,
			&rec.OldValue, &rec.NewValue, &rec.ChangePct, &rec.RuleID, &rec.RiskTier,
			&metadataRaw, &rec.ChangeDate, &rec.ExecutedAt, &rec.ApprovedBy,
			&rec.RollbackStatus, &rec.RollbackID, &rec.RollbackReason,
		); err != nil {
			return nil, &domain.WarehouseUnavailable{Cause: err}
		}
		if len(metadataRaw) > 0 {
			var meta struct {
				Confidence float64            `json:"confidence"`
				Evidence   map[string]float64 `json:"evidence"`
				Reasoning  string             `json:"reasoning"`
			}
			if jerr := json.Unmarshal(metadataRaw, &meta); jerr == nil {
				rec.Confidence = meta.Confidence
				rec.Evidence = meta.Evidence
				rec.Reasoning = meta.Reasoning
			}
		}
		out = append(out, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, &domain.WarehouseUnavailable{Cause: err}
	}
	return out, nil
}

func (r *PostgresReader) GetEntityMetricsBetween(ctx context.Context, id domain.EntityID, startT, endT time.Time) (out []domain.MetricRow, err error) {
	start := time.Now()
	defer func() { r.observe("get_entity_metrics_between", start, &err, len(out)) }()

	const query = `
		SELECT metric_date, impressions, clicks, cost_micros, conversions, conversions_value
		FROM analytics.entity_metrics_daily
		WHERE customer_id = $1 AND entity_kind = $2 AND entity_id = $3
		  AND metric_date >= $4 AND metric_date < $5
		ORDER BY metric_date ASC`

	rows, err := r.pool.Query(ctx, query, id.CustomerID, string(id.Kind), id.ID, startT, endT)
	if err != nil {
		return nil, &domain.WarehouseUnavailable{Cause: err}
	}
	defer rows.Close()

	for rows.Next() {
		var m domain.MetricRow
		m.Identity = id
		if err = rows.Scan(&m.Date, &m.Impressions, &m.Clicks, &m.CostMicros, &m.Conversions, &m.ConversionsValue); err != nil {
			return nil, &domain.WarehouseUnavailable{Cause: err}
		}
		out = append(out, m)
	}
	if err = rows.Err(); err != nil {
		return nil, &domain.WarehouseUnavailable{Cause: err}
	}
	return out, nil
}

// GetCurrentEntity re-reads one entity's live state for the guardrail
// staleness check — it must reflect the warehouse's current
// truth, never a cached value.
func (r *PostgresReader) GetCurrentEntity(ctx context.Context, id domain.EntityID) (ent domain.Entity, err error) {
	start := time.Now()
	defer func() { r.observe("get_current_entity", start, &err, 1) }()

	const query = `
		SELECT name, status, ad_group_id, match_type, keyword_text, bid_micros, budget_micros
		FROM analytics.entity_snapshot
		WHERE customer_id = $1 AND entity_kind = $2 AND entity_id = $3`

	ent.Identity = id
	row := r.pool.QueryRow(ctx, query, id.CustomerID, string(id.Kind), id.ID)
	if err = row.Scan(&ent.Name, &ent.Status, &ent.AdGroupID, &ent.MatchType, &ent.KeywordText, &ent.BidMicros, &ent.BudgetMicros); err != nil {
		return domain.Entity{}, &domain.WarehouseUnavailable{Cause: err}
	}
	return ent, nil
}
