package warehouse

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/solari-labs/adctl/internal/domain"
)

// SQLiteReader implements Reader for the lite profile: the same query
// shapes as PostgresReader, translated to database/sql against the
// embedded SQLite file.
type SQLiteReader struct {
	db      *sql.DB
	logger  *slog.Logger
	metrics *queryMetrics
}

func NewSQLiteReader(db *sql.DB, logger *slog.Logger) *SQLiteReader {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteReader{db: db, logger: logger, metrics: newQueryMetrics()}
}

func (r *SQLiteReader) observe(operation string, start time.Time, err *error, rows int) {
	r.metrics.duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if *err != nil {
		r.metrics.errors.WithLabelValues(operation).Inc()
		return
	}
	r.metrics.results.WithLabelValues(operation).Observe(float64(rows))
}

func (r *SQLiteReader) GetEntityWindow(ctx context.Context, kind domain.EntityKind, customerID, snapshotDate string, windowDays int) (out []domain.EntityWithMetrics, err error) {
	start := time.Now()
	defer func() { r.observe("get_entity_window", start, &err, len(out)) }()

	const query = `
		SELECT e.entity_id, e.name, e.status, e.ad_group_id, e.match_type, e.keyword_text,
		       e.bid_micros, e.budget_micros,
		       w.clicks_7d, w.impressions_7d, w.cost_micros_7d, w.conversions_7d, w.conv_value_7d,
		       w.clicks_30d, w.impressions_30d, w.cost_micros_30d, w.conversions_30d, w.conv_value_30d
		FROM entity_snapshot e
		JOIN entity_metrics_windowed w
		  ON w.customer_id = e.customer_id AND w.entity_kind = e.entity_kind AND w.entity_id = e.entity_id
		WHERE e.customer_id = ? AND e.entity_kind = ? AND w.snapshot_date = ?`

	rows, err := r.db.QueryContext(ctx, query, customerID, string(kind), snapshotDate)
	if err != nil {
		return nil, &domain.WarehouseUnavailable{Cause: err}
	}
	defer rows.Close()

	for rows.Next() {
		var ent domain.Entity
		var wm domain.WindowedMetrics
		ent.Identity = domain.EntityID{CustomerID: customerID, Kind: kind}
		wm.SnapshotDate = snapshotDate

		if err = rows.Scan(
			&ent.Identity.ID, &ent.Name, &ent.Status, &ent.AdGroupID, &ent.MatchType, &ent.KeywordText,
			&ent.BidMicros, &ent.BudgetMicros,
			&wm.Clicks7d, &wm.Impressions7d, &wm.CostMicros7d, &wm.Conversions7d, &wm.ConvValue7d,
			&wm.Clicks30d, &wm.Impressions30d, &wm.CostMicros30d, &wm.Conversions30d, &wm.ConvValue30d,
		); err != nil {
			return nil, &domain.WarehouseUnavailable{Cause: err}
		}
		wm.Identity = ent.Identity
		out = append(out, domain.EntityWithMetrics{Entity: ent, Metrics: wm})
	}
	if err = rows.Err(); err != nil {
		return nil, &domain.WarehouseUnavailable{Cause: err}
	}
	return out, nil
}

func (r *SQLiteReader) GetRecentChanges(ctx context.Context, customerID string, since time.Time) (out []domain.ChangeRecord, err error) {
	start := time.Now()
	defer func() { r.observe("get_recent_changes", start, &err, len(out)) }()

	const query = `
		SELECT change_id, entity_kind, entity_id, lever, action_kind, old_value, new_value, change_pct,
		       rule_id, risk_tier, metadata, change_date, executed_at, approved_by,
		       rollback_status, rollback_id, rollback_reason
		FROM change_log
		WHERE customer_id = ? AND change_date >= ?
		ORDER BY change_id ASC`

	rows, err := r.db.QueryContext(ctx, query, customerID, since)
	if err != nil {
		return nil, &domain.WarehouseUnavailable{Cause: err}
	}
	defer rows.Close()

	for rows.Next() {
		var rec domain.ChangeRecord
		var metadataRaw []byte
		var rollbackID sql.NullInt64
		rec.Identity.CustomerID = customerID

		if err = rows.Scan(
			&rec.ChangeID, &rec.Identity.Kind, &rec.Identity.ID, &rec.Lever, &rec.ActionKind,
			&rec.OldValue, &rec.NewValue, &rec.ChangePct, &rec.RuleID, &rec.RiskTier,
			&metadataRaw, &rec.ChangeDate, &rec.ExecutedAt, &rec.ApprovedBy,
			&rec.RollbackStatus, &rollbackID, &rec.RollbackReason,
		); err != nil {
			return nil, &domain.WarehouseUnavailable{Cause: err}
		}
		if rollbackID.Valid {
			v := rollbackID.Int64
			rec.RollbackID = &v
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

func (r *SQLiteReader) GetEntityMetricsBetween(ctx context.Context, id domain.EntityID, startT, endT time.Time) (out []domain.MetricRow, err error) {
	start := time.Now()
	defer func() { r.observe("get_entity_metrics_between", start, &err, len(out)) }()

	const query = `
		SELECT metric_date, impressions, clicks, cost_micros, conversions, conversions_value
		FROM entity_metrics_daily
		WHERE customer_id = ? AND entity_kind = ? AND entity_id = ?
		  AND metric_date >= ? AND metric_date < ?
		ORDER BY metric_date ASC`

	rows, err := r.db.QueryContext(ctx, query, id.CustomerID, string(id.Kind), id.ID, startT, endT)
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

func (r *SQLiteReader) GetCurrentEntity(ctx context.Context, id domain.EntityID) (ent domain.Entity, err error) {
	start := time.Now()
	defer func() { r.observe("get_current_entity", start, &err, 1) }()

	const query = `
		SELECT name, status, ad_group_id, match_type, keyword_text, bid_micros, budget_micros
		FROM entity_snapshot
		WHERE customer_id = ? AND entity_kind = ? AND entity_id = ?`

	ent.Identity = id
	row := r.db.QueryRowContext(ctx, query, id.CustomerID, string(id.Kind), id.ID)
	if err = row.Scan(&ent.Name, &ent.Status, &ent.AdGroupID, &ent.MatchType, &ent.KeywordText, &ent.BidMicros, &ent.BudgetMicros); err != nil {
		return domain.Entity{}, &domain.WarehouseUnavailable{Cause: err}
	}
	return ent, nil
}
