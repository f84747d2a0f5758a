package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solari-labs/adctl/internal/domain"
)

// PostgresStore implements Store against the standard profile's change_log
// table, grounded on postgres_history.go's raw pgx query/scan style and
// per-operation metrics wrapper.
type PostgresStore struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	metrics *ledgerMetrics
}

func NewPostgresStore(pool *pgxpool.Pool, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{pool: pool, logger: logger, metrics: newLedgerMetrics()}
}

func (s *PostgresStore) observe(operation string, start time.Time, err error) {
	s.metrics.duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.errors.WithLabelValues(operation).Inc()
	}
}

const ledgerColumns = `change_id, customer_id, entity_kind, entity_id, action_kind, lever,
	old_value, new_value, change_pct, rule_id, risk_tier, confidence, evidence, reasoning,
	change_date, executed_at, approved_by, rollback_status, rollback_id,
	monitoring_started_at, monitoring_completed_at, rollback_reason`

func (s *PostgresStore) Append(ctx context.Context, rec domain.ChangeRecord) (int64, error) {
	start := time.Now()
	evidence, err := json.Marshal(rec.Evidence)
	if err != nil {
		s.observe("append", start, err)
		return 0, err
	}

	var changeID int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO change_log
			(customer_id, entity_kind, entity_id, action_kind, lever, old_value, new_value,
			 change_pct, rule_id, risk_tier, confidence, evidence, reasoning,
			 change_date, executed_at, approved_by, rollback_status, rollback_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		RETURNING change_id`,
		rec.Identity.CustomerID, string(rec.Identity.Kind), rec.Identity.ID,
		string(rec.ActionKind), string(rec.Lever), rec.OldValue, rec.NewValue, rec.ChangePct,
		rec.RuleID, string(rec.RiskTier), rec.Confidence, evidence, rec.Reasoning,
		rec.ChangeDate, rec.ExecutedAt, rec.ApprovedBy, string(rec.RollbackStatus), rec.RollbackID,
	).Scan(&changeID)
	s.observe("append", start, err)
	if err != nil {
		return 0, fmt.Errorf("appending change record: %w", err)
	}
	s.metrics.appended.Inc()
	return changeID, nil
}

func scanChangeRecord(row pgx.Row) (domain.ChangeRecord, error) {
	var rec domain.ChangeRecord
	var evidenceRaw []byte
	var monitoringStarted, monitoringCompleted *time.Time
	var rollbackID *int64

	if err := row.Scan(
		&rec.ChangeID, &rec.Identity.CustomerID, &rec.Identity.Kind, &rec.Identity.ID,
		&rec.ActionKind, &rec.Lever, &rec.OldValue, &rec.NewValue, &rec.ChangePct,
		&rec.RuleID, &rec.RiskTier, &rec.Confidence, &evidenceRaw, &rec.Reasoning,
		&rec.ChangeDate, &rec.ExecutedAt, &rec.ApprovedBy, &rec.RollbackStatus, &rollbackID,
		&monitoringStarted, &monitoringCompleted, &rec.RollbackReason,
	); err != nil {
		return domain.ChangeRecord{}, err
	}
	if len(evidenceRaw) > 0 {
		_ = json.Unmarshal(evidenceRaw, &rec.Evidence)
	}
	rec.RollbackID = rollbackID
	rec.MonitoringStartedAt = monitoringStarted
	rec.MonitoringCompletedAt = monitoringCompleted
	return rec, nil
}

func (s *PostgresStore) QueryCooldown(ctx context.Context, id domain.EntityID, since time.Time) ([]domain.ChangeRecord, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `SELECT `+ledgerColumns+`
		FROM change_log
		WHERE customer_id = $1 AND entity_kind = $2 AND entity_id = $3 AND change_date >= $4
		ORDER BY change_date DESC`,
		id.CustomerID, string(id.Kind), id.ID, since)
	if err != nil {
		s.observe("query_cooldown", start, err)
		return nil, err
	}
	defer rows.Close()

	out, err := collectChangeRecords(rows)
	s.observe("query_cooldown", start, err)
	return out, err
}

func (s *PostgresStore) DueForMonitoring(ctx context.Context, cutoff time.Time) ([]domain.ChangeRecord, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `SELECT `+ledgerColumns+`
		FROM change_log
		WHERE rollback_status = $1 AND monitoring_started_at <= $2
		ORDER BY monitoring_started_at ASC`,
		string(domain.RollbackMonitoring), cutoff)
	if err != nil {
		s.observe("due_for_monitoring", start, err)
		return nil, err
	}
	defer rows.Close()

	out, err := collectChangeRecords(rows)
	s.observe("due_for_monitoring", start, err)
	return out, err
}

func collectChangeRecords(rows pgx.Rows) ([]domain.ChangeRecord, error) {
	var out []domain.ChangeRecord
	for rows.Next() {
		rec, err := scanChangeRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkRollbackResult(ctx context.Context, changeID int64, status domain.RollbackStatus, reason string) error {
	start := time.Now()
	tag, err := s.pool.Exec(ctx, `
		UPDATE change_log
		SET rollback_status = $1, rollback_reason = $2, monitoring_completed_at = $3
		WHERE change_id = $4`,
		string(status), reason, time.Now(), changeID)
	s.observe("mark_rollback_result", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("change record not found")
	}
	return nil
}

func (s *PostgresStore) RecentRollbacks(ctx context.Context, customerID string, limit int) ([]domain.ChangeRecord, error) {
	start := time.Now()
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `SELECT `+ledgerColumns+`
		FROM change_log
		WHERE customer_id = $1 AND rollback_status = $2
		ORDER BY monitoring_completed_at DESC
		LIMIT $3`,
		customerID, string(domain.RollbackRolledBack), limit)
	if err != nil {
		s.observe("recent_rollbacks", start, err)
		return nil, err
	}
	defer rows.Close()

	out, err := collectChangeRecords(rows)
	s.observe("recent_rollbacks", start, err)
	return out, err
}
