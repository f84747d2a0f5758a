package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/solari-labs/adctl/internal/domain"
)

// SQLiteStore mirrors PostgresStore for the lite profile over database/sql.
type SQLiteStore struct {
	db      *sql.DB
	logger  *slog.Logger
	metrics *ledgerMetrics
}

func NewSQLiteStore(db *sql.DB, logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteStore{db: db, logger: logger, metrics: newLedgerMetrics()}
}

func (s *SQLiteStore) observe(operation string, start time.Time, err error) {
	s.metrics.duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.errors.WithLabelValues(operation).Inc()
	}
}

func (s *SQLiteStore) Append(ctx context.Context, rec domain.ChangeRecord) (int64, error) {
	start := time.Now()
	evidence, err := json.Marshal(rec.Evidence)
	if err != nil {
		s.observe("append", start, err)
		return 0, err
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO change_log
			(customer_id, entity_kind, entity_id, action_kind, lever, old_value, new_value,
			 change_pct, rule_id, risk_tier, confidence, evidence, reasoning,
			 change_date, executed_at, approved_by, rollback_status, rollback_id)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.Identity.CustomerID, string(rec.Identity.Kind), rec.Identity.ID,
		string(rec.ActionKind), string(rec.Lever), rec.OldValue, rec.NewValue, rec.ChangePct,
		rec.RuleID, string(rec.RiskTier), rec.Confidence, evidence, rec.Reasoning,
		rec.ChangeDate, rec.ExecutedAt, rec.ApprovedBy, string(rec.RollbackStatus), rec.RollbackID)
	s.observe("append", start, err)
	if err != nil {
		return 0, fmt.Errorf("appending change record: %w", err)
	}
	changeID, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	s.metrics.appended.Inc()
	return changeID, nil
}

const sqliteLedgerColumns = `change_id, customer_id, entity_kind, entity_id, action_kind, lever,
	old_value, new_value, change_pct, rule_id, risk_tier, confidence, evidence, reasoning,
	change_date, executed_at, approved_by, rollback_status, rollback_id,
	monitoring_started_at, monitoring_completed_at, rollback_reason`

func scanChangeRecordSQLite(row rowScanner) (domain.ChangeRecord, error) {
	var rec domain.ChangeRecord
	var evidenceRaw []byte
	var monitoringStarted, monitoringCompleted sql.NullTime
	var rollbackID sql.NullInt64

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
	if rollbackID.Valid {
		rec.RollbackID = &rollbackID.Int64
	}
	if monitoringStarted.Valid {
		rec.MonitoringStartedAt = &monitoringStarted.Time
	}
	if monitoringCompleted.Valid {
		rec.MonitoringCompletedAt = &monitoringCompleted.Time
	}
	return rec, nil
}

// rowScanner lets scanChangeRecordSQLite accept either *sql.Row or *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) QueryCooldown(ctx context.Context, id domain.EntityID, since time.Time) ([]domain.ChangeRecord, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteLedgerColumns+`
		FROM change_log
		WHERE customer_id = ? AND entity_kind = ? AND entity_id = ? AND change_date >= ?
		ORDER BY change_date DESC`,
		id.CustomerID, string(id.Kind), id.ID, since)
	if err != nil {
		s.observe("query_cooldown", start, err)
		return nil, err
	}
	defer rows.Close()

	out, err := collectChangeRecordsSQLite(rows)
	s.observe("query_cooldown", start, err)
	return out, err
}

func (s *SQLiteStore) DueForMonitoring(ctx context.Context, cutoff time.Time) ([]domain.ChangeRecord, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteLedgerColumns+`
		FROM change_log
		WHERE rollback_status = ? AND monitoring_started_at <= ?
		ORDER BY monitoring_started_at ASC`,
		string(domain.RollbackMonitoring), cutoff)
	if err != nil {
		s.observe("due_for_monitoring", start, err)
		return nil, err
	}
	defer rows.Close()

	out, err := collectChangeRecordsSQLite(rows)
	s.observe("due_for_monitoring", start, err)
	return out, err
}

func collectChangeRecordsSQLite(rows *sql.Rows) ([]domain.ChangeRecord, error) {
	var out []domain.ChangeRecord
	for rows.Next() {
		rec, err := scanChangeRecordSQLite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) MarkRollbackResult(ctx context.Context, changeID int64, status domain.RollbackStatus, reason string) error {
	start := time.Now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE change_log
		SET rollback_status = ?, rollback_reason = ?, monitoring_completed_at = ?
		WHERE change_id = ?`,
		string(status), reason, time.Now(), changeID)
	s.observe("mark_rollback_result", start, err)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.New("change record not found")
	}
	return nil
}

func (s *SQLiteStore) RecentRollbacks(ctx context.Context, customerID string, limit int) ([]domain.ChangeRecord, error) {
	start := time.Now()
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteLedgerColumns+`
		FROM change_log
		WHERE customer_id = ? AND rollback_status = ?
		ORDER BY monitoring_completed_at DESC
		LIMIT ?`,
		customerID, string(domain.RollbackRolledBack), limit)
	if err != nil {
		s.observe("recent_rollbacks", start, err)
		return nil, err
	}
	defer rows.Close()

	out, err := collectChangeRecordsSQLite(rows)
	s.observe("recent_rollbacks", start, err)
	return out, err
}
