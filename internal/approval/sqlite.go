package approval

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/solari-labs/adctl/internal/domain"
)

// SQLiteStore implements Store for the lite profile over database/sql.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(db *sql.DB, logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteStore{db: db, logger: logger}
}

func (s *SQLiteStore) ReplacePending(ctx context.Context, customerID, snapshotDate string, recs []domain.Recommendation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM recommendations WHERE customer_id = ? AND snapshot_date = ? AND status = ?`,
		customerID, snapshotDate, string(domain.StatusPending)); err != nil {
		return fmt.Errorf("clearing prior pending set: %w", err)
	}

	for _, rec := range recs {
		if err := insertRecommendationSQLite(ctx, tx, rec); err != nil {
			return fmt.Errorf("inserting recommendation %s: %w", rec.RecommendationID, err)
		}
	}

	return tx.Commit()
}

func insertRecommendationSQLite(ctx context.Context, tx *sql.Tx, rec domain.Recommendation) error {
	actionData, err := encodeAction(rec.Action)
	if err != nil {
		return err
	}
	evidence, err := json.Marshal(rec.Evidence)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO recommendations
			(recommendation_id, customer_id, rule_id, entity_kind, entity_id, action_kind, lever,
			 action_data, old_value, new_value, change_pct, risk_tier, confidence, evidence, reasoning,
			 status, snapshot_date, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.RecommendationID, rec.Identity.CustomerID, rec.RuleID, string(rec.Identity.Kind), rec.Identity.ID,
		string(domain.KindOf(rec.Action)), string(rec.Action.Lever()),
		actionData, rec.OldValue, rec.NewValue, rec.ChangePct, string(rec.RiskTier), rec.Confidence, evidence, rec.Reasoning,
		string(rec.Status), rec.SnapshotDate, rec.CreatedAt, rec.UpdatedAt)
	return err
}

const sqliteSelectColumns = `recommendation_id, customer_id, rule_id, entity_kind, entity_id, action_kind, action_data,
	old_value, new_value, change_pct, risk_tier, confidence, evidence, reasoning,
	status, snapshot_date, created_at, updated_at, approver, reject_reason`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecommendationSQLite(row rowScanner) (domain.Recommendation, error) {
	var rec domain.Recommendation
	var actionKind domain.ActionKind
	var actionData, evidenceRaw []byte
	var approver, rejectReason sql.NullString

	if err := row.Scan(
		&rec.RecommendationID, &rec.Identity.CustomerID, &rec.RuleID, &rec.Identity.Kind, &rec.Identity.ID,
		&actionKind, &actionData,
		&rec.OldValue, &rec.NewValue, &rec.ChangePct, &rec.RiskTier, &rec.Confidence, &evidenceRaw, &rec.Reasoning,
		&rec.Status, &rec.SnapshotDate, &rec.CreatedAt, &rec.UpdatedAt, &approver, &rejectReason,
	); err != nil {
		return domain.Recommendation{}, err
	}

	action, err := decodeAction(actionKind, actionData)
	if err != nil {
		return domain.Recommendation{}, err
	}
	rec.Action = action

	if len(evidenceRaw) > 0 {
		_ = json.Unmarshal(evidenceRaw, &rec.Evidence)
	}
	rec.Approver = approver.String
	rec.RejectReason = rejectReason.String
	return rec, nil
}

func (s *SQLiteStore) Get(ctx context.Context, recommendationID string) (domain.Recommendation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteSelectColumns+` FROM recommendations WHERE recommendation_id = ?`, recommendationID)
	rec, err := scanRecommendationSQLite(row)
	if err == sql.ErrNoRows {
		return domain.Recommendation{}, fmt.Errorf("recommendation %s not found", recommendationID)
	}
	return rec, err
}

func (s *SQLiteStore) Approve(ctx context.Context, recommendationID, approver string) error {
	return s.transition(ctx, recommendationID, domain.StatusApproved, approver, "")
}

func (s *SQLiteStore) Reject(ctx context.Context, recommendationID, approver, reason string) error {
	return s.transition(ctx, recommendationID, domain.StatusRejected, approver, reason)
}

func (s *SQLiteStore) transition(ctx context.Context, recommendationID string, to domain.RecommendationStatus, approver, reason string) error {
	rec, err := s.Get(ctx, recommendationID)
	if err != nil {
		return err
	}
	if !domain.CanTransition(rec.Status, to) {
		return &domain.IllegalTransition{From: rec.Status, To: to}
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE recommendations SET status = ?, approver = ?, reject_reason = ?, updated_at = ? WHERE recommendation_id = ?`,
		string(to), approver, reason, time.Now(), recommendationID)
	return err
}

func (s *SQLiteStore) MarkExecuted(ctx context.Context, recommendationID, approver string) error {
	return s.transition(ctx, recommendationID, domain.StatusExecuted, approver, "")
}

func (s *SQLiteStore) MarkFailed(ctx context.Context, recommendationID, reason string) error {
	rec, err := s.Get(ctx, recommendationID)
	if err != nil {
		return err
	}
	return s.transition(ctx, recommendationID, domain.StatusFailed, rec.Approver, reason)
}

func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]domain.Recommendation, error) {
	query := `SELECT ` + sqliteSelectColumns + ` FROM recommendations WHERE customer_id = ?`
	args := []any{filter.CustomerID}

	if filter.SnapshotDate != "" {
		query += " AND snapshot_date = ?"
		args = append(args, filter.SnapshotDate)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.EntityKind != "" {
		query += " AND entity_kind = ?"
		args = append(args, string(filter.EntityKind))
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Recommendation
	for rows.Next() {
		rec, err := scanRecommendationSQLite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ExpireOverdue(ctx context.Context, customerID string, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE recommendations SET status = ?, updated_at = ? WHERE customer_id = ? AND status = ? AND created_at < ?`,
		string(domain.StatusExpired), time.Now(), customerID, string(domain.StatusPending), cutoff)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}
