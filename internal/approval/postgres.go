package approval

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

// PostgresStore implements Store against the standard profile's
// recommendations table, grounded on the same CreateOrUpdate/findExisting
// dedup shape used elsewhere in the example corpus for recommendation
// persistence — generalized here to a whole-set replace rather than a
// per-row upsert, per the generation-replace boundary the engine requires.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPostgresStore(pool *pgxpool.Pool, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{pool: pool, logger: logger}
}

func (s *PostgresStore) ReplacePending(ctx context.Context, customerID, snapshotDate string, recs []domain.Recommendation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM recommendations WHERE customer_id = $1 AND snapshot_date = $2 AND status = $3`,
		customerID, snapshotDate, domain.StatusPending); err != nil {
		return fmt.Errorf("clearing prior pending set: %w", err)
	}

	for _, rec := range recs {
		if err := insertRecommendation(ctx, tx, rec); err != nil {
			return fmt.Errorf("inserting recommendation %s: %w", rec.RecommendationID, err)
		}
	}

	return tx.Commit(ctx)
}

func insertRecommendation(ctx context.Context, tx pgx.Tx, rec domain.Recommendation) error {
	actionData, err := encodeAction(rec.Action)
	if err != nil {
		return err
	}
	evidence, err := json.Marshal(rec.Evidence)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO recommendations
			(recommendation_id, customer_id, rule_id, entity_kind, entity_id, action_kind, lever,
			 action_data, old_value, new_value, change_pct, risk_tier, confidence, evidence, reasoning,
			 status, snapshot_date, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		rec.RecommendationID, rec.Identity.CustomerID, rec.RuleID, string(rec.Identity.Kind), rec.Identity.ID,
		string(domain.KindOf(rec.Action)), string(rec.Action.Lever()),
		actionData, rec.OldValue, rec.NewValue, rec.ChangePct, string(rec.RiskTier), rec.Confidence, evidence, rec.Reasoning,
		string(rec.Status), rec.SnapshotDate, rec.CreatedAt, rec.UpdatedAt)
	return err
}

const selectColumns = `recommendation_id, customer_id, rule_id, entity_kind, entity_id, action_kind, action_data,
	old_value, new_value, change_pct, risk_tier, confidence, evidence, reasoning,
	status, snapshot_date, created_at, updated_at, approver, reject_reason`

func scanRecommendation(row pgx.Row) (domain.Recommendation, error) {
	var rec domain.Recommendation
	var actionKind domain.ActionKind
	var actionData, evidenceRaw []byte
	var approver, rejectReason *string

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
	if approver != nil {
		rec.Approver = *approver
	}
	if rejectReason != nil {
		rec.RejectReason = *rejectReason
	}
	return rec, nil
}

func (s *PostgresStore) Get(ctx context.Context, recommendationID string) (domain.Recommendation, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM recommendations WHERE recommendation_id = $1`, recommendationID)
	rec, err := scanRecommendation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Recommendation{}, fmt.Errorf("recommendation %s not found", recommendationID)
	}
	return rec, err
}

func (s *PostgresStore) Approve(ctx context.Context, recommendationID, approver string) error {
	return s.transition(ctx, recommendationID, domain.StatusApproved, approver, "")
}

func (s *PostgresStore) Reject(ctx context.Context, recommendationID, approver, reason string) error {
	return s.transition(ctx, recommendationID, domain.StatusRejected, approver, reason)
}

func (s *PostgresStore) transition(ctx context.Context, recommendationID string, to domain.RecommendationStatus, approver, reason string) error {
	rec, err := s.Get(ctx, recommendationID)
	if err != nil {
		return err
	}
	if !domain.CanTransition(rec.Status, to) {
		return &domain.IllegalTransition{From: rec.Status, To: to}
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE recommendations SET status = $1, approver = $2, reject_reason = $3, updated_at = $4 WHERE recommendation_id = $5`,
		string(to), approver, reason, time.Now(), recommendationID)
	return err
}

func (s *PostgresStore) MarkExecuted(ctx context.Context, recommendationID, approver string) error {
	return s.transition(ctx, recommendationID, domain.StatusExecuted, approver, "")
}

func (s *PostgresStore) MarkFailed(ctx context.Context, recommendationID, reason string) error {
	rec, err := s.Get(ctx, recommendationID)
	if err != nil {
		return err
	}
	return s.transition(ctx, recommendationID, domain.StatusFailed, rec.Approver, reason)
}

func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]domain.Recommendation, error) {
	query := `SELECT ` + selectColumns + ` FROM recommendations WHERE customer_id = $1`
	args := []any{filter.CustomerID}
	n := 1

	if filter.SnapshotDate != "" {
		n++
		query += fmt.Sprintf(" AND snapshot_date = $%d", n)
		args = append(args, filter.SnapshotDate)
	}
	if filter.Status != "" {
		n++
		query += fmt.Sprintf(" AND status = $%d", n)
		args = append(args, string(filter.Status))
	}
	if filter.EntityKind != "" {
		n++
		query += fmt.Sprintf(" AND entity_kind = $%d", n)
		args = append(args, string(filter.EntityKind))
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Recommendation
	for rows.Next() {
		rec, err := scanRecommendation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ExpireOverdue(ctx context.Context, customerID string, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE recommendations SET status = $1, updated_at = $2
		 WHERE customer_id = $3 AND status = $4 AND created_at < $5`,
		string(domain.StatusExpired), time.Now(), customerID, string(domain.StatusPending), cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
