package approval

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/solari-labs/adctl/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema := `CREATE TABLE recommendations (
		recommendation_id TEXT PRIMARY KEY,
		customer_id TEXT, rule_id TEXT, entity_kind TEXT, entity_id TEXT,
		action_kind TEXT, lever TEXT, action_data TEXT,
		old_value REAL, new_value REAL, change_pct REAL,
		risk_tier TEXT, confidence REAL, evidence TEXT, reasoning TEXT,
		status TEXT, snapshot_date TEXT, created_at DATETIME, updated_at DATETIME,
		approver TEXT, reject_reason TEXT
	)`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return NewSQLiteStore(db, nil)
}

func sampleRec(id string) domain.Recommendation {
	now := time.Now()
	return domain.Recommendation{
		RecommendationID: id,
		RuleID:           "KW_BID_UP_LOW_CPA",
		Identity:         domain.EntityID{CustomerID: "c1", Kind: domain.EntityKeyword, ID: "kw1"},
		Action:           domain.AdjustBid{OldMicros: 1_000_000, NewMicros: 1_150_000},
		OldValue:         1.00,
		NewValue:         1.15,
		ChangePct:        0.15,
		RiskTier:         domain.RiskLow,
		Confidence:       0.8,
		Evidence:         map[string]float64{"clicks_7d": 40},
		Reasoning:        "low cpa",
		Status:           domain.StatusPending,
		SnapshotDate:     "2026-07-30",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestReplacePendingThenGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rec := sampleRec("rec-1")

	if err := store.ReplacePending(ctx, "c1", "2026-07-30", []domain.Recommendation{rec}); err != nil {
		t.Fatalf("ReplacePending: %v", err)
	}

	got, err := store.Get(ctx, "rec-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.RuleID != rec.RuleID || got.Action != rec.Action {
		t.Errorf("round-trip mismatch: %+v", got)
	}
}

func TestReplacePendingLeavesApprovedAlone(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	approved := sampleRec("rec-approved")
	if err := store.ReplacePending(ctx, "c1", "2026-07-30", []domain.Recommendation{approved}); err != nil {
		t.Fatalf("ReplacePending: %v", err)
	}
	if err := store.Approve(ctx, "rec-approved", "alice"); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	fresh := sampleRec("rec-fresh")
	if err := store.ReplacePending(ctx, "c1", "2026-07-30", []domain.Recommendation{fresh}); err != nil {
		t.Fatalf("second ReplacePending: %v", err)
	}

	still, err := store.Get(ctx, "rec-approved")
	if err != nil {
		t.Fatalf("expected approved recommendation to survive replace: %v", err)
	}
	if still.Status != domain.StatusApproved {
		t.Errorf("expected APPROVED, got %s", still.Status)
	}
	if _, err := store.Get(ctx, "rec-fresh"); err != nil {
		t.Fatalf("expected fresh pending recommendation to exist: %v", err)
	}
}

func TestApproveRejectTransitions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rec := sampleRec("rec-2")
	if err := store.ReplacePending(ctx, "c1", "2026-07-30", []domain.Recommendation{rec}); err != nil {
		t.Fatalf("ReplacePending: %v", err)
	}

	if err := store.Approve(ctx, "rec-2", "alice"); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	// Approved -> Rejected is illegal.
	err := store.Reject(ctx, "rec-2", "alice", "changed my mind")
	if err == nil {
		t.Fatal("expected IllegalTransition rejecting an already-approved recommendation")
	}
	var illegal *domain.IllegalTransition
	if !asIllegalTransition(err, &illegal) {
		t.Errorf("expected IllegalTransition error, got %T: %v", err, err)
	}
}

func asIllegalTransition(err error, target **domain.IllegalTransition) bool {
	if it, ok := err.(*domain.IllegalTransition); ok {
		*target = it
		return true
	}
	return false
}

func TestExpireOverdue(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rec := sampleRec("rec-old")
	rec.CreatedAt = time.Now().Add(-48 * time.Hour)
	if err := store.ReplacePending(ctx, "c1", "2026-07-29", []domain.Recommendation{rec}); err != nil {
		t.Fatalf("ReplacePending: %v", err)
	}

	n, err := store.ExpireOverdue(ctx, "c1", time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("ExpireOverdue: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired, got %d", n)
	}
	got, err := store.Get(ctx, "rec-old")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.StatusExpired {
		t.Errorf("expected EXPIRED, got %s", got.Status)
	}
}
