package ledger

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/solari-labs/adctl/internal/domain"
)

func newTestLedger(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema := `CREATE TABLE change_log (
		change_id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id TEXT, entity_kind TEXT, entity_id TEXT,
		action_kind TEXT, lever TEXT, old_value REAL, new_value REAL, change_pct REAL,
		rule_id TEXT, risk_tier TEXT, confidence REAL, evidence TEXT, reasoning TEXT,
		change_date DATETIME, executed_at DATETIME, approved_by TEXT,
		rollback_status TEXT, rollback_id INTEGER,
		monitoring_started_at DATETIME, monitoring_completed_at DATETIME, rollback_reason TEXT
	)`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return NewSQLiteStore(db, nil)
}

func sampleChange(customerID string, changeDate time.Time, lever domain.Lever) domain.ChangeRecord {
	return domain.ChangeRecord{
		Identity:       domain.EntityID{CustomerID: customerID, Kind: domain.EntityKeyword, ID: "kw1"},
		ActionKind:     domain.ActionAdjustBid,
		Lever:          lever,
		OldValue:       1.00,
		NewValue:       1.15,
		ChangePct:      0.15,
		RuleID:         "KW_BID_UP_LOW_CPA",
		RiskTier:       domain.RiskLow,
		Confidence:     0.8,
		Evidence:       map[string]float64{"clicks_7d": 40},
		Reasoning:      "low cpa",
		ChangeDate:     changeDate,
		ExecutedAt:     changeDate,
		ApprovedBy:     "alice",
		RollbackStatus: domain.RollbackMonitoring,
	}
}

func TestAppendAssignsMonotonicChangeID(t *testing.T) {
	store := newTestLedger(t)
	ctx := context.Background()
	now := time.Now()

	id1, err := store.Append(ctx, sampleChange("c1", now, domain.LeverBid))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	id2, err := store.Append(ctx, sampleChange("c1", now, domain.LeverBudget))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if id2 <= id1 {
		t.Errorf("expected monotonically increasing change_id, got %d then %d", id1, id2)
	}
}

func TestQueryCooldownFiltersByWindow(t *testing.T) {
	store := newTestLedger(t)
	ctx := context.Background()
	now := time.Now()

	old := sampleChange("c1", now.Add(-30*24*time.Hour), domain.LeverBid)
	recent := sampleChange("c1", now.Add(-2*24*time.Hour), domain.LeverBudget)
	if _, err := store.Append(ctx, old); err != nil {
		t.Fatalf("Append old: %v", err)
	}
	if _, err := store.Append(ctx, recent); err != nil {
		t.Fatalf("Append recent: %v", err)
	}

	records, err := store.QueryCooldown(ctx, domain.EntityID{CustomerID: "c1", Kind: domain.EntityKeyword, ID: "kw1"}, now.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("QueryCooldown: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record within the 7-day window, got %d", len(records))
	}
	if records[0].Lever != domain.LeverBudget {
		t.Errorf("expected the recent budget change, got %s", records[0].Lever)
	}
}

func TestDueForMonitoringAndMarkRollbackResult(t *testing.T) {
	store := newTestLedger(t)
	ctx := context.Background()
	started := time.Now().Add(-10 * 24 * time.Hour)

	rec := sampleChange("c1", started, domain.LeverBid)
	changeID, err := store.Append(ctx, rec)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := store.db.ExecContext(ctx, `UPDATE change_log SET monitoring_started_at = ? WHERE change_id = ?`, started, changeID); err != nil {
		t.Fatalf("seed monitoring_started_at: %v", err)
	}

	due, err := store.DueForMonitoring(ctx, time.Now().Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("DueForMonitoring: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("expected 1 due record, got %d", len(due))
	}

	if err := store.MarkRollbackResult(ctx, changeID, domain.RollbackRolledBack, "roas dropped 40%"); err != nil {
		t.Fatalf("MarkRollbackResult: %v", err)
	}

	due, err = store.DueForMonitoring(ctx, time.Now().Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("DueForMonitoring after mark: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("expected record to leave the monitoring set, got %d still due", len(due))
	}

	rollbacks, err := store.RecentRollbacks(ctx, "c1", 10)
	if err != nil {
		t.Fatalf("RecentRollbacks: %v", err)
	}
	if len(rollbacks) != 1 || rollbacks[0].RollbackReason != "roas dropped 40%" {
		t.Errorf("unexpected rollbacks: %+v", rollbacks)
	}
}

func TestMarkRollbackResultUnknownChangeID(t *testing.T) {
	store := newTestLedger(t)
	err := store.MarkRollbackResult(context.Background(), 999, domain.RollbackConfirmedGood, "")
	if err == nil {
		t.Fatal("expected an error for an unknown change_id")
	}
}
