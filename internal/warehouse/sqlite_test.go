package warehouse

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/solari-labs/adctl/internal/domain"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema := `
		CREATE TABLE entity_snapshot (
			customer_id TEXT, entity_kind TEXT, entity_id TEXT,
			name TEXT, status TEXT, ad_group_id TEXT, match_type TEXT, keyword_text TEXT,
			bid_micros INTEGER, budget_micros INTEGER
		);
		CREATE TABLE entity_metrics_windowed (
			customer_id TEXT, entity_kind TEXT, entity_id TEXT, snapshot_date TEXT,
			clicks_7d INTEGER, impressions_7d INTEGER, cost_micros_7d INTEGER, conversions_7d INTEGER, conv_value_7d REAL,
			clicks_30d INTEGER, impressions_30d INTEGER, cost_micros_30d INTEGER, conversions_30d INTEGER, conv_value_30d REAL
		);
		CREATE TABLE entity_metrics_daily (
			customer_id TEXT, entity_kind TEXT, entity_id TEXT, metric_date DATETIME,
			impressions INTEGER, clicks INTEGER, cost_micros INTEGER, conversions INTEGER, conversions_value REAL
		);
		CREATE TABLE change_log (
			change_id INTEGER PRIMARY KEY AUTOINCREMENT,
			customer_id TEXT, entity_kind TEXT, entity_id TEXT, lever TEXT, action_kind TEXT,
			old_value REAL, new_value REAL, change_pct REAL, rule_id TEXT, risk_tier TEXT,
			metadata TEXT, change_date DATETIME, executed_at DATETIME, approved_by TEXT,
			rollback_status TEXT, rollback_id INTEGER, rollback_reason TEXT
		);`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return db
}

func TestSQLiteReaderGetEntityWindow(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, `INSERT INTO entity_snapshot
		(customer_id, entity_kind, entity_id, name, status, ad_group_id, match_type, keyword_text, bid_micros, budget_micros)
		VALUES ('c1', 'KEYWORD', 'kw1', 'shoes', 'ENABLED', 'ag1', 'EXACT', 'buy shoes', 1000000, 0)`)
	if err != nil {
		t.Fatalf("insert entity: %v", err)
	}
	_, err = db.ExecContext(ctx, `INSERT INTO entity_metrics_windowed
		(customer_id, entity_kind, entity_id, snapshot_date, clicks_7d, impressions_7d, cost_micros_7d, conversions_7d, conv_value_7d,
		 clicks_30d, impressions_30d, cost_micros_30d, conversions_30d, conv_value_30d)
		VALUES ('c1', 'KEYWORD', 'kw1', '2026-07-30', 40, 400, 40000000, 4, 200, 150, 1500, 150000000, 15, 800)`)
	if err != nil {
		t.Fatalf("insert windowed metrics: %v", err)
	}

	reader := NewSQLiteReader(db, nil)
	rows, err := reader.GetEntityWindow(ctx, domain.EntityKeyword, "c1", "2026-07-30", 7)
	if err != nil {
		t.Fatalf("GetEntityWindow: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].Entity.Name != "shoes" || rows[0].Entity.BidMicros != 1000000 {
		t.Errorf("unexpected entity: %+v", rows[0].Entity)
	}
	if rows[0].Metrics.Clicks7d != 40 || rows[0].Metrics.Conversions7d != 4 {
		t.Errorf("unexpected windowed metrics: %+v", rows[0].Metrics)
	}
}

func TestSQLiteReaderGetCurrentEntity(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, `INSERT INTO entity_snapshot
		(customer_id, entity_kind, entity_id, name, status, ad_group_id, match_type, keyword_text, bid_micros, budget_micros)
		VALUES ('c1', 'CAMPAIGN', 'camp1', 'summer sale', 'ENABLED', '', '', '', 0, 50000000)`)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	reader := NewSQLiteReader(db, nil)
	id := domain.EntityID{CustomerID: "c1", Kind: domain.EntityCampaign, ID: "camp1"}
	ent, err := reader.GetCurrentEntity(ctx, id)
	if err != nil {
		t.Fatalf("GetCurrentEntity: %v", err)
	}
	if ent.Name != "summer sale" || ent.BudgetMicros != 50000000 {
		t.Errorf("unexpected entity: %+v", ent)
	}
}

func TestSQLiteReaderGetEntityMetricsBetween(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	day := time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC)
	_, err := db.ExecContext(ctx, `INSERT INTO entity_metrics_daily
		(customer_id, entity_kind, entity_id, metric_date, impressions, clicks, cost_micros, conversions, conversions_value)
		VALUES ('c1', 'KEYWORD', 'kw1', ?, 100, 10, 10000000, 1, 50)`, day)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	reader := NewSQLiteReader(db, nil)
	id := domain.EntityID{CustomerID: "c1", Kind: domain.EntityKeyword, ID: "kw1"}
	rows, err := reader.GetEntityMetricsBetween(ctx, id, day.AddDate(0, 0, -1), day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("GetEntityMetricsBetween: %v", err)
	}
	if len(rows) != 1 || rows[0].Clicks != 10 {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestSQLiteReaderGetRecentChanges(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	now := time.Date(2026, 7, 20, 12, 0, 0, 0, time.UTC)
	_, err := db.ExecContext(ctx, `INSERT INTO change_log
		(customer_id, entity_kind, entity_id, lever, action_kind, old_value, new_value, change_pct, rule_id, risk_tier,
		 metadata, change_date, executed_at, approved_by, rollback_status, rollback_id, rollback_reason)
		VALUES ('c1', 'KEYWORD', 'kw1', 'bid', 'ADJUST_BID', 1000000, 1150000, 0.15, 'KW_BID_UP_LOW_CPA', 'LOW',
		 '{"confidence":0.8,"reasoning":"low cpa"}', ?, ?, 'alice', '', NULL, '')`, now, now)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	reader := NewSQLiteReader(db, nil)
	changes, err := reader.GetRecentChanges(ctx, "c1", now.AddDate(0, 0, -1))
	if err != nil {
		t.Fatalf("GetRecentChanges: %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("expected 1 change, got %d", len(changes))
	}
	if changes[0].RuleID != "KW_BID_UP_LOW_CPA" || changes[0].Confidence != 0.8 {
		t.Errorf("unexpected change record: %+v", changes[0])
	}
}
