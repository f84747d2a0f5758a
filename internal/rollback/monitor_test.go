package rollback

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/solari-labs/adctl/internal/adsapi"
	"github.com/solari-labs/adctl/internal/approval"
	"github.com/solari-labs/adctl/internal/cache"
	"github.com/solari-labs/adctl/internal/config"
	"github.com/solari-labs/adctl/internal/domain"
	"github.com/solari-labs/adctl/internal/execution"
	"github.com/solari-labs/adctl/internal/ledger"
	"github.com/solari-labs/adctl/internal/rules"
)

type noopApprovalStore struct{}

func (noopApprovalStore) ReplacePending(context.Context, string, string, []domain.Recommendation) error {
	return nil
}
func (noopApprovalStore) Get(context.Context, string) (domain.Recommendation, error) {
	return domain.Recommendation{}, &domain.ValidationFailed{Field: "recommendation_id"}
}
func (noopApprovalStore) Approve(context.Context, string, string) error { return nil }
func (noopApprovalStore) Reject(context.Context, string, string, string) error { return nil }
func (noopApprovalStore) List(context.Context, approval.Filter) ([]domain.Recommendation, error) {
	return nil, nil
}
func (noopApprovalStore) MarkExecuted(context.Context, string, string) error { return nil }
func (noopApprovalStore) MarkFailed(context.Context, string, string) error   { return nil }
func (noopApprovalStore) ExpireOverdue(context.Context, string, time.Time) (int, error) {
	return 0, nil
}

var _ approval.Store = noopApprovalStore{}

type fakeEntities struct {
	entity domain.Entity
}

func (f *fakeEntities) GetCurrentEntity(context.Context, domain.EntityID) (domain.Entity, error) {
	return f.entity, nil
}

type fakeLedgerStore struct {
	mu       sync.Mutex
	records  map[int64]*domain.ChangeRecord
	nextID   int64
	appended []domain.ChangeRecord
}

func newFakeLedgerStore(due ...domain.ChangeRecord) *fakeLedgerStore {
	s := &fakeLedgerStore{records: make(map[int64]*domain.ChangeRecord)}
	for _, r := range due {
		rec := r
		s.records[rec.ChangeID] = &rec
		if rec.ChangeID >= s.nextID {
			s.nextID = rec.ChangeID
		}
	}
	return s
}

func (l *fakeLedgerStore) Append(_ context.Context, rec domain.ChangeRecord) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	rec.ChangeID = l.nextID
	l.records[rec.ChangeID] = &rec
	l.appended = append(l.appended, rec)
	return rec.ChangeID, nil
}

func (l *fakeLedgerStore) QueryCooldown(context.Context, domain.EntityID, time.Time) ([]domain.ChangeRecord, error) {
	return nil, nil
}

func (l *fakeLedgerStore) DueForMonitoring(context.Context, time.Time) ([]domain.ChangeRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.ChangeRecord
	for _, r := range l.records {
		if r.RollbackStatus == domain.RollbackMonitoring {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (l *fakeLedgerStore) MarkRollbackResult(_ context.Context, changeID int64, status domain.RollbackStatus, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[changeID]
	if !ok {
		return nil
	}
	rec.RollbackStatus = status
	rec.RollbackReason = reason
	return nil
}

func (l *fakeLedgerStore) RecentRollbacks(context.Context, string, int) ([]domain.ChangeRecord, error) {
	return nil, nil
}

func (l *fakeLedgerStore) status(changeID int64) domain.RollbackStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.records[changeID].RollbackStatus
}

var _ ledger.Store = (*fakeLedgerStore)(nil)

// splitWarehouse returns baseline rows for the first call and post rows for
// the second, matching the monitor's baseline-then-post call order.
type splitWarehouse struct {
	mu       sync.Mutex
	calls    int
	baseline []domain.MetricRow
	post     []domain.MetricRow
	entity   domain.Entity
}

func (w *splitWarehouse) GetEntityWindow(context.Context, domain.EntityKind, string, string, int) ([]domain.EntityWithMetrics, error) {
	return nil, nil
}
func (w *splitWarehouse) GetRecentChanges(context.Context, string, time.Time) ([]domain.ChangeRecord, error) {
	return nil, nil
}
func (w *splitWarehouse) GetEntityMetricsBetween(context.Context, domain.EntityID, time.Time, time.Time) ([]domain.MetricRow, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.calls == 1 {
		return w.baseline, nil
	}
	return w.post, nil
}
func (w *splitWarehouse) GetCurrentEntity(context.Context, domain.EntityID) (domain.Entity, error) {
	return w.entity, nil
}

type fakeLocker struct {
	mu     sync.Mutex
	denied map[string]bool
	held   map[string]bool
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{denied: map[string]bool{}, held: map[string]bool{}}
}

func (l *fakeLocker) TryAcquire(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.denied[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *fakeLocker) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}

func testEngine(t *testing.T, srvURL string, entity domain.Entity, ledgerStore ledger.Store) *execution.Engine {
	t.Helper()
	reg, err := rules.NewRegistry(nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	cacheMgr, err := cache.NewManager(&cache.Config{L1Enabled: true, L1MaxEntries: 100, L1TTL: time.Minute}, nil, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	adapter := adsapi.New(srvURL, nil, rate.NewLimiter(rate.Inf, 1), nil)
	execCfg := config.ExecutionConfig{ModeDefault: "LIVE", BatchCap: 100, Retry: config.RetryConfig{Max: 2, BaseMs: 1, CapMs: 10}}
	guardCfg := config.GuardrailsConfig{HighRiskConfidenceFloor: 0.85, DefaultCooldownDays: 7}
	return execution.New(noopApprovalStore{}, reg, &fakeEntities{entity: entity}, ledgerStore, adapter, cacheMgr, execCfg, guardCfg, nil)
}

func monitoredRecord(changeID int64, ruleID string, actionKind domain.ActionKind, oldValue, newValue float64, startedAt time.Time) domain.ChangeRecord {
	return domain.ChangeRecord{
		ChangeID:            changeID,
		Identity:            domain.EntityID{CustomerID: "cust-1", Kind: domain.EntityKeyword, ID: "kw-1"},
		ActionKind:          actionKind,
		Lever:               domain.LeverBid,
		OldValue:            oldValue,
		NewValue:            newValue,
		RuleID:              ruleID,
		RiskTier:            domain.RiskLow,
		ChangeDate:          startedAt,
		ExecutedAt:          startedAt,
		RollbackStatus:      domain.RollbackMonitoring,
		MonitoringStartedAt: &startedAt,
	}
}

func testRollbackCfg() config.RollbackConfig {
	return config.RollbackConfig{
		TickSeconds:       60,
		WindowDays:        7,
		MinPostDataPoints: 10,
		ExtensionCapDays:  14,
		Regression:        config.RegressionConfig{ROASDropPct: 0.3, CPAIncreasePct: 0.5},
	}
}

func TestTickRegressionSubmitsRollback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"platform_ack": "ack-rollback"})
	}))
	defer srv.Close()

	startedAt := time.Now().Add(-8 * 24 * time.Hour)
	rec := monitoredRecord(1, "KW_BID_UP_LOW_CPA", domain.ActionAdjustBid, 1.0, 1.15, startedAt)
	ledgerStore := newFakeLedgerStore(rec)

	baseline := []domain.MetricRow{{Clicks: 100, CostMicros: 100_000_000, Conversions: 10, ConversionsValue: 500}}
	post := []domain.MetricRow{{Clicks: 100, CostMicros: 200_000_000, Conversions: 10, ConversionsValue: 300}}
	wh := &splitWarehouse{baseline: baseline, post: post, entity: domain.Entity{BidMicros: 1_150_000}}

	engine := testEngine(t, srv.URL, domain.Entity{BidMicros: 1_150_000}, ledgerStore)
	locker := newFakeLocker()
	mon := New(ledgerStore, wh, mustRegistry(t), engine, locker, testRollbackCfg(), nil)

	if err := mon.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if ledgerStore.status(1) != domain.RollbackRolledBack {
		t.Fatalf("expected original record rolled_back, got %s", ledgerStore.status(1))
	}
	if len(ledgerStore.appended) != 1 {
		t.Fatalf("expected 1 inverse change appended, got %d", len(ledgerStore.appended))
	}
	inv := ledgerStore.appended[0]
	if inv.RollbackID == nil || *inv.RollbackID != 1 {
		t.Fatalf("expected rollback_id to point at original record")
	}
	if inv.NewValue != 1.0 || inv.OldValue != 1.15 {
		t.Fatalf("expected inverse to restore old_value 1.0, got old=%v new=%v", inv.OldValue, inv.NewValue)
	}
}

func TestTickNoRegressionConfirmsGood(t *testing.T) {
	startedAt := time.Now().Add(-8 * 24 * time.Hour)
	rec := monitoredRecord(1, "KW_BID_UP_LOW_CPA", domain.ActionAdjustBid, 1.0, 1.15, startedAt)
	ledgerStore := newFakeLedgerStore(rec)

	baseline := []domain.MetricRow{{Clicks: 100, CostMicros: 100_000_000, Conversions: 10, ConversionsValue: 500}}
	post := []domain.MetricRow{{Clicks: 100, CostMicros: 100_000_000, Conversions: 10, ConversionsValue: 520}}
	wh := &splitWarehouse{baseline: baseline, post: post}

	engine := testEngine(t, "http://unused.invalid", domain.Entity{}, ledgerStore)
	locker := newFakeLocker()
	mon := New(ledgerStore, wh, mustRegistry(t), engine, locker, testRollbackCfg(), nil)

	if err := mon.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if ledgerStore.status(1) != domain.RollbackConfirmedGood {
		t.Fatalf("expected confirmed_good, got %s", ledgerStore.status(1))
	}
	if len(ledgerStore.appended) != 0 {
		t.Fatalf("expected no rollback appended, got %d", len(ledgerStore.appended))
	}
}

func TestTickInsufficientSignalExtendsThenConfirmsAtCap(t *testing.T) {
	baseline := []domain.MetricRow{{Clicks: 100, CostMicros: 100_000_000, Conversions: 10, ConversionsValue: 500}}
	post := []domain.MetricRow{{Clicks: 1, CostMicros: 1_000_000, Conversions: 0, ConversionsValue: 0}}
	engine := testEngine(t, "http://unused.invalid", domain.Entity{}, newFakeLedgerStore())

	t.Run("within cap extends", func(t *testing.T) {
		startedAt := time.Now().Add(-8 * 24 * time.Hour)
		rec := monitoredRecord(1, "KW_BID_UP_LOW_CPA", domain.ActionAdjustBid, 1.0, 1.15, startedAt)
		ledgerStore := newFakeLedgerStore(rec)
		wh := &splitWarehouse{baseline: baseline, post: post}
		mon := New(ledgerStore, wh, mustRegistry(t), engine, newFakeLocker(), testRollbackCfg(), nil)

		if err := mon.Tick(context.Background()); err != nil {
			t.Fatalf("Tick: %v", err)
		}
		if ledgerStore.status(1) != domain.RollbackMonitoring {
			t.Fatalf("expected record to remain monitoring, got %s", ledgerStore.status(1))
		}
	})

	t.Run("past cap confirms good", func(t *testing.T) {
		startedAt := time.Now().Add(-20 * 24 * time.Hour)
		rec := monitoredRecord(1, "KW_BID_UP_LOW_CPA", domain.ActionAdjustBid, 1.0, 1.15, startedAt)
		ledgerStore := newFakeLedgerStore(rec)
		wh := &splitWarehouse{baseline: baseline, post: post}
		mon := New(ledgerStore, wh, mustRegistry(t), engine, newFakeLocker(), testRollbackCfg(), nil)

		if err := mon.Tick(context.Background()); err != nil {
			t.Fatalf("Tick: %v", err)
		}
		if ledgerStore.status(1) != domain.RollbackConfirmedGood {
			t.Fatalf("expected confirmed_good past extension cap, got %s", ledgerStore.status(1))
		}
		if ledgerStore.records[1].RollbackReason != "insufficient_signal" {
			t.Fatalf("expected insufficient_signal reason, got %q", ledgerStore.records[1].RollbackReason)
		}
	})
}

func TestTickLockContentionSkipsRecord(t *testing.T) {
	startedAt := time.Now().Add(-8 * 24 * time.Hour)
	rec := monitoredRecord(1, "KW_BID_UP_LOW_CPA", domain.ActionAdjustBid, 1.0, 1.15, startedAt)
	ledgerStore := newFakeLedgerStore(rec)
	wh := &splitWarehouse{
		baseline: []domain.MetricRow{{Clicks: 100, CostMicros: 100_000_000, Conversions: 10, ConversionsValue: 500}},
		post:     []domain.MetricRow{{Clicks: 100, CostMicros: 200_000_000, Conversions: 10, ConversionsValue: 300}},
	}
	engine := testEngine(t, "http://unused.invalid", domain.Entity{}, ledgerStore)
	locker := newFakeLocker()
	locker.denied["rollback:1"] = true

	mon := New(ledgerStore, wh, mustRegistry(t), engine, locker, testRollbackCfg(), nil)
	if err := mon.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if ledgerStore.status(1) != domain.RollbackMonitoring {
		t.Fatalf("expected record untouched under lock contention, got %s", ledgerStore.status(1))
	}
}

func mustRegistry(t *testing.T) *rules.Registry {
	t.Helper()
	reg, err := rules.NewRegistry(nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}
