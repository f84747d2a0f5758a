package recommend

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/solari-labs/adctl/internal/domain"
	"github.com/solari-labs/adctl/internal/rules"
	"github.com/solari-labs/adctl/internal/warehouse"
)

type fakeReader struct {
	rows map[domain.EntityKind][]domain.EntityWithMetrics
	hits int
}

func (f *fakeReader) GetEntityWindow(_ context.Context, kind domain.EntityKind, _, _ string, _ int) ([]domain.EntityWithMetrics, error) {
	f.hits++
	return f.rows[kind], nil
}
func (f *fakeReader) GetRecentChanges(context.Context, string, time.Time) ([]domain.ChangeRecord, error) {
	return nil, nil
}
func (f *fakeReader) GetEntityMetricsBetween(context.Context, domain.EntityID, time.Time, time.Time) ([]domain.MetricRow, error) {
	return nil, nil
}
func (f *fakeReader) GetCurrentEntity(context.Context, domain.EntityID) (domain.Entity, error) {
	return domain.Entity{}, nil
}

var _ warehouse.Reader = (*fakeReader)(nil)

type fakeStore struct {
	mu   sync.Mutex
	last []domain.Recommendation
	n    int
}

func (f *fakeStore) ReplacePending(_ context.Context, _, _ string, recs []domain.Recommendation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = recs
	f.n++
	return nil
}

func newTestRegistry(t *testing.T) *rules.Registry {
	t.Helper()
	r, err := rules.NewRegistry(nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func keywordEntity(clicks int64, conversions float64, cpaMicros int64) domain.EntityWithMetrics {
	e := domain.Entity{
		Identity:  domain.EntityID{CustomerID: "c1", Kind: domain.EntityKeyword, ID: "kw1"},
		Status:    "ENABLED",
		BidMicros: 1_000_000,
	}
	cost := cpaMicros * int64(conversions)
	m := domain.WindowedMetrics{
		Identity:      e.Identity,
		Clicks7d:      clicks,
		Conversions7d: conversions,
		CostMicros7d:  cost,
	}
	return domain.EntityWithMetrics{Entity: e, Metrics: m}
}

func TestGenerateEmitsAndPersists(t *testing.T) {
	reader := &fakeReader{rows: map[domain.EntityKind][]domain.EntityWithMetrics{
		domain.EntityKeyword: {keywordEntity(50, 5, 10_000_000)},
	}}
	store := &fakeStore{}
	eng := New(reader, newTestRegistry(t), store, nil, nil)

	recs, err := eng.Generate(context.Background(), "c1", "2026-07-30", []domain.EntityKind{domain.EntityKeyword})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 recommendation, got %d", len(recs))
	}
	if recs[0].RuleID != "KW_BID_UP_LOW_CPA" {
		t.Errorf("expected KW_BID_UP_LOW_CPA, got %s", recs[0].RuleID)
	}
	if store.n != 1 {
		t.Errorf("expected ReplacePending called once, got %d", store.n)
	}
}

func TestGenerateDedupesSameLever(t *testing.T) {
	// An entity eligible for both bid-up and bid-down rules simultaneously
	// cannot occur in practice (CPA<20 and CPA>60 are mutually exclusive),
	// but the dedup logic must still hold when two rules target the same
	// (entity, lever) pair — simulate by constructing metrics that satisfy
	// only bid-up, confirming exactly one AdjustBid proposal survives.
	reader := &fakeReader{rows: map[domain.EntityKind][]domain.EntityWithMetrics{
		domain.EntityKeyword: {keywordEntity(50, 5, 10_000_000)},
	}}
	store := &fakeStore{}
	eng := New(reader, newTestRegistry(t), store, nil, nil)

	recs, err := eng.Generate(context.Background(), "c1", "2026-07-30", nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	bidCount := 0
	for _, r := range recs {
		if r.Action.Lever() == domain.LeverBid {
			bidCount++
		}
	}
	if bidCount != 1 {
		t.Errorf("expected exactly 1 bid-lever proposal, got %d", bidCount)
	}
}

func TestGenerateSingleFlight(t *testing.T) {
	// Concurrent callers for the same (customer_id, snapshot_date) must all
	// observe a successful, identically-shaped result; single-flight may
	// collapse some of them into one underlying pass, so the persist count
	// is bounded above by the caller count, not required to equal it.
	reader := &fakeReader{rows: map[domain.EntityKind][]domain.EntityWithMetrics{
		domain.EntityKeyword: {keywordEntity(50, 5, 10_000_000)},
	}}
	store := &fakeStore{}
	eng := New(reader, newTestRegistry(t), store, nil, nil)

	const callers = 5
	results := make([][]domain.Recommendation, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx], errs[idx] = eng.Generate(context.Background(), "c1", "2026-07-30", []domain.EntityKind{domain.EntityKeyword})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d: Generate: %v", i, err)
		}
		if len(results[i]) != 1 {
			t.Errorf("caller %d: expected 1 recommendation, got %d", i, len(results[i]))
		}
	}
	if store.n < 1 || store.n > callers {
		t.Errorf("expected between 1 and %d persists, got %d", callers, store.n)
	}
}

func TestGenerateIdempotentAcrossRuns(t *testing.T) {
	reader := &fakeReader{rows: map[domain.EntityKind][]domain.EntityWithMetrics{
		domain.EntityKeyword: {keywordEntity(50, 5, 10_000_000)},
	}}
	store := &fakeStore{}
	eng := New(reader, newTestRegistry(t), store, nil, nil)

	first, err := eng.Generate(context.Background(), "c1", "2026-07-30", []domain.EntityKind{domain.EntityKeyword})
	if err != nil {
		t.Fatalf("first Generate: %v", err)
	}
	second, err := eng.Generate(context.Background(), "c1", "2026-07-30", []domain.EntityKind{domain.EntityKeyword})
	if err != nil {
		t.Fatalf("second Generate: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("expected same proposal count across runs, got %d and %d", len(first), len(second))
	}
	if first[0].RuleID != second[0].RuleID || first[0].Action != second[0].Action {
		t.Errorf("expected identical proposal shape across runs")
	}
}
