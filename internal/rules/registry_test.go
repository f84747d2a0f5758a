package rules

import (
	"testing"

	"github.com/solari-labs/adctl/internal/domain"
)

func TestNewRegistryLoadsInStableOrder(t *testing.T) {
	r, err := NewRegistry(nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	keywordRules := r.EnabledRulesFor(domain.EntityKeyword)
	if len(keywordRules) == 0 {
		t.Fatal("expected at least one keyword rule")
	}
	if keywordRules[0].RuleID != "KW_BID_UP_LOW_CPA" {
		t.Errorf("expected KW_BID_UP_LOW_CPA first, got %s", keywordRules[0].RuleID)
	}

	idx1, ok1 := r.IndexOf("KW_BID_UP_LOW_CPA")
	idx2, ok2 := r.IndexOf("KW_BID_DOWN_HIGH_CPA")
	if !ok1 || !ok2 {
		t.Fatal("expected both rules to be found")
	}
	if idx1 >= idx2 {
		t.Errorf("expected KW_BID_UP_LOW_CPA to register before KW_BID_DOWN_HIGH_CPA")
	}
}

func TestKeywordBidUpLowCPARule(t *testing.T) {
	rule := keywordBidUpLowCPA()
	entity := domain.Entity{
		Identity:  domain.EntityID{CustomerID: "c1", Kind: domain.EntityKeyword, ID: "kw1"},
		Status:    "ENABLED",
		BidMicros: 1_000_000,
	}
	metrics := domain.WindowedMetrics{
		Clicks7d:      50,
		Conversions7d: 5,
		CostMicros7d:  50_000_000,
	}

	if !rule.Eligible(entity, metrics) {
		t.Fatal("expected rule to be eligible")
	}

	action, oldValue, newValue := rule.Change(entity, metrics)
	bid, ok := action.(domain.AdjustBid)
	if !ok {
		t.Fatalf("expected AdjustBid action, got %T", action)
	}
	if bid.NewMicros <= bid.OldMicros {
		t.Errorf("expected bid increase, got old=%d new=%d", bid.OldMicros, bid.NewMicros)
	}
	pct, _ := domain.ChangePercent(oldValue, newValue)
	if pct > rule.MaxChangePct+1e-9 {
		t.Errorf("change_pct %v exceeds max_change_pct %v", pct, rule.MaxChangePct)
	}
}
