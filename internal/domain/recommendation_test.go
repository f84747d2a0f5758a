package domain

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to RecommendationStatus
		want     bool
	}{
		{StatusPending, StatusApproved, true},
		{StatusPending, StatusRejected, true},
		{StatusPending, StatusExpired, true},
		{StatusApproved, StatusExecuted, true},
		{StatusApproved, StatusFailed, true},
		{StatusPending, StatusExecuted, false},
		{StatusExecuted, StatusPending, false},
		{StatusApproved, StatusPending, false},
		{StatusRejected, StatusApproved, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestChangePercent(t *testing.T) {
	pct, ok := ChangePercent(1.00, 1.15)
	if !ok {
		t.Fatal("expected defined change_pct")
	}
	if pct < 0.1499 || pct > 0.1501 {
		t.Errorf("ChangePercent(1.00, 1.15) = %v, want ~0.15", pct)
	}

	if _, ok := ChangePercent(0, 5); ok {
		t.Error("ChangePercent with zero old value should be undefined")
	}
}

func TestRiskTierLess(t *testing.T) {
	if !RiskLow.Less(RiskHigh) {
		t.Error("LOW should be preferred over HIGH")
	}
	if RiskHigh.Less(RiskLow) {
		t.Error("HIGH should not be preferred over LOW")
	}
}
