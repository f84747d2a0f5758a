package rules

import "github.com/solari-labs/adctl/internal/domain"

// clampPct restricts a proposed change to at most maxPct in magnitude.
func clampPct(pct, maxPct float64) float64 {
	if pct > maxPct {
		return maxPct
	}
	if pct < -maxPct {
		return -maxPct
	}
	return pct
}

func keywordBidUpLowCPA() domain.Rule {
	const maxPct = 0.20
	return domain.Rule{
		RuleID:        "KW_BID_UP_LOW_CPA",
		EntityKind:    domain.EntityKeyword,
		ActionKind:    domain.ActionAdjustBid,
		RiskTier:      domain.RiskLow,
		CooldownDays:  7,
		MaxChangePct:  maxPct,
		MinDataPoints: 20,
		DataPoints:    func(m domain.WindowedMetrics) int64 { return m.Clicks7d },
		Eligible: func(_ domain.Entity, m domain.WindowedMetrics) bool {
			return m.Clicks7d >= 20 && m.Conversions7d > 0 && m.CPA7d() < 20
		},
		Change: func(e domain.Entity, m domain.WindowedMetrics) (domain.Action, float64, float64) {
			oldBid := currentBidMicros(e)
			pct := clampPct(0.15, maxPct)
			newBid := int64(float64(oldBid) * (1 + pct))
			return domain.AdjustBid{OldMicros: oldBid, NewMicros: newBid},
				float64(oldBid) / 1_000_000, float64(newBid) / 1_000_000
		},
		Confidence: func(_ domain.Entity, m domain.WindowedMetrics, _ map[string]float64) float64 {
			return confidenceFromVolume(m.Clicks7d, 20, 100)
		},
	}
}

func keywordBidDownHighCPA() domain.Rule {
	const maxPct = 0.20
	return domain.Rule{
		RuleID:        "KW_BID_DOWN_HIGH_CPA",
		EntityKind:    domain.EntityKeyword,
		ActionKind:    domain.ActionAdjustBid,
		RiskTier:      domain.RiskMedium,
		CooldownDays:  7,
		MaxChangePct:  maxPct,
		MinDataPoints: 20,
		DataPoints:    func(m domain.WindowedMetrics) int64 { return m.Clicks7d },
		Eligible: func(_ domain.Entity, m domain.WindowedMetrics) bool {
			return m.Clicks7d >= 20 && m.CPA7d() > 60
		},
		Change: func(e domain.Entity, m domain.WindowedMetrics) (domain.Action, float64, float64) {
			oldBid := currentBidMicros(e)
			pct := clampPct(-0.15, maxPct)
			newBid := int64(float64(oldBid) * (1 + pct))
			return domain.AdjustBid{OldMicros: oldBid, NewMicros: newBid},
				float64(oldBid) / 1_000_000, float64(newBid) / 1_000_000
		},
		Confidence: func(_ domain.Entity, m domain.WindowedMetrics, _ map[string]float64) float64 {
			return confidenceFromVolume(m.Clicks7d, 20, 100)
		},
	}
}

func campaignBudgetUpHighROAS() domain.Rule {
	const maxPct = 0.30
	return domain.Rule{
		RuleID:        "CAMPAIGN_BUDGET_UP_HIGH_ROAS",
		EntityKind:    domain.EntityCampaign,
		ActionKind:    domain.ActionAdjustBudget,
		RiskTier:      domain.RiskMedium,
		CooldownDays:  7,
		MaxChangePct:  maxPct,
		MinDataPoints: 50,
		DataPoints:    func(m domain.WindowedMetrics) int64 { return m.Clicks7d },
		Eligible: func(_ domain.Entity, m domain.WindowedMetrics) bool {
			return m.Clicks7d >= 50 && m.ROAS7d() > 4.0
		},
		Change: func(e domain.Entity, m domain.WindowedMetrics) (domain.Action, float64, float64) {
			oldBudget := currentBudgetMicros(e)
			pct := clampPct(0.20, maxPct)
			newBudget := int64(float64(oldBudget) * (1 + pct))
			return domain.AdjustBudget{OldMicros: oldBudget, NewMicros: newBudget},
				float64(oldBudget) / 1_000_000, float64(newBudget) / 1_000_000
		},
		Confidence: func(_ domain.Entity, m domain.WindowedMetrics, _ map[string]float64) float64 {
			return confidenceFromVolume(m.Clicks7d, 50, 300)
		},
	}
}

func campaignBudgetDownLowROAS() domain.Rule {
	const maxPct = 0.30
	return domain.Rule{
		RuleID:        "CAMPAIGN_BUDGET_DOWN_LOW_ROAS",
		EntityKind:    domain.EntityCampaign,
		ActionKind:    domain.ActionAdjustBudget,
		RiskTier:      domain.RiskHigh,
		CooldownDays:  7,
		MaxChangePct:  maxPct,
		MinDataPoints: 50,
		DataPoints:    func(m domain.WindowedMetrics) int64 { return m.Clicks7d },
		Eligible: func(_ domain.Entity, m domain.WindowedMetrics) bool {
			return m.Clicks7d >= 50 && m.ROAS7d() < 1.0 && m.ROAS7d() > 0
		},
		Change: func(e domain.Entity, m domain.WindowedMetrics) (domain.Action, float64, float64) {
			oldBudget := currentBudgetMicros(e)
			pct := clampPct(-0.25, maxPct)
			newBudget := int64(float64(oldBudget) * (1 + pct))
			return domain.AdjustBudget{OldMicros: oldBudget, NewMicros: newBudget},
				float64(oldBudget) / 1_000_000, float64(newBudget) / 1_000_000
		},
		Confidence: func(_ domain.Entity, m domain.WindowedMetrics, _ map[string]float64) float64 {
			return confidenceFromVolume(m.Clicks7d, 50, 300)
		},
	}
}

func keywordPauseNoConversions() domain.Rule {
	return domain.Rule{
		RuleID:        "KW_PAUSE_NO_CONVERSIONS",
		EntityKind:    domain.EntityKeyword,
		ActionKind:    domain.ActionSetStatus,
		RiskTier:      domain.RiskHigh,
		CooldownDays:  14,
		MaxChangePct:  1.0,
		MinDataPoints: 100,
		DataPoints:    func(m domain.WindowedMetrics) int64 { return m.Clicks30d },
		Eligible: func(e domain.Entity, m domain.WindowedMetrics) bool {
			return e.Status == "ENABLED" && m.Clicks30d >= 100 && m.Conversions30d == 0
		},
		Change: func(_ domain.Entity, _ domain.WindowedMetrics) (domain.Action, float64, float64) {
			return domain.SetStatus{OldStatus: "ENABLED", NewStatus: "PAUSED"}, 1, 0
		},
		Confidence: func(_ domain.Entity, m domain.WindowedMetrics, _ map[string]float64) float64 {
			return confidenceFromVolume(m.Clicks30d, 100, 500)
		},
	}
}

// confidenceFromVolume grows linearly from 0.5 at the floor to 1.0 at cap,
// never exceeding 1.0. It is the shared evidence->confidence shape several
// rules above use; each rule still supplies its own floor/cap.
func confidenceFromVolume(clicks, floor, cap int64) float64 {
	if clicks <= floor {
		return 0.5
	}
	if clicks >= cap {
		return 1.0
	}
	span := float64(cap - floor)
	return 0.5 + 0.5*(float64(clicks-floor)/span)
}

// currentBidMicros/currentBudgetMicros read the entity's current lever
// value as supplied by the Warehouse Reader.
func currentBidMicros(e domain.Entity) int64 {
	return e.BidMicros
}

func currentBudgetMicros(e domain.Entity) int64 {
	return e.BudgetMicros
}
