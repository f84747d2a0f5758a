package domain

import "time"

// RecommendationStatus is the proposal lifecycle state. Transitions are
// monotonic: PENDING -> {APPROVED|REJECTED|EXPIRED},
// APPROVED -> {EXECUTED|FAILED}. Reverse transitions are never legal.
type RecommendationStatus string

const (
	StatusPending  RecommendationStatus = "PENDING"
	StatusApproved RecommendationStatus = "APPROVED"
	StatusRejected RecommendationStatus = "REJECTED"
	StatusExecuted RecommendationStatus = "EXECUTED"
	StatusFailed   RecommendationStatus = "FAILED"
	StatusExpired  RecommendationStatus = "EXPIRED"
)

// legalTransitions enumerates the only transitions CanTransition permits.
var legalTransitions = map[RecommendationStatus]map[RecommendationStatus]bool{
	StatusPending:  {StatusApproved: true, StatusRejected: true, StatusExpired: true},
	StatusApproved: {StatusExecuted: true, StatusFailed: true},
}

// CanTransition reports whether from -> to is a legal status transition.
func CanTransition(from, to RecommendationStatus) bool {
	return legalTransitions[from][to]
}

// Recommendation (a.k.a. proposal) is the canonical record produced only by
// the Recommendation Engine and mutated only through legal transitions in
// the Approval Store.
type Recommendation struct {
	RecommendationID string
	RuleID           string
	Identity         EntityID
	Action           Action
	OldValue         float64
	NewValue         float64
	ChangePct        float64
	RiskTier         RiskTier
	Confidence       float64
	Evidence         map[string]float64
	Reasoning        string
	Status           RecommendationStatus
	SnapshotDate     string

	CreatedAt  time.Time
	UpdatedAt  time.Time
	Approver   string
	RejectReason string
}

// ChangePercent computes (new-old)/old. The second
// return value is false when old is zero, in which case change_pct is
// undefined and callers must not rely on it.
func ChangePercent(oldValue, newValue float64) (float64, bool) {
	if oldValue == 0 {
		return 0, false
	}
	return (newValue - oldValue) / oldValue, true
}
