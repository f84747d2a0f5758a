package domain

import "time"

// RollbackStatus tracks a ChangeRecord through the Rollback Monitor's
// lifecycle. The zero value (empty string) stands for the source's "NULL".
type RollbackStatus string

const (
	RollbackNone          RollbackStatus = ""
	RollbackMonitoring    RollbackStatus = "monitoring"
	RollbackRolledBack    RollbackStatus = "rolled_back"
	RollbackConfirmedGood RollbackStatus = "confirmed_good"
)

// ChangeRecord is one append-only ledger entry. The ledger never mutates a
// record's identity/value fields after append; only the rollback bookkeeping
// fields (RollbackStatus, RollbackReason, MonitoringCompletedAt) are ever
// updated in place, and only by the Rollback Monitor.
type ChangeRecord struct {
	ChangeID   int64 // database-generated, monotonically increasing
	Identity   EntityID
	ActionKind ActionKind
	Lever      Lever
	OldValue   float64
	NewValue   float64
	ChangePct  float64
	RuleID     string
	RiskTier   RiskTier

	Confidence float64
	Evidence   map[string]float64
	Reasoning  string

	ChangeDate time.Time
	ExecutedAt time.Time
	ApprovedBy string

	RollbackStatus        RollbackStatus
	RollbackID            *int64 // set when this record IS a rollback, pointing at the original
	MonitoringStartedAt   *time.Time
	MonitoringCompletedAt *time.Time
	RollbackReason        string
}

// CooldownFilter selects ledger rows for a cooldown/conflicting-lever check.
type CooldownFilter struct {
	Identity EntityID
	Lever    Lever
	Since    time.Time
}
