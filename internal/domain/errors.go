package domain

import (
	"fmt"
	"time"
)

// The error kinds named in the error handling design: every rejection or
// failure this system produces is one of these typed values, never a bare
// string or a panic used for control flow.

type ValidationFailed struct{ Field string }

func (e *ValidationFailed) Error() string { return fmt.Sprintf("validation failed: %s", e.Field) }

type IllegalTransition struct{ From, To RecommendationStatus }

func (e *IllegalTransition) Error() string {
	return fmt.Sprintf("illegal transition: %s -> %s", e.From, e.To)
}

type InCooldown struct{ Until time.Time }

func (e *InCooldown) Error() string { return fmt.Sprintf("in cooldown until %s", e.Until) }

type ConflictingLever struct {
	Identity EntityID
	Lever    Lever
}

func (e *ConflictingLever) Error() string {
	return fmt.Sprintf("conflicting lever %s on %s already changed this cooldown window", e.Lever, e.Identity)
}

type StaleProposal struct{ CurrentValue float64 }

func (e *StaleProposal) Error() string {
	return fmt.Sprintf("proposal stale: current value is %v", e.CurrentValue)
}

type BatchCapExceeded struct{ Cap int }

func (e *BatchCapExceeded) Error() string { return fmt.Sprintf("batch cap of %d exceeded", e.Cap) }

type RateLimited struct{ RetryAfter time.Duration }

func (e *RateLimited) Error() string { return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter) }

type RiskGate struct{ Reason string }

func (e *RiskGate) Error() string { return fmt.Sprintf("risk gate: %s", e.Reason) }

type AdapterTransient struct{ RetryAfter time.Duration }

func (e *AdapterTransient) Error() string {
	return fmt.Sprintf("adapter transient error, retry after %s", e.RetryAfter)
}

type AdapterPermanent struct{ Code string }

func (e *AdapterPermanent) Error() string { return fmt.Sprintf("adapter permanent error: %s", e.Code) }

type WarehouseUnavailable struct{ Cause error }

func (e *WarehouseUnavailable) Error() string { return fmt.Sprintf("warehouse unavailable: %v", e.Cause) }
func (e *WarehouseUnavailable) Unwrap() error { return e.Cause }

type LedgerUnavailable struct{ Cause error }

func (e *LedgerUnavailable) Error() string { return fmt.Sprintf("ledger unavailable: %v", e.Cause) }
func (e *LedgerUnavailable) Unwrap() error  { return e.Cause }
