// Package guardrails is the Guardrails component (C6): a pure,
// side-effect-free evaluation of one proposal against a ledger view,
// implemented as an ordered chain of predicate functions that short-circuits
// on the first rejection — the same chained-checker shape the resilience
// layer uses to decide retryability, generalized from "is this error
// retryable" to "does this proposal pass".
package guardrails

import (
	"context"
	"math"
	"time"

	"github.com/solari-labs/adctl/internal/domain"
)

// EntityReader is the slice of the Warehouse Reader the liveness check needs.
type EntityReader interface {
	GetCurrentEntity(ctx context.Context, id domain.EntityID) (domain.Entity, error)
}

// LedgerView is the slice of the Change Ledger the cooldown and
// one-lever-at-a-time checks need. Implementations may serve a transient
// "pending" view that layers in-batch accepted changes over the durable
// ledger, per the Execution Engine's batch-stability requirement.
type LedgerView interface {
	QueryCooldown(ctx context.Context, id domain.EntityID, since time.Time) ([]domain.ChangeRecord, error)
}

// Config carries the thresholds the chain checks against.
type Config struct {
	HighRiskConfidenceFloor float64
	BatchCap                int
}

// EvalContext is the shared state every link in the chain reads.
type EvalContext struct {
	Proposal   domain.Recommendation
	Rule       domain.Rule
	Now        time.Time
	Approver   string // non-empty when a human approved this execution
	BatchSize  int    // number of proposals in the batch this call is part of
	BatchIndex int    // this proposal's 0-based position within the batch

	// SkipCooldown bypasses the cooldown and conflicting-lever checks. Set
	// only by the Rollback Monitor's inverse mutation, which must still
	// restore a regressed entity even while its own forward change is
	// within cooldown.
	SkipCooldown bool
}

// Evaluator runs the ordered check chain.
type Evaluator struct {
	entities EntityReader
	ledger   LedgerView
	cfg      Config
}

func New(entities EntityReader, ledger LedgerView, cfg Config) *Evaluator {
	return &Evaluator{entities: entities, ledger: ledger, cfg: cfg}
}

// check is one link in the chain: return nil to continue, or a typed reject
// error to short-circuit.
type check func(ctx context.Context, e *Evaluator, ec EvalContext) error

var chain = []check{
	checkSchema,
	checkLiveness,
	checkCooldown,
	checkConflictingLever,
	checkMaxChangePct,
	checkRiskGate,
	checkBatchCap,
}

// Evaluate runs every check in order and returns the first rejection, or nil
// if the proposal is accepted. Rate limiting (the chain's 8th check in the
// design) is enforced one layer up, at the HTTP middleware boundary, since
// it is scoped to the calling client rather than to any one proposal.
func (e *Evaluator) Evaluate(ctx context.Context, ec EvalContext) error {
	for _, c := range chain {
		if err := c(ctx, e, ec); err != nil {
			return err
		}
	}
	return nil
}

func checkSchema(_ context.Context, _ *Evaluator, ec EvalContext) error {
	action := ec.Proposal.Action
	if domain.KindOf(action) == "" {
		return &domain.ValidationFailed{Field: "action_kind"}
	}
	switch a := action.(type) {
	case domain.AdjustBid:
		if a.NewMicros <= 0 {
			return &domain.ValidationFailed{Field: "new_value"}
		}
	case domain.AdjustBudget:
		if a.NewMicros <= 0 {
			return &domain.ValidationFailed{Field: "new_value"}
		}
	case domain.SetStatus:
		if a.NewStatus == "" {
			return &domain.ValidationFailed{Field: "new_value"}
		}
	case domain.AddNegative:
		if a.KeywordText == "" || !a.MatchType.IsValid() {
			return &domain.ValidationFailed{Field: "new_value"}
		}
	case domain.ExcludeProduct:
		if a.ProductID == "" {
			return &domain.ValidationFailed{Field: "new_value"}
		}
	}
	return nil
}

// checkLiveness re-reads the entity's current value from the warehouse and
// rejects as StaleProposal if it no longer matches the proposal's recorded
// old_value — someone or something else changed it since generation.
func checkLiveness(ctx context.Context, e *Evaluator, ec EvalContext) error {
	live, err := e.entities.GetCurrentEntity(ctx, ec.Proposal.Identity)
	if err != nil {
		return &domain.WarehouseUnavailable{Cause: err}
	}
	if !currentValueMatches(live, ec.Proposal.Action) {
		return &domain.StaleProposal{CurrentValue: currentValueFor(live, ec.Proposal.Action.Lever())}
	}
	return nil
}

func currentValueFor(e domain.Entity, lever domain.Lever) float64 {
	switch lever {
	case domain.LeverBid:
		return float64(e.BidMicros) / 1_000_000
	case domain.LeverBudget:
		return float64(e.BudgetMicros) / 1_000_000
	default:
		return 0
	}
}

func currentValueMatches(e domain.Entity, action domain.Action) bool {
	switch a := action.(type) {
	case domain.AdjustBid:
		return e.BidMicros == a.OldMicros
	case domain.AdjustBudget:
		return e.BudgetMicros == a.OldMicros
	case domain.SetStatus:
		return e.Status == a.OldStatus
	default:
		// AddNegative/ExcludeProduct have no single "current value" to
		// stale-check against; liveness is trivially satisfied for them.
		return true
	}
}

func checkCooldown(ctx context.Context, e *Evaluator, ec EvalContext) error {
	if ec.SkipCooldown {
		return nil
	}
	since := ec.Now.AddDate(0, 0, -ec.Rule.CooldownDays)
	records, err := e.ledger.QueryCooldown(ctx, ec.Proposal.Identity, since)
	if err != nil {
		return &domain.LedgerUnavailable{Cause: err}
	}
	for _, rec := range records {
		if rec.Lever == ec.Proposal.Action.Lever() {
			return &domain.InCooldown{Until: rec.ChangeDate.AddDate(0, 0, ec.Rule.CooldownDays)}
		}
	}
	return nil
}

func checkConflictingLever(ctx context.Context, e *Evaluator, ec EvalContext) error {
	if ec.SkipCooldown {
		return nil
	}
	since := ec.Now.AddDate(0, 0, -ec.Rule.CooldownDays)
	records, err := e.ledger.QueryCooldown(ctx, ec.Proposal.Identity, since)
	if err != nil {
		return &domain.LedgerUnavailable{Cause: err}
	}
	for _, rec := range records {
		if rec.Lever != ec.Proposal.Action.Lever() {
			return &domain.ConflictingLever{Identity: ec.Proposal.Identity, Lever: rec.Lever}
		}
	}
	return nil
}

func checkMaxChangePct(_ context.Context, _ *Evaluator, ec EvalContext) error {
	if math.Abs(ec.Proposal.ChangePct) > ec.Rule.MaxChangePct+1e-9 {
		return &domain.ValidationFailed{Field: "change_pct"}
	}
	return nil
}

func checkRiskGate(_ context.Context, e *Evaluator, ec EvalContext) error {
	if ec.Proposal.RiskTier != domain.RiskHigh {
		return nil
	}
	floor := e.cfg.HighRiskConfidenceFloor
	if ec.Approver == "" {
		return &domain.RiskGate{Reason: "high risk proposal requires a human approver"}
	}
	if ec.Proposal.Confidence < floor {
		return &domain.RiskGate{Reason: "high risk proposal confidence below floor"}
	}
	return nil
}

func checkBatchCap(_ context.Context, e *Evaluator, ec EvalContext) error {
	limit := e.cfg.BatchCap
	if limit <= 0 {
		limit = 100
	}
	if ec.BatchIndex >= limit {
		return &domain.BatchCapExceeded{Cap: limit}
	}
	return nil
}
