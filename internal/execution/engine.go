// Package execution is the Execution Engine (C8): it orchestrates the
// Approval Store, Guardrails, the Ads API Adapter and the Change Ledger for
// one batch of APPROVED recommendations. A batch is never atomic — each
// proposal's outcome is independent of its neighbors.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/solari-labs/adctl/internal/adsapi"
	"github.com/solari-labs/adctl/internal/approval"
	"github.com/solari-labs/adctl/internal/cache"
	"github.com/solari-labs/adctl/internal/config"
	"github.com/solari-labs/adctl/internal/core/resilience"
	"github.com/solari-labs/adctl/internal/domain"
	"github.com/solari-labs/adctl/internal/guardrails"
	"github.com/solari-labs/adctl/internal/ledger"
	"github.com/solari-labs/adctl/internal/rules"
)

// defaultWorkers bounds the concurrent adapter calls within one batch when
// the caller does not override it.
const defaultWorkers = 4

// Outcome is one proposal's result within a batch.
type Outcome struct {
	RecommendationID string
	Status           domain.RecommendationStatus
	PlatformAck      string // populated on EXECUTED and on DRY_RUN
	Err              error  // populated on FAILED
}

// Engine wires the Approval Store, Rule Registry, Guardrails, Ads API
// Adapter and Change Ledger together for a batch run.
type Engine struct {
	approvals approval.Store
	registry  *rules.Registry
	entities  guardrails.EntityReader
	ledger    ledger.Store
	adapter   *adsapi.Adapter
	cache     *cache.Manager

	execCfg  config.ExecutionConfig
	guardCfg config.GuardrailsConfig
	workers  int

	logger  *slog.Logger
	metrics *executionMetrics
}

func New(
	approvals approval.Store,
	registry *rules.Registry,
	entities guardrails.EntityReader,
	ledgerStore ledger.Store,
	adapter *adsapi.Adapter,
	cacheManager *cache.Manager,
	execCfg config.ExecutionConfig,
	guardCfg config.GuardrailsConfig,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		approvals: approvals,
		registry:  registry,
		entities:  entities,
		ledger:    ledgerStore,
		adapter:   adapter,
		cache:     cacheManager,
		execCfg:   execCfg,
		guardCfg:  guardCfg,
		workers:   defaultWorkers,
		logger:    logger,
		metrics:   newExecutionMetrics(),
	}
}

// transientChecker retries only on AdapterTransient; AdapterPermanent and
// every other error (including guardrail rejections, which never reach the
// adapter) stop the retry loop immediately.
type transientChecker struct{}

func (transientChecker) IsRetryable(err error) bool {
	var t *domain.AdapterTransient
	return errors.As(err, &t)
}

func (e *Engine) retryPolicy() *resilience.RetryPolicy {
	return &resilience.RetryPolicy{
		MaxRetries:    e.execCfg.Retry.Max,
		BaseDelay:     time.Duration(e.execCfg.Retry.BaseMs) * time.Millisecond,
		MaxDelay:      time.Duration(e.execCfg.Retry.CapMs) * time.Millisecond,
		Multiplier:    2.0,
		Jitter:        true,
		ErrorChecker:  transientChecker{},
		Logger:        e.logger,
		OperationName: "ads_api_execute",
	}
}

// ExecuteBatch runs every recommendation id through the per-proposal
// contract, processed by a small bounded worker pool so adapter I/O for
// independent entities overlaps while the pending ledger view stays
// consistent across the batch.
func (e *Engine) ExecuteBatch(ctx context.Context, ids []string, mode adsapi.Mode, approver string) []Outcome {
	start := time.Now()
	defer func() { e.metrics.duration.Observe(time.Since(start).Seconds()) }()

	pending := newPendingLedgerView(e.ledger)
	evaluator := guardrails.New(e.entities, pending, guardrails.Config{
		HighRiskConfidenceFloor: e.guardCfg.HighRiskConfidenceFloor,
		BatchCap:                e.execCfg.BatchCap,
	})

	outcomes := make([]Outcome, len(ids))
	now := time.Now()

	workers := e.workers
	if workers > len(ids) {
		workers = len(ids)
	}
	if workers < 1 {
		workers = 1
	}

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	var customersMu sync.Mutex
	customers := make(map[string]struct{})

	for i, id := range ids {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, id string) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome, customerID := e.executeOne(ctx, id, mode, approver, pending, evaluator, now, len(ids), i)
			outcomes[i] = outcome

			if customerID != "" {
				customersMu.Lock()
				customers[customerID] = struct{}{}
				customersMu.Unlock()
			}

			e.metrics.outcomes.WithLabelValues(string(mode), string(outcome.Status)).Inc()
		}(i, id)
	}
	wg.Wait()

	if mode == adsapi.ModeLive {
		for customerID := range customers {
			e.cache.InvalidatePrefix(ctx, customerID)
		}
	}

	return outcomes
}

// SubmitRollback executes the inverse of an already-applied ChangeRecord on
// behalf of the Rollback Monitor. Unlike ExecuteBatch it bypasses the
// cooldown and conflicting-lever checks — the record it is reversing is
// necessarily within its own cooldown window — but schema and liveness
// checks still apply: a rollback still fails closed if the entity has since
// drifted out from under it. The new ChangeRecord it appends carries
// RollbackID pointing at the original and is itself never monitored.
func (e *Engine) SubmitRollback(ctx context.Context, rec domain.ChangeRecord, inverse domain.Action, oldValue, newValue float64, approver string) (Outcome, error) {
	rule, ok := e.registry.RuleByID(rec.RuleID)
	if !ok {
		return Outcome{}, fmt.Errorf("rule %q not found in registry", rec.RuleID)
	}

	changePct, _ := domain.ChangePercent(oldValue, newValue)
	proposal := domain.Recommendation{
		RecommendationID: fmt.Sprintf("rollback:%d", rec.ChangeID),
		RuleID:           rec.RuleID,
		Identity:         rec.Identity,
		Action:           inverse,
		OldValue:         oldValue,
		NewValue:         newValue,
		ChangePct:        changePct,
		RiskTier:         rec.RiskTier,
		Confidence:       1.0,
		Status:           domain.StatusApproved,
	}

	pending := newPendingLedgerView(e.ledger)
	evaluator := guardrails.New(e.entities, pending, guardrails.Config{
		HighRiskConfidenceFloor: e.guardCfg.HighRiskConfidenceFloor,
		BatchCap:                e.execCfg.BatchCap,
	})
	ec := guardrails.EvalContext{
		Proposal:     proposal,
		Rule:         rule,
		Now:          time.Now(),
		Approver:     approver,
		BatchSize:    1,
		SkipCooldown: true,
	}
	if err := evaluator.Evaluate(ctx, ec); err != nil {
		return Outcome{RecommendationID: proposal.RecommendationID, Status: domain.StatusFailed, Err: err}, err
	}

	req := adsapi.Request{Identity: proposal.Identity, Action: proposal.Action}
	ack, err := resilience.WithRetryFunc(ctx, e.retryPolicy(), func() (string, error) {
		return e.adapter.Execute(ctx, adsapi.ModeLive, req)
	})
	if err != nil {
		e.metrics.retries.WithLabelValues("exhausted").Inc()
		return Outcome{RecommendationID: proposal.RecommendationID, Status: domain.StatusFailed, Err: err}, err
	}

	now := time.Now()
	originalChangeID := rec.ChangeID
	newRec := domain.ChangeRecord{
		Identity:       proposal.Identity,
		ActionKind:     domain.KindOf(inverse),
		Lever:          inverse.Lever(),
		OldValue:       oldValue,
		NewValue:       newValue,
		ChangePct:      changePct,
		RuleID:         rec.RuleID,
		RiskTier:       rec.RiskTier,
		Confidence:     1.0,
		ChangeDate:     now,
		ExecutedAt:     now,
		ApprovedBy:     approver,
		RollbackStatus: domain.RollbackNone,
		RollbackID:     &originalChangeID,
	}
	if _, err := e.ledger.Append(ctx, newRec); err != nil {
		return Outcome{RecommendationID: proposal.RecommendationID, Status: domain.StatusFailed, Err: err}, err
	}

	e.cache.InvalidatePrefix(ctx, proposal.Identity.CustomerID)
	return Outcome{RecommendationID: proposal.RecommendationID, Status: domain.StatusExecuted, PlatformAck: ack}, nil
}

func (e *Engine) executeOne(
	ctx context.Context,
	recommendationID string,
	mode adsapi.Mode,
	approver string,
	pending *pendingLedgerView,
	evaluator *guardrails.Evaluator,
	now time.Time,
	batchSize, batchIndex int,
) (Outcome, string) {
	proposal, err := e.approvals.Get(ctx, recommendationID)
	if err != nil {
		return Outcome{RecommendationID: recommendationID, Status: domain.StatusFailed, Err: err}, ""
	}
	customerID := proposal.Identity.CustomerID

	if proposal.Status != domain.StatusApproved {
		err := &domain.IllegalTransition{From: proposal.Status, To: domain.StatusExecuted}
		return Outcome{RecommendationID: recommendationID, Status: proposal.Status, Err: err}, customerID
	}

	rule, ok := e.registry.RuleByID(proposal.RuleID)
	if !ok {
		err := fmt.Errorf("rule %q not found in registry", proposal.RuleID)
		_ = e.approvals.MarkFailed(ctx, recommendationID, err.Error())
		return Outcome{RecommendationID: recommendationID, Status: domain.StatusFailed, Err: err}, customerID
	}

	ec := guardrails.EvalContext{
		Proposal:   proposal,
		Rule:       rule,
		Now:        now,
		Approver:   approver,
		BatchSize:  batchSize,
		BatchIndex: batchIndex,
	}

	if err := evaluator.Evaluate(ctx, ec); err != nil {
		if mode == adsapi.ModeLive {
			_ = e.approvals.MarkFailed(ctx, recommendationID, err.Error())
		}
		return Outcome{RecommendationID: recommendationID, Status: domain.StatusFailed, Err: err}, customerID
	}

	req := adsapi.Request{Identity: proposal.Identity, Action: proposal.Action}

	if mode == adsapi.ModeDryRun {
		ack, err := e.adapter.Execute(ctx, mode, req)
		if err != nil {
			return Outcome{RecommendationID: recommendationID, Status: proposal.Status, Err: err}, customerID
		}
		return Outcome{RecommendationID: recommendationID, Status: proposal.Status, PlatformAck: ack}, customerID
	}

	ack, err := resilience.WithRetryFunc(ctx, e.retryPolicy(), func() (string, error) {
		return e.adapter.Execute(ctx, mode, req)
	})
	if err != nil {
		e.metrics.retries.WithLabelValues("exhausted").Inc()
		_ = e.approvals.MarkFailed(ctx, recommendationID, err.Error())
		return Outcome{RecommendationID: recommendationID, Status: domain.StatusFailed, Err: err}, customerID
	}

	rec := domain.ChangeRecord{
		Identity:            proposal.Identity,
		ActionKind:          domain.KindOf(proposal.Action),
		Lever:               proposal.Action.Lever(),
		OldValue:            proposal.OldValue,
		NewValue:            proposal.NewValue,
		ChangePct:           proposal.ChangePct,
		RuleID:              proposal.RuleID,
		RiskTier:            proposal.RiskTier,
		Confidence:          proposal.Confidence,
		Evidence:            proposal.Evidence,
		Reasoning:           proposal.Reasoning,
		ChangeDate:          now,
		ExecutedAt:          now,
		ApprovedBy:          approver,
		RollbackStatus:      domain.RollbackMonitoring,
		MonitoringStartedAt: &now,
	}
	changeID, err := e.ledger.Append(ctx, rec)
	if err != nil {
		_ = e.approvals.MarkFailed(ctx, recommendationID, err.Error())
		return Outcome{RecommendationID: recommendationID, Status: domain.StatusFailed, Err: err}, customerID
	}
	rec.ChangeID = changeID
	pending.accept(rec)

	if err := e.approvals.MarkExecuted(ctx, recommendationID, approver); err != nil {
		return Outcome{RecommendationID: recommendationID, Status: domain.StatusFailed, Err: err}, customerID
	}

	return Outcome{RecommendationID: recommendationID, Status: domain.StatusExecuted, PlatformAck: ack}, customerID
}
