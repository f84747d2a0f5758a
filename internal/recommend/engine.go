// Package recommend is the Recommendation Engine (C4): it evaluates every
// enabled rule over windowed per-entity metrics and emits ranked, typed
// change proposals for a (customer_id, snapshot_date).
package recommend

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/solari-labs/adctl/internal/cache"
	"github.com/solari-labs/adctl/internal/domain"
	"github.com/solari-labs/adctl/internal/rules"
	"github.com/solari-labs/adctl/internal/warehouse"
)

// Store is the slice of the Approval Store the engine needs: a single
// dedup-aware persist call that replaces the prior PENDING set for a
// snapshot_date without touching APPROVED/EXECUTED rows.
type Store interface {
	ReplacePending(ctx context.Context, customerID, snapshotDate string, recs []domain.Recommendation) error
}

// Engine runs the rule-evaluation algorithm. It is safe for concurrent use;
// concurrent Generate calls for the same (customer_id, snapshot_date) key
// collapse into a single in-flight pass.
type Engine struct {
	reader   warehouse.Reader
	registry *rules.Registry
	store    Store
	cache    *cache.Manager
	logger   *slog.Logger
	metrics  *runMetrics

	mu       sync.Mutex
	inflight map[string]*inflightRun
}

type inflightRun struct {
	done chan struct{}
	recs []domain.Recommendation
	err  error
}

func New(reader warehouse.Reader, registry *rules.Registry, store Store, cacheMgr *cache.Manager, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		reader:   reader,
		registry: registry,
		store:    store,
		cache:    cacheMgr,
		logger:   logger,
		metrics:  newRunMetrics(),
		inflight: make(map[string]*inflightRun),
	}
}

var allKinds = []domain.EntityKind{
	domain.EntityCampaign, domain.EntityAdGroup, domain.EntityKeyword, domain.EntityAd, domain.EntityProduct,
}

// Generate runs the algorithm for customerID/snapshotDate. If kinds is
// empty, every entity kind the registry has rules for is considered.
func (e *Engine) Generate(ctx context.Context, customerID, snapshotDate string, kinds []domain.EntityKind) ([]domain.Recommendation, error) {
	key := customerID + "|" + snapshotDate

	e.mu.Lock()
	if run, ok := e.inflight[key]; ok {
		e.mu.Unlock()
		<-run.done
		return run.recs, run.err
	}
	run := &inflightRun{done: make(chan struct{})}
	e.inflight[key] = run
	e.mu.Unlock()

	recs, err := e.generate(ctx, customerID, snapshotDate, kinds)
	run.recs, run.err = recs, err
	close(run.done)

	e.mu.Lock()
	delete(e.inflight, key)
	e.mu.Unlock()

	return recs, err
}

func (e *Engine) generate(ctx context.Context, customerID, snapshotDate string, kinds []domain.EntityKind) ([]domain.Recommendation, error) {
	start := time.Now()
	if len(kinds) == 0 {
		kinds = allKinds
	}

	var all []domain.Recommendation
	for _, kind := range kinds {
		kindStart := time.Now()
		rowset, err := e.fetchWindow(ctx, kind, customerID, snapshotDate)
		if err != nil {
			e.metrics.runsTotal.WithLabelValues("warehouse_error").Inc()
			return nil, fmt.Errorf("fetching entity window for %s: %w", kind, err)
		}
		ruleset := e.registry.EnabledRulesFor(kind)

		for _, ewm := range rowset {
			proposals := e.evaluateEntity(ruleset, ewm, snapshotDate)
			all = append(all, proposals...)
		}
		e.metrics.runDuration.WithLabelValues(string(kind)).Observe(time.Since(kindStart).Seconds())
	}

	deduped := e.dedupAndRank(all)
	e.metrics.proposalsOut.WithLabelValues(customerID).Observe(float64(len(deduped)))

	if err := e.store.ReplacePending(ctx, customerID, snapshotDate, deduped); err != nil {
		e.metrics.runsTotal.WithLabelValues("persist_error").Inc()
		return nil, fmt.Errorf("persisting recommendations: %w", err)
	}

	e.metrics.runsTotal.WithLabelValues("ok").Inc()
	e.logger.Info("recommendation run complete",
		"customer_id", customerID, "snapshot_date", snapshotDate,
		"proposals", len(deduped), "duration", time.Since(start))
	return deduped, nil
}

func (e *Engine) fetchWindow(ctx context.Context, kind domain.EntityKind, customerID, snapshotDate string) ([]domain.EntityWithMetrics, error) {
	key, err := cache.Key("entity_window", map[string]string{
		"kind": string(kind), "customer_id": customerID, "snapshot_date": snapshotDate,
	})
	if err != nil || e.cache == nil {
		return e.reader.GetEntityWindow(ctx, kind, customerID, snapshotDate, 30)
	}
	if cached, ok := cache.GetJSON[[]domain.EntityWithMetrics](ctx, e.cache, key); ok {
		return cached, nil
	}
	rows, err := e.reader.GetEntityWindow(ctx, kind, customerID, snapshotDate, 30)
	if err != nil {
		return nil, err
	}
	_ = cache.PutJSON(ctx, e.cache, key, rows)
	return rows, nil
}

// evaluateEntity runs every rule in registry order against one entity,
// applying the min_data_points gate and eligibility predicate, and returns
// every proposal that fired (pre-dedup). A rule evaluation that panics is
// recovered, logged, and dropped — processing continues with the next rule.
func (e *Engine) evaluateEntity(ruleset []domain.Rule, ewm domain.EntityWithMetrics, snapshotDate string) (out []domain.Recommendation) {
	for _, rule := range ruleset {
		rec, ok := e.evaluateRule(rule, ewm, snapshotDate)
		if ok {
			out = append(out, rec)
		}
	}
	return out
}

func (e *Engine) evaluateRule(rule domain.Rule, ewm domain.EntityWithMetrics, snapshotDate string) (rec domain.Recommendation, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.metrics.ruleErrors.WithLabelValues(rule.RuleID).Inc()
			e.logger.Error("rule evaluation panicked, proposal dropped",
				"rule_id", rule.RuleID, "entity", ewm.Entity.Identity.String(), "panic", r)
			ok = false
		}
	}()

	if rule.DataPoints(ewm.Metrics) < rule.MinDataPoints {
		return domain.Recommendation{}, false
	}
	if !rule.Eligible(ewm.Entity, ewm.Metrics) {
		return domain.Recommendation{}, false
	}

	action, oldValue, newValue := rule.Change(ewm.Entity, ewm.Metrics)
	changePct, _ := domain.ChangePercent(oldValue, newValue)
	maxPct := rule.MaxChangePct
	if changePct > maxPct {
		changePct = maxPct
	} else if changePct < -maxPct {
		changePct = -maxPct
	}

	evidence := map[string]float64{
		"clicks_7d":      float64(ewm.Metrics.Clicks7d),
		"conversions_7d": ewm.Metrics.Conversions7d,
		"roas_7d":        ewm.Metrics.ROAS7d(),
		"cpa_7d":         ewm.Metrics.CPA7d(),
	}
	confidence := rule.Confidence(ewm.Entity, ewm.Metrics, evidence)

	e.metrics.ruleEmits.WithLabelValues(rule.RuleID).Inc()

	now := time.Now()
	return domain.Recommendation{
		RecommendationID: uuid.NewString(),
		RuleID:           rule.RuleID,
		Identity:         ewm.Entity.Identity,
		Action:           action,
		OldValue:         oldValue,
		NewValue:         newValue,
		ChangePct:        changePct,
		RiskTier:         rule.RiskTier,
		Confidence:       confidence,
		Evidence:         evidence,
		Reasoning:        fmt.Sprintf("rule %s fired for %s", rule.RuleID, ewm.Entity.Identity.String()),
		Status:           domain.StatusPending,
		SnapshotDate:     snapshotDate,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, true
}

// dedupAndRank keeps, per (entity_id, lever), the highest-confidence
// proposal; ties break by rule registry index (lower wins), further ties by
// risk tier (LOW preferred).
func (e *Engine) dedupAndRank(all []domain.Recommendation) []domain.Recommendation {
	type key struct {
		entity string
		lever  domain.Lever
	}
	best := make(map[key]domain.Recommendation)

	for _, rec := range all {
		k := key{entity: rec.Identity.String(), lever: rec.Action.Lever()}
		cur, exists := best[k]
		if !exists || e.beats(rec, cur) {
			best[k] = rec
		}
	}

	out := make([]domain.Recommendation, 0, len(best))
	for _, rec := range best {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RecommendationID < out[j].RecommendationID
	})
	return out
}

func (e *Engine) beats(candidate, incumbent domain.Recommendation) bool {
	if candidate.Confidence != incumbent.Confidence {
		return candidate.Confidence > incumbent.Confidence
	}
	candIdx, candOK := e.registry.IndexOf(candidate.RuleID)
	incIdx, incOK := e.registry.IndexOf(incumbent.RuleID)
	if candOK && incOK && candIdx != incIdx {
		return candIdx < incIdx
	}
	return candidate.RiskTier.Less(incumbent.RiskTier)
}
