// Package rules is the Rule Registry: a fixed, ordered set of declarative
// rules loaded once at process start. The registration order in NewRegistry
// is the evaluation-order contract — it is never reordered at runtime or
// driven by config.
package rules

import (
	"fmt"
	"log/slog"

	"github.com/solari-labs/adctl/internal/domain"
)

// Registry holds the loaded rule set in registration order.
type Registry struct {
	rules  []domain.Rule
	byID   map[string]int
	logger *slog.Logger
}

// NewRegistry constructs the registry and registers every built-in rule in
// a fixed call sequence. A validation failure at registration time aborts
// startup — partial loading is never allowed.
func NewRegistry(logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{byID: make(map[string]int), logger: logger}

	// Registration order below is the recommendation engine's tie-break contract.
	if err := r.register(keywordBidUpLowCPA()); err != nil {
		return nil, err
	}
	if err := r.register(keywordBidDownHighCPA()); err != nil {
		return nil, err
	}
	if err := r.register(campaignBudgetUpHighROAS()); err != nil {
		return nil, err
	}
	if err := r.register(campaignBudgetDownLowROAS()); err != nil {
		return nil, err
	}
	if err := r.register(keywordPauseNoConversions()); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *Registry) register(rule domain.Rule) error {
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("rule %q failed validation: %w", rule.RuleID, err)
	}
	if _, exists := r.byID[rule.RuleID]; exists {
		return fmt.Errorf("rule %q registered twice", rule.RuleID)
	}
	r.byID[rule.RuleID] = len(r.rules)
	r.rules = append(r.rules, rule)
	r.logger.Debug("rule registered", "rule_id", rule.RuleID, "index", len(r.rules)-1)
	return nil
}

// EnabledRulesFor returns the rules applicable to kind, in registry order.
func (r *Registry) EnabledRulesFor(kind domain.EntityKind) []domain.Rule {
	out := make([]domain.Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		if rule.EntityKind == kind {
			out = append(out, rule)
		}
	}
	return out
}

// IndexOf returns a rule's registration index, used by the Recommendation
// Engine to break confidence ties by registry order.
func (r *Registry) IndexOf(ruleID string) (int, bool) {
	idx, ok := r.byID[ruleID]
	return idx, ok
}

// All returns every registered rule in registration order.
func (r *Registry) All() []domain.Rule {
	out := make([]domain.Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// RuleByID looks up one rule by its stable string id, used by the Execution
// Engine to recover the rule a proposal was generated from (cooldown days,
// max change pct, risk tier) before running Guardrails against it.
func (r *Registry) RuleByID(ruleID string) (domain.Rule, bool) {
	idx, ok := r.byID[ruleID]
	if !ok {
		return domain.Rule{}, false
	}
	return r.rules[idx], true
}
