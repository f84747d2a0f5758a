package rollback

import (
	"github.com/solari-labs/adctl/internal/config"
	"github.com/solari-labs/adctl/internal/domain"
)

// isRegression evaluates the regression predicate tied to rule, falling
// back to cfg's defaults when the rule does not override it: a ROAS drop
// past the configured threshold while cost rose above baseline, or a CPA
// increase past the configured threshold.
func isRegression(rule domain.Rule, baseline, post domain.MetricRow, cfg config.RegressionConfig) bool {
	if rule.Regression != nil {
		return rule.Regression(baseline, post)
	}
	return defaultRegression(baseline, post, cfg)
}

func defaultRegression(baseline, post domain.MetricRow, cfg config.RegressionConfig) bool {
	if baseROAS := baseline.ROAS(); baseROAS > 0 {
		drop := (baseROAS - post.ROAS()) / baseROAS
		if drop > cfg.ROASDropPct && post.CostMicros > baseline.CostMicros {
			return true
		}
	}
	if baseCPA := baseline.CPA(); baseCPA > 0 {
		increase := (post.CPA() - baseCPA) / baseCPA
		if increase > cfg.CPAIncreasePct {
			return true
		}
	}
	return false
}
