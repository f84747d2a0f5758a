// Package domain holds the core types shared by every component: entities,
// metrics, rules, recommendations, ledger records and the action-kind sum
// type that crosses the ledger/API boundary.
package domain

import "fmt"

// EntityKind enumerates the kinds of objects managed on the ad platform.
type EntityKind string

const (
	EntityCampaign EntityKind = "Campaign"
	EntityAdGroup  EntityKind = "AdGroup"
	EntityKeyword  EntityKind = "Keyword"
	EntityAd       EntityKind = "Ad"
	EntityProduct  EntityKind = "Product"
)

func (k EntityKind) IsValid() bool {
	switch k {
	case EntityCampaign, EntityAdGroup, EntityKeyword, EntityAd, EntityProduct:
		return true
	}
	return false
}

// MatchType is a keyword's match type; only meaningful when EntityKind == EntityKeyword.
type MatchType string

const (
	MatchExact  MatchType = "EXACT"
	MatchPhrase MatchType = "PHRASE"
	MatchBroad  MatchType = "BROAD"
)

func (m MatchType) IsValid() bool {
	switch m {
	case MatchExact, MatchPhrase, MatchBroad:
		return true
	}
	return false
}

// EntityID identifies a managed object: (customer_id, entity_kind, entity_id).
type EntityID struct {
	CustomerID string
	Kind       EntityKind
	ID         string
}

func (e EntityID) String() string {
	return fmt.Sprintf("%s/%s/%s", e.CustomerID, e.Kind, e.ID)
}

// Entity is a managed object together with the keyword-only attributes.
// AdGroupID/MatchType/KeywordText are only populated when Identity.Kind == EntityKeyword.
type Entity struct {
	Identity    EntityID
	Name        string
	Status      string
	AdGroupID   string
	MatchType   MatchType
	KeywordText string

	// Current lever values as read from the warehouse. Only the value
	// relevant to a given rule's lever is meaningful for that rule; rules
	// read whichever of these matches their action_kind.
	BidMicros    int64
	BudgetMicros int64
}

// MetricRow is a per-entity per-day aggregate. Immutable once ingested.
type MetricRow struct {
	Identity         EntityID
	Date             string // YYYY-MM-DD
	Impressions      int64
	Clicks           int64
	CostMicros       int64
	Conversions      float64
	ConversionsValue float64
}

func (m MetricRow) CTR() float64 {
	if m.Impressions == 0 {
		return 0
	}
	return float64(m.Clicks) / float64(m.Impressions)
}

func (m MetricRow) CPC() float64 {
	if m.Clicks == 0 {
		return 0
	}
	return float64(m.CostMicros) / 1_000_000 / float64(m.Clicks)
}

func (m MetricRow) ROAS() float64 {
	cost := float64(m.CostMicros) / 1_000_000
	if cost == 0 {
		return 0
	}
	return m.ConversionsValue / cost
}

func (m MetricRow) CPA() float64 {
	if m.Conversions == 0 {
		return 0
	}
	return float64(m.CostMicros) / 1_000_000 / m.Conversions
}

// SumMetricRows collapses a window of daily rows into one aggregate row
// whose ROAS/CPA/CTR/CPC methods describe the whole window. Date is left
// blank since the result no longer corresponds to a single day.
func SumMetricRows(rows []MetricRow) MetricRow {
	var out MetricRow
	for _, r := range rows {
		out.Identity = r.Identity
		out.Impressions += r.Impressions
		out.Clicks += r.Clicks
		out.CostMicros += r.CostMicros
		out.Conversions += r.Conversions
		out.ConversionsValue += r.ConversionsValue
	}
	return out
}

// WindowedMetrics is a precomputed 7-day/30-day aggregate for an entity as of
// a snapshot date. Rules read this rather than re-summing raw MetricRows.
type WindowedMetrics struct {
	Identity     EntityID
	SnapshotDate string

	Clicks7d      int64
	Impressions7d int64
	CostMicros7d  int64
	Conversions7d float64
	ConvValue7d   float64

	Clicks30d      int64
	Impressions30d int64
	CostMicros30d  int64
	Conversions30d float64
	ConvValue30d   float64
}

func (w WindowedMetrics) ROAS7d() float64 {
	cost := float64(w.CostMicros7d) / 1_000_000
	if cost == 0 {
		return 0
	}
	return w.ConvValue7d / cost
}

func (w WindowedMetrics) CPA7d() float64 {
	if w.Conversions7d == 0 {
		return 0
	}
	return float64(w.CostMicros7d) / 1_000_000 / w.Conversions7d
}

func (w WindowedMetrics) ROAS30d() float64 {
	cost := float64(w.CostMicros30d) / 1_000_000
	if cost == 0 {
		return 0
	}
	return w.ConvValue30d / cost
}

func (w WindowedMetrics) CPA30d() float64 {
	if w.Conversions30d == 0 {
		return 0
	}
	return float64(w.CostMicros30d) / 1_000_000 / w.Conversions30d
}

// EntityWithMetrics is the join the Warehouse Reader returns: one entity plus
// its windowed metrics as of the requested snapshot date.
type EntityWithMetrics struct {
	Entity  Entity
	Metrics WindowedMetrics
}
