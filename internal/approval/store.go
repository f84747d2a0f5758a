// Package approval is the Approval Store (C5): it persists Recommendations
// keyed by recommendation_id and enforces the legal status-transition
// contract from the domain package.
package approval

import (
	"context"
	"time"

	"github.com/solari-labs/adctl/internal/domain"
)

// Filter narrows a List call. Zero-value fields are not applied.
type Filter struct {
	CustomerID   string
	SnapshotDate string
	Status       domain.RecommendationStatus
	EntityKind   domain.EntityKind
}

// Store is the Approval Store's interface, implemented by both the
// Postgres (standard profile) and SQLite (lite profile) backends.
type Store interface {
	// ReplacePending atomically deletes the prior PENDING set for
	// (customerID, snapshotDate) and inserts recs in its place — the
	// generation-replace boundary the Recommendation Engine's idempotence
	// guarantee depends on. Rows not in PENDING status are untouched.
	ReplacePending(ctx context.Context, customerID, snapshotDate string, recs []domain.Recommendation) error

	Get(ctx context.Context, recommendationID string) (domain.Recommendation, error)
	Approve(ctx context.Context, recommendationID, approver string) error
	Reject(ctx context.Context, recommendationID, approver, reason string) error
	List(ctx context.Context, filter Filter) ([]domain.Recommendation, error)

	// MarkExecuted and MarkFailed are the Execution Engine's two terminal
	// transitions out of APPROVED, per proposal.
	MarkExecuted(ctx context.Context, recommendationID, approver string) error
	MarkFailed(ctx context.Context, recommendationID, reason string) error

	// ExpireOverdue transitions every PENDING recommendation created before
	// the cutoff to EXPIRED and returns the count transitioned.
	ExpireOverdue(ctx context.Context, customerID string, cutoff time.Time) (int, error)
}
