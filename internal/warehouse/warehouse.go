// Package warehouse is the Warehouse Reader (C1): a read-only handle
// over the analytical store. Implementations never mutate state and never
// retry internally — WarehouseUnavailable is surfaced to the caller, which
// decides whether to retry.
package warehouse

import (
	"context"
	"time"

	"github.com/solari-labs/adctl/internal/domain"
)

// Reader is the Warehouse Reader's interface, implemented by both the
// Postgres (standard profile) and SQLite (lite profile) backends.
type Reader interface {
	// GetEntityWindow returns every entity of kind for customerID together
	// with windowed metrics as of snapshotDate.
	GetEntityWindow(ctx context.Context, kind domain.EntityKind, customerID, snapshotDate string, windowDays int) ([]domain.EntityWithMetrics, error)

	// GetRecentChanges returns ledger entries for customerID at or after since.
	GetRecentChanges(ctx context.Context, customerID string, since time.Time) ([]domain.ChangeRecord, error)

	// GetEntityMetricsBetween returns raw per-day metric rows in [start, end).
	GetEntityMetricsBetween(ctx context.Context, id domain.EntityID, start, end time.Time) ([]domain.MetricRow, error)

	// GetCurrentEntity re-reads one entity's live attributes, used by
	// Guardrails' entity-liveness check.
	GetCurrentEntity(ctx context.Context, id domain.EntityID) (domain.Entity, error)
}
