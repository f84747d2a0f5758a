// Package ledger is the Change Ledger (C9): an append-only record of every
// mutation this system has applied, with a rollback_status lifecycle the
// Rollback Monitor drives. Rows are never deleted and, outside the rollback
// bookkeeping fields, never updated after insert.
package ledger

import (
	"context"
	"time"

	"github.com/solari-labs/adctl/internal/domain"
)

// Store is the Change Ledger's full surface. Both backends (Postgres for the
// standard profile, SQLite for lite) implement it identically.
type Store interface {
	// Append inserts one ChangeRecord and returns its database-generated,
	// monotonically increasing change_id. Callers never assign change_id
	// themselves.
	Append(ctx context.Context, rec domain.ChangeRecord) (int64, error)

	// QueryCooldown returns every ChangeRecord for id with change_date >=
	// since. Guardrails uses this both for the same-lever cooldown check and
	// the conflicting-lever check, so it intentionally does not filter by
	// lever itself.
	QueryCooldown(ctx context.Context, id domain.EntityID, since time.Time) ([]domain.ChangeRecord, error)

	// DueForMonitoring returns records still in the "monitoring" rollback
	// state whose monitoring window started at or before cutoff — the
	// Rollback Monitor computes cutoff as now minus its configured window
	// (extended per-record up to its extension cap) and passes it in.
	DueForMonitoring(ctx context.Context, cutoff time.Time) ([]domain.ChangeRecord, error)

	// MarkRollbackResult updates a record's rollback bookkeeping in place —
	// the only field group this store ever mutates after insert.
	MarkRollbackResult(ctx context.Context, changeID int64, status domain.RollbackStatus, reason string) error

	// RecentRollbacks is a read-only accessor for the dashboard collaborator:
	// the most recent rolled_back records for a customer, newest first.
	RecentRollbacks(ctx context.Context, customerID string, limit int) ([]domain.ChangeRecord, error)
}
