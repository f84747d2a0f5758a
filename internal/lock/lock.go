// Package lock provides the per-record advisory lock the Rollback Monitor
// uses to keep concurrent ticks from evaluating the same ledger record
// twice. Two implementations share the Locker interface: a
// Redis-backed distributed lock for the standard profile, and an
// in-process mutex-guarded set for the lite profile.
package lock

import "context"

// Locker guards a single named resource against concurrent holders. The
// loser of a concurrent Acquire must skip its work rather than block.
type Locker interface {
	// TryAcquire attempts to take the lock for key without blocking. It
	// returns false if another holder currently owns it.
	TryAcquire(ctx context.Context, key string) (bool, error)
	// Release gives up a lock this process holds for key. Releasing a key
	// not held by this process is a no-op.
	Release(ctx context.Context, key string) error
}
