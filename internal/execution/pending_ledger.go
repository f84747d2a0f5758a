package execution

import (
	"context"
	"sync"
	"time"

	"github.com/solari-labs/adctl/internal/domain"
	"github.com/solari-labs/adctl/internal/ledger"
)

// pendingLedgerView layers changes accepted earlier in the same batch over
// the durable ledger, so the guardrail cooldown/conflicting-lever checks see
// a view that is stable for the whole batch but still reflects proposals the
// batch itself has already accepted. Without this, two proposals touching
// the same entity-lever could both read the same pre-batch ledger state and
// both pass cooldown.
type pendingLedgerView struct {
	mu      sync.Mutex
	durable ledger.Store
	pending []domain.ChangeRecord
}

func newPendingLedgerView(durable ledger.Store) *pendingLedgerView {
	return &pendingLedgerView{durable: durable}
}

// QueryCooldown satisfies guardrails.LedgerView: the durable rows for the
// window plus any records this batch has already accepted for id.
func (v *pendingLedgerView) QueryCooldown(ctx context.Context, id domain.EntityID, since time.Time) ([]domain.ChangeRecord, error) {
	records, err := v.durable.QueryCooldown(ctx, id, since)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	for _, rec := range v.pending {
		if rec.Identity == id && !rec.ChangeDate.Before(since) {
			records = append(records, rec)
		}
	}
	return records, nil
}

// accept records a just-executed change so subsequent guardrail checks in
// this batch see it immediately, ahead of it landing in the durable ledger.
func (v *pendingLedgerView) accept(rec domain.ChangeRecord) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pending = append(v.pending, rec)
}
