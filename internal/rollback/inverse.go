package rollback

import "github.com/solari-labs/adctl/internal/domain"

// statusEnabledValue/statusPausedValue are the float encoding the one
// built-in SetStatus rule (keyword_pause_no_conversions) uses in the ledger's
// old_value/new_value columns, since ChangeRecord only stores numeric levers.
const (
	statusEnabledValue = 1.0
	statusPausedValue  = 0.0
)

// inverseAction constructs the Action, old value and new value that would
// undo rec, if rec's lever supports an exact numeric inverse. AddNegative and
// ExcludeProduct have no value to restore — removing a negative keyword or
// re-including an excluded product is not something this system can derive
// from the ledger row alone — so those report ok=false and the monitor marks
// the record for manual intervention instead of looping on it forever.
func inverseAction(rec domain.ChangeRecord) (action domain.Action, oldValue, newValue float64, ok bool) {
	switch rec.ActionKind {
	case domain.ActionAdjustBid:
		return domain.AdjustBid{
			OldMicros: int64(rec.NewValue * 1_000_000),
			NewMicros: int64(rec.OldValue * 1_000_000),
		}, rec.NewValue, rec.OldValue, true

	case domain.ActionAdjustBudget:
		return domain.AdjustBudget{
			OldMicros: int64(rec.NewValue * 1_000_000),
			NewMicros: int64(rec.OldValue * 1_000_000),
		}, rec.NewValue, rec.OldValue, true

	case domain.ActionSetStatus:
		oldStatus, newStatus := statusLabel(rec.NewValue), statusLabel(rec.OldValue)
		return domain.SetStatus{OldStatus: oldStatus, NewStatus: newStatus}, rec.NewValue, rec.OldValue, true

	default:
		return nil, 0, 0, false
	}
}

func statusLabel(v float64) string {
	if v == statusEnabledValue {
		return "ENABLED"
	}
	return "PAUSED"
}
