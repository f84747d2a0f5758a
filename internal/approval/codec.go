package approval

import (
	"encoding/json"
	"fmt"

	"github.com/solari-labs/adctl/internal/domain"
)

// encodeAction serializes an Action's variant-specific fields to JSON; the
// variant tag itself is stored separately as action_kind.
func encodeAction(a domain.Action) ([]byte, error) {
	return json.Marshal(a)
}

// decodeAction reconstructs a typed Action from its stored kind and JSON
// payload. Unknown kinds are a storage-corruption error, never silently
// dropped.
func decodeAction(kind domain.ActionKind, raw []byte) (domain.Action, error) {
	switch kind {
	case domain.ActionAdjustBid:
		var a domain.AdjustBid
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, err
		}
		return a, nil
	case domain.ActionAdjustBudget:
		var a domain.AdjustBudget
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, err
		}
		return a, nil
	case domain.ActionSetStatus:
		var a domain.SetStatus
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, err
		}
		return a, nil
	case domain.ActionAddNegative:
		var a domain.AddNegative
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, err
		}
		return a, nil
	case domain.ActionExcludeProduct:
		var a domain.ExcludeProduct
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown action kind %q", kind)
	}
}
