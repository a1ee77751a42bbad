package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/acteon-dev/acteon/internal/action"
	"github.com/acteon-dev/acteon/internal/rules/engine"
	"github.com/acteon-dev/acteon/internal/rules/ir"
)

// applyModify evaluates each changed field's expression and deep-merges
// the result into act.Payload: objects merge key by key, scalars and
// arrays replace the existing value outright (§4.4 Step 4 Modify).
func applyModify(ctx context.Context, ec *engine.EvalContext, act *action.Action, changes map[string]ir.Expr) error {
	if len(changes) == 0 {
		return nil
	}
	var base map[string]interface{}
	if len(act.Payload) > 0 {
		if err := json.Unmarshal(act.Payload, &base); err != nil {
			return fmt.Errorf("modify: existing payload is not a JSON object: %w", err)
		}
	}
	if base == nil {
		base = make(map[string]interface{})
	}

	for field, expr := range changes {
		v, err := engine.Eval(ctx, ec, expr)
		if err != nil {
			return fmt.Errorf("modify: evaluate field %q: %w", field, err)
		}
		raw, err := v.MarshalJSON()
		if err != nil {
			return fmt.Errorf("modify: marshal field %q: %w", field, err)
		}
		var decoded interface{}
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return fmt.Errorf("modify: decode field %q: %w", field, err)
		}
		base[field] = deepMergeValue(base[field], decoded)
	}

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("modify: marshal merged payload: %w", err)
	}
	act.Payload = merged
	return nil
}

// deepMergeValue merges newVal into existing when both are JSON objects;
// any other combination (scalar, array, or a type mismatch) replaces the
// existing value outright.
func deepMergeValue(existing, newVal interface{}) interface{} {
	existingMap, existingOK := existing.(map[string]interface{})
	newMap, newOK := newVal.(map[string]interface{})
	if !existingOK || !newOK {
		return newVal
	}
	merged := make(map[string]interface{}, len(existingMap)+len(newMap))
	for k, v := range existingMap {
		merged[k] = v
	}
	for k, v := range newMap {
		merged[k] = deepMergeValue(merged[k], v)
	}
	return merged
}
