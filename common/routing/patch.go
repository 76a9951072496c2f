package routing

import (
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

// PatchValidator checks a routing-table JSON-Patch document for structural
// soundness before it is applied, mirroring the teacher's workflow-patch
// validator (common/validation.PatchValidator). It checks the operation
// count and each operation's shape only; the fork-factor bound is checked
// by ApplyPatch on the patched table, and transition kinds are not checked.
type PatchValidator struct {
	// MaxOpsPerPatch bounds how many operations one PATCH request may
	// contain, mirroring the teacher's per-patch agent-node cap.
	MaxOpsPerPatch int
}

// NewPatchValidator creates a validator with the default operation cap.
func NewPatchValidator() *PatchValidator {
	return &PatchValidator{MaxOpsPerPatch: 50}
}

// Validate parses rawPatch as a JSON-Patch document and checks each
// operation's shape without applying it.
func (v *PatchValidator) Validate(rawPatch []byte) error {
	var ops []map[string]interface{}
	if err := json.Unmarshal(rawPatch, &ops); err != nil {
		return fmt.Errorf("routing: invalid JSON-Patch document: %w", err)
	}
	if len(ops) > v.MaxOpsPerPatch {
		return fmt.Errorf("routing: patch has %d operations, exceeds cap of %d", len(ops), v.MaxOpsPerPatch)
	}
	for i, op := range ops {
		if err := v.validateOp(op, i); err != nil {
			return err
		}
	}
	if _, err := jsonpatch.DecodePatch(rawPatch); err != nil {
		return fmt.Errorf("routing: malformed JSON-Patch: %w", err)
	}
	return nil
}

func (v *PatchValidator) validateOp(op map[string]interface{}, index int) error {
	opType, ok := op["op"].(string)
	if !ok {
		return fmt.Errorf("routing: patch op %d: missing or invalid 'op' field", index)
	}
	if _, ok := op["path"].(string); !ok {
		return fmt.Errorf("routing: patch op %d: missing or invalid 'path' field", index)
	}
	switch opType {
	case "add", "replace", "test":
		if _, ok := op["value"]; !ok {
			return fmt.Errorf("routing: patch op %d: 'value' required for %s", index, opType)
		}
	case "remove", "copy", "move":
		// no value required
	default:
		return fmt.Errorf("routing: patch op %d: unsupported op type %q", index, opType)
	}
	return nil
}

// ApplyPatch validates rawPatch, applies it to t's current snapshot, and
// atomically installs the result. Used by the admin HTTP `PATCH /routing`
// handler and by the Redis routing-table sync subscriber.
func (t *Table) ApplyPatch(validator *PatchValidator, rawPatch []byte) error {
	if err := validator.Validate(rawPatch); err != nil {
		return err
	}

	patch, err := jsonpatch.DecodePatch(rawPatch)
	if err != nil {
		return fmt.Errorf("routing: decode patch: %w", err)
	}

	current, err := json.Marshal(t.Snapshot())
	if err != nil {
		return fmt.Errorf("routing: marshal current table: %w", err)
	}

	patched, err := patch.Apply(current)
	if err != nil {
		return fmt.Errorf("routing: apply patch: %w", err)
	}

	var decoded struct {
		Places    map[string]PlaceRoute `json:"places"`
		Endpoints map[string]Endpoint   `json:"endpoints"`
	}
	if err := json.Unmarshal(patched, &decoded); err != nil {
		return fmt.Errorf("routing: decode patched table: %w", err)
	}

	for id, r := range decoded.Places {
		if r.Kind == KindFork && (r.ForkCount < 1 || r.ForkCount > 99) {
			return fmt.Errorf("routing: place %q fork count %d out of [1,99]", id, r.ForkCount)
		}
	}

	t.ReplaceAll(decoded.Places, decoded.Endpoints)
	return nil
}
