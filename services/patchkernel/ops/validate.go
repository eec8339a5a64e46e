// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ops

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// opValidate checks op payloads before any document lookup happens.
// Initialized in init() with struct-level rules.
var opValidate *validator.Validate

func init() {
	opValidate = validator.New()

	opValidate.RegisterStructValidation(validateBlockPatchParams, BlockPatchParams{})
	opValidate.RegisterStructValidation(validateWireRetarget, WireRetarget{})
}

// validateBlockPatchParams rejects no-op and contradictory parameter patches.
func validateBlockPatchParams(sl validator.StructLevel) {
	p := sl.Current().Interface().(BlockPatchParams)
	if len(p.Set) == 0 && len(p.Unset) == 0 {
		sl.ReportError(p.Set, "Set", "set", "nochange", "")
		return
	}
	for _, k := range p.Unset {
		if _, ok := p.Set[k]; ok {
			sl.ReportError(p.Unset, "Unset", "unset", "setandunset", k)
		}
	}
}

// validateWireRetarget requires at least one new endpoint.
func validateWireRetarget(sl validator.StructLevel) {
	w := sl.Current().Interface().(WireRetarget)
	if w.From == nil && w.To == nil {
		sl.ReportError(w.From, "From", "from", "nochange", "")
	}
}

// Validate checks an op's payload shape without looking at any document.
//
// # Description
//
// Runs the tag rules of the op struct (ids present, enum values valid,
// nested entities well formed) and rejects partial updates that change
// nothing. Apply calls it first, so callers only need it to pre-check
// ops received from outside.
//
// # Outputs
//
//   - error: nil, or an error wrapping ErrInvalidOp / ErrNilOp.
func Validate(op Op) error {
	if op == nil {
		return ErrNilOp
	}
	if err := opValidate.Struct(op); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidOp, op.Kind(), err)
	}

	empty := false
	switch o := op.(type) {
	case BusUpdate:
		empty = o.Patch.Empty()
	case PublisherUpdate:
		empty = o.Patch.Empty()
	case ListenerUpdate:
		empty = o.Patch.Empty()
	case CompositeDefUpdate:
		empty = o.Patch.Empty()
	case PatchSettingsUpdate:
		empty = o.Patch.Empty()
	case AssetUpdate:
		empty = o.Patch.Empty()
	}
	if empty {
		return fmt.Errorf("%w: %s: partial update changes nothing", ErrInvalidOp, op.Kind())
	}
	return nil
}
