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
	"maps"
	"slices"

	"github.com/AleutianAI/patchkernel/services/patchkernel/model"
)

// Clone returns a deep copy of op. The copy shares no maps, slices or
// pointers with the original, so later changes by the caller cannot reach
// a recorded op. Unknown op types are returned as is.
func Clone(op Op) Op {
	switch o := op.(type) {
	case BlockAdd:
		o.Block = o.Block.Clone()
		return o
	case BlockRetype:
		o.Inputs = slices.Clone(o.Inputs)
		o.Outputs = slices.Clone(o.Outputs)
		return o
	case BlockPatchParams:
		o.Set = model.CloneParams(o.Set)
		o.Unset = slices.Clone(o.Unset)
		return o

	case WireAdd:
		o.Edge = o.Edge.Clone()
		return o
	case WireRetarget:
		o.From = clonePtr(o.From)
		o.To = clonePtr(o.To)
		return o

	case BusAdd:
		o.Bus = o.Bus.Clone()
		return o
	case BusUpdate:
		o.Patch = o.Patch.clone()
		return o
	case PublisherUpdate:
		o.Patch = PublisherPatch{
			BusID:   clonePtr(o.Patch.BusID),
			Enabled: clonePtr(o.Patch.Enabled),
			SortKey: clonePtr(o.Patch.SortKey),
		}
		return o
	case ListenerUpdate:
		o.Patch = ListenerPatch{
			BusID:   clonePtr(o.Patch.BusID),
			Enabled: clonePtr(o.Patch.Enabled),
		}
		return o

	case CompositeDefAdd:
		o.Def = o.Def.Clone()
		return o
	case CompositeDefUpdate:
		o.Patch = CompositePatch{
			Label:       clonePtr(o.Patch.Label),
			Description: clonePtr(o.Patch.Description),
		}
		return o
	case CompositeDefReplaceGraph:
		o.Graph = o.Graph.Clone()
		o.ExposedInputs = slices.Clone(o.ExposedInputs)
		o.ExposedOutputs = slices.Clone(o.ExposedOutputs)
		return o

	case PatchSettingsUpdate:
		o.Patch = SettingsPatch{
			Title:     clonePtr(o.Patch.Title),
			Seed:      clonePtr(o.Patch.Seed),
			Speed:     clonePtr(o.Patch.Speed),
			FrameRate: clonePtr(o.Patch.FrameRate),
		}
		return o
	case AssetAdd:
		o.Asset = o.Asset.Clone()
		return o
	case AssetUpdate:
		o.Patch = AssetPatch{
			Kind: clonePtr(o.Patch.Kind),
			URI:  clonePtr(o.Patch.URI),
			Meta: maps.Clone(o.Patch.Meta),
		}
		return o
	}
	// Remaining kinds hold only ids and strings.
	return op
}

// CloneAll deep-copies every op in list.
func CloneAll(list []Op) []Op {
	if list == nil {
		return nil
	}
	out := make([]Op, len(list))
	for i, op := range list {
		out[i] = Clone(op)
	}
	return out
}

func (p BusPatch) clone() BusPatch {
	return BusPatch{
		Name:       clonePtr(p.Name),
		Type:       clonePtr(p.Type),
		Combine:    clonePtr(p.Combine),
		SetDefault: p.SetDefault,
		Default:    model.CloneValue(p.Default),
		SortKey:    clonePtr(p.SortKey),
	}
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
