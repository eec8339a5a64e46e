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

	"github.com/AleutianAI/patchkernel/services/patchkernel/model"
)

// Invert computes the op that undoes op when applied right after it.
//
// # Description
//
// Must be called against the document state immediately before op is
// applied: removals capture the full entity, updates capture the previous
// values of exactly the fields they touch. The document is not modified.
//
// Asset ops are never invertible. CompositeDefReplaceGraph is invertible
// only when the exposed port lists are unchanged.
//
// # Outputs
//
//   - Op: The inverse op.
//   - error: ErrNotInvertible (wrapped) for irreversible ops, ErrNotFound
//     when the before-state to capture does not exist, or a validation error.
func Invert(p *model.Patch, op Op) (Op, error) {
	if p == nil {
		return nil, ErrNilPatch
	}
	if err := Validate(op); err != nil {
		return nil, err
	}

	switch o := op.(type) {
	case BlockAdd:
		return BlockRemove{BlockID: o.Block.ID}, nil
	case BlockRemove:
		b, ok := p.Blocks[o.BlockID]
		if !ok {
			return nil, notFound("block", o.BlockID)
		}
		return BlockAdd{Block: b.Clone()}, nil
	case BlockRetype:
		b, ok := p.Blocks[o.BlockID]
		if !ok {
			return nil, notFound("block", o.BlockID)
		}
		old := b.Clone()
		return BlockRetype{BlockID: b.ID, Type: old.Type, Inputs: old.Inputs, Outputs: old.Outputs}, nil
	case BlockSetLabel:
		b, ok := p.Blocks[o.BlockID]
		if !ok {
			return nil, notFound("block", o.BlockID)
		}
		return BlockSetLabel{BlockID: b.ID, Label: b.Label}, nil
	case BlockPatchParams:
		return invertBlockPatchParams(p, o)

	case WireAdd:
		return WireRemove{EdgeID: o.Edge.ID}, nil
	case WireRemove:
		e, ok := p.Edges[o.EdgeID]
		if !ok {
			return nil, notFound("edge", o.EdgeID)
		}
		return WireAdd{Edge: e.Clone()}, nil
	case WireRetarget:
		e, ok := p.Edges[o.EdgeID]
		if !ok {
			return nil, notFound("edge", o.EdgeID)
		}
		inv := WireRetarget{EdgeID: e.ID}
		if o.From != nil {
			inv.From = ptr(e.From)
		}
		if o.To != nil {
			inv.To = ptr(e.To)
		}
		return inv, nil

	case BusAdd:
		return BusRemove{BusID: o.Bus.ID}, nil
	case BusRemove:
		b, ok := p.Buses[o.BusID]
		if !ok {
			return nil, notFound("bus", o.BusID)
		}
		return BusAdd{Bus: b.Clone()}, nil
	case BusUpdate:
		return invertBusUpdate(p, o)

	case PublisherAdd:
		return PublisherRemove{PublisherID: o.Publisher.ID}, nil
	case PublisherRemove:
		pub, ok := p.Publishers[o.PublisherID]
		if !ok {
			return nil, notFound("publisher", o.PublisherID)
		}
		return PublisherAdd{Publisher: pub}, nil
	case PublisherUpdate:
		pub, ok := p.Publishers[o.PublisherID]
		if !ok {
			return nil, notFound("publisher", o.PublisherID)
		}
		var inv PublisherPatch
		if o.Patch.BusID != nil {
			inv.BusID = ptr(pub.BusID)
		}
		if o.Patch.Enabled != nil {
			inv.Enabled = ptr(pub.Enabled)
		}
		if o.Patch.SortKey != nil {
			inv.SortKey = ptr(pub.SortKey)
		}
		return PublisherUpdate{PublisherID: pub.ID, Patch: inv}, nil

	case ListenerAdd:
		return ListenerRemove{ListenerID: o.Listener.ID}, nil
	case ListenerRemove:
		l, ok := p.Listeners[o.ListenerID]
		if !ok {
			return nil, notFound("listener", o.ListenerID)
		}
		return ListenerAdd{Listener: l}, nil
	case ListenerUpdate:
		l, ok := p.Listeners[o.ListenerID]
		if !ok {
			return nil, notFound("listener", o.ListenerID)
		}
		var inv ListenerPatch
		if o.Patch.BusID != nil {
			inv.BusID = ptr(l.BusID)
		}
		if o.Patch.Enabled != nil {
			inv.Enabled = ptr(l.Enabled)
		}
		return ListenerUpdate{ListenerID: l.ID, Patch: inv}, nil

	case CompositeDefAdd:
		return CompositeDefRemove{CompositeID: o.Def.ID}, nil
	case CompositeDefRemove:
		c, ok := p.Composites[o.CompositeID]
		if !ok {
			return nil, notFound("composite", o.CompositeID)
		}
		return CompositeDefAdd{Def: c.Clone()}, nil
	case CompositeDefUpdate:
		c, ok := p.Composites[o.CompositeID]
		if !ok {
			return nil, notFound("composite", o.CompositeID)
		}
		var inv CompositePatch
		if o.Patch.Label != nil {
			inv.Label = ptr(c.Label)
		}
		if o.Patch.Description != nil {
			inv.Description = ptr(c.Description)
		}
		return CompositeDefUpdate{CompositeID: c.ID, Patch: inv}, nil
	case CompositeDefReplaceGraph:
		c, ok := p.Composites[o.CompositeID]
		if !ok {
			return nil, notFound("composite", o.CompositeID)
		}
		if !exposedEqual(c.ExposedInputs, o.ExposedInputs) || !exposedEqual(c.ExposedOutputs, o.ExposedOutputs) {
			return nil, fmt.Errorf("%w: composite %q exposed ports change", ErrNotInvertible, o.CompositeID)
		}
		old := c.Clone()
		return CompositeDefReplaceGraph{
			CompositeID:    c.ID,
			Graph:          old.Graph,
			ExposedInputs:  old.ExposedInputs,
			ExposedOutputs: old.ExposedOutputs,
		}, nil

	case TimeRootSet:
		// A designation that names no block cannot be restored by Apply.
		cur := p.Settings.TimeRootID
		if _, ok := p.Blocks[cur]; cur != "" && !ok {
			return nil, fmt.Errorf("%w: %s over unresolved time root %q", ErrNotInvertible, op.Kind(), cur)
		}
		return TimeRootSet{BlockID: cur}, nil
	case PatchSettingsUpdate:
		s := p.Settings
		var inv SettingsPatch
		if o.Patch.Title != nil {
			inv.Title = ptr(s.Title)
		}
		if o.Patch.Seed != nil {
			inv.Seed = ptr(s.Seed)
		}
		if o.Patch.Speed != nil {
			inv.Speed = ptr(s.Speed)
		}
		if o.Patch.FrameRate != nil {
			inv.FrameRate = ptr(s.FrameRate)
		}
		return PatchSettingsUpdate{Patch: inv}, nil

	case AssetAdd, AssetRemove, AssetUpdate:
		return nil, fmt.Errorf("%w: %s", ErrNotInvertible, op.Kind())
	}

	return nil, fmt.Errorf("%w: %T", ErrUnknownKind, op)
}

// invertBlockPatchParams restores previous values of touched keys and
// unsets keys that did not exist before.
func invertBlockPatchParams(p *model.Patch, o BlockPatchParams) (Op, error) {
	b, ok := p.Blocks[o.BlockID]
	if !ok {
		return nil, notFound("block", o.BlockID)
	}

	touched := make(map[string]struct{}, len(o.Set)+len(o.Unset))
	for k := range o.Set {
		touched[k] = struct{}{}
	}
	for _, k := range o.Unset {
		touched[k] = struct{}{}
	}

	inv := BlockPatchParams{BlockID: b.ID}
	for _, k := range model.SortedKeys(touched) {
		if old, existed := b.Params[k]; existed {
			if inv.Set == nil {
				inv.Set = make(map[string]any)
			}
			inv.Set[k] = model.CloneValue(old)
			continue
		}
		if _, setNow := o.Set[k]; setNow {
			inv.Unset = append(inv.Unset, k)
		}
	}
	// Unsetting a key that never existed touches nothing; keep the inverse
	// non-empty so it stays a valid op.
	if len(inv.Set) == 0 && len(inv.Unset) == 0 {
		inv.Unset = model.SortedKeys(touched)
	}
	return inv, nil
}

func invertBusUpdate(p *model.Patch, o BusUpdate) (Op, error) {
	b, ok := p.Buses[o.BusID]
	if !ok {
		return nil, notFound("bus", o.BusID)
	}
	var inv BusPatch
	if o.Patch.Name != nil {
		inv.Name = ptr(b.Name)
	}
	if o.Patch.Type != nil {
		inv.Type = ptr(b.Type)
	}
	if o.Patch.Combine != nil {
		inv.Combine = ptr(b.Combine)
	}
	if o.Patch.SetDefault {
		inv.SetDefault = true
		inv.Default = model.CloneValue(b.Default)
	}
	if o.Patch.SortKey != nil {
		inv.SortKey = ptr(b.SortKey)
	}
	return BusUpdate{BusID: b.ID, Patch: inv}, nil
}

// InvertAll inverts a sequence of ops against the document, applying each
// to a scratch copy so later ops see the state left by earlier ones. The
// returned inverses are in undo order (last op first).
func InvertAll(p *model.Patch, list []Op) ([]Op, error) {
	scratch := p.Clone()
	inverses := make([]Op, len(list))
	for i, op := range list {
		inv, err := Invert(scratch, op)
		if err != nil {
			return nil, fmt.Errorf("op %d (%s): %w", i, op.Kind(), err)
		}
		if err := Apply(scratch, op); err != nil {
			return nil, fmt.Errorf("op %d (%s): %w", i, op.Kind(), err)
		}
		inverses[len(list)-1-i] = inv
	}
	return inverses, nil
}
