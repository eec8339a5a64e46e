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
	"maps"
	"reflect"

	"github.com/AleutianAI/patchkernel/services/patchkernel/model"
)

// Apply performs one op against the document in place.
//
// # Description
//
// Every precondition (payload shape, id uniqueness, existence of targets,
// endpoint resolution, reference checks) is evaluated before the first
// write. On error the document is unchanged apart from Normalize, which
// Apply runs first and which is a no-op on documents built by model.New
// or loaded through the codec.
//
// # Inputs
//
//   - p: Document to mutate. Must not be nil.
//   - op: Op to apply.
//
// # Outputs
//
//   - error: nil on success; otherwise wraps ErrInvalidOp, ErrDuplicateID,
//     ErrNotFound, ErrDanglingEndpoint or ErrInUse.
//
// # Thread Safety
//
// Not safe for concurrent use on the same document.
func Apply(p *model.Patch, op Op) error {
	if p == nil {
		return ErrNilPatch
	}
	if err := Validate(op); err != nil {
		return err
	}
	p.Normalize()

	switch o := op.(type) {
	case BlockAdd:
		return applyBlockAdd(p, o)
	case BlockRemove:
		return applyBlockRemove(p, o)
	case BlockRetype:
		return applyBlockRetype(p, o)
	case BlockSetLabel:
		b, ok := p.Blocks[o.BlockID]
		if !ok {
			return notFound("block", o.BlockID)
		}
		b.Label = o.Label
		p.Blocks[o.BlockID] = b
		return nil
	case BlockPatchParams:
		return applyBlockPatchParams(p, o)

	case WireAdd:
		return applyWireAdd(p, o)
	case WireRemove:
		if _, ok := p.Edges[o.EdgeID]; !ok {
			return notFound("edge", o.EdgeID)
		}
		delete(p.Edges, o.EdgeID)
		return nil
	case WireRetarget:
		return applyWireRetarget(p, o)

	case BusAdd:
		if _, ok := p.Buses[o.Bus.ID]; ok {
			return duplicate("bus", o.Bus.ID)
		}
		p.Buses[o.Bus.ID] = o.Bus.Clone()
		return nil
	case BusRemove:
		return applyBusRemove(p, o)
	case BusUpdate:
		return applyBusUpdate(p, o)

	case PublisherAdd:
		return applyPublisherAdd(p, o)
	case PublisherRemove:
		if _, ok := p.Publishers[o.PublisherID]; !ok {
			return notFound("publisher", o.PublisherID)
		}
		delete(p.Publishers, o.PublisherID)
		return nil
	case PublisherUpdate:
		return applyPublisherUpdate(p, o)

	case ListenerAdd:
		return applyListenerAdd(p, o)
	case ListenerRemove:
		if _, ok := p.Listeners[o.ListenerID]; !ok {
			return notFound("listener", o.ListenerID)
		}
		delete(p.Listeners, o.ListenerID)
		return nil
	case ListenerUpdate:
		return applyListenerUpdate(p, o)

	case CompositeDefAdd:
		if _, ok := p.Composites[o.Def.ID]; ok {
			return duplicate("composite", o.Def.ID)
		}
		if err := checkExposed(o.Def.ID, o.Def.Graph, o.Def.ExposedInputs, o.Def.ExposedOutputs); err != nil {
			return err
		}
		p.Composites[o.Def.ID] = o.Def.Clone()
		return nil
	case CompositeDefRemove:
		if _, ok := p.Composites[o.CompositeID]; !ok {
			return notFound("composite", o.CompositeID)
		}
		if inst := p.InstancesOf(o.CompositeID); len(inst) > 0 {
			return fmt.Errorf("%w: composite %q is instantiated by %v", ErrInUse, o.CompositeID, inst)
		}
		delete(p.Composites, o.CompositeID)
		return nil
	case CompositeDefUpdate:
		c, ok := p.Composites[o.CompositeID]
		if !ok {
			return notFound("composite", o.CompositeID)
		}
		if o.Patch.Label != nil {
			c.Label = *o.Patch.Label
		}
		if o.Patch.Description != nil {
			c.Description = *o.Patch.Description
		}
		p.Composites[o.CompositeID] = c
		return nil
	case CompositeDefReplaceGraph:
		c, ok := p.Composites[o.CompositeID]
		if !ok {
			return notFound("composite", o.CompositeID)
		}
		if err := checkExposed(o.CompositeID, o.Graph, o.ExposedInputs, o.ExposedOutputs); err != nil {
			return err
		}
		next := model.CompositeDef{
			Graph:          o.Graph,
			ExposedInputs:  o.ExposedInputs,
			ExposedOutputs: o.ExposedOutputs,
		}.Clone()
		c.Graph = next.Graph
		c.ExposedInputs = next.ExposedInputs
		c.ExposedOutputs = next.ExposedOutputs
		p.Composites[o.CompositeID] = c
		return nil

	case TimeRootSet:
		if o.BlockID != "" {
			if _, ok := p.Blocks[o.BlockID]; !ok {
				return notFound("block", o.BlockID)
			}
		}
		p.Settings.TimeRootID = o.BlockID
		return nil
	case PatchSettingsUpdate:
		s := &p.Settings
		if o.Patch.Title != nil {
			s.Title = *o.Patch.Title
		}
		if o.Patch.Seed != nil {
			s.Seed = *o.Patch.Seed
		}
		if o.Patch.Speed != nil {
			s.Speed = *o.Patch.Speed
		}
		if o.Patch.FrameRate != nil {
			s.FrameRate = *o.Patch.FrameRate
		}
		return nil

	case AssetAdd:
		if _, ok := p.Assets[o.Asset.ID]; ok {
			return duplicate("asset", o.Asset.ID)
		}
		p.Assets[o.Asset.ID] = o.Asset.Clone()
		return nil
	case AssetRemove:
		if _, ok := p.Assets[o.AssetID]; !ok {
			return notFound("asset", o.AssetID)
		}
		delete(p.Assets, o.AssetID)
		return nil
	case AssetUpdate:
		a, ok := p.Assets[o.AssetID]
		if !ok {
			return notFound("asset", o.AssetID)
		}
		if o.Patch.Kind != nil {
			a.Kind = *o.Patch.Kind
		}
		if o.Patch.URI != nil {
			a.URI = *o.Patch.URI
		}
		if o.Patch.Meta != nil {
			a.Meta = maps.Clone(o.Patch.Meta)
		}
		p.Assets[o.AssetID] = a
		return nil
	}

	return fmt.Errorf("%w: %T", ErrUnknownKind, op)
}

// -----------------------------------------------------------------------------
// Blocks
// -----------------------------------------------------------------------------

func applyBlockAdd(p *model.Patch, o BlockAdd) error {
	if _, ok := p.Blocks[o.Block.ID]; ok {
		return duplicate("block", o.Block.ID)
	}
	if err := checkCompositeType(p, o.Block.Type); err != nil {
		return err
	}
	b := o.Block.Clone()
	if b.Params == nil {
		b.Params = make(map[string]any)
	}
	p.Blocks[b.ID] = b
	return nil
}

func applyBlockRemove(p *model.Patch, o BlockRemove) error {
	if _, ok := p.Blocks[o.BlockID]; !ok {
		return notFound("block", o.BlockID)
	}
	if refs := p.RefsToBlock(o.BlockID); !refs.Empty() {
		return fmt.Errorf("%w: block %q has edges %v, publishers %v, listeners %v",
			ErrInUse, o.BlockID, refs.Edges, refs.Publishers, refs.Listeners)
	}
	if p.Settings.TimeRootID == o.BlockID {
		return fmt.Errorf("%w: block %q is the designated time root", ErrInUse, o.BlockID)
	}
	delete(p.Blocks, o.BlockID)
	return nil
}

func applyBlockRetype(p *model.Patch, o BlockRetype) error {
	b, ok := p.Blocks[o.BlockID]
	if !ok {
		return notFound("block", o.BlockID)
	}
	if err := checkCompositeType(p, o.Type); err != nil {
		return err
	}

	next := model.Block{ID: b.ID, Inputs: o.Inputs, Outputs: o.Outputs}
	refs := p.RefsToBlock(o.BlockID)
	for _, id := range refs.Edges {
		e := p.Edges[id]
		if e.From.BlockID == o.BlockID {
			if _, ok := next.Output(e.From.SlotID); !ok {
				return retypeInUse(o.BlockID, "edge", id, e.From.SlotID)
			}
		}
		if e.To.BlockID == o.BlockID {
			if _, ok := next.Input(e.To.SlotID); !ok {
				return retypeInUse(o.BlockID, "edge", id, e.To.SlotID)
			}
		}
	}
	for _, id := range refs.Publishers {
		slot := p.Publishers[id].From.SlotID
		if _, ok := next.Output(slot); !ok {
			return retypeInUse(o.BlockID, "publisher", id, slot)
		}
	}
	for _, id := range refs.Listeners {
		slot := p.Listeners[id].To.SlotID
		if _, ok := next.Input(slot); !ok {
			return retypeInUse(o.BlockID, "listener", id, slot)
		}
	}

	next = next.Clone()
	b.Type = o.Type
	b.Inputs = next.Inputs
	b.Outputs = next.Outputs
	p.Blocks[o.BlockID] = b
	return nil
}

func applyBlockPatchParams(p *model.Patch, o BlockPatchParams) error {
	b, ok := p.Blocks[o.BlockID]
	if !ok {
		return notFound("block", o.BlockID)
	}
	params := model.CloneParams(b.Params)
	if params == nil {
		params = make(map[string]any, len(o.Set))
	}
	for k, v := range o.Set {
		params[k] = model.CloneValue(v)
	}
	for _, k := range o.Unset {
		delete(params, k)
	}
	b.Params = params
	p.Blocks[o.BlockID] = b
	return nil
}

// -----------------------------------------------------------------------------
// Wires and bindings
// -----------------------------------------------------------------------------

func applyWireAdd(p *model.Patch, o WireAdd) error {
	if _, ok := p.Edges[o.Edge.ID]; ok {
		return duplicate("edge", o.Edge.ID)
	}
	if err := checkOutput(p, o.Edge.From); err != nil {
		return err
	}
	if err := checkInput(p, o.Edge.To); err != nil {
		return err
	}
	p.Edges[o.Edge.ID] = o.Edge.Clone()
	return nil
}

func applyWireRetarget(p *model.Patch, o WireRetarget) error {
	e, ok := p.Edges[o.EdgeID]
	if !ok {
		return notFound("edge", o.EdgeID)
	}
	if o.From != nil {
		if err := checkOutput(p, *o.From); err != nil {
			return err
		}
		e.From = *o.From
	}
	if o.To != nil {
		if err := checkInput(p, *o.To); err != nil {
			return err
		}
		e.To = *o.To
	}
	p.Edges[o.EdgeID] = e
	return nil
}

func applyBusRemove(p *model.Patch, o BusRemove) error {
	if _, ok := p.Buses[o.BusID]; !ok {
		return notFound("bus", o.BusID)
	}
	pubs, lis := p.BindingsOnBus(o.BusID)
	if len(pubs) > 0 || len(lis) > 0 {
		return fmt.Errorf("%w: bus %q has publishers %v, listeners %v", ErrInUse, o.BusID, pubs, lis)
	}
	delete(p.Buses, o.BusID)
	return nil
}

func applyBusUpdate(p *model.Patch, o BusUpdate) error {
	b, ok := p.Buses[o.BusID]
	if !ok {
		return notFound("bus", o.BusID)
	}
	if o.Patch.Name != nil {
		b.Name = *o.Patch.Name
	}
	if o.Patch.Type != nil {
		b.Type = *o.Patch.Type
	}
	if o.Patch.Combine != nil {
		b.Combine = *o.Patch.Combine
	}
	if o.Patch.SetDefault {
		b.Default = model.CloneValue(o.Patch.Default)
	}
	if o.Patch.SortKey != nil {
		b.SortKey = *o.Patch.SortKey
	}
	p.Buses[o.BusID] = b
	return nil
}

func applyPublisherAdd(p *model.Patch, o PublisherAdd) error {
	pub := o.Publisher
	if _, ok := p.Publishers[pub.ID]; ok {
		return duplicate("publisher", pub.ID)
	}
	if _, ok := p.Buses[pub.BusID]; !ok {
		return notFound("bus", pub.BusID)
	}
	if err := checkOutput(p, pub.From); err != nil {
		return err
	}
	p.Publishers[pub.ID] = pub
	return nil
}

func applyPublisherUpdate(p *model.Patch, o PublisherUpdate) error {
	pub, ok := p.Publishers[o.PublisherID]
	if !ok {
		return notFound("publisher", o.PublisherID)
	}
	if o.Patch.BusID != nil {
		if _, ok := p.Buses[*o.Patch.BusID]; !ok {
			return notFound("bus", *o.Patch.BusID)
		}
		pub.BusID = *o.Patch.BusID
	}
	if o.Patch.Enabled != nil {
		pub.Enabled = *o.Patch.Enabled
	}
	if o.Patch.SortKey != nil {
		pub.SortKey = *o.Patch.SortKey
	}
	p.Publishers[o.PublisherID] = pub
	return nil
}

func applyListenerAdd(p *model.Patch, o ListenerAdd) error {
	l := o.Listener
	if _, ok := p.Listeners[l.ID]; ok {
		return duplicate("listener", l.ID)
	}
	if _, ok := p.Buses[l.BusID]; !ok {
		return notFound("bus", l.BusID)
	}
	if err := checkInput(p, l.To); err != nil {
		return err
	}
	p.Listeners[l.ID] = l
	return nil
}

func applyListenerUpdate(p *model.Patch, o ListenerUpdate) error {
	l, ok := p.Listeners[o.ListenerID]
	if !ok {
		return notFound("listener", o.ListenerID)
	}
	if o.Patch.BusID != nil {
		if _, ok := p.Buses[*o.Patch.BusID]; !ok {
			return notFound("bus", *o.Patch.BusID)
		}
		l.BusID = *o.Patch.BusID
	}
	if o.Patch.Enabled != nil {
		l.Enabled = *o.Patch.Enabled
	}
	p.Listeners[o.ListenerID] = l
	return nil
}

// -----------------------------------------------------------------------------
// Precondition helpers
// -----------------------------------------------------------------------------

func checkOutput(p *model.Patch, ref model.PortRef) error {
	if _, ok := p.ResolveOutput(ref); !ok {
		return fmt.Errorf("%w: output %s", ErrDanglingEndpoint, ref)
	}
	return nil
}

func checkInput(p *model.Patch, ref model.PortRef) error {
	if _, ok := p.ResolveInput(ref); !ok {
		return fmt.Errorf("%w: input %s", ErrDanglingEndpoint, ref)
	}
	return nil
}

// checkCompositeType requires the definition behind a "composite:<id>"
// block type to exist.
func checkCompositeType(p *model.Patch, blockType string) error {
	probe := model.Block{Type: blockType}
	cid, ok := probe.CompositeID()
	if !ok {
		return nil
	}
	if _, ok := p.Composites[cid]; !ok {
		return notFound("composite", cid)
	}
	return nil
}

// checkExposed verifies exposed ports point at slots inside the graph.
func checkExposed(compositeID string, g model.CompositeGraph, inputs, outputs []model.ExposedPort) error {
	blocks := make(map[string]*model.Block, len(g.Blocks))
	for i := range g.Blocks {
		blocks[g.Blocks[i].ID] = &g.Blocks[i]
	}
	for _, x := range inputs {
		b, ok := blocks[x.Inner.BlockID]
		if !ok {
			return fmt.Errorf("%w: composite %q exposed input %q -> %s", ErrDanglingEndpoint, compositeID, x.ID, x.Inner)
		}
		if _, ok := b.Input(x.Inner.SlotID); !ok {
			return fmt.Errorf("%w: composite %q exposed input %q -> %s", ErrDanglingEndpoint, compositeID, x.ID, x.Inner)
		}
	}
	for _, x := range outputs {
		b, ok := blocks[x.Inner.BlockID]
		if !ok {
			return fmt.Errorf("%w: composite %q exposed output %q -> %s", ErrDanglingEndpoint, compositeID, x.ID, x.Inner)
		}
		if _, ok := b.Output(x.Inner.SlotID); !ok {
			return fmt.Errorf("%w: composite %q exposed output %q -> %s", ErrDanglingEndpoint, compositeID, x.ID, x.Inner)
		}
	}
	return nil
}

// exposedEqual reports whether two exposed port lists are identical,
// treating nil and empty as the same.
func exposedEqual(a, b []model.ExposedPort) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %q", ErrNotFound, kind, id)
}

func duplicate(kind, id string) error {
	return fmt.Errorf("%w: %s %q", ErrDuplicateID, kind, id)
}

func retypeInUse(blockID, kind, id, slot string) error {
	return fmt.Errorf("%w: block %q slot %q is used by %s %q", ErrInUse, blockID, slot, kind, id)
}
