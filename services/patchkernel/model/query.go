// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package model

// BlockRefs lists the ids of every connection touching one block, each
// slice sorted ascending.
type BlockRefs struct {
	Edges      []string
	Publishers []string
	Listeners  []string
}

// Empty reports whether nothing references the block.
func (r BlockRefs) Empty() bool {
	return len(r.Edges) == 0 && len(r.Publishers) == 0 && len(r.Listeners) == 0
}

// RefsToBlock collects the edges, publishers and listeners with an endpoint
// on blockID.
func (p *Patch) RefsToBlock(blockID string) BlockRefs {
	var refs BlockRefs
	for _, id := range SortedKeys(p.Edges) {
		e := p.Edges[id]
		if e.From.BlockID == blockID || e.To.BlockID == blockID {
			refs.Edges = append(refs.Edges, id)
		}
	}
	for _, id := range SortedKeys(p.Publishers) {
		if p.Publishers[id].From.BlockID == blockID {
			refs.Publishers = append(refs.Publishers, id)
		}
	}
	for _, id := range SortedKeys(p.Listeners) {
		if p.Listeners[id].To.BlockID == blockID {
			refs.Listeners = append(refs.Listeners, id)
		}
	}
	return refs
}

// BindingsOnBus returns the sorted publisher and listener ids attached to busID.
func (p *Patch) BindingsOnBus(busID string) (publishers, listeners []string) {
	for _, id := range SortedKeys(p.Publishers) {
		if p.Publishers[id].BusID == busID {
			publishers = append(publishers, id)
		}
	}
	for _, id := range SortedKeys(p.Listeners) {
		if p.Listeners[id].BusID == busID {
			listeners = append(listeners, id)
		}
	}
	return publishers, listeners
}

// ResolveOutput returns the output slot addressed by ref.
func (p *Patch) ResolveOutput(ref PortRef) (Slot, bool) {
	b, ok := p.Blocks[ref.BlockID]
	if !ok {
		return Slot{}, false
	}
	return b.Output(ref.SlotID)
}

// ResolveInput returns the input slot addressed by ref.
func (p *Patch) ResolveInput(ref PortRef) (Slot, bool) {
	b, ok := p.Blocks[ref.BlockID]
	if !ok {
		return Slot{}, false
	}
	return b.Input(ref.SlotID)
}

// InstancesOf returns the sorted ids of blocks instantiating a composite.
func (p *Patch) InstancesOf(compositeID string) []string {
	var out []string
	for _, id := range SortedKeys(p.Blocks) {
		b := p.Blocks[id]
		if cid, ok := b.CompositeID(); ok && cid == compositeID {
			out = append(out, id)
		}
	}
	return out
}
