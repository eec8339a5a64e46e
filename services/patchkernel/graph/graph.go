// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph derives the semantic graph of a Patch: port-level
// connection indices, bus membership, and block adjacency for cycle queries.
//
// # Lifecycle
//
// A Graph is built wholesale from one document and never updated in place.
// The kernel rebuilds it after every commit, undo and redo and swaps the
// pointer, so a caller holding an older Graph sees a consistent snapshot.
//
// # Determinism
//
// Every index slice is sorted. Two builds from equal documents are
// reflect.DeepEqual.
//
// # Structural View
//
// Disabled edges and bindings are indexed like enabled ones. Enabling a
// connection must never be able to introduce a second writer or a cycle
// that validation did not already report.
package graph

import (
	"context"
	"sort"
	"time"

	"github.com/AleutianAI/patchkernel/services/patchkernel/model"
)

// Direction of a port.
type Direction string

const (
	DirIn  Direction = "in"
	DirOut Direction = "out"
)

// PortKey identifies one port: block, slot and direction.
type PortKey struct {
	BlockID string
	SlotID  string
	Dir     Direction
}

// InKey returns the key of an input port.
func InKey(ref model.PortRef) PortKey {
	return PortKey{BlockID: ref.BlockID, SlotID: ref.SlotID, Dir: DirIn}
}

// OutKey returns the key of an output port.
func OutKey(ref model.PortRef) PortKey {
	return PortKey{BlockID: ref.BlockID, SlotID: ref.SlotID, Dir: DirOut}
}

// ConnKind distinguishes the connection types touching a port.
type ConnKind string

const (
	ConnWire      ConnKind = "wire"
	ConnPublisher ConnKind = "publisher"
	ConnListener  ConnKind = "listener"
)

// Conn references one connection entity.
type Conn struct {
	Kind ConnKind
	ID   string
}

// PortIndex holds the sorted connection ids attached to one port.
type PortIndex struct {
	WiresIn       []string
	WiresOut      []string
	ListenersIn   []string
	PublishersOut []string
}

// BusIndex holds a bus's bindings. Publishers are in merge order
// (SortKey ascending, then id); listeners are sorted by id.
type BusIndex struct {
	Publishers []string
	Listeners  []string
}

// Graph is the derived, read-only index over one Patch.
type Graph struct {
	ports  map[PortKey]*PortIndex
	buses  map[string]*BusIndex
	adj    map[string][]string
	blocks []string
	links  int
}

// Build derives the semantic graph of p.
//
// # Description
//
// Indexes every edge, publisher and listener by port, groups bindings by
// bus, and builds block adjacency from wires and from publisher-to-listener
// chains on the same bus. Endpoints that reference missing blocks are still
// indexed by port (the validator reports them) but contribute no adjacency.
//
// # Inputs
//
//   - p: Document to index. Not modified.
//
// # Outputs
//
//   - *Graph: The new graph. Never nil.
func Build(p *model.Patch) *Graph {
	return BuildContext(context.Background(), p)
}

// BuildContext is Build with a trace span and build metrics attached to ctx.
func BuildContext(ctx context.Context, p *model.Patch) *Graph {
	start := time.Now()
	_, span := startBuildSpan(ctx, len(p.Blocks))
	defer span.End()

	g := &Graph{
		ports:  make(map[PortKey]*PortIndex),
		buses:  make(map[string]*BusIndex, len(p.Buses)),
		adj:    make(map[string][]string, len(p.Blocks)),
		blocks: model.SortedKeys(p.Blocks),
	}

	for _, id := range model.SortedKeys(p.Edges) {
		e := p.Edges[id]
		out := g.port(OutKey(e.From))
		out.WiresOut = append(out.WiresOut, id)
		in := g.port(InKey(e.To))
		in.WiresIn = append(in.WiresIn, id)
		g.link(p, e.From.BlockID, e.To.BlockID)
	}

	for id := range p.Buses {
		g.buses[id] = &BusIndex{}
	}
	for _, id := range model.SortedKeys(p.Publishers) {
		pub := p.Publishers[id]
		out := g.port(OutKey(pub.From))
		out.PublishersOut = append(out.PublishersOut, id)
		g.bus(pub.BusID).Publishers = append(g.bus(pub.BusID).Publishers, id)
	}
	for _, id := range model.SortedKeys(p.Listeners) {
		l := p.Listeners[id]
		in := g.port(InKey(l.To))
		in.ListenersIn = append(in.ListenersIn, id)
		g.bus(l.BusID).Listeners = append(g.bus(l.BusID).Listeners, id)
	}

	for _, bi := range g.buses {
		sort.SliceStable(bi.Publishers, func(i, j int) bool {
			a, b := p.Publishers[bi.Publishers[i]], p.Publishers[bi.Publishers[j]]
			if a.SortKey != b.SortKey {
				return a.SortKey < b.SortKey
			}
			return a.ID < b.ID
		})
	}

	// Bus chains: every publisher block feeds every listener block.
	for _, busID := range model.SortedKeys(g.buses) {
		bi := g.buses[busID]
		for _, pid := range bi.Publishers {
			from := p.Publishers[pid].From.BlockID
			for _, lid := range bi.Listeners {
				to := p.Listeners[lid].To.BlockID
				if from == to {
					continue
				}
				g.link(p, from, to)
			}
		}
	}

	for id, next := range g.adj {
		g.adj[id] = dedupeSorted(next)
	}
	g.links = 0
	for _, next := range g.adj {
		g.links += len(next)
	}

	setBuildSpanResult(span, len(g.blocks), g.links)
	recordBuildMetrics(ctx, time.Since(start), len(g.blocks), g.links)
	return g
}

func (g *Graph) port(k PortKey) *PortIndex {
	pi, ok := g.ports[k]
	if !ok {
		pi = &PortIndex{}
		g.ports[k] = pi
	}
	return pi
}

// bus returns the index of a bus, creating one for bindings whose bus is
// missing so that dangling bindings stay visible to the validator.
func (g *Graph) bus(id string) *BusIndex {
	bi, ok := g.buses[id]
	if !ok {
		bi = &BusIndex{}
		g.buses[id] = bi
	}
	return bi
}

func (g *Graph) link(p *model.Patch, from, to string) {
	if _, ok := p.Blocks[from]; !ok {
		return
	}
	if _, ok := p.Blocks[to]; !ok {
		return
	}
	g.adj[from] = append(g.adj[from], to)
}

func dedupeSorted(ids []string) []string {
	sort.Strings(ids)
	out := ids[:0]
	for i, id := range ids {
		if i > 0 && id == ids[i-1] {
			continue
		}
		out = append(out, id)
	}
	return out
}

// ---- Queries ----

// Blocks returns the sorted block ids.
func (g *Graph) Blocks() []string {
	return g.blocks
}

// LinkCount returns the number of distinct block-to-block adjacencies.
func (g *Graph) LinkCount() int {
	return g.links
}

// Port returns the index of one port. Unknown ports yield an empty index.
func (g *Graph) Port(k PortKey) PortIndex {
	if pi, ok := g.ports[k]; ok {
		return *pi
	}
	return PortIndex{}
}

// Ports returns every indexed port key, sorted by block, slot, direction.
func (g *Graph) Ports() []PortKey {
	keys := make([]PortKey, 0, len(g.ports))
	for k := range g.ports {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.BlockID != b.BlockID {
			return a.BlockID < b.BlockID
		}
		if a.SlotID != b.SlotID {
			return a.SlotID < b.SlotID
		}
		return a.Dir < b.Dir
	})
	return keys
}

// Incoming returns every writer of an input port: wires first, then
// listeners, each group sorted by id.
func (g *Graph) Incoming(ref model.PortRef) []Conn {
	pi := g.Port(InKey(ref))
	out := make([]Conn, 0, len(pi.WiresIn)+len(pi.ListenersIn))
	for _, id := range pi.WiresIn {
		out = append(out, Conn{Kind: ConnWire, ID: id})
	}
	for _, id := range pi.ListenersIn {
		out = append(out, Conn{Kind: ConnListener, ID: id})
	}
	return out
}

// Outgoing returns every reader of an output port: wires first, then
// publishers, each group sorted by id.
func (g *Graph) Outgoing(ref model.PortRef) []Conn {
	pi := g.Port(OutKey(ref))
	out := make([]Conn, 0, len(pi.WiresOut)+len(pi.PublishersOut))
	for _, id := range pi.WiresOut {
		out = append(out, Conn{Kind: ConnWire, ID: id})
	}
	for _, id := range pi.PublishersOut {
		out = append(out, Conn{Kind: ConnPublisher, ID: id})
	}
	return out
}

// Bus returns the binding index of a bus.
func (g *Graph) Bus(id string) (BusIndex, bool) {
	bi, ok := g.buses[id]
	if !ok {
		return BusIndex{}, false
	}
	return *bi, true
}

// Downstream returns the sorted ids of blocks fed directly by blockID.
func (g *Graph) Downstream(blockID string) []string {
	return g.adj[blockID]
}

// HasLink reports whether from feeds to directly.
func (g *Graph) HasLink(from, to string) bool {
	next := g.adj[from]
	i := sort.SearchStrings(next, to)
	return i < len(next) && next[i] == to
}
