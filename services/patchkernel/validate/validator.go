// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validate implements the structural rule engine over a Patch and
// its semantic graph.
//
// Full validation runs five error passes in a fixed order (time root
// cardinality, unique writers, type compatibility, cycles, endpoint
// existence) followed by warning passes. Preflight checks a single
// proposed connection and returns at most one reason.
package validate

import (
	"strings"

	"github.com/AleutianAI/patchkernel/services/patchkernel/graph"
	"github.com/AleutianAI/patchkernel/services/patchkernel/model"
)

// DefaultTimeRootTypes are the block types that anchor the time base when
// no catalog overrides them.
var DefaultTimeRootTypes = []string{"TimeRoot", "FiniteTimeRoot", "CycleTimeRoot", "InfiniteTimeRoot"}

// Validator checks one document against the graph derived from it.
type Validator struct {
	g             *graph.Graph
	p             *model.Patch
	revision      uint64
	oracle        TypeOracle
	timeRootTypes map[string]bool
}

// Option configures a Validator.
type Option func(*Validator)

// WithTypeOracle replaces DefaultOracle.
func WithTypeOracle(o TypeOracle) Option {
	return func(v *Validator) {
		if o != nil {
			v.oracle = o
		}
	}
}

// WithTimeRootTypes replaces DefaultTimeRootTypes.
func WithTimeRootTypes(types ...string) Option {
	return func(v *Validator) {
		if len(types) == 0 {
			return
		}
		v.timeRootTypes = make(map[string]bool, len(types))
		for _, t := range types {
			v.timeRootTypes[t] = true
		}
	}
}

// New creates a validator for p and the graph built from it.
//
// # Inputs
//
//   - g: Semantic graph built from p. Must not be nil.
//   - p: Document. Read only.
//   - revision: Patch revision stamped onto results.
//   - opts: Optional oracle and time-root type overrides.
func New(g *graph.Graph, p *model.Patch, revision uint64, opts ...Option) *Validator {
	v := &Validator{
		g:        g,
		p:        p,
		revision: revision,
		oracle:   DefaultOracle,
	}
	WithTimeRootTypes(DefaultTimeRootTypes...)(v)
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate runs every pass and returns the aggregated result.
func (v *Validator) Validate() Result {
	var c collector
	v.checkTimeRoot(&c)
	v.checkWriters(&c)
	v.checkTypes(&c)
	v.checkCycles(&c)
	v.checkEndpoints(&c)
	v.warnBuses(&c)
	return c.result(v.revision)
}

// IsTimeRoot reports whether a block type anchors the time base.
func (v *Validator) IsTimeRoot(blockType string) bool {
	return v.timeRootTypes[blockType]
}

// ---- Pass 1: time root cardinality ----

func (v *Validator) checkTimeRoot(c *collector) {
	var anchors []string
	for _, id := range v.g.Blocks() {
		if v.timeRootTypes[v.p.Blocks[id].Type] {
			anchors = append(anchors, id)
		}
	}

	designated := v.p.Settings.TimeRootID
	if designated != "" {
		b, ok := v.p.Blocks[designated]
		if !ok || !v.timeRootTypes[b.Type] {
			c.warnf(CodeTimeRootUnresolved, Target{Kind: TargetTimeRoot, BlockID: designated}, nil,
				"designated time root %q is not a time-anchor block", designated)
			designated = ""
		}
	}

	switch {
	case len(anchors) == 0:
		c.errorf(CodeTimeRootMissing, Target{Kind: TargetTimeRoot}, nil,
			"patch has no time-anchor block")
	case len(anchors) > 1:
		primary := anchors[0]
		if designated != "" {
			primary = designated
		}
		extras := make([]string, 0, len(anchors)-1)
		for _, id := range anchors {
			if id != primary {
				extras = append(extras, id)
			}
		}
		c.errorf(CodeTimeRootMultiple, Target{Kind: TargetTimeRoot, BlockID: primary}, extras,
			"patch has %d time-anchor blocks; extra: %s", len(anchors), strings.Join(extras, ", "))
	}
}

// ---- Pass 2: unique writer per input ----

func (v *Validator) checkWriters(c *collector) {
	for _, key := range v.g.Ports() {
		if key.Dir != graph.DirIn {
			continue
		}
		ref := model.PortRef{BlockID: key.BlockID, SlotID: key.SlotID}
		writers := v.g.Incoming(ref)
		if len(writers) <= 1 {
			continue
		}
		ids := make([]string, len(writers))
		for i, w := range writers {
			ids[i] = w.ID
		}
		c.errorf(CodeMultipleWriters, Target{Kind: TargetPort, BlockID: ref.BlockID, SlotID: ref.SlotID}, ids,
			"input %s has %d writers: %s", ref, len(ids), strings.Join(ids, ", "))
	}
}

// ---- Pass 3: type compatibility ----

func (v *Validator) checkTypes(c *collector) {
	for _, id := range model.SortedKeys(v.p.Edges) {
		e := v.p.Edges[id]
		from, okFrom := v.p.ResolveOutput(e.From)
		to, okTo := v.p.ResolveInput(e.To)
		if !okFrom || !okTo {
			continue
		}
		carried := carriedType(from.Type, e.Transforms)
		if !v.oracle.Compatible(carried, to.Type) {
			c.errorf(CodeTypeMismatch, Target{Kind: TargetBinding, ID: id}, []string{e.From.String(), e.To.String()},
				"edge %s carries %s into %s which expects %s", id, carried, e.To, to.Type)
		}
	}
	for _, id := range model.SortedKeys(v.p.Publishers) {
		pub := v.p.Publishers[id]
		from, ok := v.p.ResolveOutput(pub.From)
		bus, okBus := v.p.Buses[pub.BusID]
		if !ok || !okBus {
			continue
		}
		if !v.oracle.Compatible(from.Type, bus.Type) {
			c.errorf(CodeTypeMismatch, Target{Kind: TargetBinding, ID: id}, []string{pub.From.String(), pub.BusID},
				"publisher %s sends %s onto bus %s of type %s", id, from.Type, pub.BusID, bus.Type)
		}
	}
	for _, id := range model.SortedKeys(v.p.Listeners) {
		l := v.p.Listeners[id]
		to, ok := v.p.ResolveInput(l.To)
		bus, okBus := v.p.Buses[l.BusID]
		if !ok || !okBus {
			continue
		}
		if !v.oracle.Compatible(bus.Type, to.Type) {
			c.errorf(CodeTypeMismatch, Target{Kind: TargetBinding, ID: id}, []string{l.BusID, l.To.String()},
				"listener %s feeds bus %s of type %s into %s which expects %s", id, l.BusID, bus.Type, l.To, to.Type)
		}
	}
}

// ---- Pass 4: cycles ----

func (v *Validator) checkCycles(c *collector) {
	for _, scc := range v.g.DetectCycles() {
		c.errorf(CodeCycleDetected, Target{Kind: TargetGraphSpan, Blocks: scc}, scc,
			"cycle through blocks %s", strings.Join(scc, " -> "))
	}
}

// ---- Pass 5: endpoint existence ----

func (v *Validator) checkEndpoints(c *collector) {
	for _, id := range model.SortedKeys(v.p.Edges) {
		e := v.p.Edges[id]
		if _, ok := v.p.ResolveOutput(e.From); !ok {
			c.errorf(CodeMissingEndpoint, Target{Kind: TargetBinding, ID: id}, []string{e.From.String()},
				"edge %s starts at missing output %s", id, e.From)
		}
		if _, ok := v.p.ResolveInput(e.To); !ok {
			c.errorf(CodeMissingEndpoint, Target{Kind: TargetBinding, ID: id}, []string{e.To.String()},
				"edge %s ends at missing input %s", id, e.To)
		}
	}
	for _, id := range model.SortedKeys(v.p.Publishers) {
		pub := v.p.Publishers[id]
		if _, ok := v.p.Buses[pub.BusID]; !ok {
			c.errorf(CodeMissingEndpoint, Target{Kind: TargetBinding, ID: id}, []string{pub.BusID},
				"publisher %s targets missing bus %s", id, pub.BusID)
		}
		if _, ok := v.p.ResolveOutput(pub.From); !ok {
			c.errorf(CodeMissingEndpoint, Target{Kind: TargetBinding, ID: id}, []string{pub.From.String()},
				"publisher %s reads missing output %s", id, pub.From)
		}
	}
	for _, id := range model.SortedKeys(v.p.Listeners) {
		l := v.p.Listeners[id]
		if _, ok := v.p.Buses[l.BusID]; !ok {
			c.errorf(CodeMissingEndpoint, Target{Kind: TargetBinding, ID: id}, []string{l.BusID},
				"listener %s reads missing bus %s", id, l.BusID)
		}
		if _, ok := v.p.ResolveInput(l.To); !ok {
			c.errorf(CodeMissingEndpoint, Target{Kind: TargetBinding, ID: id}, []string{l.To.String()},
				"listener %s writes missing input %s", id, l.To)
		}
	}
	for _, id := range v.g.Blocks() {
		b := v.p.Blocks[id]
		cid, ok := b.CompositeID()
		if !ok {
			continue
		}
		if _, exists := v.p.Composites[cid]; !exists {
			c.errorf(CodeMissingComposite, Target{Kind: TargetComposite, CompositeID: cid, BlockID: id}, nil,
				"block %s instantiates missing composite %s", id, cid)
		}
	}
}

// ---- Warnings ----

func (v *Validator) warnBuses(c *collector) {
	for _, id := range model.SortedKeys(v.p.Buses) {
		bi, _ := v.g.Bus(id)
		if len(bi.Publishers) == 0 {
			c.warnf(CodeBusWithoutPublisher, Target{Kind: TargetBus, BusID: id}, bi.Listeners,
				"bus %s has no publishers", id)
		}
	}
}

// ---- Preflight ----

// Preflight checks one proposed wire from an output to an input before it
// is staged.
//
// # Description
//
// Short-circuits in order: missing endpoint, type mismatch, existing
// writer on the target input, would-create-cycle. The returned result
// carries at most one error.
func (v *Validator) Preflight(from, to model.PortRef) Result {
	var c collector
	v.preflight(&c, from, to)
	return c.result(v.revision)
}

func (v *Validator) preflight(c *collector, from, to model.PortRef) {
	out, ok := v.p.ResolveOutput(from)
	if !ok {
		c.errorf(CodeMissingEndpoint, Target{Kind: TargetPort, BlockID: from.BlockID, SlotID: from.SlotID}, nil,
			"output %s does not exist", from)
		return
	}
	in, ok := v.p.ResolveInput(to)
	if !ok {
		c.errorf(CodeMissingEndpoint, Target{Kind: TargetPort, BlockID: to.BlockID, SlotID: to.SlotID}, nil,
			"input %s does not exist", to)
		return
	}
	if !v.oracle.Compatible(out.Type, in.Type) {
		c.errorf(CodeTypeMismatch, Target{Kind: TargetPort, BlockID: to.BlockID, SlotID: to.SlotID},
			[]string{from.String()}, "%s (%s) cannot feed %s (%s)", from, out.Type, to, in.Type)
		return
	}
	if writers := v.g.Incoming(to); len(writers) > 0 {
		ids := make([]string, len(writers))
		for i, w := range writers {
			ids[i] = w.ID
		}
		c.errorf(CodeMultipleWriters, Target{Kind: TargetPort, BlockID: to.BlockID, SlotID: to.SlotID}, ids,
			"input %s already has a writer: %s", to, strings.Join(ids, ", "))
		return
	}
	if v.g.WouldCreateCycle(from.BlockID, to.BlockID) {
		c.errorf(CodeCycleDetected, Target{Kind: TargetGraphSpan, Blocks: []string{from.BlockID, to.BlockID}},
			[]string{from.BlockID, to.BlockID}, "connecting %s to %s would create a cycle", from, to)
	}
}
