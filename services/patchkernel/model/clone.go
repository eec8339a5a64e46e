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

import (
	"maps"
	"reflect"
	"slices"
	"sort"
)

// Clone returns a deep copy of the patch. Nil-ness of every map and slice
// is preserved so that Equal(p, p.Clone()) always holds.
func (p *Patch) Clone() *Patch {
	if p == nil {
		return nil
	}
	out := &Patch{
		ID:       p.ID,
		Settings: p.Settings,
	}
	if p.Blocks != nil {
		out.Blocks = make(map[string]Block, len(p.Blocks))
		for id, b := range p.Blocks {
			out.Blocks[id] = b.Clone()
		}
	}
	if p.Edges != nil {
		out.Edges = make(map[string]Edge, len(p.Edges))
		for id, e := range p.Edges {
			out.Edges[id] = e.Clone()
		}
	}
	if p.Buses != nil {
		out.Buses = make(map[string]Bus, len(p.Buses))
		for id, b := range p.Buses {
			out.Buses[id] = b.Clone()
		}
	}
	out.Publishers = maps.Clone(p.Publishers)
	out.Listeners = maps.Clone(p.Listeners)
	if p.Composites != nil {
		out.Composites = make(map[string]CompositeDef, len(p.Composites))
		for id, c := range p.Composites {
			out.Composites[id] = c.Clone()
		}
	}
	if p.Assets != nil {
		out.Assets = make(map[string]Asset, len(p.Assets))
		for id, a := range p.Assets {
			out.Assets[id] = a.Clone()
		}
	}
	return out
}

// Clone returns a deep copy of the block.
func (b Block) Clone() Block {
	b.Params = CloneParams(b.Params)
	b.Inputs = slices.Clone(b.Inputs)
	b.Outputs = slices.Clone(b.Outputs)
	return b
}

// Clone returns a deep copy of the edge.
func (e Edge) Clone() Edge {
	if e.Transforms != nil {
		steps := make([]TransformStep, len(e.Transforms))
		for i, s := range e.Transforms {
			steps[i] = s.Clone()
		}
		e.Transforms = steps
	}
	return e
}

// Clone returns a deep copy of the transform step.
func (s TransformStep) Clone() TransformStep {
	s.Params = CloneParams(s.Params)
	if s.Output != nil {
		out := *s.Output
		s.Output = &out
	}
	return s
}

// Clone returns a deep copy of the bus.
func (b Bus) Clone() Bus {
	b.Default = CloneValue(b.Default)
	return b
}

// Clone returns a deep copy of the composite definition.
func (c CompositeDef) Clone() CompositeDef {
	c.Graph = c.Graph.Clone()
	c.ExposedInputs = slices.Clone(c.ExposedInputs)
	c.ExposedOutputs = slices.Clone(c.ExposedOutputs)
	return c
}

// Clone returns a deep copy of the composite graph.
func (g CompositeGraph) Clone() CompositeGraph {
	if g.Blocks != nil {
		blocks := make([]Block, len(g.Blocks))
		for i, b := range g.Blocks {
			blocks[i] = b.Clone()
		}
		g.Blocks = blocks
	}
	if g.Edges != nil {
		edges := make([]Edge, len(g.Edges))
		for i, e := range g.Edges {
			edges[i] = e.Clone()
		}
		g.Edges = edges
	}
	return g
}

// Clone returns a deep copy of the asset.
func (a Asset) Clone() Asset {
	a.Meta = maps.Clone(a.Meta)
	return a
}

// CloneParams deep-copies a parameter map, preserving nil.
func CloneParams(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies a decoded parameter value. Maps and slices produced
// by JSON or YAML decoding are copied recursively; scalars are returned as is.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneParams(t)
	case []any:
		if t == nil {
			return t
		}
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = CloneValue(e)
		}
		return out
	case []float64:
		return slices.Clone(t)
	case []string:
		return slices.Clone(t)
	default:
		return v
	}
}

// Equal reports whether two patches are structurally identical.
func Equal(a, b *Patch) bool {
	return reflect.DeepEqual(a, b)
}

// SortedKeys returns the keys of a map in ascending order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
