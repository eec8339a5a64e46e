// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"fmt"
	"math/rand"
	"reflect"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/patchkernel/services/patchkernel/model"
	pt "github.com/AleutianAI/patchkernel/services/patchkernel/patchtest"
)

// =============================================================================
// Fixtures
// =============================================================================

// chain builds oscillators named by ids, wiring each to the next.
func chain(ids ...string) *model.Patch {
	p := model.New("chain")
	for _, id := range ids {
		p.Blocks[id] = pt.Oscillator(id)
	}
	for i := 0; i+1 < len(ids); i++ {
		eid := fmt.Sprintf("e_%s_%s", ids[i], ids[i+1])
		p.Edges[eid] = pt.Edge(eid, pt.Port(ids[i], "out"), pt.Port(ids[i+1], "freq"))
	}
	return p
}

func wire(p *model.Patch, from, to string) {
	id := fmt.Sprintf("e_%s_%s_%d", from, to, len(p.Edges))
	p.Edges[id] = pt.Edge(id, pt.Port(from, "out"), pt.Port(to, "freq"))
}

// =============================================================================
// Indices
// =============================================================================

func TestBuild_PortIndices(t *testing.T) {
	p := pt.Basic()
	p.Buses["energy"] = pt.Bus("energy", pt.SignalFloat)
	p.Publishers["p1"] = pt.Publisher("p1", "energy", pt.Port("a", "out"), 0)
	p.Listeners["l1"] = pt.Listener("l1", "energy", pt.Port("b", "freq"))

	g := Build(p)

	assert.Equal(t, []Conn{
		{Kind: ConnWire, ID: "e1"},
		{Kind: ConnListener, ID: "l1"},
	}, g.Incoming(pt.Port("b", "freq")))
	assert.Equal(t, []Conn{
		{Kind: ConnWire, ID: "e1"},
		{Kind: ConnPublisher, ID: "p1"},
	}, g.Outgoing(pt.Port("a", "out")))
	assert.Empty(t, g.Incoming(pt.Port("a", "freq")))

	assert.Equal(t, []string{"a", "b", "root"}, g.Blocks())
	assert.Equal(t, []string{"b"}, g.Downstream("a"))
	assert.True(t, g.HasLink("a", "b"))
	assert.False(t, g.HasLink("b", "a"))
}

func TestBuild_BusPublisherOrder(t *testing.T) {
	p := pt.Basic()
	p.Buses["energy"] = pt.Bus("energy", pt.SignalFloat)
	p.Publishers["z"] = pt.Publisher("z", "energy", pt.Port("a", "out"), 0)
	p.Publishers["y"] = pt.Publisher("y", "energy", pt.Port("b", "out"), 0)
	p.Publishers["a"] = pt.Publisher("a", "energy", pt.Port("root", "phase"), 5)
	p.Publishers["m"] = pt.Publisher("m", "energy", pt.Port("a", "out"), -1)

	bi, ok := Build(p).Bus("energy")
	require.True(t, ok)
	assert.Equal(t, []string{"m", "y", "z", "a"}, bi.Publishers)
}

func TestBuild_BusChainsCreateAdjacency(t *testing.T) {
	p := chain("a", "b")
	p.Blocks["c"] = pt.Oscillator("c")
	p.Buses["bus"] = pt.Bus("bus", pt.SignalFloat)
	p.Publishers["p"] = pt.Publisher("p", "bus", pt.Port("b", "out"), 0)
	p.Listeners["l"] = pt.Listener("l", "bus", pt.Port("c", "freq"))
	p.Listeners["self"] = pt.Listener("self", "bus", pt.Port("b", "freq"))

	g := Build(p)

	assert.True(t, g.HasLink("b", "c"))
	assert.False(t, g.HasLink("b", "b"), "a block listening to its own bus is not a link")
	assert.True(t, g.Reachable("a", "c"))
}

func TestBuild_DanglingEndpointsIndexedWithoutAdjacency(t *testing.T) {
	p := chain("a")
	p.Edges["ghost"] = pt.Edge("ghost", pt.Port("a", "out"), pt.Port("missing", "freq"))

	g := Build(p)

	assert.Equal(t, []string{"ghost"}, g.Port(InKey(pt.Port("missing", "freq"))).WiresIn)
	assert.Empty(t, g.Downstream("a"))
}

func TestBuild_Idempotent(t *testing.T) {
	p := chain("a", "b", "c", "d")
	wire(p, "d", "b")
	p.Buses["bus"] = pt.Bus("bus", pt.SignalFloat)
	p.Publishers["p2"] = pt.Publisher("p2", "bus", pt.Port("c", "out"), 1)
	p.Publishers["p1"] = pt.Publisher("p1", "bus", pt.Port("a", "out"), 1)
	p.Listeners["l1"] = pt.Listener("l1", "bus", pt.Port("d", "freq"))

	first := Build(p)
	second := Build(p.Clone())

	if !reflect.DeepEqual(first, second) {
		t.Fatal("two builds of the same document differ")
	}
	assert.Equal(t, first.Ports(), second.Ports())
}

// =============================================================================
// Cycles
// =============================================================================

func TestWouldCreateCycle(t *testing.T) {
	g := Build(chain("a", "b", "c"))

	tests := []struct {
		name     string
		from, to string
		want     bool
	}{
		{"closing back edge", "c", "a", true},
		{"direct reverse", "b", "a", true},
		{"forward shortcut", "a", "c", false},
		{"existing link short-circuits", "a", "b", false},
		{"self link outside a cycle", "b", "b", false},
		{"unknown block", "x", "a", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, g.WouldCreateCycle(tt.from, tt.to))
		})
	}
}

func TestDetectCycles(t *testing.T) {
	p := chain("a", "b", "c")
	wire(p, "c", "a")
	p.Blocks["x"] = pt.Oscillator("x")
	p.Blocks["y"] = pt.Oscillator("y")
	wire(p, "x", "y")
	wire(p, "y", "x")
	p.Blocks["root"] = pt.Oscillator("root")
	wire(p, "root", "root")

	cycles := Build(p).DetectCycles()

	assert.Equal(t, [][]string{{"a", "b", "c"}, {"x", "y"}}, cycles)
}

func TestDetectCycles_Acyclic(t *testing.T) {
	assert.Empty(t, Build(chain("a", "b", "c", "d")).DetectCycles())
}

// TestCycleLaw checks on random graphs that a proposed link is flagged iff
// adding it yields a reported cycle containing both endpoints.
func TestCycleLaw(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	ids := []string{"a", "b", "c", "d", "e", "f"}

	for round := 0; round < 40; round++ {
		p := chain()
		for _, id := range ids {
			p.Blocks[id] = pt.Oscillator(id)
		}
		for n := rng.Intn(8); n > 0; n-- {
			wire(p, ids[rng.Intn(len(ids))], ids[rng.Intn(len(ids))])
		}
		g := Build(p)

		for _, from := range ids {
			for _, to := range ids {
				if g.HasLink(from, to) {
					continue
				}
				flagged := g.WouldCreateCycle(from, to)

				next := p.Clone()
				wire(next, from, to)
				inCycle := false
				for _, scc := range Build(next).DetectCycles() {
					if slices.Contains(scc, from) && slices.Contains(scc, to) {
						inCycle = true
					}
				}
				if flagged != inCycle {
					t.Fatalf("round %d: %s->%s flagged=%v, detected=%v", round, from, to, flagged, inCycle)
				}
			}
		}
	}
}
