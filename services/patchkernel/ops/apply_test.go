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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/patchkernel/services/patchkernel/model"
	pt "github.com/AleutianAI/patchkernel/services/patchkernel/patchtest"
)

// =============================================================================
// Fixtures
// =============================================================================

func ringDef() model.CompositeDef {
	return model.CompositeDef{
		ID:    "ring",
		Label: "Ring",
		Graph: model.CompositeGraph{
			Blocks: []model.Block{pt.Oscillator("inner")},
		},
		ExposedInputs: []model.ExposedPort{
			{ID: "in", Type: pt.SignalFloat, Inner: pt.Port("inner", "freq")},
		},
		ExposedOutputs: []model.ExposedPort{
			{ID: "out", Type: pt.SignalFloat, Inner: pt.Port("inner", "out")},
		},
	}
}

// withBus returns the basic document plus bus "energy", publisher "p1"
// from a.out and listener "l1" into b.freq.
func withBus() *model.Patch {
	p := pt.Basic()
	p.Buses["energy"] = pt.Bus("energy", pt.SignalFloat)
	p.Publishers["p1"] = pt.Publisher("p1", "energy", pt.Port("a", "out"), 0)
	p.Listeners["l1"] = pt.Listener("l1", "energy", pt.Port("b", "freq"))
	return p
}

func withRing() *model.Patch {
	p := pt.Basic()
	p.Composites["ring"] = ringDef()
	return p
}

// =============================================================================
// Apply
// =============================================================================

func TestApply_BlockAdd(t *testing.T) {
	p := pt.Basic()
	b := pt.Oscillator("c")
	b.Params = nil

	require.NoError(t, Apply(p, BlockAdd{Block: b}))

	got, ok := p.Blocks["c"]
	require.True(t, ok)
	assert.Equal(t, "Oscillator", got.Type)
	assert.NotNil(t, got.Params, "params must be allocated on insert")
}

func TestApply_BlockAddDoesNotAliasOp(t *testing.T) {
	p := pt.Basic()
	b := pt.Oscillator("c")
	b.Params["rate"] = []any{1.0, 2.0}
	op := BlockAdd{Block: b}

	require.NoError(t, Apply(p, op))
	b.Params["rate"].([]any)[0] = 99.0

	assert.Equal(t, 1.0, p.Blocks["c"].Params["rate"].([]any)[0])
}

func TestApply_BlockPatchParams(t *testing.T) {
	p := pt.Basic()
	a := p.Blocks["a"]
	a.Params["rate"] = 2.0
	a.Params["gain"] = 0.5
	p.Blocks["a"] = a

	err := Apply(p, BlockPatchParams{
		BlockID: "a",
		Set:     map[string]any{"rate": 3.0, "shape": "sine"},
		Unset:   []string{"gain"},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"rate": 3.0, "shape": "sine"}, p.Blocks["a"].Params)
}

func TestApply_WireRetarget(t *testing.T) {
	p := pt.Basic()
	from := pt.Port("root", "phase")

	require.NoError(t, Apply(p, WireRetarget{EdgeID: "e1", From: &from}))

	assert.Equal(t, from, p.Edges["e1"].From)
	assert.Equal(t, pt.Port("b", "freq"), p.Edges["e1"].To)
}

func TestApply_BusUpdate(t *testing.T) {
	p := withBus()
	combine := model.CombineSum

	err := Apply(p, BusUpdate{BusID: "energy", Patch: BusPatch{
		Combine:    &combine,
		SetDefault: true,
		Default:    0.25,
	}})
	require.NoError(t, err)

	bus := p.Buses["energy"]
	assert.Equal(t, model.CombineSum, bus.Combine)
	assert.Equal(t, 0.25, bus.Default)
	assert.Equal(t, "energy", bus.Name, "untouched field keeps its value")
}

func TestApply_TimeRootSetAndClear(t *testing.T) {
	p := pt.Basic()

	require.NoError(t, Apply(p, TimeRootSet{BlockID: "root"}))
	assert.Equal(t, "root", p.Settings.TimeRootID)

	require.NoError(t, Apply(p, TimeRootSet{}))
	assert.Empty(t, p.Settings.TimeRootID)
}

func TestApply_CompositeInstance(t *testing.T) {
	p := withRing()
	inst := pt.Block("r1", model.CompositeTypePrefix+"ring", nil, nil)

	require.NoError(t, Apply(p, BlockAdd{Block: inst}))
	assert.Equal(t, []string{"r1"}, p.InstancesOf("ring"))
}

func TestApply_AssetLifecycle(t *testing.T) {
	p := pt.Basic()
	asset := model.Asset{ID: "logo", Kind: "image", URI: "file://logo.png"}

	require.NoError(t, Apply(p, AssetAdd{Asset: asset}))
	uri := "file://logo@2x.png"
	require.NoError(t, Apply(p, AssetUpdate{AssetID: "logo", Patch: AssetPatch{URI: &uri}}))
	assert.Equal(t, uri, p.Assets["logo"].URI)

	require.NoError(t, Apply(p, AssetRemove{AssetID: "logo"}))
	assert.Empty(t, p.Assets)
}

func TestApply_NilInputs(t *testing.T) {
	assert.ErrorIs(t, Apply(nil, TimeRootSet{}), ErrNilPatch)
	assert.ErrorIs(t, Apply(pt.Basic(), nil), ErrNilOp)
}

// =============================================================================
// Preconditions
// =============================================================================

// TestApply_RejectsLeaveDocumentUnchanged checks every rejection path and
// that a rejected op never writes to the document.
func TestApply_RejectsLeaveDocumentUnchanged(t *testing.T) {
	dupSlots := pt.Block("d", "Oscillator",
		[]model.Slot{pt.Slot("x", pt.SignalFloat), pt.Slot("x", pt.SignalFloat)}, nil)
	badCombine := model.CombineMode("loudest")
	danglingRing := ringDef()
	danglingRing.ID = "broken"
	danglingRing.ExposedOutputs[0].Inner = pt.Port("inner", "nope")

	tests := []struct {
		name  string
		setup func() *model.Patch
		op    Op
		want  error
	}{
		{"duplicate block", pt.Basic, BlockAdd{Block: pt.Oscillator("a")}, ErrDuplicateID},
		{"remove missing block", pt.Basic, BlockRemove{BlockID: "zzz"}, ErrNotFound},
		{"remove wired block", pt.Basic, BlockRemove{BlockID: "a"}, ErrInUse},
		{"remove designated time root", func() *model.Patch {
			p := pt.Basic()
			p.Settings.TimeRootID = "root"
			return p
		}, BlockRemove{BlockID: "root"}, ErrInUse},
		{"retype drops connected slot", pt.Basic, BlockRetype{
			BlockID: "b", Type: "Oscillator",
			Outputs: []model.Slot{pt.Slot("out", pt.SignalFloat)},
		}, ErrInUse},
		{"block of unknown composite", pt.Basic, BlockAdd{
			Block: pt.Block("r", model.CompositeTypePrefix+"nope", nil, nil),
		}, ErrNotFound},
		{"duplicate slot ids", pt.Basic, BlockAdd{Block: dupSlots}, ErrInvalidOp},
		{"wire to missing slot", pt.Basic, WireAdd{
			Edge: pt.Edge("e2", pt.Port("a", "out"), pt.Port("b", "nope")),
		}, ErrDanglingEndpoint},
		{"wire from an input slot", pt.Basic, WireAdd{
			Edge: pt.Edge("e2", pt.Port("a", "freq"), pt.Port("b", "freq")),
		}, ErrDanglingEndpoint},
		{"duplicate edge", pt.Basic, WireAdd{
			Edge: pt.Edge("e1", pt.Port("a", "out"), pt.Port("b", "freq")),
		}, ErrDuplicateID},
		{"retarget without endpoints", pt.Basic, WireRetarget{EdgeID: "e1"}, ErrInvalidOp},
		{"remove bus with bindings", withBus, BusRemove{BusID: "energy"}, ErrInUse},
		{"empty bus update", withBus, BusUpdate{BusID: "energy"}, ErrInvalidOp},
		{"invalid combine mode", withBus, BusUpdate{
			BusID: "energy", Patch: BusPatch{Combine: &badCombine},
		}, ErrInvalidOp},
		{"publisher on unknown bus", pt.Basic, PublisherAdd{
			Publisher: pt.Publisher("p9", "nope", pt.Port("a", "out"), 0),
		}, ErrNotFound},
		{"listener to missing block", withBus, ListenerAdd{
			Listener: pt.Listener("l9", "energy", pt.Port("ghost", "freq")),
		}, ErrDanglingEndpoint},
		{"remove instantiated composite", func() *model.Patch {
			p := withRing()
			p.Blocks["r1"] = pt.Block("r1", model.CompositeTypePrefix+"ring", nil, nil)
			return p
		}, CompositeDefRemove{CompositeID: "ring"}, ErrInUse},
		{"exposed port dangling", pt.Basic, CompositeDefAdd{Def: danglingRing}, ErrDanglingEndpoint},
		{"empty param patch", pt.Basic, BlockPatchParams{BlockID: "a"}, ErrInvalidOp},
		{"set and unset same key", pt.Basic, BlockPatchParams{
			BlockID: "a", Set: map[string]any{"k": 1.0}, Unset: []string{"k"},
		}, ErrInvalidOp},
		{"time root on missing block", pt.Basic, TimeRootSet{BlockID: "ghost"}, ErrNotFound},
		{"remove missing asset", pt.Basic, AssetRemove{AssetID: "ghost"}, ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.setup()
			before := p.Clone()

			err := Apply(p, tt.op)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Apply() error = %v, want %v", err, tt.want)
			}
			if !model.Equal(before, p) {
				t.Error("rejected op modified the document")
			}
		})
	}
}
