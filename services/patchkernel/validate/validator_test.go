// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/patchkernel/services/patchkernel/graph"
	"github.com/AleutianAI/patchkernel/services/patchkernel/model"
	pt "github.com/AleutianAI/patchkernel/services/patchkernel/patchtest"
)

func run(p *model.Patch, opts ...Option) Result {
	return New(graph.Build(p), p, 1, opts...).Validate()
}

func preflight(p *model.Patch, from, to model.PortRef) Result {
	return New(graph.Build(p), p, 1).Preflight(from, to)
}

// =============================================================================
// Full validation
// =============================================================================

func TestValidate_OscillatorIntoScale(t *testing.T) {
	p := model.New("scenario")
	p.Blocks["root"] = pt.TimeRoot("root")
	p.Blocks["A"] = pt.Block("A", "Oscillator", nil, []model.Slot{pt.Slot("value", pt.SignalFloat)})
	p.Blocks["B"] = pt.Block("B", "Scale", []model.Slot{pt.Slot("value", pt.SignalFloat)}, nil)
	p.Edges["w"] = pt.Edge("w", pt.Port("A", "value"), pt.Port("B", "value"))

	res := run(p)

	assert.True(t, res.OK, "unexpected errors: %v", res.Errors)
	assert.Empty(t, res.Errors)
	assert.Equal(t, uint64(1), res.Revision)
}

func TestValidate_MultipleWriters(t *testing.T) {
	p := pt.Basic()
	p.Blocks["c"] = pt.Oscillator("c")
	p.Edges["e2"] = pt.Edge("e2", pt.Port("c", "out"), pt.Port("b", "freq"))

	res := run(p)

	require.False(t, res.OK)
	writers := res.ByCode(CodeMultipleWriters)
	require.Len(t, writers, 1)
	assert.Equal(t, []string{"e1", "e2"}, writers[0].Related)
	assert.Equal(t, Target{Kind: TargetPort, BlockID: "b", SlotID: "freq"}, writers[0].Target)
	assert.Len(t, res.Errors, 1)
}

func TestValidate_ListenerCountsAsWriter(t *testing.T) {
	p := pt.Basic()
	p.Buses["bus"] = pt.Bus("bus", pt.SignalFloat)
	p.Publishers["p"] = pt.Publisher("p", "bus", pt.Port("root", "phase"), 0)
	p.Listeners["l"] = pt.Listener("l", "bus", pt.Port("b", "freq"))

	writers := run(p).ByCode(CodeMultipleWriters)

	require.Len(t, writers, 1)
	assert.Equal(t, []string{"e1", "l"}, writers[0].Related)
}

func TestValidate_TimeRootCardinality(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		p := pt.Basic()
		delete(p.Blocks, "root")

		res := run(p)

		require.Len(t, res.Errors, 1)
		assert.Equal(t, CodeTimeRootMissing, res.Errors[0].Code)
		assert.Equal(t, TargetTimeRoot, res.Errors[0].Target.Kind)
	})

	t.Run("multiple names the extras", func(t *testing.T) {
		p := pt.Basic()
		p.Blocks["root2"] = pt.TimeRoot("root2")
		p.Blocks["cycle"] = pt.Block("cycle", "CycleTimeRoot", nil, nil)

		res := run(p)

		require.Len(t, res.Errors, 1)
		assert.Equal(t, CodeTimeRootMultiple, res.Errors[0].Code)
		assert.Equal(t, "cycle", res.Errors[0].Target.BlockID)
		assert.Equal(t, []string{"root", "root2"}, res.Errors[0].Related)
	})

	t.Run("designation picks the primary", func(t *testing.T) {
		p := pt.Basic()
		p.Blocks["root2"] = pt.TimeRoot("root2")
		p.Settings.TimeRootID = "root2"

		res := run(p)

		require.Len(t, res.Errors, 1)
		assert.Equal(t, "root2", res.Errors[0].Target.BlockID)
		assert.Equal(t, []string{"root"}, res.Errors[0].Related)
	})

	t.Run("stale designation warns", func(t *testing.T) {
		p := pt.Basic()
		p.Settings.TimeRootID = "a"

		res := run(p)

		assert.True(t, res.OK)
		assert.Len(t, res.ByCode(CodeTimeRootUnresolved), 1)
	})

	t.Run("custom anchor types", func(t *testing.T) {
		p := pt.Basic()

		res := run(p, WithTimeRootTypes("Clock"))

		assert.Len(t, res.ByCode(CodeTimeRootMissing), 1)
	})
}

func TestValidate_TypeMismatch(t *testing.T) {
	p := pt.Basic()
	p.Blocks["col"] = pt.ColorSource("col")
	p.Blocks["c"] = pt.Oscillator("c")
	p.Edges["bad"] = pt.Edge("bad", pt.Port("col", "out"), pt.Port("c", "freq"))

	res := run(p)

	mismatches := res.ByCode(CodeTypeMismatch)
	require.Len(t, mismatches, 1)
	assert.Equal(t, Target{Kind: TargetBinding, ID: "bad"}, mismatches[0].Target)
}

func TestValidate_TransformChainFixesType(t *testing.T) {
	p := pt.Basic()
	p.Blocks["col"] = pt.ColorSource("col")
	p.Blocks["c"] = pt.Oscillator("c")
	e := pt.Edge("adapted", pt.Port("col", "out"), pt.Port("c", "freq"))
	e.Transforms = []model.TransformStep{
		{Kind: model.TransformAdapter, Name: "luminance", Output: &pt.SignalFloat},
		{Kind: model.TransformLens, Name: "scale"},
	}
	p.Edges["adapted"] = e

	assert.True(t, run(p).OK)
}

func TestValidate_CustomOracle(t *testing.T) {
	strict := TypeOracleFunc(func(from, to model.TypeDesc) bool { return false })

	res := run(pt.Basic(), WithTypeOracle(strict))

	assert.Len(t, res.ByCode(CodeTypeMismatch), 1)
}

func TestValidate_Cycle(t *testing.T) {
	p := pt.Basic()
	p.Edges["back"] = pt.Edge("back", pt.Port("b", "out"), pt.Port("a", "freq"))

	res := run(p)

	cycles := res.ByCode(CodeCycleDetected)
	require.Len(t, cycles, 1)
	assert.Equal(t, TargetGraphSpan, cycles[0].Target.Kind)
	assert.Equal(t, []string{"a", "b"}, cycles[0].Target.Blocks)
}

func TestValidate_MissingEndpoints(t *testing.T) {
	p := pt.Basic()
	p.Edges["ghost"] = pt.Edge("ghost", pt.Port("a", "out"), pt.Port("nobody", "freq"))
	p.Publishers["p"] = pt.Publisher("p", "nobus", pt.Port("a", "out"), 0)
	p.Blocks["inst"] = pt.Block("inst", model.CompositeTypePrefix+"gone", nil, nil)

	res := run(p)

	missing := res.ByCode(CodeMissingEndpoint)
	require.Len(t, missing, 2)
	assert.Equal(t, "ghost", missing[0].Target.ID)
	assert.Equal(t, "p", missing[1].Target.ID)
	composite := res.ByCode(CodeMissingComposite)
	require.Len(t, composite, 1)
	assert.Equal(t, TargetComposite, composite[0].Target.Kind)
}

func TestValidate_ErrorPassOrder(t *testing.T) {
	p := pt.Basic()
	delete(p.Blocks, "root")
	p.Blocks["c"] = pt.Oscillator("c")
	p.Edges["e2"] = pt.Edge("e2", pt.Port("c", "out"), pt.Port("b", "freq"))
	p.Edges["back"] = pt.Edge("back", pt.Port("b", "out"), pt.Port("a", "freq"))
	p.Edges["ghost"] = pt.Edge("ghost", pt.Port("a", "out"), pt.Port("nobody", "freq"))

	res := run(p)

	var codes []Code
	for _, d := range res.Errors {
		codes = append(codes, d.Code)
	}
	assert.Equal(t, []Code{CodeTimeRootMissing, CodeMultipleWriters, CodeCycleDetected, CodeMissingEndpoint}, codes)
}

func TestValidate_BusWithoutPublishersIsWarning(t *testing.T) {
	p := pt.Basic()
	p.Buses["quiet"] = pt.Bus("quiet", pt.SignalFloat)

	res := run(p)

	assert.True(t, res.OK)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, CodeBusWithoutPublisher, res.Warnings[0].Code)
	assert.Equal(t, SeverityWarning, res.Warnings[0].Severity)
}

// =============================================================================
// Preflight
// =============================================================================

func TestPreflight(t *testing.T) {
	base := func() *model.Patch {
		p := pt.Basic()
		p.Blocks["c"] = pt.Oscillator("c")
		p.Blocks["col"] = pt.ColorSource("col")
		return p
	}

	tests := []struct {
		name     string
		from, to model.PortRef
		want     Code
	}{
		{"missing output", pt.Port("ghost", "out"), pt.Port("c", "freq"), CodeMissingEndpoint},
		{"missing input", pt.Port("a", "out"), pt.Port("c", "nope"), CodeMissingEndpoint},
		{"type mismatch", pt.Port("col", "out"), pt.Port("c", "freq"), CodeTypeMismatch},
		{"existing writer", pt.Port("c", "out"), pt.Port("b", "freq"), CodeMultipleWriters},
		{"cycle", pt.Port("b", "out"), pt.Port("a", "freq"), CodeCycleDetected},
		{"ok", pt.Port("b", "out"), pt.Port("c", "freq"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := preflight(base(), tt.from, tt.to)
			if tt.want == "" {
				assert.True(t, res.OK)
				assert.Empty(t, res.Errors)
				return
			}
			require.Len(t, res.Errors, 1)
			assert.Equal(t, tt.want, res.Errors[0].Code)
		})
	}
}

func TestPreflight_ShortCircuitsOnFirstFailure(t *testing.T) {
	p := pt.Basic()
	p.Blocks["col"] = pt.ColorSource("col")

	// Type mismatch and existing writer both apply; only the mismatch is reported.
	res := preflight(p, pt.Port("col", "out"), pt.Port("b", "freq"))

	require.Len(t, res.Errors, 1)
	assert.Equal(t, CodeTypeMismatch, res.Errors[0].Code)
}

func TestDefaultOracle(t *testing.T) {
	tests := []struct {
		name     string
		from, to model.TypeDesc
		want     bool
	}{
		{"identical", pt.SignalFloat, pt.SignalFloat, true},
		{"scalar promotes to signal", pt.ScalarFloat, pt.SignalFloat, true},
		{"signal does not demote", pt.SignalFloat, pt.ScalarFloat, false},
		{"domain mismatch", pt.SignalColor, pt.SignalFloat, false},
		{"any domain", model.TypeDesc{World: model.WorldSignal, Domain: model.DomainAny}, pt.SignalColor, true},
		{"event only to event", model.TypeDesc{World: model.WorldEvent, Domain: "float"}, pt.SignalFloat, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultOracle.Compatible(tt.from, tt.to))
		})
	}
}
