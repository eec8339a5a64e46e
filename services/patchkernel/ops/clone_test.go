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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/patchkernel/services/patchkernel/model"
	pt "github.com/AleutianAI/patchkernel/services/patchkernel/patchtest"
)

func TestClone_DetachesPayload(t *testing.T) {
	tests := []struct {
		name   string
		op     func() Op
		mutate func(Op)
	}{
		{
			name: "BlockPatchParams",
			op: func() Op {
				return BlockPatchParams{BlockID: "a", Set: map[string]any{"rate": 1.0, "curve": []any{0.0}}, Unset: []string{"x"}}
			},
			mutate: func(op Op) {
				o := op.(BlockPatchParams)
				o.Set["rate"] = 2.0
				o.Set["curve"].([]any)[0] = 5.0
				o.Unset[0] = "y"
			},
		},
		{
			name: "BlockAdd",
			op: func() Op {
				b := pt.Oscillator("c")
				b.Params["gain"] = 0.5
				return BlockAdd{Block: b}
			},
			mutate: func(op Op) {
				o := op.(BlockAdd)
				o.Block.Params["gain"] = 9.0
				o.Block.Outputs[0].ID = "other"
			},
		},
		{
			name: "WireAdd",
			op: func() Op {
				e := pt.Edge("w", pt.Port("a", "out"), pt.Port("b", "freq"))
				e.Transforms = []model.TransformStep{{Kind: model.TransformLens, Name: "scale", Params: map[string]any{"k": 2.0}}}
				return WireAdd{Edge: e}
			},
			mutate: func(op Op) {
				op.(WireAdd).Edge.Transforms[0].Params["k"] = 3.0
			},
		},
		{
			name: "WireRetarget",
			op: func() Op {
				to := pt.Port("b", "freq")
				return WireRetarget{EdgeID: "e1", To: &to}
			},
			mutate: func(op Op) {
				op.(WireRetarget).To.SlotID = "other"
			},
		},
		{
			name: "BusUpdate",
			op: func() Op {
				name := "energy"
				return BusUpdate{BusID: "bus", Patch: BusPatch{Name: &name, SetDefault: true, Default: map[string]any{"v": 1.0}}}
			},
			mutate: func(op Op) {
				o := op.(BusUpdate)
				*o.Patch.Name = "changed"
				o.Patch.Default.(map[string]any)["v"] = 2.0
			},
		},
		{
			name: "AssetUpdate",
			op: func() Op {
				uri := "file://a.png"
				return AssetUpdate{AssetID: "logo", Patch: AssetPatch{URI: &uri, Meta: map[string]string{"w": "1"}}}
			},
			mutate: func(op Op) {
				o := op.(AssetUpdate)
				*o.Patch.URI = "file://b.png"
				o.Patch.Meta["w"] = "2"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.op()
			clone := Clone(original)
			assert.Equal(t, tt.op(), clone)

			tt.mutate(original)
			assert.Equal(t, tt.op(), clone, "clone changed with the original")
		})
	}
}

func TestCloneAll(t *testing.T) {
	assert.Nil(t, CloneAll(nil))

	list := []Op{BlockSetLabel{BlockID: "a", Label: "x"}, TimeRootSet{BlockID: "root"}}
	assert.Equal(t, list, CloneAll(list))
}
