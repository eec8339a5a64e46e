// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/patchkernel/services/patchkernel/model"
	"github.com/AleutianAI/patchkernel/services/patchkernel/ops"
	pt "github.com/AleutianAI/patchkernel/services/patchkernel/patchtest"
)

func TestSummarize_Categories(t *testing.T) {
	title := "demo"

	tests := []struct {
		name string
		list []ops.Op
		want Category
	}{
		{"structural only", []ops.Op{
			ops.BlockAdd{Block: pt.Oscillator("c")},
			ops.WireRemove{EdgeID: "e1"},
		}, CategoryStructural},
		{"parameter only", []ops.Op{
			ops.BlockSetLabel{BlockID: "a", Label: "x"},
			ops.BlockPatchParams{BlockID: "a", Set: map[string]any{"rate": 1.0}},
		}, CategoryParameter},
		{"time only", []ops.Op{
			ops.TimeRootSet{BlockID: "root"},
			ops.PatchSettingsUpdate{Patch: ops.SettingsPatch{Title: &title}},
		}, CategoryTime},
		{"composite only", []ops.Op{ops.CompositeDefRemove{CompositeID: "ring"}}, CategoryComposite},
		{"asset only", []ops.Op{ops.AssetRemove{AssetID: "logo"}}, CategoryAsset},
		{"spanning categories", []ops.Op{
			ops.BlockAdd{Block: pt.Oscillator("c")},
			ops.BlockSetLabel{BlockID: "c", Label: "x"},
		}, CategoryMixed},
		{"empty", nil, CategoryMixed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Summarize(tt.list).Category)
		})
	}
}

func TestSummarize_RefsInFirstAppearanceOrder(t *testing.T) {
	list := []ops.Op{
		ops.WireRemove{EdgeID: "e1"},
		ops.BlockAdd{Block: pt.Oscillator("z")},
		ops.BlockSetLabel{BlockID: "z", Label: "new"},
		ops.BlockSetLabel{BlockID: "b", Label: "b2"},
		ops.BlockAdd{Block: pt.Oscillator("c")},
		ops.BlockPatchParams{BlockID: "b", Set: map[string]any{"k": 1.0}},
		ops.BlockRemove{BlockID: "a"},
	}

	s := Summarize(list)

	assert.Equal(t, 7, s.OpCount)
	assert.Equal(t, []EntityRef{{EntityBlock, "z"}, {EntityBlock, "c"}}, s.Created)
	assert.Equal(t, []EntityRef{{EntityEdge, "e1"}, {EntityBlock, "a"}}, s.Removed)
	assert.Equal(t, []EntityRef{{EntityBlock, "b"}}, s.Updated)
	assert.Equal(t, Summarize(list), s, "summaries must be deterministic")
}

func TestSummary_Lines(t *testing.T) {
	s := Summarize([]ops.Op{
		ops.BlockAdd{Block: pt.Oscillator("c")},
		ops.WireAdd{Edge: pt.Edge("w", pt.Port("c", "out"), pt.Port("a", "freq"))},
		ops.BusRemove{BusID: "old"},
		ops.WireRetarget{EdgeID: "e1", To: &model.PortRef{BlockID: "c", SlotID: "freq"}},
	})

	assert.Equal(t, []string{
		"structural change (4 ops): 2 created, 1 removed, 1 updated",
		"+ block c",
		"+ edge w",
		"- bus old",
		"~ edge e1",
	}, s.Lines())
}
