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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/patchkernel/services/patchkernel/model"
	pt "github.com/AleutianAI/patchkernel/services/patchkernel/patchtest"
)

func TestMarshal_EnvelopeShape(t *testing.T) {
	data, err := Marshal(BlockSetLabel{BlockID: "a", Label: "Lead"})
	require.NoError(t, err)

	s := string(data)
	assert.True(t, strings.Contains(s, `"op":"BlockSetLabel"`), s)
	assert.True(t, strings.Contains(s, `"blockId":"a"`), s)
}

func TestMarshalList_DecodesToSameOps(t *testing.T) {
	to := pt.Port("b", "freq")
	sum := model.CombineSum
	block := pt.Oscillator("c")
	block.Params["rate"] = 2.5

	list := []Op{
		BlockAdd{Block: block},
		WireRetarget{EdgeID: "e1", To: &to},
		BusUpdate{BusID: "energy", Patch: BusPatch{Combine: &sum}},
		TimeRootSet{BlockID: "root"},
	}

	data, err := MarshalList(list)
	require.NoError(t, err)

	got, err := UnmarshalList(data)
	require.NoError(t, err)
	assert.Equal(t, list, got)
}

func TestUnmarshal_UnknownKind(t *testing.T) {
	_, err := Unmarshal([]byte(`{"op":"Explode","data":{}}`))
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestUnmarshal_MalformedData(t *testing.T) {
	_, err := Unmarshal([]byte(`{"op":"BlockRemove","data":{"blockId":5}}`))
	assert.Error(t, err)
}

func TestKinds_CoversEveryDecoder(t *testing.T) {
	kinds := Kinds()
	assert.Len(t, kinds, 26)
	assert.IsIncreasing(t, kinds)
}
