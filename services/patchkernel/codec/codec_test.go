// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package codec

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/patchkernel/services/patchkernel/model"
	pt "github.com/AleutianAI/patchkernel/services/patchkernel/patchtest"
)

func sample() *model.Patch {
	p := pt.Basic()
	a := p.Blocks["a"]
	a.Params["rate"] = 2.5
	a.Params["shape"] = "sine"
	a.Label = "Osc A"
	p.Blocks["a"] = a
	p.Buses["bus"] = pt.Bus("bus", pt.SignalFloat)
	p.Publishers["p"] = pt.Publisher("p", "bus", pt.Port("a", "out"), 3)
	p.Settings.Title = "sample"
	p.Settings.TimeRootID = "root"
	return p
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	for _, f := range []Format{FormatJSON, FormatYAML} {
		t.Run(string(f), func(t *testing.T) {
			in := sample()

			data, err := Encode(in, f)
			require.NoError(t, err)
			out, err := Decode(data, f)
			require.NoError(t, err)

			assert.True(t, model.Equal(in, out), "round trip changed the document:\n%s", data)
		})
	}
}

func TestFingerprint(t *testing.T) {
	p := sample()

	h1, err := Fingerprint(p)
	require.NoError(t, err)
	assert.Len(t, h1, 64)

	h2, err := Fingerprint(p.Clone())
	require.NoError(t, err)
	assert.Equal(t, h1, h2, "equal documents must hash equally")

	yamlData, err := Encode(p, FormatYAML)
	require.NoError(t, err)
	fromYAML, err := Decode(yamlData, FormatYAML)
	require.NoError(t, err)
	h3, err := Fingerprint(fromYAML)
	require.NoError(t, err)
	assert.Equal(t, h1, h3, "format must not affect the fingerprint")

	changed := p.Clone()
	b := changed.Blocks["b"]
	b.Label = "different"
	changed.Blocks["b"] = b
	h4, err := Fingerprint(changed)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h4)
}

func TestDecode_Normalizes(t *testing.T) {
	p, err := Decode([]byte(`{"id": "bare", "blocks": {"x": {"id": "x", "type": "Oscillator"}}}`), FormatJSON)
	require.NoError(t, err)

	assert.NotNil(t, p.Edges)
	assert.NotNil(t, p.Assets)
	assert.NotNil(t, p.Blocks["x"].Params)
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"malformed", `{"blocks": `},
		{"key mismatch", `{"blocks": {"x": {"id": "y", "type": "T"}}}`},
		{"missing block type", `{"blocks": {"x": {"id": "x"}}}`},
		{"bad combine", `{"buses": {"b": {"id": "b", "name": "b", "type": {"world": "signal", "domain": "float"}, "combine": "blend"}}}`},
		{"bad world", `{"blocks": {"x": {"id": "x", "type": "T", "outputs": [{"id": "o", "type": {"world": "astral", "domain": "float"}}]}}}`},
		{"duplicate slot", `{"blocks": {"x": {"id": "x", "type": "T", "inputs": [
			{"id": "i", "type": {"world": "signal", "domain": "float"}},
			{"id": "i", "type": {"world": "signal", "domain": "float"}}]}}}`},
		{"edge without endpoint", `{"edges": {"e": {"id": "e", "from": {"block": "a"}, "to": {"block": "b", "slot": "i"}}}}`},
		{"frame rate", `{"settings": {"frameRate": 1000}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data), FormatJSON)
			assert.ErrorIs(t, err, ErrInvalidDocument)
		})
	}
}

func TestFormatFromPath(t *testing.T) {
	tests := []struct {
		path string
		want Format
		err  bool
	}{
		{"patch.json", FormatJSON, false},
		{"dir/patch.YAML", FormatYAML, false},
		{"patch.yml", FormatYAML, false},
		{"patch.toml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := FormatFromPath(tt.path)
			if tt.err {
				assert.ErrorIs(t, err, ErrUnknownFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	for _, name := range []string{"patch.json", "patch.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			in := sample()

			require.NoError(t, Save(ctx, path, in))
			out, err := Load(ctx, path)
			require.NoError(t, err)
			assert.True(t, model.Equal(in, out))

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			for _, e := range entries {
				assert.NotContains(t, e.Name(), ".patch", "temp file left behind")
			}
		})
	}

	t.Run("missing", func(t *testing.T) {
		_, err := Load(ctx, filepath.Join(dir, "absent.json"))
		assert.Error(t, err)
	})
}
