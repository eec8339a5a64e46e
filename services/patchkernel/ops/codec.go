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
	"fmt"
	"slices"

	"github.com/goccy/go-json"
)

// Envelope is the serialized form of one op: {"op": "<Kind>", "data": {...}}.
type Envelope struct {
	Op   Kind            `json:"op"`
	Data json.RawMessage `json:"data"`
}

var decoders = map[Kind]func([]byte) (Op, error){
	KindBlockAdd:         decodeAs[BlockAdd],
	KindBlockRemove:      decodeAs[BlockRemove],
	KindBlockRetype:      decodeAs[BlockRetype],
	KindBlockSetLabel:    decodeAs[BlockSetLabel],
	KindBlockPatchParams: decodeAs[BlockPatchParams],

	KindWireAdd:      decodeAs[WireAdd],
	KindWireRemove:   decodeAs[WireRemove],
	KindWireRetarget: decodeAs[WireRetarget],

	KindBusAdd:    decodeAs[BusAdd],
	KindBusRemove: decodeAs[BusRemove],
	KindBusUpdate: decodeAs[BusUpdate],

	KindPublisherAdd:    decodeAs[PublisherAdd],
	KindPublisherRemove: decodeAs[PublisherRemove],
	KindPublisherUpdate: decodeAs[PublisherUpdate],

	KindListenerAdd:    decodeAs[ListenerAdd],
	KindListenerRemove: decodeAs[ListenerRemove],
	KindListenerUpdate: decodeAs[ListenerUpdate],

	KindCompositeDefAdd:          decodeAs[CompositeDefAdd],
	KindCompositeDefRemove:       decodeAs[CompositeDefRemove],
	KindCompositeDefUpdate:       decodeAs[CompositeDefUpdate],
	KindCompositeDefReplaceGraph: decodeAs[CompositeDefReplaceGraph],

	KindTimeRootSet:         decodeAs[TimeRootSet],
	KindPatchSettingsUpdate: decodeAs[PatchSettingsUpdate],

	KindAssetAdd:    decodeAs[AssetAdd],
	KindAssetRemove: decodeAs[AssetRemove],
	KindAssetUpdate: decodeAs[AssetUpdate],
}

func decodeAs[T Op](raw []byte) (Op, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Kinds returns every registered op kind, sorted.
func Kinds() []Kind {
	out := make([]Kind, 0, len(decoders))
	for k := range decoders {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Wrap builds the envelope of an op.
func Wrap(op Op) (Envelope, error) {
	if op == nil {
		return Envelope{}, ErrNilOp
	}
	data, err := json.Marshal(op)
	if err != nil {
		return Envelope{}, fmt.Errorf("encoding %s: %w", op.Kind(), err)
	}
	return Envelope{Op: op.Kind(), Data: data}, nil
}

// Unwrap decodes the op carried by an envelope.
func (e Envelope) Unwrap() (Op, error) {
	dec, ok := decoders[e.Op]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, e.Op)
	}
	op, err := dec(e.Data)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", e.Op, err)
	}
	return op, nil
}

// Marshal encodes one op as an envelope.
func Marshal(op Op) ([]byte, error) {
	env, err := Wrap(op)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Unmarshal decodes one enveloped op.
func Unmarshal(data []byte) (Op, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding op envelope: %w", err)
	}
	return env.Unwrap()
}

// MarshalList encodes an op sequence as a JSON array of envelopes.
func MarshalList(list []Op) ([]byte, error) {
	envs := make([]Envelope, 0, len(list))
	for _, op := range list {
		env, err := Wrap(op)
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	return json.Marshal(envs)
}

// UnmarshalList decodes a JSON array of envelopes.
func UnmarshalList(data []byte) ([]Op, error) {
	var envs []Envelope
	if err := json.Unmarshal(data, &envs); err != nil {
		return nil, fmt.Errorf("decoding op list: %w", err)
	}
	out := make([]Op, 0, len(envs))
	for i, env := range envs {
		op, err := env.Unwrap()
		if err != nil {
			return nil, fmt.Errorf("op %d: %w", i, err)
		}
		out = append(out, op)
	}
	return out, nil
}
