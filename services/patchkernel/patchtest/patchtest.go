// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package patchtest provides document fixtures for tests of the patch kernel
// packages.
package patchtest

import (
	"github.com/AleutianAI/patchkernel/services/patchkernel/model"
)

// Common slot types.
var (
	SignalFloat = model.TypeDesc{World: model.WorldSignal, Domain: "float"}
	SignalColor = model.TypeDesc{World: model.WorldSignal, Domain: "color"}
	ScalarFloat = model.TypeDesc{World: model.WorldScalar, Domain: "float"}
	FieldVec2   = model.TypeDesc{World: model.WorldField, Domain: "vec2"}
)

// Slot builds a slot descriptor.
func Slot(id string, t model.TypeDesc) model.Slot {
	return model.Slot{ID: id, Type: t}
}

// Block builds a block with empty params.
func Block(id, blockType string, inputs, outputs []model.Slot) model.Block {
	return model.Block{
		ID:      id,
		Type:    blockType,
		Params:  map[string]any{},
		Inputs:  inputs,
		Outputs: outputs,
	}
}

// Oscillator builds a signal:float block with input "freq" and output "out".
func Oscillator(id string) model.Block {
	return Block(id, "Oscillator",
		[]model.Slot{Slot("freq", SignalFloat)},
		[]model.Slot{Slot("out", SignalFloat)})
}

// ColorSource builds a block with a single signal:color output "out".
func ColorSource(id string) model.Block {
	return Block(id, "ColorSource", nil, []model.Slot{Slot("out", SignalColor)})
}

// TimeRoot builds a finite time-anchor block with output "phase".
func TimeRoot(id string) model.Block {
	return Block(id, "FiniteTimeRoot", nil, []model.Slot{Slot("phase", SignalFloat)})
}

// Port builds a port reference.
func Port(blockID, slotID string) model.PortRef {
	return model.PortRef{BlockID: blockID, SlotID: slotID}
}

// Edge builds an enabled wire.
func Edge(id string, from, to model.PortRef) model.Edge {
	return model.Edge{ID: id, From: from, To: to, Enabled: true}
}

// Bus builds a bus that combines with "last".
func Bus(id string, t model.TypeDesc) model.Bus {
	return model.Bus{ID: id, Name: id, Type: t, Combine: model.CombineLast}
}

// Publisher builds an enabled publisher.
func Publisher(id, busID string, from model.PortRef, sortKey int) model.Publisher {
	return model.Publisher{ID: id, BusID: busID, From: from, Enabled: true, SortKey: sortKey}
}

// Listener builds an enabled listener.
func Listener(id, busID string, to model.PortRef) model.Listener {
	return model.Listener{ID: id, BusID: busID, To: to, Enabled: true}
}

// Basic returns a small valid document: time root "root", oscillators
// "a" and "b", and edge "e1" wiring a.out into b.freq.
func Basic() *model.Patch {
	p := model.New("basic")
	for _, b := range []model.Block{TimeRoot("root"), Oscillator("a"), Oscillator("b")} {
		p.Blocks[b.ID] = b
	}
	p.Edges["e1"] = Edge("e1", Port("a", "out"), Port("b", "freq"))
	return p
}
