// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package model defines the Patch document: the canonical, serializable
// program graph that the kernel mutates.
//
// # Ownership Model
//
// A Patch is a plain value tree. Collections are maps keyed by entity id
// and hold entity values (not pointers), so a Clone() shares nothing with
// its source. Only the ops package mutates a Patch; everything else reads.
//
// # Nil Collections
//
// New() and Normalize() guarantee every top-level collection and every
// Block.Params map is non-nil. Equality is exact (reflect.DeepEqual), so
// keeping nil-ness stable is what makes op round-trips compare equal.
package model

import "strings"

// CompositeTypePrefix marks a block type that instantiates a composite
// definition, e.g. "composite:ring".
const CompositeTypePrefix = "composite:"

// World is the evaluation world of a value flowing through a slot.
type World string

const (
	WorldScalar World = "scalar"
	WorldSignal World = "signal"
	WorldField  World = "field"
	WorldEvent  World = "event"
	WorldConfig World = "config"
)

// DomainAny matches every domain in type compatibility checks.
const DomainAny = "any"

// TypeDesc describes the type carried by a slot or bus.
type TypeDesc struct {
	World  World  `json:"world" yaml:"world" validate:"required,oneof=scalar signal field event config"`
	Domain string `json:"domain" yaml:"domain" validate:"required"`
}

// String renders the descriptor as "world:domain".
func (t TypeDesc) String() string {
	return string(t.World) + ":" + t.Domain
}

// Slot is one input or output port declaration on a block.
type Slot struct {
	ID    string   `json:"id" yaml:"id" validate:"required"`
	Label string   `json:"label,omitempty" yaml:"label,omitempty"`
	Type  TypeDesc `json:"type" yaml:"type"`
}

// Block is a typed node in the patch.
type Block struct {
	ID      string         `json:"id" yaml:"id" validate:"required"`
	Type    string         `json:"type" yaml:"type" validate:"required"`
	Label   string         `json:"label,omitempty" yaml:"label,omitempty"`
	Params  map[string]any `json:"params" yaml:"params"`
	Inputs  []Slot         `json:"inputs,omitempty" yaml:"inputs,omitempty" validate:"unique=ID,dive"`
	Outputs []Slot         `json:"outputs,omitempty" yaml:"outputs,omitempty" validate:"unique=ID,dive"`
}

// Input returns the input slot with the given id.
func (b *Block) Input(slotID string) (Slot, bool) {
	for _, s := range b.Inputs {
		if s.ID == slotID {
			return s, true
		}
	}
	return Slot{}, false
}

// Output returns the output slot with the given id.
func (b *Block) Output(slotID string) (Slot, bool) {
	for _, s := range b.Outputs {
		if s.ID == slotID {
			return s, true
		}
	}
	return Slot{}, false
}

// CompositeID returns the referenced composite definition id when the block
// instantiates a composite.
func (b *Block) CompositeID() (string, bool) {
	if !strings.HasPrefix(b.Type, CompositeTypePrefix) {
		return "", false
	}
	return strings.TrimPrefix(b.Type, CompositeTypePrefix), true
}

// PortRef addresses one slot on one block.
type PortRef struct {
	BlockID string `json:"block" yaml:"block" validate:"required"`
	SlotID  string `json:"slot" yaml:"slot" validate:"required"`
}

// String renders the reference as "block.slot".
func (r PortRef) String() string {
	return r.BlockID + "." + r.SlotID
}

// TransformKind distinguishes type-adapting steps on a connection.
type TransformKind string

const (
	TransformAdapter TransformKind = "adapter"
	TransformLens    TransformKind = "lens"
)

// TransformStep is one element of an edge's adapter chain. When Output is
// set the step changes the carried type; otherwise it preserves it.
type TransformStep struct {
	Kind   TransformKind  `json:"kind" yaml:"kind" validate:"required,oneof=adapter lens"`
	Name   string         `json:"name" yaml:"name" validate:"required"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	Output *TypeDesc      `json:"output,omitempty" yaml:"output,omitempty"`
}

// Edge is a direct port-to-port wire.
type Edge struct {
	ID         string          `json:"id" yaml:"id" validate:"required"`
	From       PortRef         `json:"from" yaml:"from"`
	To         PortRef         `json:"to" yaml:"to"`
	Transforms []TransformStep `json:"transforms,omitempty" yaml:"transforms,omitempty" validate:"dive"`
	Enabled    bool            `json:"enabled" yaml:"enabled"`
}

// CombineMode decides how a bus merges multiple publishers.
type CombineMode string

const (
	CombineLast    CombineMode = "last"
	CombineSum     CombineMode = "sum"
	CombineAverage CombineMode = "average"
	CombineMax     CombineMode = "max"
	CombineMin     CombineMode = "min"
	CombineLayer   CombineMode = "layer"
)

// Bus is a named, typed shared channel.
type Bus struct {
	ID      string      `json:"id" yaml:"id" validate:"required"`
	Name    string      `json:"name" yaml:"name" validate:"required"`
	Type    TypeDesc    `json:"type" yaml:"type"`
	Combine CombineMode `json:"combine" yaml:"combine" validate:"required,oneof=last sum average max min layer"`
	Default any         `json:"default,omitempty" yaml:"default,omitempty"`
	SortKey int         `json:"sortKey" yaml:"sortKey"`
}

// Publisher writes a block output to a bus.
type Publisher struct {
	ID      string  `json:"id" yaml:"id" validate:"required"`
	BusID   string  `json:"bus" yaml:"bus" validate:"required"`
	From    PortRef `json:"from" yaml:"from"`
	Enabled bool    `json:"enabled" yaml:"enabled"`
	SortKey int     `json:"sortKey" yaml:"sortKey"`
}

// Listener feeds a bus into a block input.
type Listener struct {
	ID      string  `json:"id" yaml:"id" validate:"required"`
	BusID   string  `json:"bus" yaml:"bus" validate:"required"`
	To      PortRef `json:"to" yaml:"to"`
	Enabled bool    `json:"enabled" yaml:"enabled"`
}

// ExposedPort maps a composite's external port onto an inner block slot.
type ExposedPort struct {
	ID    string   `json:"id" yaml:"id" validate:"required"`
	Label string   `json:"label,omitempty" yaml:"label,omitempty"`
	Type  TypeDesc `json:"type" yaml:"type"`
	Inner PortRef  `json:"inner" yaml:"inner"`
}

// CompositeGraph is the inner graph of a composite definition.
type CompositeGraph struct {
	Blocks []Block `json:"blocks,omitempty" yaml:"blocks,omitempty" validate:"dive"`
	Edges  []Edge  `json:"edges,omitempty" yaml:"edges,omitempty" validate:"dive"`
}

// CompositeDef is a reusable sub-graph instantiated by blocks of type
// "composite:<id>".
type CompositeDef struct {
	ID             string         `json:"id" yaml:"id" validate:"required"`
	Label          string         `json:"label" yaml:"label"`
	Description    string         `json:"description,omitempty" yaml:"description,omitempty"`
	Graph          CompositeGraph `json:"graph" yaml:"graph"`
	ExposedInputs  []ExposedPort  `json:"exposedInputs,omitempty" yaml:"exposedInputs,omitempty" validate:"dive"`
	ExposedOutputs []ExposedPort  `json:"exposedOutputs,omitempty" yaml:"exposedOutputs,omitempty" validate:"dive"`
}

// Asset is an external resource referenced by the patch (image, font, audio).
type Asset struct {
	ID   string            `json:"id" yaml:"id" validate:"required"`
	Kind string            `json:"kind" yaml:"kind" validate:"required"`
	URI  string            `json:"uri" yaml:"uri" validate:"required"`
	Meta map[string]string `json:"meta,omitempty" yaml:"meta,omitempty"`
}

// Settings holds patch-wide playback settings.
type Settings struct {
	Title      string  `json:"title,omitempty" yaml:"title,omitempty"`
	Seed       int64   `json:"seed" yaml:"seed"`
	Speed      float64 `json:"speed" yaml:"speed" validate:"gte=0"`
	FrameRate  int     `json:"frameRate" yaml:"frameRate" validate:"gte=0,lte=240"`
	TimeRootID string  `json:"timeRoot,omitempty" yaml:"timeRoot,omitempty"`
}

// DefaultSettings returns the settings of a new patch.
func DefaultSettings() Settings {
	return Settings{Speed: 1, FrameRate: 60}
}

// Patch is the root document.
type Patch struct {
	ID         string                  `json:"id" yaml:"id"`
	Blocks     map[string]Block        `json:"blocks" yaml:"blocks" validate:"dive"`
	Edges      map[string]Edge         `json:"edges" yaml:"edges" validate:"dive"`
	Buses      map[string]Bus          `json:"buses" yaml:"buses" validate:"dive"`
	Publishers map[string]Publisher    `json:"publishers" yaml:"publishers" validate:"dive"`
	Listeners  map[string]Listener     `json:"listeners" yaml:"listeners" validate:"dive"`
	Composites map[string]CompositeDef `json:"composites" yaml:"composites" validate:"dive"`
	Assets     map[string]Asset        `json:"assets" yaml:"assets" validate:"dive"`
	Settings   Settings                `json:"settings" yaml:"settings"`
}

// New returns an empty patch with every collection allocated.
func New(id string) *Patch {
	return &Patch{
		ID:         id,
		Blocks:     make(map[string]Block),
		Edges:      make(map[string]Edge),
		Buses:      make(map[string]Bus),
		Publishers: make(map[string]Publisher),
		Listeners:  make(map[string]Listener),
		Composites: make(map[string]CompositeDef),
		Assets:     make(map[string]Asset),
		Settings:   DefaultSettings(),
	}
}

// Normalize allocates nil collections and nil block parameter maps in place.
// Loaders call it once after decoding.
func (p *Patch) Normalize() {
	if p.Blocks == nil {
		p.Blocks = make(map[string]Block)
	}
	if p.Edges == nil {
		p.Edges = make(map[string]Edge)
	}
	if p.Buses == nil {
		p.Buses = make(map[string]Bus)
	}
	if p.Publishers == nil {
		p.Publishers = make(map[string]Publisher)
	}
	if p.Listeners == nil {
		p.Listeners = make(map[string]Listener)
	}
	if p.Composites == nil {
		p.Composites = make(map[string]CompositeDef)
	}
	if p.Assets == nil {
		p.Assets = make(map[string]Asset)
	}
	for id, b := range p.Blocks {
		if b.Params == nil {
			b.Params = make(map[string]any)
			p.Blocks[id] = b
		}
	}
}
