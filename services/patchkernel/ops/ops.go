// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ops defines the closed vocabulary of document mutations and the
// pure functions that apply and invert them.
//
// # Contract
//
// Apply mutates a Patch in place on success and leaves it untouched on
// failure. Invert is called before Apply and returns the op that undoes it,
// or an error wrapping ErrNotInvertible. Ops never carry their own inverse.
//
// Round-trip law: for every invertible op o and document d,
//
//	inv, _ := Invert(d, o)
//	Apply(d, o)
//	Apply(d, inv)
//
// leaves d equal (model.Equal) to its original value.
package ops

import (
	"github.com/AleutianAI/patchkernel/services/patchkernel/model"
)

// Kind is the serialized tag of an op.
type Kind string

const (
	KindBlockAdd         Kind = "BlockAdd"
	KindBlockRemove      Kind = "BlockRemove"
	KindBlockRetype      Kind = "BlockRetype"
	KindBlockSetLabel    Kind = "BlockSetLabel"
	KindBlockPatchParams Kind = "BlockPatchParams"

	KindWireAdd      Kind = "WireAdd"
	KindWireRemove   Kind = "WireRemove"
	KindWireRetarget Kind = "WireRetarget"

	KindBusAdd    Kind = "BusAdd"
	KindBusRemove Kind = "BusRemove"
	KindBusUpdate Kind = "BusUpdate"

	KindPublisherAdd    Kind = "PublisherAdd"
	KindPublisherRemove Kind = "PublisherRemove"
	KindPublisherUpdate Kind = "PublisherUpdate"

	KindListenerAdd    Kind = "ListenerAdd"
	KindListenerRemove Kind = "ListenerRemove"
	KindListenerUpdate Kind = "ListenerUpdate"

	KindCompositeDefAdd          Kind = "CompositeDefAdd"
	KindCompositeDefRemove       Kind = "CompositeDefRemove"
	KindCompositeDefUpdate       Kind = "CompositeDefUpdate"
	KindCompositeDefReplaceGraph Kind = "CompositeDefReplaceGraph"

	KindTimeRootSet         Kind = "TimeRootSet"
	KindPatchSettingsUpdate Kind = "PatchSettingsUpdate"

	KindAssetAdd    Kind = "AssetAdd"
	KindAssetRemove Kind = "AssetRemove"
	KindAssetUpdate Kind = "AssetUpdate"
)

// Op is one atomic, serializable document mutation.
type Op interface {
	Kind() Kind
}

// -----------------------------------------------------------------------------
// Block ops
// -----------------------------------------------------------------------------

// BlockAdd inserts a new block.
type BlockAdd struct {
	Block model.Block `json:"block"`
}

// BlockRemove deletes a block that nothing references.
type BlockRemove struct {
	BlockID string `json:"blockId" validate:"required"`
}

// BlockRetype replaces a block's type tag and slot descriptors. Parameters
// are kept. Every slot that a connection uses must survive the retype.
type BlockRetype struct {
	BlockID string       `json:"blockId" validate:"required"`
	Type    string       `json:"type" validate:"required"`
	Inputs  []model.Slot `json:"inputs,omitempty" validate:"unique=ID,dive"`
	Outputs []model.Slot `json:"outputs,omitempty" validate:"unique=ID,dive"`
}

// BlockSetLabel changes a block's display label.
type BlockSetLabel struct {
	BlockID string `json:"blockId" validate:"required"`
	Label   string `json:"label"`
}

// BlockPatchParams sets and removes individual parameters.
type BlockPatchParams struct {
	BlockID string         `json:"blockId" validate:"required"`
	Set     map[string]any `json:"set,omitempty"`
	Unset   []string       `json:"unset,omitempty"`
}

func (BlockAdd) Kind() Kind         { return KindBlockAdd }
func (BlockRemove) Kind() Kind      { return KindBlockRemove }
func (BlockRetype) Kind() Kind      { return KindBlockRetype }
func (BlockSetLabel) Kind() Kind    { return KindBlockSetLabel }
func (BlockPatchParams) Kind() Kind { return KindBlockPatchParams }

// -----------------------------------------------------------------------------
// Wire ops
// -----------------------------------------------------------------------------

// WireAdd inserts a port-to-port edge.
type WireAdd struct {
	Edge model.Edge `json:"edge"`
}

// WireRemove deletes an edge.
type WireRemove struct {
	EdgeID string `json:"edgeId" validate:"required"`
}

// WireRetarget moves one or both endpoints of an edge. Nil endpoints are
// left as they are.
type WireRetarget struct {
	EdgeID string         `json:"edgeId" validate:"required"`
	From   *model.PortRef `json:"from,omitempty"`
	To     *model.PortRef `json:"to,omitempty"`
}

func (WireAdd) Kind() Kind      { return KindWireAdd }
func (WireRemove) Kind() Kind   { return KindWireRemove }
func (WireRetarget) Kind() Kind { return KindWireRetarget }

// -----------------------------------------------------------------------------
// Bus ops
// -----------------------------------------------------------------------------

// BusAdd inserts a bus.
type BusAdd struct {
	Bus model.Bus `json:"bus"`
}

// BusRemove deletes a bus without bindings.
type BusRemove struct {
	BusID string `json:"busId" validate:"required"`
}

// BusUpdate applies a typed partial update to a bus.
type BusUpdate struct {
	BusID string   `json:"busId" validate:"required"`
	Patch BusPatch `json:"patch"`
}

func (BusAdd) Kind() Kind    { return KindBusAdd }
func (BusRemove) Kind() Kind { return KindBusRemove }
func (BusUpdate) Kind() Kind { return KindBusUpdate }

// -----------------------------------------------------------------------------
// Publisher / listener ops
// -----------------------------------------------------------------------------

// PublisherAdd binds a block output to a bus.
type PublisherAdd struct {
	Publisher model.Publisher `json:"publisher"`
}

// PublisherRemove deletes a publisher.
type PublisherRemove struct {
	PublisherID string `json:"publisherId" validate:"required"`
}

// PublisherUpdate applies a typed partial update to a publisher.
type PublisherUpdate struct {
	PublisherID string         `json:"publisherId" validate:"required"`
	Patch       PublisherPatch `json:"patch"`
}

// ListenerAdd binds a bus to a block input.
type ListenerAdd struct {
	Listener model.Listener `json:"listener"`
}

// ListenerRemove deletes a listener.
type ListenerRemove struct {
	ListenerID string `json:"listenerId" validate:"required"`
}

// ListenerUpdate applies a typed partial update to a listener.
type ListenerUpdate struct {
	ListenerID string        `json:"listenerId" validate:"required"`
	Patch      ListenerPatch `json:"patch"`
}

func (PublisherAdd) Kind() Kind    { return KindPublisherAdd }
func (PublisherRemove) Kind() Kind { return KindPublisherRemove }
func (PublisherUpdate) Kind() Kind { return KindPublisherUpdate }
func (ListenerAdd) Kind() Kind     { return KindListenerAdd }
func (ListenerRemove) Kind() Kind  { return KindListenerRemove }
func (ListenerUpdate) Kind() Kind  { return KindListenerUpdate }

// -----------------------------------------------------------------------------
// Composite ops
// -----------------------------------------------------------------------------

// CompositeDefAdd inserts a composite definition.
type CompositeDefAdd struct {
	Def model.CompositeDef `json:"def"`
}

// CompositeDefRemove deletes a composite definition with no instances.
type CompositeDefRemove struct {
	CompositeID string `json:"compositeId" validate:"required"`
}

// CompositeDefUpdate applies a typed partial update to a definition's
// descriptive fields.
type CompositeDefUpdate struct {
	CompositeID string         `json:"compositeId" validate:"required"`
	Patch       CompositePatch `json:"patch"`
}

// CompositeDefReplaceGraph swaps a definition's inner graph and exposed
// ports. Only invertible while the exposed port lists stay the same.
type CompositeDefReplaceGraph struct {
	CompositeID    string               `json:"compositeId" validate:"required"`
	Graph          model.CompositeGraph `json:"graph"`
	ExposedInputs  []model.ExposedPort  `json:"exposedInputs,omitempty" validate:"dive"`
	ExposedOutputs []model.ExposedPort  `json:"exposedOutputs,omitempty" validate:"dive"`
}

func (CompositeDefAdd) Kind() Kind          { return KindCompositeDefAdd }
func (CompositeDefRemove) Kind() Kind       { return KindCompositeDefRemove }
func (CompositeDefUpdate) Kind() Kind       { return KindCompositeDefUpdate }
func (CompositeDefReplaceGraph) Kind() Kind { return KindCompositeDefReplaceGraph }

// -----------------------------------------------------------------------------
// Time root, settings, assets
// -----------------------------------------------------------------------------

// TimeRootSet designates the time-anchor block. An empty id clears the
// designation.
type TimeRootSet struct {
	BlockID string `json:"blockId"`
}

// PatchSettingsUpdate applies a typed partial update to patch settings.
type PatchSettingsUpdate struct {
	Patch SettingsPatch `json:"patch"`
}

// AssetAdd inserts an asset.
type AssetAdd struct {
	Asset model.Asset `json:"asset"`
}

// AssetRemove deletes an asset.
type AssetRemove struct {
	AssetID string `json:"assetId" validate:"required"`
}

// AssetUpdate applies a typed partial update to an asset.
type AssetUpdate struct {
	AssetID string     `json:"assetId" validate:"required"`
	Patch   AssetPatch `json:"patch"`
}

func (TimeRootSet) Kind() Kind         { return KindTimeRootSet }
func (PatchSettingsUpdate) Kind() Kind { return KindPatchSettingsUpdate }
func (AssetAdd) Kind() Kind            { return KindAssetAdd }
func (AssetRemove) Kind() Kind         { return KindAssetRemove }
func (AssetUpdate) Kind() Kind         { return KindAssetUpdate }
