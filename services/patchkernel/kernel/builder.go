// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package kernel

import (
	"context"
	"errors"
	"fmt"

	"github.com/AleutianAI/patchkernel/services/patchkernel/graph"
	"github.com/AleutianAI/patchkernel/services/patchkernel/model"
	"github.com/AleutianAI/patchkernel/services/patchkernel/ops"
	"github.com/AleutianAI/patchkernel/services/patchkernel/validate"
)

type builderState int

const (
	stateOpen builderState = iota
	stateCommitted
	stateAborted
)

// TxBuilder stages ops against a private copy of the document.
//
// # Description
//
// Every Add computes the inverse against the staged document first, then
// applies the op. The op is appended to the forward list and its inverse
// is prepended to the undo list. Intent methods expand to one or more
// primitive ops; an intent that fails leaves the staged document as it was
// before the intent started.
//
// # Thread Safety
//
// Not safe for concurrent use. A builder is only valid inside the build
// callback that received it.
type TxBuilder struct {
	k          *Kernel
	ctx        context.Context
	staged     *model.Patch
	ops        []ops.Op
	inverse    []ops.Op
	reversible bool
	state      builderState
	graph      *graph.Graph
}

func newBuilder(ctx context.Context, k *Kernel, staged *model.Patch) *TxBuilder {
	return &TxBuilder{
		k:          k,
		ctx:        ctx,
		staged:     staged,
		reversible: true,
	}
}

// Add stages one primitive op.
//
// # Outputs
//
//   - error: ErrTxClosed after commit or abort, otherwise the error from
//     ops.Apply. The staged document is unchanged on error.
//
// The builder records a deep copy of op, so the caller may reuse or modify
// its maps and slices afterwards.
func (b *TxBuilder) Add(op ops.Op) error {
	if b.state != stateOpen {
		return ErrTxClosed
	}
	op = ops.Clone(op)

	inv, invErr := ops.Invert(b.staged, op)
	if invErr != nil && !errors.Is(invErr, ops.ErrNotInvertible) {
		// Apply reports the authoritative precondition failure.
		if err := ops.Apply(b.staged.Clone(), op); err != nil {
			return err
		}
		return invErr
	}
	if err := ops.Apply(b.staged, op); err != nil {
		return err
	}

	b.ops = append(b.ops, op)
	if invErr != nil {
		b.reversible = false
	} else {
		b.inverse = append([]ops.Op{inv}, b.inverse...)
	}
	b.graph = nil
	return nil
}

// Abort marks the transaction aborted. Later Adds fail with ErrTxClosed
// and the kernel discards the staged work when the callback returns.
func (b *TxBuilder) Abort() {
	if b.state == stateOpen {
		b.state = stateAborted
	}
}

// Ops returns a copy of the staged forward ops.
func (b *TxBuilder) Ops() []ops.Op {
	return append([]ops.Op(nil), b.ops...)
}

// Reversible reports whether every staged op so far had an inverse.
func (b *TxBuilder) Reversible() bool { return b.reversible }

// Doc returns a copy of the staged document.
func (b *TxBuilder) Doc() *model.Patch {
	return b.staged.Clone()
}

// Graph returns the semantic graph of the staged document. It is rebuilt
// lazily after the staged document changes.
func (b *TxBuilder) Graph() *graph.Graph {
	if b.graph == nil {
		b.graph = graph.BuildContext(b.ctx, b.staged)
	}
	return b.graph
}

// Preflight checks whether connecting from -> to would be accepted given
// the staged document.
func (b *TxBuilder) Preflight(from, to model.PortRef) validate.Result {
	return b.k.newValidator(b.Graph(), b.staged, b.k.revision).Preflight(from, to)
}

// group runs fn so that a failure restores the staged document and op
// lists to their state before fn.
func (b *TxBuilder) group(fn func() error) error {
	if b.state != stateOpen {
		return ErrTxClosed
	}
	snapshot := b.staged.Clone()
	nOps, nInv, reversible := len(b.ops), len(b.inverse), b.reversible
	if err := fn(); err != nil {
		b.staged = snapshot
		b.ops = b.ops[:nOps]
		b.inverse = b.inverse[len(b.inverse)-nInv:]
		b.reversible = reversible
		b.graph = nil
		return err
	}
	return nil
}

// =============================================================================
// Blocks
// =============================================================================

// AddBlock stages a block insertion.
func (b *TxBuilder) AddBlock(block model.Block) error {
	return b.Add(ops.BlockAdd{Block: block})
}

// AddBlockFromCatalog instantiates a catalog type and stages its insertion.
func (b *TxBuilder) AddBlockFromCatalog(id, blockType string) (model.Block, error) {
	block, err := b.k.catalog.NewBlock(id, blockType)
	if err != nil {
		return model.Block{}, err
	}
	if err := b.Add(ops.BlockAdd{Block: block}); err != nil {
		return model.Block{}, err
	}
	return block, nil
}

// RemoveBlock removes a block together with every edge, publisher and
// listener attached to it, and clears the time-root designation when it
// names the block. Each removal is staged as its own primitive op.
func (b *TxBuilder) RemoveBlock(id string) error {
	return b.group(func() error {
		if _, ok := b.staged.Blocks[id]; !ok {
			return fmt.Errorf("%w: block %q", ops.ErrNotFound, id)
		}
		refs := b.staged.RefsToBlock(id)
		for _, e := range refs.Edges {
			if err := b.Add(ops.WireRemove{EdgeID: e}); err != nil {
				return err
			}
		}
		for _, p := range refs.Publishers {
			if err := b.Add(ops.PublisherRemove{PublisherID: p}); err != nil {
				return err
			}
		}
		for _, l := range refs.Listeners {
			if err := b.Add(ops.ListenerRemove{ListenerID: l}); err != nil {
				return err
			}
		}
		if b.staged.Settings.TimeRootID == id {
			if err := b.Add(ops.TimeRootSet{}); err != nil {
				return err
			}
		}
		return b.Add(ops.BlockRemove{BlockID: id})
	})
}

// RetypeBlock changes a block's type and slot layout.
func (b *TxBuilder) RetypeBlock(id, blockType string, inputs, outputs []model.Slot) error {
	return b.Add(ops.BlockRetype{BlockID: id, Type: blockType, Inputs: inputs, Outputs: outputs})
}

// RetypeFromCatalog retypes a block using the slot layout the catalog
// declares for blockType.
func (b *TxBuilder) RetypeFromCatalog(id, blockType string) error {
	inputs, outputs, err := b.k.catalog.Slots(blockType)
	if err != nil {
		return err
	}
	return b.RetypeBlock(id, blockType, inputs, outputs)
}

// SetBlockLabel stages a label change.
func (b *TxBuilder) SetBlockLabel(id, label string) error {
	return b.Add(ops.BlockSetLabel{BlockID: id, Label: label})
}

// PatchBlockParams sets and unsets parameter keys on a block.
func (b *TxBuilder) PatchBlockParams(id string, set map[string]any, unset ...string) error {
	return b.Add(ops.BlockPatchParams{BlockID: id, Set: set, Unset: unset})
}

// =============================================================================
// Wires
// =============================================================================

// AddWire stages an edge with a caller-chosen id.
func (b *TxBuilder) AddWire(e model.Edge) error {
	return b.Add(ops.WireAdd{Edge: e})
}

// Connect preflights from -> to against the staged document and, when it
// passes, stages an enabled edge with a generated id.
//
// # Outputs
//
//   - string: The new edge id.
//   - error: *RejectedError carrying the preflight result when the
//     connection would be invalid, or the error from Add.
func (b *TxBuilder) Connect(from, to model.PortRef) (string, error) {
	if b.state != stateOpen {
		return "", ErrTxClosed
	}
	if res := b.Preflight(from, to); !res.OK {
		return "", &RejectedError{Report: res}
	}
	id := "wire-" + b.k.newID()
	if err := b.Add(ops.WireAdd{Edge: model.Edge{ID: id, From: from, To: to, Enabled: true}}); err != nil {
		return "", err
	}
	return id, nil
}

// RemoveWire stages an edge removal.
func (b *TxBuilder) RemoveWire(id string) error {
	return b.Add(ops.WireRemove{EdgeID: id})
}

// RetargetWire moves one or both endpoints of an edge.
func (b *TxBuilder) RetargetWire(id string, from, to *model.PortRef) error {
	return b.Add(ops.WireRetarget{EdgeID: id, From: from, To: to})
}

// =============================================================================
// Buses and bindings
// =============================================================================

// AddBus stages a bus insertion.
func (b *TxBuilder) AddBus(bus model.Bus) error {
	return b.Add(ops.BusAdd{Bus: bus})
}

// RemoveBus removes a bus and every publisher and listener bound to it.
func (b *TxBuilder) RemoveBus(id string) error {
	return b.group(func() error {
		if _, ok := b.staged.Buses[id]; !ok {
			return fmt.Errorf("%w: bus %q", ops.ErrNotFound, id)
		}
		publishers, listeners := b.staged.BindingsOnBus(id)
		for _, p := range publishers {
			if err := b.Add(ops.PublisherRemove{PublisherID: p}); err != nil {
				return err
			}
		}
		for _, l := range listeners {
			if err := b.Add(ops.ListenerRemove{ListenerID: l}); err != nil {
				return err
			}
		}
		return b.Add(ops.BusRemove{BusID: id})
	})
}

// UpdateBus applies a partial update to a bus.
func (b *TxBuilder) UpdateBus(id string, patch ops.BusPatch) error {
	return b.Add(ops.BusUpdate{BusID: id, Patch: patch})
}

// AddPublisher stages a publisher insertion.
func (b *TxBuilder) AddPublisher(p model.Publisher) error {
	return b.Add(ops.PublisherAdd{Publisher: p})
}

// RemovePublisher stages a publisher removal.
func (b *TxBuilder) RemovePublisher(id string) error {
	return b.Add(ops.PublisherRemove{PublisherID: id})
}

// UpdatePublisher applies a partial update to a publisher.
func (b *TxBuilder) UpdatePublisher(id string, patch ops.PublisherPatch) error {
	return b.Add(ops.PublisherUpdate{PublisherID: id, Patch: patch})
}

// AddListener stages a listener insertion.
func (b *TxBuilder) AddListener(l model.Listener) error {
	return b.Add(ops.ListenerAdd{Listener: l})
}

// RemoveListener stages a listener removal.
func (b *TxBuilder) RemoveListener(id string) error {
	return b.Add(ops.ListenerRemove{ListenerID: id})
}

// UpdateListener applies a partial update to a listener.
func (b *TxBuilder) UpdateListener(id string, patch ops.ListenerPatch) error {
	return b.Add(ops.ListenerUpdate{ListenerID: id, Patch: patch})
}

// =============================================================================
// Composites, time, settings, assets
// =============================================================================

// AddComposite stages a composite definition.
func (b *TxBuilder) AddComposite(def model.CompositeDef) error {
	return b.Add(ops.CompositeDefAdd{Def: def})
}

// RemoveComposite stages a composite removal. It fails with ops.ErrInUse
// while any block instantiates the composite.
func (b *TxBuilder) RemoveComposite(id string) error {
	return b.Add(ops.CompositeDefRemove{CompositeID: id})
}

// UpdateComposite applies a partial update to a composite's metadata.
func (b *TxBuilder) UpdateComposite(id string, patch ops.CompositePatch) error {
	return b.Add(ops.CompositeDefUpdate{CompositeID: id, Patch: patch})
}

// ReplaceCompositeGraph swaps a composite's internal graph and exposed ports.
func (b *TxBuilder) ReplaceCompositeGraph(id string, g model.CompositeGraph, inputs, outputs []model.ExposedPort) error {
	return b.Add(ops.CompositeDefReplaceGraph{
		CompositeID:    id,
		Graph:          g,
		ExposedInputs:  inputs,
		ExposedOutputs: outputs,
	})
}

// SetTimeRoot designates the time-anchor block. An empty id clears it.
func (b *TxBuilder) SetTimeRoot(id string) error {
	return b.Add(ops.TimeRootSet{BlockID: id})
}

// UpdateSettings applies a partial update to patch settings.
func (b *TxBuilder) UpdateSettings(patch ops.SettingsPatch) error {
	return b.Add(ops.PatchSettingsUpdate{Patch: patch})
}

// AddAsset stages an asset insertion. Asset ops are not invertible.
func (b *TxBuilder) AddAsset(a model.Asset) error {
	return b.Add(ops.AssetAdd{Asset: a})
}

// RemoveAsset stages an asset removal.
func (b *TxBuilder) RemoveAsset(id string) error {
	return b.Add(ops.AssetRemove{AssetID: id})
}

// UpdateAsset applies a partial update to an asset.
func (b *TxBuilder) UpdateAsset(id string, patch ops.AssetPatch) error {
	return b.Add(ops.AssetUpdate{AssetID: id, Patch: patch})
}
