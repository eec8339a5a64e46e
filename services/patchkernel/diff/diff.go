// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package diff classifies an op sequence into a change summary for logs
// and display. Nothing in the kernel consults it for correctness.
package diff

import (
	"fmt"

	"github.com/AleutianAI/patchkernel/services/patchkernel/ops"
)

// Category is the coarse kind of a change.
type Category string

const (
	CategoryStructural Category = "structural"
	CategoryParameter  Category = "parameter"
	CategoryTime       Category = "time"
	CategoryComposite  Category = "composite"
	CategoryAsset      Category = "asset"
	CategoryMixed      Category = "mixed"
)

// EntityKind names the collection an entity lives in.
type EntityKind string

const (
	EntityBlock     EntityKind = "block"
	EntityEdge      EntityKind = "edge"
	EntityBus       EntityKind = "bus"
	EntityPublisher EntityKind = "publisher"
	EntityListener  EntityKind = "listener"
	EntityComposite EntityKind = "composite"
	EntityAsset     EntityKind = "asset"
	EntitySettings  EntityKind = "settings"
)

// EntityRef points at one entity.
type EntityRef struct {
	Kind EntityKind `json:"kind"`
	ID   string     `json:"id"`
}

// String renders "kind id".
func (r EntityRef) String() string {
	if r.ID == "" {
		return string(r.Kind)
	}
	return string(r.Kind) + " " + r.ID
}

// Summary describes what an op sequence changes. Reference lists keep the
// order in which entities first appear in the sequence.
type Summary struct {
	Category Category    `json:"category"`
	OpCount  int         `json:"opCount"`
	Created  []EntityRef `json:"created,omitempty"`
	Removed  []EntityRef `json:"removed,omitempty"`
	Updated  []EntityRef `json:"updated,omitempty"`
}

type effect int

const (
	effectCreate effect = iota
	effectRemove
	effectUpdate
)

// Summarize maps an op sequence to its summary. Pure and deterministic.
func Summarize(list []ops.Op) Summary {
	s := Summary{OpCount: len(list)}
	seen := make(map[EntityRef]bool)
	categories := make(map[Category]bool)
	var first Category

	for _, op := range list {
		cat, ref, eff := classify(op)
		if cat == "" {
			continue
		}
		if !categories[cat] {
			categories[cat] = true
			if first == "" {
				first = cat
			}
		}

		switch eff {
		case effectCreate:
			s.Created = append(s.Created, ref)
			seen[ref] = true
		case effectRemove:
			s.Removed = append(s.Removed, ref)
			seen[ref] = true
		case effectUpdate:
			if !seen[ref] {
				s.Updated = append(s.Updated, ref)
				seen[ref] = true
			}
		}
	}

	s.Category = CategoryMixed
	if len(categories) == 1 {
		s.Category = first
	}
	return s
}

func classify(op ops.Op) (Category, EntityRef, effect) {
	switch o := op.(type) {
	case ops.BlockAdd:
		return CategoryStructural, EntityRef{EntityBlock, o.Block.ID}, effectCreate
	case ops.BlockRemove:
		return CategoryStructural, EntityRef{EntityBlock, o.BlockID}, effectRemove
	case ops.BlockRetype:
		return CategoryStructural, EntityRef{EntityBlock, o.BlockID}, effectUpdate
	case ops.BlockSetLabel:
		return CategoryParameter, EntityRef{EntityBlock, o.BlockID}, effectUpdate
	case ops.BlockPatchParams:
		return CategoryParameter, EntityRef{EntityBlock, o.BlockID}, effectUpdate

	case ops.WireAdd:
		return CategoryStructural, EntityRef{EntityEdge, o.Edge.ID}, effectCreate
	case ops.WireRemove:
		return CategoryStructural, EntityRef{EntityEdge, o.EdgeID}, effectRemove
	case ops.WireRetarget:
		return CategoryStructural, EntityRef{EntityEdge, o.EdgeID}, effectUpdate

	case ops.BusAdd:
		return CategoryStructural, EntityRef{EntityBus, o.Bus.ID}, effectCreate
	case ops.BusRemove:
		return CategoryStructural, EntityRef{EntityBus, o.BusID}, effectRemove
	case ops.BusUpdate:
		return CategoryParameter, EntityRef{EntityBus, o.BusID}, effectUpdate

	case ops.PublisherAdd:
		return CategoryStructural, EntityRef{EntityPublisher, o.Publisher.ID}, effectCreate
	case ops.PublisherRemove:
		return CategoryStructural, EntityRef{EntityPublisher, o.PublisherID}, effectRemove
	case ops.PublisherUpdate:
		return CategoryParameter, EntityRef{EntityPublisher, o.PublisherID}, effectUpdate

	case ops.ListenerAdd:
		return CategoryStructural, EntityRef{EntityListener, o.Listener.ID}, effectCreate
	case ops.ListenerRemove:
		return CategoryStructural, EntityRef{EntityListener, o.ListenerID}, effectRemove
	case ops.ListenerUpdate:
		return CategoryParameter, EntityRef{EntityListener, o.ListenerID}, effectUpdate

	case ops.CompositeDefAdd:
		return CategoryComposite, EntityRef{EntityComposite, o.Def.ID}, effectCreate
	case ops.CompositeDefRemove:
		return CategoryComposite, EntityRef{EntityComposite, o.CompositeID}, effectRemove
	case ops.CompositeDefUpdate:
		return CategoryComposite, EntityRef{EntityComposite, o.CompositeID}, effectUpdate
	case ops.CompositeDefReplaceGraph:
		return CategoryComposite, EntityRef{EntityComposite, o.CompositeID}, effectUpdate

	case ops.TimeRootSet:
		return CategoryTime, EntityRef{Kind: EntitySettings}, effectUpdate
	case ops.PatchSettingsUpdate:
		return CategoryTime, EntityRef{Kind: EntitySettings}, effectUpdate

	case ops.AssetAdd:
		return CategoryAsset, EntityRef{EntityAsset, o.Asset.ID}, effectCreate
	case ops.AssetRemove:
		return CategoryAsset, EntityRef{EntityAsset, o.AssetID}, effectRemove
	case ops.AssetUpdate:
		return CategoryAsset, EntityRef{EntityAsset, o.AssetID}, effectUpdate
	}
	return "", EntityRef{}, effectUpdate
}

// Lines renders the summary as human-readable lines: a header followed by
// one line per created (+), removed (-) and updated (~) entity.
func (s Summary) Lines() []string {
	lines := make([]string, 0, 1+len(s.Created)+len(s.Removed)+len(s.Updated))
	lines = append(lines, fmt.Sprintf("%s change (%d ops): %d created, %d removed, %d updated",
		s.Category, s.OpCount, len(s.Created), len(s.Removed), len(s.Updated)))
	for _, r := range s.Created {
		lines = append(lines, "+ "+r.String())
	}
	for _, r := range s.Removed {
		lines = append(lines, "- "+r.String())
	}
	for _, r := range s.Updated {
		lines = append(lines, "~ "+r.String())
	}
	return lines
}
