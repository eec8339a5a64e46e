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
	"github.com/AleutianAI/patchkernel/services/patchkernel/model"
)

// Partial updates use pointer fields: nil means "leave unchanged". This
// keeps every update op typed instead of carrying free-form field maps.

// BusPatch is a partial update of a bus.
//
// Default is an interface value, so nil cannot mean "unchanged" there;
// SetDefault selects whether Default is written.
type BusPatch struct {
	Name       *string            `json:"name,omitempty" validate:"omitempty,min=1"`
	Type       *model.TypeDesc    `json:"type,omitempty"`
	Combine    *model.CombineMode `json:"combine,omitempty" validate:"omitempty,oneof=last sum average max min layer"`
	SetDefault bool               `json:"setDefault,omitempty"`
	Default    any                `json:"default,omitempty"`
	SortKey    *int               `json:"sortKey,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p BusPatch) Empty() bool {
	return p.Name == nil && p.Type == nil && p.Combine == nil && !p.SetDefault && p.SortKey == nil
}

// PublisherPatch is a partial update of a publisher.
type PublisherPatch struct {
	BusID   *string `json:"bus,omitempty" validate:"omitempty,min=1"`
	Enabled *bool   `json:"enabled,omitempty"`
	SortKey *int    `json:"sortKey,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p PublisherPatch) Empty() bool {
	return p.BusID == nil && p.Enabled == nil && p.SortKey == nil
}

// ListenerPatch is a partial update of a listener.
type ListenerPatch struct {
	BusID   *string `json:"bus,omitempty" validate:"omitempty,min=1"`
	Enabled *bool   `json:"enabled,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p ListenerPatch) Empty() bool {
	return p.BusID == nil && p.Enabled == nil
}

// CompositePatch is a partial update of a composite definition's
// descriptive fields.
type CompositePatch struct {
	Label       *string `json:"label,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p CompositePatch) Empty() bool {
	return p.Label == nil && p.Description == nil
}

// SettingsPatch is a partial update of patch settings. The time root is
// changed through TimeRootSet, not here.
type SettingsPatch struct {
	Title     *string  `json:"title,omitempty"`
	Seed      *int64   `json:"seed,omitempty"`
	Speed     *float64 `json:"speed,omitempty" validate:"omitempty,gte=0"`
	FrameRate *int     `json:"frameRate,omitempty" validate:"omitempty,gte=0,lte=240"`
}

// Empty reports whether the patch changes nothing.
func (p SettingsPatch) Empty() bool {
	return p.Title == nil && p.Seed == nil && p.Speed == nil && p.FrameRate == nil
}

// AssetPatch is a partial update of an asset. A non-nil Meta replaces the
// whole metadata map.
type AssetPatch struct {
	Kind *string           `json:"kind,omitempty" validate:"omitempty,min=1"`
	URI  *string           `json:"uri,omitempty" validate:"omitempty,min=1"`
	Meta map[string]string `json:"meta,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p AssetPatch) Empty() bool {
	return p.Kind == nil && p.URI == nil && p.Meta == nil
}

// ptr returns a pointer to a copy of v.
func ptr[T any](v T) *T {
	return &v
}
