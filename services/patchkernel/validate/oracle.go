// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validate

import (
	"github.com/AleutianAI/patchkernel/services/patchkernel/model"
)

// TypeOracle decides whether a value of type from may flow into a slot of
// type to. It sees slot type descriptors only, never block type names.
type TypeOracle interface {
	Compatible(from, to model.TypeDesc) bool
}

// TypeOracleFunc adapts a function to TypeOracle.
type TypeOracleFunc func(from, to model.TypeDesc) bool

// Compatible implements TypeOracle.
func (f TypeOracleFunc) Compatible(from, to model.TypeDesc) bool {
	return f(from, to)
}

// worldRank orders worlds by how much they can absorb. A value may be
// promoted to a world of equal or higher rank within the same family.
var worldRank = map[model.World]int{
	model.WorldScalar: 0,
	model.WorldSignal: 1,
	model.WorldField:  2,
}

// DefaultOracle accepts equal types, the "any" domain on either side, and
// scalar -> signal -> field promotion within one domain. Event and config
// worlds only connect to themselves.
var DefaultOracle TypeOracle = TypeOracleFunc(func(from, to model.TypeDesc) bool {
	if from.Domain != to.Domain && from.Domain != model.DomainAny && to.Domain != model.DomainAny {
		return false
	}
	if from.World == to.World {
		return true
	}
	fr, okFrom := worldRank[from.World]
	tr, okTo := worldRank[to.World]
	return okFrom && okTo && fr <= tr
})

// carriedType returns the type delivered at the end of an edge's
// transform chain. Steps without an Output keep the type.
func carriedType(start model.TypeDesc, steps []model.TransformStep) model.TypeDesc {
	t := start
	for _, s := range steps {
		if s.Output != nil {
			t = *s.Output
		}
	}
	return t
}
