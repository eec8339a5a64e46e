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

import "errors"

// Sentinel errors for op application and inversion. Returned errors wrap
// one of these with the offending ids; compare with errors.Is.
var (
	// ErrNilPatch is returned when Apply or Invert receives a nil document.
	ErrNilPatch = errors.New("patch must not be nil")

	// ErrNilOp is returned when Apply or Invert receives a nil op.
	ErrNilOp = errors.New("op must not be nil")

	// ErrInvalidOp is returned when an op payload fails validation
	// (missing ids, malformed partial update, conflicting fields).
	ErrInvalidOp = errors.New("invalid op payload")

	// ErrDuplicateID is returned when adding an entity whose id already
	// exists in its collection.
	ErrDuplicateID = errors.New("entity with this id already exists")

	// ErrNotFound is returned when an op targets an entity that does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrDanglingEndpoint is returned when a connection references a missing
	// block or slot.
	ErrDanglingEndpoint = errors.New("connection references a missing block or slot")

	// ErrInUse is returned when removing or reshaping an entity that other
	// entities still reference.
	ErrInUse = errors.New("entity is still referenced")

	// ErrNotInvertible is returned by Invert for ops whose effect cannot be
	// reversed. Callers treat it as "this op cannot be undone".
	ErrNotInvertible = errors.New("op is not invertible")

	// ErrUnknownKind is returned by the codec for an unrecognised op tag.
	ErrUnknownKind = errors.New("unknown op kind")
)
