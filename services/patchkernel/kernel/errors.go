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
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/patchkernel/services/patchkernel/validate"
)

// Sentinel errors for kernel operations.
var (
	// ErrAborted is returned when the build callback aborted the transaction.
	ErrAborted = errors.New("transaction aborted")

	// ErrEmptyTransaction is returned when a transaction staged no ops.
	ErrEmptyTransaction = errors.New("transaction contains no ops")

	// ErrReentrant is returned when a kernel mutation is started while
	// another one is in progress on the same kernel.
	ErrReentrant = errors.New("kernel mutation already in progress")

	// ErrNothingToUndo is returned by Undo at the history root.
	ErrNothingToUndo = errors.New("nothing to undo")

	// ErrNothingToRedo is returned by Redo when the head has no children.
	ErrNothingToRedo = errors.New("nothing to redo")

	// ErrIrreversible is returned when undoing a transaction that holds a
	// non-invertible op, or when committing one under the reject policy.
	ErrIrreversible = errors.New("transaction is not reversible")

	// ErrInvalidMeta is returned when transaction metadata fails validation.
	ErrInvalidMeta = errors.New("invalid transaction metadata")

	// ErrTxClosed is returned when a builder is used after commit or abort.
	ErrTxClosed = errors.New("transaction builder is closed")

	// ErrUnknownTx is returned when a transaction id is not in history.
	ErrUnknownTx = errors.New("unknown transaction")

	// ErrDuplicateTx is returned when applying a record whose id is
	// already in history.
	ErrDuplicateTx = errors.New("transaction already in history")

	// ErrParentMismatch is returned when applying a record whose parent is
	// not the current head.
	ErrParentMismatch = errors.New("transaction parent is not the current head")
)

// RejectedError reports that a staged document failed validation. The
// canonical document is unchanged when this error is returned.
type RejectedError struct {
	Report validate.Result
}

// Error implements error.
func (e *RejectedError) Error() string {
	codes := make([]string, 0, len(e.Report.Errors))
	for _, d := range e.Report.Errors {
		codes = append(codes, string(d.Code))
	}
	return fmt.Sprintf("transaction rejected: %d error(s) [%s]", len(e.Report.Errors), strings.Join(codes, ", "))
}
