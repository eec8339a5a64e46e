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
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/AleutianAI/patchkernel/services/patchkernel/diff"
	"github.com/AleutianAI/patchkernel/services/patchkernel/ops"
	"github.com/AleutianAI/patchkernel/services/patchkernel/validate"
)

// Source says where a transaction came from.
type Source string

const (
	SourceInteractive Source = "interactive"
	SourceImport      Source = "import"
	SourceRemote      Source = "remote"
	SourceTest        Source = "test"
)

// TxMeta is the caller-supplied description of a transaction.
type TxMeta struct {
	Label     string    `json:"label" validate:"required,max=200"`
	Source    Source    `json:"source,omitempty" validate:"omitempty,oneof=interactive import remote test"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor,omitempty" validate:"max=100"`
	Tags      []string  `json:"tags,omitempty" validate:"max=20,dive,required"`
}

var metaValidate = validator.New()

// Validate checks the metadata, wrapping failures in ErrInvalidMeta.
func (m TxMeta) Validate() error {
	if err := metaValidate.Struct(m); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMeta, err)
	}
	return nil
}

// CommittedTx is an immutable record in the history tree.
//
// Ops are stored in application order. Inverse holds the undo sequence in
// the order it must be applied, and is empty when Reversible is false.
type CommittedTx struct {
	ID         string          `json:"id"`
	ParentID   string          `json:"parentId,omitempty"`
	Meta       TxMeta          `json:"meta"`
	Ops        []ops.Op        `json:"-"`
	Inverse    []ops.Op        `json:"-"`
	Reversible bool            `json:"reversible"`
	Diff       diff.Summary    `json:"diff"`
	Report     validate.Result `json:"report"`
}

type committedTxJSON struct {
	ID         string          `json:"id"`
	ParentID   string          `json:"parentId,omitempty"`
	Meta       TxMeta          `json:"meta"`
	Ops        []ops.Envelope  `json:"ops"`
	Inverse    []ops.Envelope  `json:"inverse,omitempty"`
	Reversible bool            `json:"reversible"`
	Diff       diff.Summary    `json:"diff"`
	Report     validate.Result `json:"report"`
}

// MarshalJSON encodes ops as tagged envelopes.
func (tx CommittedTx) MarshalJSON() ([]byte, error) {
	out := committedTxJSON{
		ID:         tx.ID,
		ParentID:   tx.ParentID,
		Meta:       tx.Meta,
		Reversible: tx.Reversible,
		Diff:       tx.Diff,
		Report:     tx.Report,
	}
	var err error
	if out.Ops, err = wrapAll(tx.Ops); err != nil {
		return nil, fmt.Errorf("encoding ops of tx %s: %w", tx.ID, err)
	}
	if out.Inverse, err = wrapAll(tx.Inverse); err != nil {
		return nil, fmt.Errorf("encoding inverse of tx %s: %w", tx.ID, err)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a record produced by MarshalJSON.
func (tx *CommittedTx) UnmarshalJSON(data []byte) error {
	var in committedTxJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	opList, err := unwrapAll(in.Ops)
	if err != nil {
		return fmt.Errorf("decoding ops of tx %s: %w", in.ID, err)
	}
	inverse, err := unwrapAll(in.Inverse)
	if err != nil {
		return fmt.Errorf("decoding inverse of tx %s: %w", in.ID, err)
	}
	*tx = CommittedTx{
		ID:         in.ID,
		ParentID:   in.ParentID,
		Meta:       in.Meta,
		Ops:        opList,
		Inverse:    inverse,
		Reversible: in.Reversible,
		Diff:       in.Diff,
		Report:     in.Report,
	}
	return nil
}

func wrapAll(list []ops.Op) ([]ops.Envelope, error) {
	if len(list) == 0 {
		return nil, nil
	}
	out := make([]ops.Envelope, 0, len(list))
	for _, op := range list {
		env, err := ops.Wrap(op)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, nil
}

func unwrapAll(list []ops.Envelope) ([]ops.Op, error) {
	if len(list) == 0 {
		return nil, nil
	}
	out := make([]ops.Op, 0, len(list))
	for i, env := range list {
		op, err := env.Unwrap()
		if err != nil {
			return nil, fmt.Errorf("op %d: %w", i, err)
		}
		out = append(out, op)
	}
	return out, nil
}

// EventKind names a history movement.
type EventKind string

const (
	EventCommit EventKind = "commit"
	EventUndo   EventKind = "undo"
	EventRedo   EventKind = "redo"
)

// Event is delivered to observers after the kernel state is consistent.
// Tx is the transaction that was committed, undone or redone.
type Event struct {
	Kind     EventKind
	Tx       *CommittedTx
	Revision uint64
}

// Observer receives kernel events synchronously. Observers must not call
// mutating kernel methods; those return ErrReentrant while events are
// being delivered.
type Observer interface {
	OnKernelEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnKernelEvent implements Observer.
func (f ObserverFunc) OnKernelEvent(e Event) { f(e) }
