// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package kernel owns the canonical patch document and its history.
//
// All mutation goes through transactions. A transaction stages primitive
// ops against a copy of the document, validates the result and, when it
// passes, installs the copy and records a CommittedTx in a history tree.
// Undo applies a record's inverse ops; Redo re-applies the newest child of
// the head. The derived semantic graph and validation report are rebuilt
// in full after every change.
//
// # Thread Safety
//
// A Kernel is single-threaded and non-reentrant. Callers that share a
// kernel across goroutines must serialize access themselves.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/patchkernel/services/patchkernel/catalog"
	"github.com/AleutianAI/patchkernel/services/patchkernel/diff"
	"github.com/AleutianAI/patchkernel/services/patchkernel/graph"
	"github.com/AleutianAI/patchkernel/services/patchkernel/model"
	"github.com/AleutianAI/patchkernel/services/patchkernel/ops"
	"github.com/AleutianAI/patchkernel/services/patchkernel/validate"
)

// Kernel is the transactional owner of one patch document.
type Kernel struct {
	doc      *model.Patch
	graph    *graph.Graph
	report   validate.Result
	revision uint64

	txs      map[string]*CommittedTx
	children map[string][]string
	order    []string
	head     string

	busy bool

	logger             *slog.Logger
	tracer             *tracer
	observers          []Observer
	rejectIrreversible bool
	catalog            *catalog.Catalog
	timeRootTypes      []string
	oracle             validate.TypeOracle
	now                func() time.Time
	newID              func() string
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(k *Kernel) {
		if logger != nil {
			k.logger = logger
		}
	}
}

// WithObserver registers an observer. May be given more than once.
func WithObserver(o Observer) Option {
	return func(k *Kernel) {
		if o != nil {
			k.observers = append(k.observers, o)
		}
	}
}

// WithRejectIrreversible rejects transactions containing non-invertible ops
// instead of committing them as undo dead ends.
func WithRejectIrreversible(reject bool) Option {
	return func(k *Kernel) { k.rejectIrreversible = reject }
}

// WithCatalog sets the block catalog. Its time-root types are used unless
// WithTimeRootTypes is also given.
func WithCatalog(c *catalog.Catalog) Option {
	return func(k *Kernel) { k.catalog = c }
}

// WithTimeRootTypes overrides which block types anchor the time base.
func WithTimeRootTypes(types ...string) Option {
	return func(k *Kernel) { k.timeRootTypes = append([]string(nil), types...) }
}

// WithTypeOracle replaces the validator's default type compatibility rules.
func WithTypeOracle(o validate.TypeOracle) Option {
	return func(k *Kernel) { k.oracle = o }
}

// WithClock sets the clock used to stamp metadata without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(k *Kernel) {
		if now != nil {
			k.now = now
		}
	}
}

// WithIDGenerator sets the generator for transaction and edge ids.
// Defaults to random UUIDs.
func WithIDGenerator(gen func() string) Option {
	return func(k *Kernel) {
		if gen != nil {
			k.newID = gen
		}
	}
}

// New creates a kernel owning a copy of doc. A nil doc starts empty.
//
// # Description
//
// The initial document is not required to be valid; its report is
// available through Report. When no catalog is supplied the embedded one
// is used.
//
// # Outputs
//
//   - *Kernel: Ready kernel with an empty history.
//   - error: Non-nil only when the embedded catalog fails to load.
func New(doc *model.Patch, opts ...Option) (*Kernel, error) {
	k := &Kernel{
		txs:      make(map[string]*CommittedTx),
		children: make(map[string][]string),
		logger:   slog.Default(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(k)
	}
	k.logger = k.logger.With(slog.String("component", "kernel"))
	k.tracer = newTracer(k.logger)

	if k.catalog == nil {
		c, err := catalog.Embedded()
		if err != nil {
			return nil, fmt.Errorf("loading block catalog: %w", err)
		}
		k.catalog = c
	}
	if len(k.timeRootTypes) == 0 {
		k.timeRootTypes = k.catalog.TimeRootTypes()
	}

	if doc == nil {
		doc = model.New("")
	}
	staged := doc.Clone()
	staged.Normalize()
	k.install(context.Background(), staged)
	return k, nil
}

// =============================================================================
// Transactions
// =============================================================================

// Transaction runs build against a staged copy of the document and commits
// the result when it validates.
//
// # Description
//
// Steps: validate meta, stage, build, reject empty or aborted work,
// rebuild graph, validate, apply. When build returns an error or calls
// Abort, or when validation fails, the canonical document, graph, report
// and history are untouched.
//
// # Inputs
//
//   - ctx: Context for tracing.
//   - meta: Transaction metadata. Label is required. A zero Timestamp is
//     filled from the kernel clock.
//   - build: Callback that stages ops on the builder.
//
// # Outputs
//
//   - *CommittedTx: The recorded transaction.
//   - error: ErrReentrant, ErrInvalidMeta, ErrAborted, ErrEmptyTransaction,
//     ErrIrreversible (reject policy only), *RejectedError, or the error
//     returned by build.
func (k *Kernel) Transaction(ctx context.Context, meta TxMeta, build func(tx *TxBuilder) error) (*CommittedTx, error) {
	if k.busy {
		return nil, ErrReentrant
	}
	if meta.Timestamp.IsZero() {
		meta.Timestamp = k.now()
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}

	k.busy = true
	defer func() { k.busy = false }()

	start := time.Now()
	ctx, span := k.tracer.startTransaction(ctx, meta, k.head)

	b := newBuilder(ctx, k, k.doc.Clone())
	tx, outcome, err := k.runBuild(ctx, b, meta, build)
	k.tracer.endTransaction(span, tx, err)
	recordTransaction(outcome, start, len(b.ops))
	if err != nil {
		return nil, err
	}

	k.notify(Event{Kind: EventCommit, Tx: tx, Revision: k.revision})
	return tx, nil
}

func (k *Kernel) runBuild(ctx context.Context, b *TxBuilder, meta TxMeta, build func(tx *TxBuilder) error) (*CommittedTx, string, error) {
	if err := build(b); err != nil {
		b.state = stateAborted
		k.logger.DebugContext(ctx, "transaction build failed",
			slog.String("label", meta.Label),
			slog.String("error", err.Error()))
		return nil, outcomeFailed, err
	}
	if b.state == stateAborted {
		return nil, outcomeAborted, ErrAborted
	}
	return k.commit(ctx, b, meta, "")
}

// Apply replays a committed record on top of the current head.
//
// # Description
//
// Used for journal restore and for records produced by another kernel.
// The record's ops are staged and validated exactly like a transaction;
// the inverse, reversibility and diff are recomputed from the document
// rather than trusted. The record's id is kept when set.
//
// # Outputs
//
//   - *CommittedTx: The recorded transaction as held in history.
//   - error: ErrReentrant, ErrDuplicateTx, ErrUnknownTx (parent not in
//     history), ErrParentMismatch, an op error, or *RejectedError.
func (k *Kernel) Apply(ctx context.Context, rec *CommittedTx) (*CommittedTx, error) {
	if k.busy {
		return nil, ErrReentrant
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: nil record", ErrEmptyTransaction)
	}
	if rec.ID != "" {
		if _, ok := k.txs[rec.ID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTx, rec.ID)
		}
	}
	if _, ok := k.txs[rec.ParentID]; rec.ParentID != "" && !ok {
		return nil, fmt.Errorf("%w: record parent %q", ErrUnknownTx, rec.ParentID)
	}
	if rec.ParentID != k.head {
		return nil, fmt.Errorf("%w: record parent %q, head %q", ErrParentMismatch, rec.ParentID, k.head)
	}
	meta := rec.Meta
	if meta.Timestamp.IsZero() {
		meta.Timestamp = k.now()
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}

	k.busy = true
	defer func() { k.busy = false }()

	start := time.Now()
	ctx, span := k.tracer.startMove(ctx, EventCommit, rec.ID)

	b := newBuilder(ctx, k, k.doc.Clone())
	tx, outcome, err := k.replay(ctx, b, rec, meta)
	k.tracer.endMove(span, err)
	recordTransaction(outcome, start, len(b.ops))
	if err != nil {
		return nil, err
	}

	k.notify(Event{Kind: EventCommit, Tx: tx, Revision: k.revision})
	return tx, nil
}

func (k *Kernel) replay(ctx context.Context, b *TxBuilder, rec *CommittedTx, meta TxMeta) (*CommittedTx, string, error) {
	for i, op := range rec.Ops {
		if err := b.Add(op); err != nil {
			return nil, outcomeFailed, fmt.Errorf("replaying op %d (%s) of tx %s: %w", i, op.Kind(), rec.ID, err)
		}
	}
	return k.commit(ctx, b, meta, rec.ID)
}

// commit validates the staged document and installs it.
func (k *Kernel) commit(ctx context.Context, b *TxBuilder, meta TxMeta, id string) (*CommittedTx, string, error) {
	if len(b.ops) == 0 {
		return nil, outcomeEmpty, ErrEmptyTransaction
	}

	g := graph.BuildContext(ctx, b.staged)
	report := k.newValidator(g, b.staged, k.revision+1).Validate()
	if !report.OK {
		for _, d := range report.Errors {
			kernelValidationErrors.WithLabelValues(string(d.Code)).Inc()
		}
		k.logger.WarnContext(ctx, "transaction rejected",
			slog.String("label", meta.Label),
			slog.Int("errors", len(report.Errors)),
			slog.String("first", report.Errors[0].String()))
		return nil, outcomeRejected, &RejectedError{Report: report}
	}
	if !b.reversible && k.rejectIrreversible {
		return nil, outcomeRejected, fmt.Errorf("%w: %q contains non-invertible ops", ErrIrreversible, meta.Label)
	}

	if id == "" {
		id = k.newID()
	}
	tx := &CommittedTx{
		ID:         id,
		ParentID:   k.head,
		Meta:       meta,
		Ops:        b.ops,
		Reversible: b.reversible,
		Diff:       diff.Summarize(b.ops),
		Report:     report,
	}
	if b.reversible {
		tx.Inverse = b.inverse
	}
	b.state = stateCommitted

	k.doc = b.staged
	k.graph = g
	k.report = report
	k.revision++

	k.txs[tx.ID] = tx
	k.children[tx.ParentID] = append(k.children[tx.ParentID], tx.ID)
	k.order = append(k.order, tx.ID)
	k.head = tx.ID
	kernelHistorySize.Set(float64(len(k.txs)))

	k.logger.InfoContext(ctx, "transaction committed",
		slog.String("tx_id", tx.ID),
		slog.String("label", meta.Label),
		slog.Int("ops", len(tx.Ops)),
		slog.String("category", string(tx.Diff.Category)),
		slog.Bool("reversible", tx.Reversible),
		slog.Uint64("revision", k.revision))
	return tx, outcomeCommitted, nil
}

// =============================================================================
// History navigation
// =============================================================================

// Undo reverts the head transaction and moves the head to its parent.
//
// # Outputs
//
//   - *CommittedTx: The transaction that was undone.
//   - error: ErrReentrant, ErrNothingToUndo, or ErrIrreversible.
func (k *Kernel) Undo(ctx context.Context) (*CommittedTx, error) {
	if k.busy {
		return nil, ErrReentrant
	}
	k.busy = true
	defer func() { k.busy = false }()

	ctx, span := k.tracer.startMove(ctx, EventUndo, k.head)
	tx, err := k.undo(ctx)
	k.tracer.endMove(span, err)
	recordHistoryMove(EventUndo, err)
	if err != nil {
		return nil, err
	}

	k.notify(Event{Kind: EventUndo, Tx: tx, Revision: k.revision})
	return tx, nil
}

func (k *Kernel) undo(ctx context.Context) (*CommittedTx, error) {
	if k.head == "" {
		return nil, ErrNothingToUndo
	}
	tx := k.txs[k.head]
	if !tx.Reversible {
		return nil, fmt.Errorf("%w: %s (%q)", ErrIrreversible, tx.ID, tx.Meta.Label)
	}

	staged := k.doc.Clone()
	for i, op := range tx.Inverse {
		if err := ops.Apply(staged, op); err != nil {
			return nil, fmt.Errorf("undoing tx %s: inverse op %d (%s): %w", tx.ID, i, op.Kind(), err)
		}
	}
	k.install(ctx, staged)
	k.head = tx.ParentID

	k.logger.InfoContext(ctx, "transaction undone",
		slog.String("tx_id", tx.ID),
		slog.String("label", tx.Meta.Label),
		slog.Uint64("revision", k.revision))
	return tx, nil
}

// Redo re-applies the newest child of the head.
//
// # Outputs
//
//   - *CommittedTx: The transaction that was redone.
//   - error: ErrReentrant or ErrNothingToRedo.
func (k *Kernel) Redo(ctx context.Context) (*CommittedTx, error) {
	if k.busy {
		return nil, ErrReentrant
	}
	k.busy = true
	defer func() { k.busy = false }()

	ctx, span := k.tracer.startMove(ctx, EventRedo, k.head)
	tx, err := k.redo(ctx)
	k.tracer.endMove(span, err)
	recordHistoryMove(EventRedo, err)
	if err != nil {
		return nil, err
	}

	k.notify(Event{Kind: EventRedo, Tx: tx, Revision: k.revision})
	return tx, nil
}

func (k *Kernel) redo(ctx context.Context) (*CommittedTx, error) {
	kids := k.children[k.head]
	if len(kids) == 0 {
		return nil, ErrNothingToRedo
	}
	tx := k.txs[kids[len(kids)-1]]

	staged := k.doc.Clone()
	for i, op := range tx.Ops {
		if err := ops.Apply(staged, op); err != nil {
			return nil, fmt.Errorf("redoing tx %s: op %d (%s): %w", tx.ID, i, op.Kind(), err)
		}
	}
	k.install(ctx, staged)
	k.head = tx.ID

	k.logger.InfoContext(ctx, "transaction redone",
		slog.String("tx_id", tx.ID),
		slog.String("label", tx.Meta.Label),
		slog.Uint64("revision", k.revision))
	return tx, nil
}

// CanUndo reports whether Undo would succeed.
func (k *Kernel) CanUndo() bool {
	if k.head == "" {
		return false
	}
	return k.txs[k.head].Reversible
}

// CanRedo reports whether Redo would succeed.
func (k *Kernel) CanRedo() bool {
	return len(k.children[k.head]) > 0
}

// =============================================================================
// Queries
// =============================================================================

// Head returns the id of the current head, or "" at the root.
func (k *Kernel) Head() string { return k.head }

// Tx returns a committed transaction by id. The record must not be modified.
func (k *Kernel) Tx(id string) (*CommittedTx, bool) {
	tx, ok := k.txs[id]
	return tx, ok
}

// Children returns the ids of transactions whose parent is id, oldest
// first. Use "" for the root.
func (k *Kernel) Children(id string) []string {
	return append([]string(nil), k.children[id]...)
}

// History returns every committed transaction in commit order, including
// abandoned branches.
func (k *Kernel) History() []*CommittedTx {
	out := make([]*CommittedTx, 0, len(k.order))
	for _, id := range k.order {
		out = append(out, k.txs[id])
	}
	return out
}

// Path returns the transactions from the root to the head.
func (k *Kernel) Path() []*CommittedTx {
	var out []*CommittedTx
	for id := k.head; id != ""; id = k.txs[id].ParentID {
		out = append(out, k.txs[id])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Doc returns a copy of the canonical document.
func (k *Kernel) Doc() *model.Patch { return k.doc.Clone() }

// Graph returns the semantic graph of the canonical document. Graphs are
// replaced wholesale and never mutated after construction.
func (k *Kernel) Graph() *graph.Graph { return k.graph }

// Report returns the validation result of the canonical document.
func (k *Kernel) Report() validate.Result { return k.report }

// Revision counts every change to the canonical document.
func (k *Kernel) Revision() uint64 { return k.revision }

// Catalog returns the block catalog in use.
func (k *Kernel) Catalog() *catalog.Catalog { return k.catalog }

// Preflight checks a prospective connection against the canonical document.
func (k *Kernel) Preflight(from, to model.PortRef) validate.Result {
	return k.newValidator(k.graph, k.doc, k.revision).Preflight(from, to)
}

// =============================================================================
// Internals
// =============================================================================

// install replaces the document and rebuilds the derived state.
func (k *Kernel) install(ctx context.Context, doc *model.Patch) {
	g := graph.BuildContext(ctx, doc)
	next := k.revision
	if k.graph != nil {
		next++
	}
	k.doc = doc
	k.graph = g
	k.revision = next
	k.report = k.newValidator(g, doc, next).Validate()
}

func (k *Kernel) newValidator(g *graph.Graph, p *model.Patch, revision uint64) *validate.Validator {
	return validate.New(g, p, revision,
		validate.WithTypeOracle(k.oracle),
		validate.WithTimeRootTypes(k.timeRootTypes...))
}

func (k *Kernel) notify(e Event) {
	for _, o := range k.observers {
		o.OnKernelEvent(e)
	}
}

// IsRejected reports whether err is a validation rejection and returns it.
func IsRejected(err error) (*RejectedError, bool) {
	var rej *RejectedError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}
