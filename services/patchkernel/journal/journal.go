// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package journal persists kernel history so a session can be rebuilt.
//
// A session is a baseline document plus an append-only list of kernel
// events (commit, undo, redo). Replaying the events against the baseline
// reproduces the same history tree, head and revision.
//
// Key format:
//
//	baseline:{session}           -> [4-byte CRC32][JSON baseline]
//	entry:{session}:{seq:016d}   -> [4-byte CRC32][JSON entry]
//
// The baseline also carries the BLAKE3 fingerprint of its document, which
// is checked on restore.
package journal

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/patchkernel/services/patchkernel/codec"
	"github.com/AleutianAI/patchkernel/services/patchkernel/kernel"
	"github.com/AleutianAI/patchkernel/services/patchkernel/model"
	"github.com/AleutianAI/patchkernel/services/patchkernel/storage/badger"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrClosed is returned when operations are called on a closed journal.
	ErrClosed = errors.New("journal is closed")

	// ErrCorrupted is returned when a stored value fails its CRC or
	// fingerprint check.
	ErrCorrupted = errors.New("journal entry corrupted")

	// ErrNoBaseline is returned when a session has no baseline document.
	ErrNoBaseline = errors.New("journal session has no baseline")

	// ErrSessionExists is returned by Begin when the session already has a
	// baseline.
	ErrSessionExists = errors.New("journal session already started")

	// ErrSequenceGap is returned when replay finds a missing entry.
	ErrSequenceGap = errors.New("journal sequence number gap detected")

	// ErrDiverged is returned when replaying an entry does not reproduce
	// the recorded transaction or revision.
	ErrDiverged = errors.New("journal replay diverged from record")
)

const (
	baselinePrefix = "baseline:"
	entryPrefix    = "entry:"
)

var (
	journalAppends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "patchkernel_journal_appends_total",
		Help: "Journal entries written, by event kind",
	}, []string{"kind"})

	journalErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "patchkernel_journal_append_errors_total",
		Help: "Kernel events that could not be journaled",
	})

	journalReplayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "patchkernel_journal_replayed_entries_total",
		Help: "Journal entries replayed into a kernel",
	})
)

var (
	journalTracer   = otel.Tracer("patchkernel.journal")
	journalValidate = validator.New()
)

// -----------------------------------------------------------------------------
// Records
// -----------------------------------------------------------------------------

// Entry is one journaled kernel event. Tx is set for commits only; undo and
// redo refer to an earlier commit by TxID.
type Entry struct {
	Seq      uint64              `json:"seq"`
	Kind     kernel.EventKind    `json:"kind"`
	TxID     string              `json:"txId"`
	Revision uint64              `json:"revision"`
	Recorded time.Time           `json:"recorded"`
	Tx       *kernel.CommittedTx `json:"tx,omitempty"`
}

type baseline struct {
	Fingerprint string       `json:"fingerprint"`
	Created     time.Time    `json:"created"`
	Doc         *model.Patch `json:"doc"`
}

// -----------------------------------------------------------------------------
// Journal
// -----------------------------------------------------------------------------

// Config configures a Journal.
type Config struct {
	// SessionID scopes keys. Generated when empty.
	SessionID string `validate:"omitempty,max=128,excludesall=:"`

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Now stamps entries. Defaults to time.Now.
	Now func() time.Time
}

// Journal records kernel events for one session.
//
// # Thread Safety
//
// Safe for concurrent use. Observer callbacks run on the kernel's
// goroutine.
type Journal struct {
	db      *badger.DB
	ownsDB  bool
	session string
	logger  *slog.Logger
	now     func() time.Time

	seq       atomic.Uint64
	replaying atomic.Bool
	closed    atomic.Bool

	mu      sync.Mutex
	lastErr error
}

// New opens a journal session on an existing store. The store stays owned
// by the caller.
func New(ctx context.Context, db *badger.DB, cfg Config) (*Journal, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	if err := journalValidate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid journal config: %w", err)
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	j := &Journal{
		db:      db,
		session: cfg.SessionID,
		now:     cfg.Now,
		logger: cfg.Logger.With(
			slog.String("component", "journal"),
			slog.String("session_id", cfg.SessionID)),
	}
	if err := j.initSeq(ctx); err != nil {
		return nil, fmt.Errorf("init sequence number: %w", err)
	}
	return j, nil
}

// Open opens a store from storeCfg and a journal session on it. Close
// closes both.
func Open(ctx context.Context, storeCfg badger.Config, cfg Config) (*Journal, error) {
	db, err := badger.Open(storeCfg)
	if err != nil {
		return nil, err
	}
	j, err := New(ctx, db, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	j.ownsDB = true
	j.logger.Info("journal opened",
		slog.String("path", storeCfg.Path),
		slog.Bool("in_memory", storeCfg.InMemory),
		slog.Uint64("last_seq_num", j.seq.Load()))
	return j, nil
}

// SessionID returns the session this journal writes to.
func (j *Journal) SessionID() string { return j.session }

// Close closes the journal, and the store when Open created it.
func (j *Journal) Close() error {
	if j.closed.Swap(true) {
		return nil
	}
	if !j.ownsDB {
		return nil
	}
	if err := j.db.Sync(); err != nil {
		j.logger.Warn("sync before close failed", slog.String("error", err.Error()))
	}
	return j.db.Close()
}

func (j *Journal) initSeq(ctx context.Context) error {
	prefix := j.entryKeyPrefix()
	last, ok, err := j.db.LastKey(ctx, prefix)
	if err != nil || !ok {
		return err
	}
	seq, err := strconv.ParseUint(string(last[len(prefix):]), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: malformed key %q", ErrCorrupted, last)
	}
	j.seq.Store(seq)
	return nil
}

func (j *Journal) entryKeyPrefix() []byte {
	return []byte(entryPrefix + j.session + ":")
}

func (j *Journal) entryKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%016d", entryPrefix, j.session, seq))
}

func (j *Journal) baselineKey() []byte {
	return []byte(baselinePrefix + j.session)
}

// -----------------------------------------------------------------------------
// Writing
// -----------------------------------------------------------------------------

// Begin stores the baseline document for the session.
func (j *Journal) Begin(ctx context.Context, doc *model.Patch) error {
	if j.closed.Load() {
		return ErrClosed
	}
	if doc == nil {
		doc = model.New("")
	}
	doc = doc.Clone()
	doc.Normalize()

	fp, err := codec.Fingerprint(doc)
	if err != nil {
		return err
	}
	data, err := encode(baseline{Fingerprint: fp, Created: j.now(), Doc: doc})
	if err != nil {
		return err
	}

	key := j.baselineKey()
	err = j.db.Update(ctx, func(txn *dgbadger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("%w: %s", ErrSessionExists, j.session)
		} else if !errors.Is(err, dgbadger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return err
	}
	j.logger.Info("journal session started", slog.String("fingerprint", fp))
	return nil
}

// Start begins a session with doc and returns a kernel over the same
// document whose events are journaled.
func (j *Journal) Start(ctx context.Context, doc *model.Patch, opts ...kernel.Option) (*kernel.Kernel, error) {
	if err := j.Begin(ctx, doc); err != nil {
		return nil, err
	}
	return kernel.New(doc, append(opts, kernel.WithObserver(j.Observer()))...)
}

// Append writes one kernel event.
func (j *Journal) Append(ctx context.Context, e kernel.Event) error {
	if j.closed.Load() {
		return ErrClosed
	}
	if e.Tx == nil {
		return errors.New("event has no transaction")
	}

	ctx, span := journalTracer.Start(ctx, "journal.Append",
		trace.WithAttributes(
			attribute.String("session_id", j.session),
			attribute.String("kind", string(e.Kind)),
			attribute.String("tx.id", e.Tx.ID),
		))
	defer span.End()

	entry := Entry{
		Kind:     e.Kind,
		TxID:     e.Tx.ID,
		Revision: e.Revision,
		Recorded: j.now(),
	}
	if e.Kind == kernel.EventCommit {
		entry.Tx = e.Tx
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	_, ok, err := j.db.Get(ctx, j.baselineKey())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoBaseline, j.session)
	}

	entry.Seq = j.seq.Load() + 1
	data, err := encode(entry)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode failed")
		return fmt.Errorf("encode entry: %w", err)
	}
	err = j.db.Update(ctx, func(txn *dgbadger.Txn) error {
		return txn.Set(j.entryKey(entry.Seq), data)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		return fmt.Errorf("write entry: %w", err)
	}
	j.seq.Store(entry.Seq)
	journalAppends.WithLabelValues(string(e.Kind)).Inc()

	span.SetAttributes(attribute.Int64("seq_num", int64(entry.Seq)), attribute.Int("entry_bytes", len(data)))
	j.logger.Debug("entry appended",
		slog.Uint64("seq_num", entry.Seq),
		slog.String("kind", string(e.Kind)),
		slog.String("tx_id", e.Tx.ID))
	return nil
}

// Observer returns a kernel observer that journals every event. Failures
// are logged and kept for Err, since observers cannot fail a kernel call.
// Events are ignored while Restore is replaying.
func (j *Journal) Observer() kernel.Observer {
	return kernel.ObserverFunc(func(e kernel.Event) {
		if j.replaying.Load() {
			return
		}
		if err := j.Append(context.Background(), e); err != nil {
			journalErrors.Inc()
			j.mu.Lock()
			j.lastErr = err
			j.mu.Unlock()
			j.logger.Error("failed to journal kernel event",
				slog.String("kind", string(e.Kind)),
				slog.String("error", err.Error()))
		}
	})
}

// Err returns the most recent error seen by Observer, if any.
func (j *Journal) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastErr
}

// -----------------------------------------------------------------------------
// Reading
// -----------------------------------------------------------------------------

// Baseline returns the session's baseline document and its fingerprint.
func (j *Journal) Baseline(ctx context.Context) (*model.Patch, string, error) {
	if j.closed.Load() {
		return nil, "", ErrClosed
	}
	data, ok, err := j.db.Get(ctx, j.baselineKey())
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrNoBaseline, j.session)
	}
	var b baseline
	if err := decode(data, &b); err != nil {
		return nil, "", fmt.Errorf("baseline: %w", err)
	}
	if b.Doc == nil {
		return nil, "", fmt.Errorf("%w: baseline has no document", ErrCorrupted)
	}
	b.Doc.Normalize()
	fp, err := codec.Fingerprint(b.Doc)
	if err != nil {
		return nil, "", err
	}
	if fp != b.Fingerprint {
		return nil, "", fmt.Errorf("%w: baseline fingerprint %s, computed %s", ErrCorrupted, b.Fingerprint, fp)
	}
	return b.Doc, fp, nil
}

// Entries returns the session's entries in sequence order.
func (j *Journal) Entries(ctx context.Context) ([]Entry, error) {
	if j.closed.Load() {
		return nil, ErrClosed
	}
	var entries []Entry
	prefix := j.entryKeyPrefix()
	err := j.db.Scan(ctx, prefix, func(key, val []byte) error {
		seq, err := strconv.ParseUint(string(key[len(prefix):]), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: malformed key %q", ErrCorrupted, key)
		}
		if want := uint64(len(entries)) + 1; seq != want {
			return fmt.Errorf("%w: expected %d, got %d", ErrSequenceGap, want, seq)
		}
		var e Entry
		if err := decode(val, &e); err != nil {
			return fmt.Errorf("entry %d: %w", seq, err)
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Sessions lists every session with a baseline in the store.
func Sessions(ctx context.Context, db *badger.DB) ([]string, error) {
	var ids []string
	err := db.Scan(ctx, []byte(baselinePrefix), func(key, _ []byte) error {
		ids = append(ids, strings.TrimPrefix(string(key), baselinePrefix))
		return nil
	})
	return ids, err
}

// -----------------------------------------------------------------------------
// Restore
// -----------------------------------------------------------------------------

// Restore rebuilds a kernel from the baseline and replays every entry.
//
// # Description
//
// Commits are replayed with kernel.Apply, which re-derives inverses and
// validation; undo and redo entries call the kernel's own navigation. Each
// step must reproduce the recorded transaction id and revision, otherwise
// ErrDiverged is returned. opts must configure the kernel the same way as
// the recorded one (catalog, time-root types, policies). The journal's own
// observer may be among opts; it stays quiet during replay and journals
// later events, so the returned kernel continues the session.
//
// # Outputs
//
//   - *kernel.Kernel: Kernel with the recorded history tree and head.
//   - error: ErrNoBaseline, ErrCorrupted, ErrSequenceGap, ErrDiverged, or
//     a kernel error.
func (j *Journal) Restore(ctx context.Context, opts ...kernel.Option) (*kernel.Kernel, error) {
	ctx, span := journalTracer.Start(ctx, "journal.Restore",
		trace.WithAttributes(attribute.String("session_id", j.session)))
	defer span.End()

	doc, _, err := j.Baseline(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "baseline")
		return nil, err
	}
	entries, err := j.Entries(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "entries")
		return nil, err
	}

	j.replaying.Store(true)
	defer j.replaying.Store(false)

	k, err := kernel.New(doc, opts...)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if err := replayEntry(ctx, k, e); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "replay failed")
			return nil, fmt.Errorf("replaying entry %d (%s %s): %w", e.Seq, e.Kind, e.TxID, err)
		}
		journalReplayed.Inc()
	}

	span.SetAttributes(attribute.Int("entries", len(entries)), attribute.String("head", k.Head()))
	j.logger.Info("journal restored",
		slog.Int("entries", len(entries)),
		slog.String("head", k.Head()),
		slog.Uint64("revision", k.Revision()))
	return k, nil
}

// Resume restores the session and keeps journaling the returned kernel.
func (j *Journal) Resume(ctx context.Context, opts ...kernel.Option) (*kernel.Kernel, error) {
	return j.Restore(ctx, append(opts, kernel.WithObserver(j.Observer()))...)
}

func replayEntry(ctx context.Context, k *kernel.Kernel, e Entry) error {
	var tx *kernel.CommittedTx
	var err error
	switch e.Kind {
	case kernel.EventCommit:
		if e.Tx == nil {
			return fmt.Errorf("%w: commit entry without transaction", ErrCorrupted)
		}
		tx, err = k.Apply(ctx, e.Tx)
	case kernel.EventUndo:
		tx, err = k.Undo(ctx)
	case kernel.EventRedo:
		tx, err = k.Redo(ctx)
	default:
		return fmt.Errorf("%w: unknown event kind %q", ErrCorrupted, e.Kind)
	}
	if err != nil {
		return err
	}
	if tx.ID != e.TxID {
		return fmt.Errorf("%w: moved tx %s, recorded %s", ErrDiverged, tx.ID, e.TxID)
	}
	if k.Revision() != e.Revision {
		return fmt.Errorf("%w: revision %d, recorded %d", ErrDiverged, k.Revision(), e.Revision)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Encoding
// -----------------------------------------------------------------------------

// encode marshals v as JSON behind a CRC32: [4-byte CRC][JSON].
func encode(v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out[:4], crc32.ChecksumIEEE(body))
	copy(out[4:], body)
	return out, nil
}

func decode(data []byte, v any) error {
	if len(data) < 5 {
		return fmt.Errorf("%w: value too short", ErrCorrupted)
	}
	stored := binary.BigEndian.Uint32(data[:4])
	body := data[4:]
	if computed := crc32.ChecksumIEEE(body); stored != computed {
		return fmt.Errorf("%w: stored=%08x computed=%08x", ErrCorrupted, stored, computed)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	return nil
}
