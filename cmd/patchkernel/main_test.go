// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/patchkernel/services/patchkernel/codec"
	"github.com/AleutianAI/patchkernel/services/patchkernel/model"
	pt "github.com/AleutianAI/patchkernel/services/patchkernel/patchtest"
)

// run executes the CLI with args and returns what it printed on stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// isolate points every config source at the test's temp dirs.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("PATCHKERNEL_JOURNAL_PATH", filepath.Join(dir, "journal"))
	t.Setenv("PATCHKERNEL_JOURNAL", "false")
	t.Setenv("PATCHKERNEL_CATALOG", "")
	t.Setenv("OTEL_TRACES_EXPORTER", "none")
	t.Setenv("OTEL_METRICS_EXPORTER", "none")
	return dir
}

func writeDoc(t *testing.T, path string, p *model.Patch) {
	t.Helper()
	require.NoError(t, codec.Save(context.Background(), path, p))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestHash_SameAcrossFormats(t *testing.T) {
	dir := isolate(t)
	jsonPath := filepath.Join(dir, "patch.json")
	yamlPath := filepath.Join(dir, "patch.yaml")
	writeDoc(t, jsonPath, pt.Basic())
	writeDoc(t, yamlPath, pt.Basic())

	out, err := run(t, "hash", jsonPath, yamlPath)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, strings.Fields(lines[0])[0], strings.Fields(lines[1])[0])
	assert.Contains(t, lines[0], jsonPath)
	assert.Contains(t, lines[1], yamlPath)
}

func TestValidate(t *testing.T) {
	dir := isolate(t)
	good := filepath.Join(dir, "good.yaml")
	writeDoc(t, good, pt.Basic())

	noRoot := pt.Basic()
	delete(noRoot.Blocks, "root")
	bad := filepath.Join(dir, "bad.json")
	writeDoc(t, bad, noRoot)

	t.Run("valid", func(t *testing.T) {
		out, err := run(t, "validate", good)
		require.NoError(t, err)
		assert.Contains(t, out, good+": ok")
	})

	t.Run("invalid", func(t *testing.T) {
		out, err := run(t, "validate", good, bad)
		require.ErrorIs(t, err, errInvalid)
		assert.Contains(t, out, good+": ok")
		assert.Contains(t, out, "time_root_missing")
		assert.Less(t, strings.Index(out, good), strings.Index(out, bad), "reports keep argument order")
	})

	t.Run("unreadable", func(t *testing.T) {
		out, err := run(t, "validate", filepath.Join(dir, "missing.yaml"))
		require.ErrorIs(t, err, errInvalid)
		assert.Contains(t, out, "missing.yaml")
	})

	t.Run("no args", func(t *testing.T) {
		_, err := run(t, "validate")
		require.Error(t, err)
	})
}

func TestApply(t *testing.T) {
	dir := isolate(t)
	patch := filepath.Join(dir, "patch.yaml")
	writeDoc(t, patch, pt.Basic())
	original, err := os.ReadFile(patch)
	require.NoError(t, err)

	t.Run("json script", func(t *testing.T) {
		script := filepath.Join(dir, "label.json")
		writeFile(t, script, `[{"op":"BlockSetLabel","data":{"blockId":"a","label":"Carrier"}}]`)
		out := filepath.Join(dir, "labelled.yaml")

		stdout, err := run(t, "apply", patch, script, "--out", out, "--actor", "tests")
		require.NoError(t, err)
		assert.Contains(t, stdout, "label.json")
		assert.Contains(t, stdout, "wrote "+out)

		doc, err := codec.Load(context.Background(), out)
		require.NoError(t, err)
		assert.Equal(t, "Carrier", doc.Blocks["a"].Label)

		unchanged, err := os.ReadFile(patch)
		require.NoError(t, err)
		assert.Equal(t, original, unchanged, "--out leaves the source untouched")
	})

	t.Run("yaml script", func(t *testing.T) {
		script := filepath.Join(dir, "label.yaml")
		writeFile(t, script, "- op: BlockSetLabel\n  data:\n    blockId: b\n    label: Modulator\n")
		out := filepath.Join(dir, "yaml-out.json")

		_, err := run(t, "apply", patch, script, "-o", out, "--label", "name b")
		require.NoError(t, err)

		doc, err := codec.Load(context.Background(), out)
		require.NoError(t, err)
		assert.Equal(t, "Modulator", doc.Blocks["b"].Label)
	})

	t.Run("rejected", func(t *testing.T) {
		script := filepath.Join(dir, "drop-root.json")
		writeFile(t, script, `[{"op":"BlockRemove","data":{"blockId":"root"}}]`)
		out := filepath.Join(dir, "rejected.yaml")

		stdout, err := run(t, "apply", patch, script, "-o", out)
		require.ErrorIs(t, err, errInvalid)
		assert.Contains(t, stdout, "time_root_missing")
		assert.NoFileExists(t, out)
	})

	t.Run("dry run", func(t *testing.T) {
		script := filepath.Join(dir, "label.json")
		out := filepath.Join(dir, "dry.yaml")

		_, err := run(t, "apply", patch, script, "-o", out, "--dry-run")
		require.NoError(t, err)
		assert.NoFileExists(t, out)
	})

	t.Run("bad script", func(t *testing.T) {
		script := filepath.Join(dir, "bad.json")
		writeFile(t, script, `[{"op":"Nope","data":{}}]`)
		_, err := run(t, "apply", patch, script, "-o", filepath.Join(dir, "x.yaml"))
		require.Error(t, err)
		assert.False(t, errors.Is(err, errInvalid))
	})

	t.Run("empty script", func(t *testing.T) {
		script := filepath.Join(dir, "empty.json")
		writeFile(t, script, `[]`)
		_, err := run(t, "apply", patch, script)
		require.ErrorContains(t, err, "no ops")
	})
}

func TestJournal_ApplyThenRestore(t *testing.T) {
	dir := isolate(t)
	patch := filepath.Join(dir, "patch.yaml")
	writeDoc(t, patch, pt.Basic())
	script := filepath.Join(dir, "label.json")
	writeFile(t, script, `[{"op":"BlockSetLabel","data":{"blockId":"a","label":"Carrier"}}]`)
	applied := filepath.Join(dir, "applied.yaml")

	out, err := run(t, "apply", patch, script, "-o", applied, "--journal", "--session", "s1")
	require.NoError(t, err)
	assert.Contains(t, out, "journal session s1")

	out, err = run(t, "journal", "sessions")
	require.NoError(t, err)
	assert.Equal(t, "s1", strings.TrimSpace(out))

	out, err = run(t, "journal", "log", "--session", "s1")
	require.NoError(t, err)
	assert.Contains(t, out, "Session s1")
	assert.Contains(t, out, "commit")
	assert.Contains(t, out, "label.json")

	restored := filepath.Join(dir, "restored.json")
	out, err = run(t, "journal", "restore", "--session", "s1", "--out", restored)
	require.NoError(t, err)
	assert.Contains(t, out, "revision 1")

	hashes, err := run(t, "hash", applied, restored)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(hashes), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, strings.Fields(lines[0])[0], strings.Fields(lines[1])[0])

	t.Run("unknown session", func(t *testing.T) {
		_, err := run(t, "journal", "restore", "--session", "nope", "--out", filepath.Join(dir, "n.yaml"))
		require.Error(t, err)
	})

	t.Run("session flag required", func(t *testing.T) {
		_, err := run(t, "journal", "log")
		require.Error(t, err)
	})
}

func TestJournal_NoSessions(t *testing.T) {
	isolate(t)
	out, err := run(t, "journal", "sessions")
	require.NoError(t, err)
	assert.Contains(t, out, "no sessions")
}

func TestRunWatchLoop(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "patch.yaml")
	other := filepath.Join(dir, "other.yaml")

	events := make(chan fsnotify.Event)
	errs := make(chan error)
	changed := make(chan string, 8)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runWatchLoop(ctx, events, errs, map[string]bool{target: true}, logger, func(path string) {
			changed <- path
		})
	}()

	events <- fsnotify.Event{Name: other, Op: fsnotify.Write}
	events <- fsnotify.Event{Name: target, Op: fsnotify.Chmod}
	errs <- errors.New("transient")
	events <- fsnotify.Event{Name: target, Op: fsnotify.Write}
	events <- fsnotify.Event{Name: target, Op: fsnotify.Create}

	select {
	case got := <-changed:
		assert.Equal(t, target, got)
	case <-time.After(2 * time.Second):
		t.Fatal("no change reported")
	}
	select {
	case got := <-changed:
		t.Fatalf("burst was not coalesced, extra change for %s", got)
	case <-time.After(3 * watchDebounce):
	}

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestRunWatchLoop_ClosedEvents(t *testing.T) {
	events := make(chan fsnotify.Event)
	close(events)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	err := runWatchLoop(context.Background(), events, nil, nil, logger, func(string) {})
	assert.NoError(t, err)
}
