// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package codec loads, saves and fingerprints patch documents.
//
// Documents are stored as JSON or YAML. Decoding normalizes the document
// and checks its schema: struct tags, and that every map key equals the id
// of the entity stored under it. Fingerprints are BLAKE3 hashes of the
// canonical JSON encoding, so the same document hashes identically
// whichever format it was loaded from.
package codec

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"
	"lukechampine.com/blake3"

	"github.com/AleutianAI/patchkernel/services/patchkernel/model"
)

// MaxDocumentSize bounds documents read from disk (16MB).
const MaxDocumentSize = 16 * 1024 * 1024

var (
	// ErrUnknownFormat is returned for file extensions other than .json,
	// .yaml and .yml.
	ErrUnknownFormat = errors.New("unknown document format")

	// ErrInvalidDocument is returned when a document fails to decode or
	// fails schema validation.
	ErrInvalidDocument = errors.New("invalid patch document")

	// ErrDocumentTooLarge is returned when a file exceeds MaxDocumentSize.
	ErrDocumentTooLarge = errors.New("patch document too large")
)

// Format is a serialization format.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks a format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownFormat, path)
}

var (
	schema      = validator.New()
	codecTracer = otel.Tracer("patchkernel.codec")
)

// =============================================================================
// Encoding
// =============================================================================

// Decode parses, normalizes and schema-checks a document.
func Decode(data []byte, f Format) (*model.Patch, error) {
	var p model.Patch
	var err error
	switch f {
	case FormatJSON:
		err = json.Unmarshal(data, &p)
	case FormatYAML:
		err = yaml.Unmarshal(data, &p)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	p.Normalize()
	if err := ValidateSchema(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Encode serializes a document. JSON output is indented.
func Encode(p *model.Patch, f Format) ([]byte, error) {
	switch f {
	case FormatJSON:
		return json.MarshalIndent(p, "", "  ")
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(p); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
}

// ValidateSchema checks struct tags and map key consistency. It does not
// run the semantic validator.
func ValidateSchema(p *model.Patch) error {
	if err := schema.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	var mismatched []string
	check := func(kind, key, id string) {
		if key != id {
			mismatched = append(mismatched, fmt.Sprintf("%s key %q holds id %q", kind, key, id))
		}
	}
	for _, k := range model.SortedKeys(p.Blocks) {
		check("block", k, p.Blocks[k].ID)
	}
	for _, k := range model.SortedKeys(p.Edges) {
		check("edge", k, p.Edges[k].ID)
	}
	for _, k := range model.SortedKeys(p.Buses) {
		check("bus", k, p.Buses[k].ID)
	}
	for _, k := range model.SortedKeys(p.Publishers) {
		check("publisher", k, p.Publishers[k].ID)
	}
	for _, k := range model.SortedKeys(p.Listeners) {
		check("listener", k, p.Listeners[k].ID)
	}
	for _, k := range model.SortedKeys(p.Composites) {
		check("composite", k, p.Composites[k].ID)
	}
	for _, k := range model.SortedKeys(p.Assets) {
		check("asset", k, p.Assets[k].ID)
	}
	if len(mismatched) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidDocument, strings.Join(mismatched, "; "))
	}
	return nil
}

// Fingerprint returns the hex BLAKE3-256 hash of the document's canonical
// JSON encoding.
func Fingerprint(p *model.Patch) (string, error) {
	canonical, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encoding document for fingerprint: %w", err)
	}
	sum := blake3.Sum256(append([]byte("patch\n"), canonical...))
	return hex.EncodeToString(sum[:]), nil
}

// =============================================================================
// Files
// =============================================================================

// Load reads a document from disk, choosing the format by extension.
func Load(ctx context.Context, path string) (*model.Patch, error) {
	_, span := codecTracer.Start(ctx, "codec.Load",
		trace.WithAttributes(attribute.String("path", path)))
	defer span.End()

	f, err := FormatFromPath(path)
	if err != nil {
		span.SetStatus(codes.Error, "unknown format")
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stat failed")
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() > MaxDocumentSize {
		span.SetStatus(codes.Error, "too large")
		return nil, fmt.Errorf("%w: %s is %d bytes (max %d)", ErrDocumentTooLarge, path, info.Size(), MaxDocumentSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	p, err := Decode(data, f)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	span.SetAttributes(attribute.Int("blocks", len(p.Blocks)))
	return p, nil
}

// Save writes a document to disk atomically: it writes a temporary file
// in the same directory and renames it over path.
func Save(ctx context.Context, path string, p *model.Patch) error {
	_, span := codecTracer.Start(ctx, "codec.Save",
		trace.WithAttributes(attribute.String("path", path)))
	defer span.End()

	f, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	data, err := Encode(p, f)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("encoding %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		span.RecordError(err)
		return fmt.Errorf("renaming %s to %s: %w", tmpName, path, err)
	}
	return nil
}
