// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package catalog is the block type registry.
//
// Each entry declares the slots a block of that type is created with, its
// default parameters, and whether the type anchors the patch time base.
// The default catalog is embedded; an external file can replace it through
// the PATCHKERNEL_CATALOG environment variable.
//
// Thread Safety:
//
//	A loaded Catalog is immutable and safe for concurrent use.
package catalog

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/patchkernel/services/patchkernel/model"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxYAMLFileSize bounds external catalog files (1MB).
	MaxYAMLFileSize = 1024 * 1024

	// MaxEntries bounds the number of block types in one catalog.
	MaxEntries = 500

	// EnvPath names the environment variable holding an external catalog path.
	EnvPath = "PATCHKERNEL_CATALOG"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrUnknownType is returned when a block type is not in the catalog.
	ErrUnknownType = errors.New("unknown block type")

	// ErrInvalidCatalog is returned when catalog YAML fails to parse or validate.
	ErrInvalidCatalog = errors.New("invalid catalog")

	// ErrFileTooLarge is returned when an external catalog exceeds MaxYAMLFileSize.
	ErrFileTooLarge = errors.New("catalog file too large")
)

//go:embed blocks.yaml
var defaultCatalogYAML []byte

// =============================================================================
// Metrics and tracing
// =============================================================================

var (
	catalogLoadErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "patchkernel_catalog_load_errors_total",
		Help: "Total block catalog load errors",
	})

	catalogLoadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "patchkernel_catalog_load_duration_seconds",
		Help:    "Duration of block catalog loading",
		Buckets: []float64{0.0005, 0.001, 0.01, 0.05, 0.1},
	})
)

var catalogTracer = otel.Tracer("patchkernel.catalog")

var entryValidate = validator.New()

// =============================================================================
// Types
// =============================================================================

type catalogYAML struct {
	Blocks []Entry `yaml:"blocks" validate:"required,min=1,unique=Type,dive"`
}

// Entry describes one block type.
type Entry struct {
	Type        string         `yaml:"type" validate:"required"`
	Category    string         `yaml:"category,omitempty"`
	Description string         `yaml:"description,omitempty"`
	TimeRoot    bool           `yaml:"time_root,omitempty"`
	Params      map[string]any `yaml:"params,omitempty"`
	Inputs      []model.Slot   `yaml:"inputs,omitempty" validate:"unique=ID,dive"`
	Outputs     []model.Slot   `yaml:"outputs,omitempty" validate:"unique=ID,dive"`
}

// Catalog is an immutable set of block type entries keyed by type name.
type Catalog struct {
	entries map[string]Entry
	types   []string
	source  string
}

// =============================================================================
// Loading
// =============================================================================

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
	defaultErr     error
)

// Default returns the process-wide catalog, loading it on first use.
//
// # Description
//
// When PATCHKERNEL_CATALOG names a readable file it is used; otherwise the
// embedded catalog is. A failing external file is logged and the embedded
// catalog is used instead.
//
// # Thread Safety
//
// Safe for concurrent use via sync.Once.
func Default(ctx context.Context) (*Catalog, error) {
	defaultOnce.Do(func() {
		defaultCatalog, defaultErr = loadDefault(ctx)
	})
	return defaultCatalog, defaultErr
}

// ResetDefault clears the cached catalog. For tests only.
func ResetDefault() {
	defaultOnce = sync.Once{}
	defaultCatalog = nil
	defaultErr = nil
}

// Embedded parses the embedded catalog without caching.
func Embedded() (*Catalog, error) {
	return Parse(context.Background(), defaultCatalogYAML, "embedded")
}

func loadDefault(ctx context.Context) (*Catalog, error) {
	ctx, span := catalogTracer.Start(ctx, "catalog.Default")
	defer span.End()

	if path := os.Getenv(EnvPath); path != "" {
		c, err := LoadFile(ctx, path)
		if err == nil {
			slog.Info("Loaded block catalog from external file",
				slog.String("path", path),
				slog.Int("type_count", len(c.types)))
			span.SetAttributes(attribute.String("source", "external"))
			return c, nil
		}
		slog.Warn("External block catalog not usable, using embedded default",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}

	span.SetAttributes(attribute.String("source", "embedded"))
	return Parse(ctx, defaultCatalogYAML, "embedded")
}

// LoadFile reads and parses a catalog file.
func LoadFile(ctx context.Context, path string) (*Catalog, error) {
	ctx, span := catalogTracer.Start(ctx, "catalog.LoadFile",
		trace.WithAttributes(attribute.String("path", path)))
	defer span.End()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving catalog path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		catalogLoadErrors.Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "stat failed")
		return nil, fmt.Errorf("stat catalog %s: %w", absPath, err)
	}
	if info.Size() > MaxYAMLFileSize {
		catalogLoadErrors.Inc()
		span.SetStatus(codes.Error, "file too large")
		return nil, fmt.Errorf("%w: %s is %d bytes (max %d)", ErrFileTooLarge, absPath, info.Size(), MaxYAMLFileSize)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		catalogLoadErrors.Inc()
		span.RecordError(err)
		return nil, fmt.Errorf("reading catalog %s: %w", absPath, err)
	}
	return Parse(ctx, data, absPath)
}

// Parse builds a catalog from YAML. source is recorded for diagnostics.
func Parse(ctx context.Context, data []byte, source string) (*Catalog, error) {
	_, span := catalogTracer.Start(ctx, "catalog.Parse")
	defer span.End()
	start := time.Now()
	defer func() { catalogLoadDuration.Observe(time.Since(start).Seconds()) }()

	var raw catalogYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		catalogLoadErrors.Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if len(raw.Blocks) > MaxEntries {
		catalogLoadErrors.Inc()
		return nil, fmt.Errorf("%w: %d entries exceeds max %d", ErrInvalidCatalog, len(raw.Blocks), MaxEntries)
	}
	if err := entryValidate.Struct(raw); err != nil {
		catalogLoadErrors.Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}

	c := &Catalog{
		entries: make(map[string]Entry, len(raw.Blocks)),
		types:   make([]string, 0, len(raw.Blocks)),
		source:  source,
	}
	for _, e := range raw.Blocks {
		c.entries[e.Type] = e
		c.types = append(c.types, e.Type)
	}
	sort.Strings(c.types)

	span.SetAttributes(attribute.Int("type_count", len(c.types)))
	return c, nil
}

// =============================================================================
// Queries
// =============================================================================

// Source reports where the catalog was loaded from.
func (c *Catalog) Source() string { return c.source }

// Types returns every type name, sorted.
func (c *Catalog) Types() []string {
	return append([]string(nil), c.types...)
}

// Lookup returns a copy of the entry for a type.
func (c *Catalog) Lookup(blockType string) (Entry, bool) {
	e, ok := c.entries[blockType]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

// TimeRootTypes returns the sorted names of types that anchor the time base.
func (c *Catalog) TimeRootTypes() []string {
	var out []string
	for _, t := range c.types {
		if c.entries[t].TimeRoot {
			out = append(out, t)
		}
	}
	return out
}

// NewBlock instantiates a block of the given type with the catalog's slots
// and default parameters. The returned block shares no memory with the
// catalog.
func (c *Catalog) NewBlock(id, blockType string) (model.Block, error) {
	e, ok := c.entries[blockType]
	if !ok {
		return model.Block{}, fmt.Errorf("%w: %s", ErrUnknownType, blockType)
	}
	e = e.clone()
	params := e.Params
	if params == nil {
		params = map[string]any{}
	}
	return model.Block{
		ID:      id,
		Type:    blockType,
		Params:  params,
		Inputs:  e.Inputs,
		Outputs: e.Outputs,
	}, nil
}

// Slots returns copies of the input and output slots declared for a type.
func (c *Catalog) Slots(blockType string) (inputs, outputs []model.Slot, err error) {
	e, ok := c.entries[blockType]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownType, blockType)
	}
	e = e.clone()
	return e.Inputs, e.Outputs, nil
}

func (e Entry) clone() Entry {
	out := e
	out.Params = model.CloneParams(e.Params)
	out.Inputs = append([]model.Slot(nil), e.Inputs...)
	out.Outputs = append([]model.Slot(nil), e.Outputs...)
	return out
}
