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
	"fmt"
	"strings"
)

// Severity of a diagnostic. Only errors block a commit.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Code identifies the rule that produced a diagnostic.
type Code string

const (
	CodeTimeRootMissing     Code = "time_root_missing"
	CodeTimeRootMultiple    Code = "time_root_multiple"
	CodeMultipleWriters     Code = "multiple_writers"
	CodeTypeMismatch        Code = "type_mismatch"
	CodeCycleDetected       Code = "cycle_detected"
	CodeMissingEndpoint     Code = "missing_endpoint"
	CodeMissingComposite    Code = "missing_composite"
	CodeBusWithoutPublisher Code = "bus_without_publishers"
	CodeTimeRootUnresolved  Code = "time_root_unresolved"
)

// TargetKind discriminates what a diagnostic points at.
type TargetKind string

const (
	TargetBlock     TargetKind = "block"
	TargetPort      TargetKind = "port"
	TargetBus       TargetKind = "bus"
	TargetBinding   TargetKind = "binding"
	TargetTimeRoot  TargetKind = "time_root"
	TargetGraphSpan TargetKind = "graph_span"
	TargetComposite TargetKind = "composite"
)

// Target is the primary subject of a diagnostic. Which fields are set
// depends on Kind:
//
//   - block, time_root: BlockID (empty for a missing time root)
//   - port: BlockID, SlotID
//   - bus: BusID
//   - binding: ID of the edge, publisher or listener
//   - graph_span: Blocks
//   - composite: CompositeID, BlockID of the instance
type Target struct {
	Kind        TargetKind `json:"kind"`
	BlockID     string     `json:"blockId,omitempty"`
	SlotID      string     `json:"slotId,omitempty"`
	BusID       string     `json:"busId,omitempty"`
	ID          string     `json:"id,omitempty"`
	CompositeID string     `json:"compositeId,omitempty"`
	Blocks      []string   `json:"blocks,omitempty"`
}

// String renders the target for log lines and CLI output.
func (t Target) String() string {
	switch t.Kind {
	case TargetPort:
		return fmt.Sprintf("port %s.%s", t.BlockID, t.SlotID)
	case TargetBus:
		return "bus " + t.BusID
	case TargetBinding:
		return "binding " + t.ID
	case TargetGraphSpan:
		return "blocks [" + strings.Join(t.Blocks, " ") + "]"
	case TargetComposite:
		return fmt.Sprintf("composite %s (block %s)", t.CompositeID, t.BlockID)
	case TargetTimeRoot:
		if t.BlockID == "" {
			return "time root"
		}
		return "time root " + t.BlockID
	default:
		return "block " + t.BlockID
	}
}

// Diagnostic is one finding of the validator.
type Diagnostic struct {
	Code     Code     `json:"code"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Target   Target   `json:"target"`
	Related  []string `json:"related,omitempty"`
}

// String renders "severity code: message".
func (d Diagnostic) String() string {
	return fmt.Sprintf("%s %s: %s", d.Severity, d.Code, d.Message)
}

// Result is the outcome of a validation run. OK is true iff Errors is empty.
type Result struct {
	OK       bool         `json:"ok"`
	Revision uint64       `json:"revision"`
	Errors   []Diagnostic `json:"errors,omitempty"`
	Warnings []Diagnostic `json:"warnings,omitempty"`
}

// Diagnostics returns errors followed by warnings.
func (r Result) Diagnostics() []Diagnostic {
	out := make([]Diagnostic, 0, len(r.Errors)+len(r.Warnings))
	out = append(out, r.Errors...)
	return append(out, r.Warnings...)
}

// ByCode returns the diagnostics carrying code, errors first.
func (r Result) ByCode(code Code) []Diagnostic {
	var out []Diagnostic
	for _, d := range r.Diagnostics() {
		if d.Code == code {
			out = append(out, d)
		}
	}
	return out
}

// collector accumulates diagnostics in emission order.
type collector struct {
	errors   []Diagnostic
	warnings []Diagnostic
}

func (c *collector) errorf(code Code, target Target, related []string, format string, args ...any) {
	c.errors = append(c.errors, Diagnostic{
		Code:     code,
		Severity: SeverityError,
		Message:  fmt.Sprintf(format, args...),
		Target:   target,
		Related:  related,
	})
}

func (c *collector) warnf(code Code, target Target, related []string, format string, args ...any) {
	c.warnings = append(c.warnings, Diagnostic{
		Code:     code,
		Severity: SeverityWarning,
		Message:  fmt.Sprintf(format, args...),
		Target:   target,
		Related:  related,
	})
}

func (c *collector) result(revision uint64) Result {
	return Result{
		OK:       len(c.errors) == 0,
		Revision: revision,
		Errors:   c.errors,
		Warnings: c.warnings,
	}
}
