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
	"strings"

	"github.com/AleutianAI/patchkernel/pkg/ux"
	"github.com/AleutianAI/patchkernel/services/patchkernel/diff"
	"github.com/AleutianAI/patchkernel/services/patchkernel/journal"
	"github.com/AleutianAI/patchkernel/services/patchkernel/kernel"
	"github.com/AleutianAI/patchkernel/services/patchkernel/validate"
)

func renderReport(p *ux.Printer, name string, r validate.Result) {
	switch {
	case !r.OK:
		p.Status(ux.IconError, "%s: %d error(s), %d warning(s)", name, len(r.Errors), len(r.Warnings))
	case len(r.Warnings) > 0:
		p.Status(ux.IconWarning, "%s: ok, %d warning(s)", name, len(r.Warnings))
	default:
		p.Status(ux.IconSuccess, "%s: ok", name)
	}
	for _, d := range r.Diagnostics() {
		icon := ux.IconError
		if d.Severity == validate.SeverityWarning {
			icon = ux.IconWarning
		}
		p.Line("  %s %s [%s] %s", p.Icon(icon), d.Code, d.Target, d.Message)
		if len(d.Related) > 0 {
			p.Muted("related: %s", strings.Join(d.Related, ", "))
		}
	}
}

func renderDiff(p *ux.Printer, s diff.Summary) {
	p.Line("  %s %s, %d op(s)", p.Icon(ux.IconArrow), p.Render(ux.Styles.Subtitle, string(s.Category)), s.OpCount)
	for _, line := range s.Lines() {
		p.Muted("%s", line)
	}
}

func renderTx(p *ux.Printer, tx *kernel.CommittedTx) {
	label := tx.Meta.Label
	if !tx.Reversible {
		label += " (irreversible)"
	}
	p.Status(ux.IconSuccess, "%s %s", p.Render(ux.Styles.Highlight, tx.ID), label)
	renderDiff(p, tx.Diff)
}

func renderEntry(p *ux.Printer, e journal.Entry) {
	switch e.Kind {
	case kernel.EventCommit:
		label := ""
		if e.Tx != nil {
			label = e.Tx.Meta.Label
		}
		p.Line("%6d  r%-4d %-6s %s %s", e.Seq, e.Revision, e.Kind, p.Render(ux.Styles.Highlight, e.TxID), label)
		if e.Tx != nil {
			p.Muted("%s, %d op(s), parent %q", e.Tx.Diff.Category, e.Tx.Diff.OpCount, e.Tx.ParentID)
		}
	default:
		p.Line("%6d  r%-4d %-6s %s", e.Seq, e.Revision, e.Kind, e.TxID)
	}
}
