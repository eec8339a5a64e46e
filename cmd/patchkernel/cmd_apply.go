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
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/patchkernel/pkg/ux"
	"github.com/AleutianAI/patchkernel/services/patchkernel/codec"
	"github.com/AleutianAI/patchkernel/services/patchkernel/kernel"
	"github.com/AleutianAI/patchkernel/services/patchkernel/ops"
)

type applyFlags struct {
	out     string
	label   string
	actor   string
	tags    []string
	journal bool
	session string
	dryRun  bool
}

func newApplyCmd(a *app) *cobra.Command {
	f := &applyFlags{}
	cmd := &cobra.Command{
		Use:   "apply PATCH SCRIPT",
		Short: "Apply an op script to a patch as one transaction",
		Long: `Apply every op in SCRIPT to PATCH as a single transaction.

SCRIPT is a JSON or YAML list of {op, data} envelopes. The transaction is
all-or-nothing: when any op fails or the result does not validate, PATCH is
left unchanged and the diagnostics are printed.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runApply(cmd, args[0], args[1], f)
		},
	}
	cmd.Flags().StringVarP(&f.out, "out", "o", "", "write the result here instead of PATCH")
	cmd.Flags().StringVar(&f.label, "label", "", "transaction label (default: script file name)")
	cmd.Flags().StringVar(&f.actor, "actor", "", "transaction actor")
	cmd.Flags().StringSliceVar(&f.tags, "tag", nil, "transaction tag (repeatable)")
	cmd.Flags().BoolVar(&f.journal, "journal", false, "record the session in the journal (also journal.enabled)")
	cmd.Flags().StringVar(&f.session, "session", "", "journal session id (default: generated)")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "commit in memory and report without writing or journaling")
	return cmd
}

func (a *app) runApply(cmd *cobra.Command, patchPath, scriptPath string, f *applyFlags) error {
	ctx := cmd.Context()
	p := a.printer(cmd)

	doc, err := codec.Load(ctx, patchPath)
	if err != nil {
		return err
	}
	script, err := loadScript(scriptPath)
	if err != nil {
		return err
	}
	opts, err := a.kernelOptions(ctx)
	if err != nil {
		return err
	}

	var k *kernel.Kernel
	if (f.journal || a.cfg.Journal.Enabled) && !f.dryRun {
		j, err := a.openJournal(ctx, f.session)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer j.Close()
		if k, err = j.Start(ctx, doc, opts...); err != nil {
			return err
		}
		defer func() {
			if jerr := j.Err(); jerr != nil {
				a.logger.Error("journal write failed", slog.String("error", jerr.Error()))
			}
		}()
		p.Status(ux.IconPending, "journal session %s", j.SessionID())
	} else if k, err = kernel.New(doc, opts...); err != nil {
		return err
	}

	meta := kernel.TxMeta{
		Label:  f.label,
		Source: kernel.SourceImport,
		Actor:  f.actor,
		Tags:   f.tags,
	}
	if meta.Label == "" {
		meta.Label = filepath.Base(scriptPath)
	}

	tx, err := applyScript(ctx, k, meta, script)
	if rejected, ok := kernel.IsRejected(err); ok {
		renderReport(p, patchPath, rejected.Report)
		return errInvalid
	}
	if err != nil {
		return err
	}
	renderTx(p, tx)
	renderReport(p, patchPath, k.Report())
	if f.dryRun {
		return nil
	}

	out := f.out
	if out == "" {
		out = patchPath
	}
	if err := codec.Save(ctx, out, k.Doc()); err != nil {
		return err
	}
	p.Status(ux.IconSuccess, "wrote %s", out)
	return nil
}

// applyScript stages script in one transaction on k.
func applyScript(ctx context.Context, k *kernel.Kernel, meta kernel.TxMeta, script []ops.Op) (*kernel.CommittedTx, error) {
	return k.Transaction(ctx, meta, func(tx *kernel.TxBuilder) error {
		for i, op := range script {
			if err := tx.Add(op); err != nil {
				return fmt.Errorf("op %d (%s): %w", i, op.Kind(), err)
			}
		}
		return nil
	})
}

// loadScript reads a JSON or YAML list of op envelopes.
func loadScript(path string) ([]ops.Op, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script: %w", err)
	}
	format, err := codec.FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	if format == codec.FormatYAML {
		var generic []any
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return nil, fmt.Errorf("parsing script %s: %w", path, err)
		}
		if data, err = json.Marshal(generic); err != nil {
			return nil, fmt.Errorf("converting script %s: %w", path, err)
		}
	}
	list, err := ops.UnmarshalList(data)
	if err != nil {
		return nil, fmt.Errorf("parsing script %s: %w", path, err)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("script %s has no ops", path)
	}
	return list, nil
}
