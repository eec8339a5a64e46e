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
	"log/slog"
	"runtime"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/patchkernel/pkg/ux"
	"github.com/AleutianAI/patchkernel/services/patchkernel/codec"
	"github.com/AleutianAI/patchkernel/services/patchkernel/kernel"
	"github.com/AleutianAI/patchkernel/services/patchkernel/validate"
)

// fileReport is the outcome of checking one file. err is a load failure;
// report is only meaningful when err is nil.
type fileReport struct {
	path   string
	report validate.Result
	err    error
}

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE...",
		Short: "Check patch documents and print their diagnostics",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := a.kernelOptions(cmd.Context())
			if err != nil {
				return err
			}
			reports, err := checkFiles(cmd.Context(), args, opts)
			if err != nil {
				return err
			}
			p := a.printer(cmd)
			ok := true
			for _, r := range reports {
				if r.err != nil {
					p.Status(ux.IconError, "%s: %v", r.path, r.err)
					ok = false
					continue
				}
				renderReport(p, r.path, r.report)
				ok = ok && r.report.OK
			}
			if !ok {
				a.logger.Warn("validation failed", slog.Int("files", len(args)))
				return errInvalid
			}
			return nil
		},
	}
}

// checkFiles loads and validates files concurrently. Results keep the
// order of paths. Only context cancellation fails the whole run.
func checkFiles(ctx context.Context, paths []string, opts []kernel.Option) ([]fileReport, error) {
	reports := make([]fileReport, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			reports[i] = checkFile(ctx, path, opts)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

func checkFile(ctx context.Context, path string, opts []kernel.Option) fileReport {
	doc, err := codec.Load(ctx, path)
	if err != nil {
		return fileReport{path: path, err: err}
	}
	k, err := kernel.New(doc, opts...)
	if err != nil {
		return fileReport{path: path, err: err}
	}
	return fileReport{path: path, report: k.Report()}
}

func newHashCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "hash FILE...",
		Short: "Print the BLAKE3 fingerprint of each document",
		Long: `Print the BLAKE3 fingerprint of each document's canonical form.
The same document hashes identically whether stored as JSON or YAML.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := a.printer(cmd)
			for _, path := range args {
				doc, err := codec.Load(cmd.Context(), path)
				if err != nil {
					return err
				}
				fp, err := codec.Fingerprint(doc)
				if err != nil {
					return err
				}
				p.Line("%s  %s", fp, path)
			}
			return nil
		},
	}
}
