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
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/patchkernel/pkg/ux"
	"github.com/AleutianAI/patchkernel/services/patchkernel/telemetry"
)

// watchDebounce coalesces the burst of events editors emit on save.
const watchDebounce = 150 * time.Millisecond

func newWatchCmd(a *app) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "watch FILE...",
		Short: "Re-validate documents whenever they change on disk",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runWatch(cmd, args, metricsAddr)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	return cmd
}

func (a *app) runWatch(cmd *cobra.Command, paths []string, metricsAddr string) error {
	ctx := cmd.Context()
	p := a.printer(cmd)

	opts, err := a.kernelOptions(ctx)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	// Editors replace files on save, so watch the parent directories and
	// filter by name.
	targets := make(map[string]bool, len(paths))
	dirs := make(map[string]bool)
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		targets[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
	}

	check := func(path string) {
		r := checkFile(ctx, path, opts)
		if r.err != nil {
			p.Status(ux.IconError, "%s: %v", path, r.err)
			return
		}
		renderReport(p, path, r.report)
	}
	for abs := range targets {
		check(abs)
	}
	p.Status(ux.IconPending, "watching %d file(s), Ctrl-C to stop", len(targets))

	g, ctx := errgroup.WithContext(ctx)
	if metricsAddr != "" {
		g.Go(func() error {
			return telemetry.ServeMetrics(ctx, metricsAddr, a.logger)
		})
	}
	g.Go(func() error {
		return runWatchLoop(ctx, watcher.Events, watcher.Errors, targets, a.logger, check)
	})
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runWatchLoop calls onChange for each target that was written, created
// or renamed into place. Events for one path within watchDebounce of each
// other are coalesced. It returns ctx.Err() when ctx is done, or nil when
// the event channel closes.
func runWatchLoop(
	ctx context.Context,
	events <-chan fsnotify.Event,
	errs <-chan error,
	targets map[string]bool,
	logger *slog.Logger,
	onChange func(path string),
) error {
	pending := make(map[string]bool)
	timer := time.NewTimer(watchDebounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			name, err := filepath.Abs(ev.Name)
			if err != nil || !targets[name] {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			pending[name] = true
			timer.Reset(watchDebounce)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logger.Warn("watch error", slog.String("error", err.Error()))

		case <-timer.C:
			for name := range pending {
				logger.Debug("file changed", slog.String("path", name))
				onChange(name)
			}
			clear(pending)
		}
	}
}
