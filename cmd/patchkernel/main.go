// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command patchkernel inspects and edits patch documents through the
// transactional kernel.
//
//	patchkernel validate patch.yaml other.json
//	patchkernel hash patch.yaml
//	patchkernel apply patch.yaml ops.json --label "add lfo"
//	patchkernel watch patch.yaml --metrics-addr :9090
//	patchkernel journal log --session <id>
//	patchkernel journal restore --session <id> --out restored.yaml
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/patchkernel/pkg/logging"
	"github.com/AleutianAI/patchkernel/pkg/ux"
	"github.com/AleutianAI/patchkernel/services/patchkernel/catalog"
	"github.com/AleutianAI/patchkernel/services/patchkernel/config"
	"github.com/AleutianAI/patchkernel/services/patchkernel/journal"
	"github.com/AleutianAI/patchkernel/services/patchkernel/kernel"
	"github.com/AleutianAI/patchkernel/services/patchkernel/storage/badger"
	"github.com/AleutianAI/patchkernel/services/patchkernel/telemetry"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// errInvalid marks a run that completed but found invalid documents.
var errInvalid = errors.New("invalid patch")

// app carries state shared by subcommands for one invocation.
type app struct {
	configPath string
	logLevel   string

	cfg      config.Config
	logger   *slog.Logger
	closeLog func() error
	shutdown func(context.Context) error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errInvalid) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "patchkernel",
		Short:         "Validate, edit and replay patch documents",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (YAML or JSON)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	root.AddCommand(
		newValidateCmd(a),
		newHashCmd(a),
		newApplyCmd(a),
		newWatchCmd(a),
		newJournalCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	a.cfg = cfg

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	stderr := cmd.ErrOrStderr()
	jsonLogs := cfg.Logging.JSON
	if f, ok := stderr.(*os.File); !ok || !ux.IsTerminal(f) {
		jsonLogs = true
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "patchkernel",
		JSON:    jsonLogs,
		Quiet:   cfg.Logging.Quiet,
		Output:  stderr,
	})
	a.logger = logger.Slog()
	a.closeLog = logger.Close

	shutdown, err := telemetry.Init(cmd.Context(), telemetry.FromConfig(cfg.Telemetry, version))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	a.shutdown = shutdown
	return nil
}

func (a *app) teardown() error {
	var errs []error
	if a.shutdown != nil {
		errs = append(errs, a.shutdown(context.Background()))
	}
	if a.closeLog != nil {
		errs = append(errs, a.closeLog())
	}
	return errors.Join(errs...)
}

func (a *app) printer(cmd *cobra.Command) *ux.Printer {
	return ux.NewPrinter(cmd.OutOrStdout())
}

// kernelOptions builds kernel options from the loaded configuration.
func (a *app) kernelOptions(ctx context.Context) ([]kernel.Option, error) {
	var cat *catalog.Catalog
	var err error
	if a.cfg.Kernel.CatalogPath != "" {
		cat, err = catalog.LoadFile(ctx, a.cfg.Kernel.CatalogPath)
	} else {
		cat, err = catalog.Default(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("loading block catalog: %w", err)
	}

	opts := []kernel.Option{
		kernel.WithLogger(a.logger),
		kernel.WithCatalog(cat),
		kernel.WithRejectIrreversible(a.cfg.Kernel.RejectIrreversible),
	}
	if len(a.cfg.Kernel.TimeRootTypes) > 0 {
		opts = append(opts, kernel.WithTimeRootTypes(a.cfg.Kernel.TimeRootTypes...))
	}
	return opts, nil
}

// openJournal opens the configured journal store for session. An empty
// session generates a new id.
func (a *app) openJournal(ctx context.Context, session string) (*journal.Journal, error) {
	storeCfg := badger.DefaultConfig()
	storeCfg.Path = a.cfg.JournalPath()
	storeCfg.InMemory = a.cfg.Journal.InMemory
	storeCfg.SyncWrites = a.cfg.Journal.SyncWrites
	storeCfg.Logger = a.logger

	if session == "" {
		session = a.cfg.Journal.SessionID
	}
	return journal.Open(ctx, storeCfg, journal.Config{SessionID: session, Logger: a.logger})
}

// openStore opens the journal store without a session.
func (a *app) openStore() (*badger.DB, error) {
	storeCfg := badger.DefaultConfig()
	storeCfg.Path = a.cfg.JournalPath()
	storeCfg.InMemory = a.cfg.Journal.InMemory
	storeCfg.SyncWrites = a.cfg.Journal.SyncWrites
	storeCfg.Logger = a.logger
	storeCfg.GCInterval = 0
	return badger.Open(storeCfg)
}
