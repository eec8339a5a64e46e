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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/patchkernel/pkg/ux"
	"github.com/AleutianAI/patchkernel/services/patchkernel/codec"
	"github.com/AleutianAI/patchkernel/services/patchkernel/journal"
)

func newJournalCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect and restore journaled editing sessions",
	}
	cmd.AddCommand(
		newJournalSessionsCmd(a),
		newJournalLogCmd(a),
		newJournalRestoreCmd(a),
	)
	return cmd
}

func newJournalSessionsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List journaled sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openStore()
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer db.Close()

			sessions, err := journal.Sessions(cmd.Context(), db)
			if err != nil {
				return err
			}
			p := a.printer(cmd)
			if len(sessions) == 0 {
				p.Status(ux.IconPending, "no sessions in %s", a.cfg.JournalPath())
				return nil
			}
			for _, s := range sessions {
				p.Line("%s", s)
			}
			return nil
		},
	}
}

func newJournalLogCmd(a *app) *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Print the entries of a session in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := a.openJournal(cmd.Context(), session)
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer j.Close()

			_, fp, err := j.Baseline(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := j.Entries(cmd.Context())
			if err != nil {
				return err
			}
			p := a.printer(cmd)
			p.Title(fmt.Sprintf("Session %s", session))
			p.Muted("baseline %s", fp)
			for _, e := range entries {
				renderEntry(p, e)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "session id")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func newJournalRestoreCmd(a *app) *cobra.Command {
	var session, out string
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Replay a session and write the document at its head",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			opts, err := a.kernelOptions(ctx)
			if err != nil {
				return err
			}
			j, err := a.openJournal(ctx, session)
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer j.Close()

			k, err := j.Restore(ctx, opts...)
			if err != nil {
				return err
			}
			if err := codec.Save(ctx, out, k.Doc()); err != nil {
				return err
			}
			head := k.Head()
			if head == "" {
				head = "(root)"
			}
			p := a.printer(cmd)
			p.Status(ux.IconSuccess, "restored %s at %s, revision %d", session, head, k.Revision())
			p.Status(ux.IconSuccess, "wrote %s", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "session id")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output document (.json, .yaml or .yml)")
	_ = cmd.MarkFlagRequired("session")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}
