// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bcem/corpus/internal/app"
	"github.com/bcem/corpus/internal/mailsync"
)

var (
	syncSince     time.Duration
	syncMailboxes []string
)

func init() {
	rootCmd.AddCommand(syncMailCmd)
	syncMailCmd.Flags().DurationVar(&syncSince, "since", 0, "backfill messages received within this window (e.g. 168h) instead of following delta links")
	syncMailCmd.Flags().StringSliceVar(&syncMailboxes, "mailbox", nil, "mailbox to export (repeatable; default from config)")
}

var syncMailCmd = &cobra.Command{
	Use:   "sync-mail",
	Short: "Export mailbox messages to the emails folder",
	Long: `Export Outlook messages as .eml files into the emails folder, where the
next pipeline run picks them up. Without --since each mailbox follows its
saved delta link; the first sync of a mailbox exports the configured
lookback window.

Examples:
  # Incremental export of the configured mailboxes
  corpus sync-mail

  # Backfill the last 30 days of one mailbox
  corpus sync-mail --mailbox finance@example.com --since 720h`,
	Args: cobra.NoArgs,
	RunE: runSyncMail,
}

func runSyncMail(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(false); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	mailboxes := syncMailboxes
	if len(mailboxes) == 0 {
		mailboxes = cfg.MailSync.Mailboxes
	}
	if len(mailboxes) == 0 {
		return fmt.Errorf("no mailboxes to export")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	var results []mailsync.Result
	if syncSince > 0 {
		since := time.Now().Add(-syncSince)
		var errs []error
		for _, mailbox := range mailboxes {
			res, err := a.Syncer.Backfill(ctx, mailbox, since)
			if err != nil {
				errs = append(errs, fmt.Errorf("backfill %s: %w", mailbox, err))
			}
			results = append(results, res)
		}
		err = errors.Join(errs...)
	} else {
		results, err = a.Syncer.Sync(ctx, mailboxes)
	}

	out := cmd.OutOrStdout()
	for _, r := range results {
		mode := "incremental"
		if r.Full {
			mode = "full"
		}
		fmt.Fprintf(out, "%s (%s): %d exported, %d skipped, %d errors\n", r.Mailbox, mode, r.Exported, r.Skipped, r.Errors)
	}
	return err
}
