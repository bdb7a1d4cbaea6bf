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
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bcem/corpus/internal/app"
	"github.com/bcem/corpus/internal/pipeline"
)

var (
	runDryRun     bool
	runMaxItems   int
	runSkipUpload bool
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "classify items and report without processing or saving")
	runCmd.Flags().IntVar(&runMaxItems, "max-items", 0, "process at most N items per source kind (0 = no limit)")
	runCmd.Flags().BoolVar(&runSkipUpload, "skip-upload", false, "skip the vector index upload stage")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the ingestion pipeline once",
	Long: `Process new, modified and previously failed items from the emails,
documents and attachments folders, upload the records to the vector index
and print a summary. Exits non-zero when any error was recorded.

Examples:
  # See what would be processed
  corpus run --dry-run

  # Process a small sample without touching the vector index
  corpus run --max-items 5 --skip-upload`,
	Args: cobra.NoArgs,
	RunE: runPipeline,
}

func runPipeline(cmd *cobra.Command, args []string) error {
	if runMaxItems < 0 {
		return fmt.Errorf("--max-items must not be negative")
	}
	upload := !runDryRun && !runSkipUpload
	if err := cfg.Validate(upload); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.Options{Index: upload})
	if err != nil {
		return err
	}
	defer a.Close()

	// A signal lets the current item finish and the ledger be saved.
	done := make(chan struct{})
	go stopOnSignal(ctx, done, a.Pipeline.Stop)

	stats, runErr := a.Pipeline.Run(context.WithoutCancel(ctx), pipeline.Options{
		DryRun:     runDryRun,
		MaxItems:   runMaxItems,
		SkipUpload: runSkipUpload,
	})
	close(done)
	if err := stats.WriteSummary(cmd.OutOrStdout()); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	if runErr != nil {
		return runErr
	}
	if stats.ExitCode() != 0 {
		return fmt.Errorf("run finished with %d errors", len(stats.Errors))
	}
	return nil
}

// stopOnSignal calls stop when ctx ends before the run is done.
func stopOnSignal(ctx context.Context, done <-chan struct{}, stop func()) {
	select {
	case <-done:
		return
	case <-ctx.Done():
	}
	select {
	case <-done:
		return
	default:
	}
	slog.Info("stop requested, finishing current item")
	stop()
}
