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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bcem/corpus/internal/models"
	"github.com/bcem/corpus/internal/naming"
	"github.com/bcem/corpus/internal/processor"
	"github.com/bcem/corpus/internal/storage"
)

var inspectContentType string

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().StringVar(&inspectContentType, "content-type", "", "content type of FILE (default inferred from its name)")
}

var inspectCmd = &cobra.Command{
	Use:   "inspect FILE",
	Short: "Print the records a local file would produce",
	Long: `Run a local file through the message or document processor without
touching the drive and print the resulting records as JSON. Messages (.eml)
print the email record followed by one record per attachment.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func runInspect(cmd *cobra.Command, args []string) error {
	content, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}

	item := processor.Resolve(processor.DescribedInput{
		Content:     content,
		Filename:    filepath.Base(args[0]),
		ContentType: inspectContentType,
	})
	item.Source = models.SourceManual

	gw := storage.NewGateway(storage.NewMemoryStore())
	var p processor.Processor
	if _, ext := naming.StemAndExt(item.Filename); ext == ".eml" {
		p = processor.NewMessageProcessor(cfg.ProcessorConfig(), gw)
	} else {
		p = processor.NewDocumentProcessor(cfg.ProcessorConfig(), gw)
	}

	res, err := p.Process(cmd.Context(), item)
	if err != nil {
		return err
	}

	records := []*models.Record{res.Record}
	for _, child := range res.Attachments {
		records = append(records, child.Record)
	}
	for _, name := range res.Rejected {
		fmt.Fprintf(cmd.ErrOrStderr(), "attachment rejected: %s\n", name)
	}
	for _, d := range res.Diagnostics {
		fmt.Fprintf(cmd.ErrOrStderr(), "diagnostic: %s\n", d)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if len(records) == 1 {
		return enc.Encode(records[0])
	}
	return enc.Encode(records)
}
