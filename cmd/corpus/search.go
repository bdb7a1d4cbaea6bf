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
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bcem/corpus/internal/app"
)

var (
	searchLimit   int
	searchFilters map[string]string
)

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().IntVar(&searchLimit, "limit", 5, "maximum number of results")
	searchCmd.Flags().StringToStringVar(&searchFilters, "filter", nil, "attribute filter key=value (repeatable)")
}

var searchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Query the vector index",
	Long: `Search the configured vector index and list matches above the score
threshold, best first.

Examples:
  corpus search "quarterly forecast"
  corpus search "offsite agenda" --filter extension=.eml --limit 10`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	if searchLimit < 1 {
		return fmt.Errorf("--limit must be at least 1")
	}
	index, err := app.NewIndex(cfg.VectorIndex)
	if err != nil {
		return err
	}

	results, err := index.Search(cmd.Context(), strings.Join(args, " "), searchFilters, searchLimit)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintln(out, "No results.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCORE\tFILENAME\tSUBJECT\tID")
	for _, r := range results {
		fmt.Fprintf(w, "%.3f\t%s\t%s\t%s\n", r.Score, r.Attributes["filename"], r.Attributes["subject"], r.ID)
	}
	return w.Flush()
}
