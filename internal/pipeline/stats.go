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

package pipeline

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// summaryErrors is how many errors WriteSummary lists before the overflow
// count.
const summaryErrors = 5

// RunStats is the outcome of one pipeline run. It is also stored in the
// ledger metadata as the last run's statistics.
type RunStats struct {
	mu sync.Mutex

	StartTime            time.Time `json:"start_time"`
	EndTime              time.Time `json:"end_time"`
	EmailsProcessed      int       `json:"emails_processed"`
	DocumentsProcessed   int       `json:"documents_processed"`
	AttachmentsProcessed int       `json:"attachments_processed"`
	AttachmentsRejected  int       `json:"attachments_rejected"`
	SkippedDuplicates    int       `json:"skipped_duplicates"`
	NewItems             int       `json:"new_items"`
	ModifiedItems        int       `json:"modified_items"`
	RetriedItems         int       `json:"retried_items"`
	UploadSuccess        int       `json:"upload_success"`
	UploadFailures       int       `json:"upload_failures"`
	UploadSkipped        int       `json:"upload_skipped"`
	Errors               []string  `json:"errors"`

	DryRun      bool `json:"dry_run"`
	Interrupted bool `json:"interrupted"`

	uploadDisabled bool
}

func newRunStats(start time.Time, opts Options) *RunStats {
	return &RunStats{
		StartTime:      start,
		Errors:         []string{},
		DryRun:         opts.DryRun,
		uploadDisabled: opts.SkipUpload || opts.DryRun,
	}
}

// update applies fn under the stats lock.
func (s *RunStats) update(fn func(s *RunStats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func (s *RunStats) addError(msg string) {
	s.update(func(s *RunStats) { s.Errors = append(s.Errors, msg) })
}

// Duration is the wall time of the run.
func (s *RunStats) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// ExitCode is 0 only when the run recorded no errors.
func (s *RunStats) ExitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Errors) > 0 {
		return 1
	}
	return 0
}

// WriteSummary prints the operator report.
func (s *RunStats) WriteSummary(w io.Writer) error {
	d := s.Duration()

	s.mu.Lock()
	defer s.mu.Unlock()

	rule := strings.Repeat("=", 60)
	var b strings.Builder
	fmt.Fprintf(&b, "\n%s\nPRODUCTION PIPELINE SUMMARY\n%s\n", rule, rule)
	if s.DryRun {
		b.WriteString("Mode: dry run (nothing was written)\n")
	}
	fmt.Fprintf(&b, "Execution time: %.2f seconds\n", d.Seconds())
	fmt.Fprintf(&b, "Emails processed: %d\n", s.EmailsProcessed)
	fmt.Fprintf(&b, "Documents processed: %d\n", s.DocumentsProcessed)
	fmt.Fprintf(&b, "Attachments processed: %d\n", s.AttachmentsProcessed)
	if s.AttachmentsRejected > 0 {
		fmt.Fprintf(&b, "Attachments rejected: %d\n", s.AttachmentsRejected)
	}
	fmt.Fprintf(&b, "Skipped duplicates: %d\n", s.SkippedDuplicates)
	fmt.Fprintf(&b, "New items: %d\n", s.NewItems)
	fmt.Fprintf(&b, "Modified items: %d\n", s.ModifiedItems)
	if s.RetriedItems > 0 {
		fmt.Fprintf(&b, "Retried failed items: %d\n", s.RetriedItems)
	}
	if !s.uploadDisabled {
		fmt.Fprintf(&b, "Vector store uploads: %d success, %d failed\n", s.UploadSuccess, s.UploadFailures)
	}
	if s.Interrupted {
		b.WriteString("Run was stopped before all items were handled\n")
	}

	if len(s.Errors) > 0 {
		fmt.Fprintf(&b, "\nErrors encountered: %d\n", len(s.Errors))
		for _, e := range s.Errors[:min(len(s.Errors), summaryErrors)] {
			fmt.Fprintf(&b, "  - %s\n", e)
		}
		if len(s.Errors) > summaryErrors {
			fmt.Fprintf(&b, "  ... and %d more\n", len(s.Errors)-summaryErrors)
		}
	}
	b.WriteString(rule + "\n")

	_, err := io.WriteString(w, b.String())
	return err
}
