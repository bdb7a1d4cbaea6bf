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

// Package processor turns one source item into a persisted unified record.
//
// Every processor follows the same path: validate, extract, normalize, build
// the record, persist. Validation failures come back as *ValidationError and
// everything after validation as *ProcessingError; a degraded extraction is
// logged and the item still proceeds with empty text.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bcem/corpus/internal/clean"
	"github.com/bcem/corpus/internal/extract"
	"github.com/bcem/corpus/internal/models"
	"github.com/bcem/corpus/internal/naming"
	"github.com/bcem/corpus/internal/storage"
)

// Size limits applied when Config leaves them zero.
const (
	DefaultMaxFileSize       = 50 << 20
	DefaultMaxAttachmentSize = 25 << 20
)

// DefaultAllowedExtensions is the extension allow-list used by DefaultConfig.
var DefaultAllowedExtensions = []string{
	".pdf", ".docx", ".doc", ".pptx", ".ppt", ".xlsx", ".xls",
	".csv", ".txt", ".html", ".eml",
}

// Processor handles one resolved item.
type Processor interface {
	Process(ctx context.Context, item Item) (*Result, error)
}

// Config is shared by all processors.
type Config struct {
	MaxFileSize       int64
	MaxAttachmentSize int64
	AllowedExtensions []string

	// TextLength caps the subject/name part of canonical filenames.
	TextLength int
	Clean      clean.Options

	// Folders records are written to, and where attachment sidecars live.
	EmailRecords      string
	DocumentRecords   string
	AttachmentsFolder string

	Now func() time.Time
}

// DefaultConfig returns the limits and folders of a stock deployment.
func DefaultConfig() Config {
	return Config{
		MaxFileSize:       DefaultMaxFileSize,
		MaxAttachmentSize: DefaultMaxAttachmentSize,
		AllowedExtensions: DefaultAllowedExtensions,
		TextLength:        naming.DefaultTextLength,
		Clean:             clean.DefaultOptions,
		EmailRecords:      "processed_emails",
		DocumentRecords:   "processed_documents",
		AttachmentsFolder: "attachments",
		Now:               time.Now,
	}
}

// Result is the outcome of processing one item.
type Result struct {
	Filename string
	Record   *models.Record
	Content  []byte

	// Attachments holds the persisted children of a message.
	Attachments []*Result

	// Rejected names message attachments that failed validation.
	Rejected []string

	// AttachmentErrors holds persistence failures of individual attachments.
	// The parent message is still persisted.
	AttachmentErrors []error

	// Diagnostics collects degraded-extraction notes.
	Diagnostics []string
}

type base struct {
	cfg     Config
	gw      *storage.Gateway
	cleaner *clean.Cleaner
	allowed map[string]bool
}

func newBase(cfg Config, gw *storage.Gateway) base {
	def := DefaultConfig()
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = def.MaxFileSize
	}
	if cfg.MaxAttachmentSize <= 0 {
		cfg.MaxAttachmentSize = def.MaxAttachmentSize
	}
	if len(cfg.AllowedExtensions) == 0 {
		cfg.AllowedExtensions = def.AllowedExtensions
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	allowed := make(map[string]bool, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = true
	}

	return base{
		cfg:     cfg,
		gw:      gw,
		cleaner: clean.New(cfg.Clean),
		allowed: allowed,
	}
}

func (b *base) now() time.Time {
	return b.cfg.Now().UTC()
}

func (b *base) validate(item Item, limit int64) error {
	reason := ""
	_, ext := naming.StemAndExt(item.Filename)
	switch {
	case item.Filename == "":
		reason = "missing filename"
	case len(item.Content) == 0:
		reason = "empty content"
	case int64(len(item.Content)) > limit:
		reason = fmt.Sprintf("size %d exceeds limit %d", len(item.Content), limit)
	case !b.allowed[ext]:
		reason = fmt.Sprintf("extension %q is not allowed", ext)
	}
	if reason != "" {
		return &ValidationError{Filename: item.Filename, Reason: reason}
	}
	return nil
}

func (b *base) normalize(text string) string {
	return b.cleaner.Clean(b.cleaner.CleanLines(text))
}

// outputName keeps a modified item on its previous record file.
func (b *base) outputName(item Item, date time.Time, text, id string) string {
	if item.PreviousOutput != "" {
		return item.PreviousOutput
	}
	return naming.Canonical(date, text, id, ".json", b.cfg.TextLength)
}

// documentRecord extracts item and builds a document record for it.
func (b *base) documentRecord(item Item, id string, date time.Time) (*models.Record, []string) {
	res := extract.Extract(item.Content, item.ContentType)

	var diags []string
	if res.Degraded() {
		slog.Warn("extraction degraded",
			"file", item.Filename,
			"content_type", item.ContentType,
			"diagnostic", res.Diagnostic,
		)
		diags = append(diags, res.Diagnostic)
	}

	props := res.Metadata.Properties
	if props == nil {
		props = map[string]any{}
	}
	props["original_filename"] = item.Filename

	stem, _ := naming.StemAndExt(item.Filename)
	return &models.Record{
		DocumentID:   id,
		Type:         models.TypeDocument,
		Filename:     b.outputName(item, date, stem, id),
		SourceURL:    item.SourceURL,
		CreatedAt:    b.now().Format(time.RFC3339),
		Size:         int64(len(item.Content)),
		ContentType:  item.ContentType,
		Source:       item.Source,
		Title:        res.Metadata.Title,
		Author:       res.Metadata.Author,
		LastModified: res.Metadata.LastModified,
		Properties:   props,
		TextContent:  b.normalize(res.Text),
	}, diags
}

func (b *base) persist(ctx context.Context, folder string, rec *models.Record) error {
	if _, err := b.gw.PutRecord(ctx, folder, rec); err != nil {
		return &ProcessingError{Stage: StagePersist, Filename: rec.Filename, Err: err}
	}
	return nil
}

// recoverStage converts a panic escaping extraction into a ProcessingError.
func recoverStage(err *error, filename string) {
	if r := recover(); r != nil {
		*err = &ProcessingError{Stage: StageExtract, Filename: filename, Err: fmt.Errorf("panic: %v", r)}
	}
}
