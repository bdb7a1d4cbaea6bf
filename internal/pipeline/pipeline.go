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

// Package pipeline drives one ingestion run: list each source folder,
// classify every item against the ledger, process what is new, modified or
// previously failed, upload the persisted records to the vector index and
// save the ledger once at the end.
//
// Per-item failures are recorded in the ledger and the run summary and never
// stop the run. A failure outside any single item (a folder listing, the
// upload stage) aborts only its phase. Only ledger load and save failures
// are returned from Run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bcem/corpus/internal/ledger"
	"github.com/bcem/corpus/internal/metrics"
	"github.com/bcem/corpus/internal/models"
	"github.com/bcem/corpus/internal/naming"
	"github.com/bcem/corpus/internal/processor"
	"github.com/bcem/corpus/internal/queue"
	"github.com/bcem/corpus/internal/storage"
	"github.com/bcem/corpus/internal/upload"
)

// saveTimeout bounds the final ledger write, which runs even after the run's
// context is cancelled.
const saveTimeout = 30 * time.Second

// Uploader publishes a folder of records to the vector index.
type Uploader interface {
	BatchUpload(ctx context.Context, folder string, batchSize int, filter upload.Filter) (upload.Stats, error)
}

// Notifier announces persisted records.
type Notifier interface {
	PublishRecord(ctx context.Context, event queue.RecordEvent) error
}

// Folders names the source folders read by a run.
type Folders struct {
	Emails      string
	Documents   string
	Attachments string
}

// Processors holds one processor per source kind.
type Processors struct {
	Emails      processor.Processor
	Documents   processor.Processor
	Attachments processor.Processor
}

// Config holds the collaborators of a Pipeline.
type Config struct {
	Source      storage.RemoteStore
	Folders     Folders
	Processors  Processors
	LedgerStore ledger.Store

	// AllowedExtensions filters document and attachment listings.
	AllowedExtensions []string

	// Uploader is optional; without it the upload stage is skipped.
	Uploader        Uploader
	UploadFolders   []string
	UploadBatchSize int

	// Notifier and Metrics are optional.
	Notifier Notifier
	Metrics  *metrics.Recorder

	// Workers > 1 processes items of a phase concurrently.
	Workers int

	Now func() time.Time
}

// Options select the behaviour of one run.
type Options struct {
	// DryRun classifies and logs without processing or saving anything.
	DryRun bool

	// MaxItems caps the items considered per source kind; 0 means no cap.
	MaxItems int

	SkipUpload bool
}

// Pipeline runs ingestion passes.
type Pipeline struct {
	cfg     Config
	allowed map[string]bool

	runMu   sync.Mutex
	stopped atomic.Bool
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if len(cfg.AllowedExtensions) == 0 {
		cfg.AllowedExtensions = processor.DefaultAllowedExtensions
	}
	allowed := make(map[string]bool, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		allowed[strings.ToLower(ext)] = true
	}
	return &Pipeline{cfg: cfg, allowed: allowed}
}

// Stop asks the current and any later run to finish early. Items already
// started complete and the ledger is still saved.
func (p *Pipeline) Stop() {
	p.stopped.Store(true)
}

func (p *Pipeline) stopping(ctx context.Context) bool {
	return p.stopped.Load() || ctx.Err() != nil
}

// phase is one source kind's pass.
type phase struct {
	kind   ledger.Kind
	label  string
	folder string
	source string
	proc   processor.Processor
	accept func(name string) bool
}

func (p *Pipeline) phases() []phase {
	return []phase{
		{
			kind:   ledger.KindEmail,
			label:  "Email",
			folder: p.cfg.Folders.Emails,
			source: models.SourceEmail,
			proc:   p.cfg.Processors.Emails,
			accept: func(name string) bool { return extOf(name) == ".eml" },
		},
		{
			kind:   ledger.KindDocument,
			label:  "Document",
			folder: p.cfg.Folders.Documents,
			source: models.SourceOneDrive,
			proc:   p.cfg.Processors.Documents,
			accept: p.allowedDocument,
		},
		{
			kind:   ledger.KindAttachment,
			label:  "Attachment",
			folder: p.cfg.Folders.Attachments,
			source: models.SourceEmail,
			proc:   p.cfg.Processors.Attachments,
			accept: p.allowedDocument,
		},
	}
}

func (p *Pipeline) allowedDocument(name string) bool {
	ext := extOf(name)
	return ext != ".eml" && ext != ".json" && p.allowed[ext]
}

func extOf(name string) string {
	_, ext := naming.StemAndExt(name)
	return ext
}

// Run performs one pass over every source kind.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*RunStats, error) {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	stats := newRunStats(p.cfg.Now(), opts)
	slog.Info("pipeline run starting",
		"dry_run", opts.DryRun,
		"max_items", opts.MaxItems,
		"skip_upload", opts.SkipUpload,
		"workers", p.cfg.Workers,
	)

	led, err := ledger.Load(ctx, p.cfg.LedgerStore)
	if err != nil {
		stats.addError(fmt.Sprintf("Critical pipeline error: %v", err))
		p.cfg.Metrics.RunError("critical")
		stats.EndTime = p.cfg.Now()
		return stats, err
	}
	slog.Info("ledger loaded", "entries", led.Len())

	for _, ph := range p.phases() {
		if p.stopping(ctx) {
			break
		}
		if ph.proc == nil || ph.folder == "" {
			continue
		}
		p.runPhase(ctx, led, ph, opts, stats)
	}

	stats.Interrupted = p.stopping(ctx)
	if !opts.DryRun && !opts.SkipUpload && !stats.Interrupted && p.cfg.Uploader != nil {
		p.uploadRecords(ctx, stats)
	}
	stats.EndTime = p.cfg.Now()

	if !opts.DryRun {
		if err := led.SetStats(stats); err != nil {
			slog.Warn("failed to attach run stats to ledger", "error", err)
		}
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
		defer cancel()
		if err := led.Save(saveCtx, p.cfg.LedgerStore); err != nil {
			stats.addError(fmt.Sprintf("State save error: %v", err))
			p.cfg.Metrics.RunError("state")
			return stats, err
		}
		counts := led.Counts()
		slog.Info("ledger saved",
			"entries", led.Len(),
			"success", counts[ledger.StatusSuccess],
			"failed", counts[ledger.StatusFailed],
		)
	}

	p.cfg.Metrics.RunFinished(stats.EndTime, stats.Duration())
	slog.Info("pipeline run finished",
		"duration", stats.Duration().String(),
		"emails", stats.EmailsProcessed,
		"documents", stats.DocumentsProcessed,
		"attachments", stats.AttachmentsProcessed,
		"skipped", stats.SkippedDuplicates,
		"errors", len(stats.Errors),
		"interrupted", stats.Interrupted,
	)
	return stats, nil
}

// job is one item selected for processing.
type job struct {
	item     storage.Item
	key      string
	previous string
}

func (p *Pipeline) runPhase(ctx context.Context, led *ledger.Ledger, ph phase, opts Options, stats *RunStats) {
	listed, err := p.cfg.Source.List(ctx, ph.folder)
	if err != nil {
		slog.Error("listing failed", "kind", ph.kind, "folder", ph.folder, "error", err)
		stats.addError(fmt.Sprintf("%s workflow error: %v", ph.label, err))
		p.cfg.Metrics.RunError("workflow")
		return
	}

	var items []storage.Item
	for _, it := range listed {
		if ph.accept(it.Name) {
			items = append(items, it)
		}
	}
	if opts.MaxItems > 0 && len(items) > opts.MaxItems {
		items = items[:opts.MaxItems]
	}
	slog.Info("phase starting", "kind", ph.kind, "folder", ph.folder, "items", len(items))

	var jobs []job
	for _, it := range items {
		key := ledger.Key(ph.kind, it.Name)
		prev, _ := led.Lookup(key)

		switch led.Classify(key, it.Fingerprint()) {
		case ledger.Unchanged:
			if prev.Status == ledger.StatusSuccess {
				stats.update(func(s *RunStats) { s.SkippedDuplicates++ })
				p.cfg.Metrics.Item(string(ph.kind), metrics.OutcomeSkipped)
				continue
			}
			stats.update(func(s *RunStats) { s.RetriedItems++ })
			slog.Info("retrying failed item", "item", key, "previous_error", prev.Error)
		case ledger.Modified:
			stats.update(func(s *RunStats) { s.ModifiedItems++ })
		default:
			stats.update(func(s *RunStats) { s.NewItems++ })
		}

		if opts.DryRun {
			slog.Info("dry run: would process", "item", key, "fingerprint", it.Fingerprint())
			continue
		}
		jobs = append(jobs, job{item: it, key: key, previous: prev.OutputFile})
	}

	if p.cfg.Workers == 1 {
		for _, j := range jobs {
			if p.stopping(ctx) {
				return
			}
			p.processItem(ctx, led, ph, j, stats)
		}
		return
	}

	var eg errgroup.Group
	eg.SetLimit(p.cfg.Workers)
	for _, j := range jobs {
		if p.stopping(ctx) {
			break
		}
		eg.Go(func() error {
			if p.stopping(ctx) {
				return nil
			}
			p.processItem(ctx, led, ph, j, stats)
			return nil
		})
	}
	eg.Wait()
}

// processItem downloads, processes and records one item. Every outcome is
// written to the ledger.
func (p *Pipeline) processItem(ctx context.Context, led *ledger.Ledger, ph phase, j job, stats *RunStats) {
	fingerprint := j.item.Fingerprint()

	fail := func(err error) {
		led.Record(j.key, fingerprint, ledger.StatusFailed, "", err.Error())
		stats.addError(fmt.Sprintf("%s processing error: %s - %v", ph.label, j.item.Name, err))
		p.cfg.Metrics.Item(string(ph.kind), metrics.OutcomeFailed)
		p.cfg.Metrics.RunError("processing")

		var verr *processor.ValidationError
		if errors.As(err, &verr) {
			slog.Warn("item rejected", "item", j.key, "reason", verr.Reason)
			return
		}
		slog.Error("item failed", "item", j.key, "error", err)
	}

	content, err := p.cfg.Source.Download(ctx, ph.folder, j.item.Name)
	if err != nil {
		fail(fmt.Errorf("download: %w", err))
		return
	}

	item := processor.Resolve(processor.RawBytesInput{Content: content, InferredFilename: j.item.Name})
	item.Source = ph.source
	item.SourceURL = j.item.WebURL
	item.PreviousOutput = j.previous

	res, err := ph.proc.Process(ctx, item)
	if err != nil {
		fail(err)
		return
	}

	led.Record(j.key, fingerprint, ledger.StatusSuccess, res.Filename, "")
	p.cfg.Metrics.Item(string(ph.kind), metrics.OutcomeProcessed)
	stats.update(func(s *RunStats) {
		switch ph.kind {
		case ledger.KindEmail:
			s.EmailsProcessed++
			s.AttachmentsProcessed += len(res.Attachments)
			s.AttachmentsRejected += len(res.Rejected)
		case ledger.KindDocument:
			s.DocumentsProcessed++
		case ledger.KindAttachment:
			s.AttachmentsProcessed++
		}
	})
	for _, aerr := range res.AttachmentErrors {
		stats.addError(fmt.Sprintf("Attachment processing error: %s - %v", j.item.Name, aerr))
		p.cfg.Metrics.RunError("processing")
	}
	slog.Info("item processed", "item", j.key, "output", res.Filename, "attachments", len(res.Attachments))

	p.notify(ctx, j.key, res)
}

func (p *Pipeline) notify(ctx context.Context, key string, res *processor.Result) {
	if p.cfg.Notifier == nil {
		return
	}
	results := append([]*processor.Result{res}, res.Attachments...)
	for _, r := range results {
		err := p.cfg.Notifier.PublishRecord(ctx, queue.RecordEvent{
			DocumentID: r.Record.DocumentID,
			Type:       string(r.Record.Type),
			Filename:   r.Filename,
			StorageURL: r.Record.StorageURL,
			ItemKey:    key,
			Status:     string(ledger.StatusSuccess),
		})
		if err != nil {
			slog.Warn("failed to publish record event", "item", key, "document_id", r.Record.DocumentID, "error", err)
		}
	}
}

func (p *Pipeline) uploadRecords(ctx context.Context, stats *RunStats) {
	for _, folder := range p.cfg.UploadFolders {
		if p.stopping(ctx) {
			return
		}
		st, err := p.cfg.Uploader.BatchUpload(ctx, folder, p.cfg.UploadBatchSize, upload.JSONRecords)
		stats.update(func(s *RunStats) {
			s.UploadSuccess += st.Success
			s.UploadFailures += st.Failed
			s.UploadSkipped += st.Skipped
		})
		p.cfg.Metrics.Uploads(st.Success, st.Failed)
		if err != nil {
			slog.Error("upload stage failed", "folder", folder, "error", err)
			stats.addError(fmt.Sprintf("Vector store error: %v", err))
			p.cfg.Metrics.RunError("upload")
		}
	}
}
