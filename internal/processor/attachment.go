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

package processor

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"strings"

	"github.com/bcem/corpus/internal/models"
	"github.com/bcem/corpus/internal/naming"
	"github.com/bcem/corpus/internal/storage"
)

// sidecarFields are taken from a sidecar record over the extracted ones.
var sidecarFields = append(slices.Clone(models.EmailFields), models.FieldFrom, models.FieldTags)

// AttachmentProcessor handles files saved in the attachments folder. A file
// may come with a sidecar record named <file>.json holding email context from
// an earlier export or a manual annotation; its values are blended into the
// freshly extracted record.
type AttachmentProcessor struct {
	base
}

// NewAttachmentProcessor creates an AttachmentProcessor writing through gw.
func NewAttachmentProcessor(cfg Config, gw *storage.Gateway) *AttachmentProcessor {
	return &AttachmentProcessor{base: newBase(cfg, gw)}
}

// Process validates, extracts, blends and persists one attachment.
func (p *AttachmentProcessor) Process(ctx context.Context, item Item) (res *Result, err error) {
	defer recoverStage(&err, item.Filename)

	if err := p.validate(item, p.cfg.MaxAttachmentSize); err != nil {
		return nil, err
	}
	if item.Source == "" {
		item.Source = models.SourceEmail
	}

	sidecar, err := p.sidecar(ctx, item.Filename)
	if err != nil {
		return nil, err
	}

	id := naming.StableID("attachment", item.Filename)
	if sidecar != nil && sidecar.DocumentID != "" {
		id = sidecar.DocumentID
	}
	now := p.now()
	rec, diags := p.documentRecord(item, id, now)
	if sidecar != nil {
		rec = models.Merge(rec, sidecar, sidecarFields)
	}
	if rec.ParentEmailID != "" {
		rec.IsAttachment = true
	}

	if err := p.persist(ctx, p.cfg.DocumentRecords, rec); err != nil {
		return nil, err
	}
	if err := p.linkParent(ctx, rec); err != nil {
		return nil, err
	}
	return &Result{Filename: rec.Filename, Record: rec, Content: item.Content, Diagnostics: diags}, nil
}

// linkParent adds rec to the attachment list of its parent message record.
// A parent that has not been persisted is left for its own processing; the
// link is idempotent.
func (p *AttachmentProcessor) linkParent(ctx context.Context, rec *models.Record) error {
	if rec.ParentEmailID == "" || p.cfg.EmailRecords == "" {
		return nil
	}

	suffix := naming.IDPrefix(rec.ParentEmailID) + ".json"
	items, err := p.gw.ListRecords(ctx, p.cfg.EmailRecords)
	if err != nil {
		return &ProcessingError{Stage: StageLink, Filename: rec.Filename, Err: err}
	}
	for _, it := range items {
		if !strings.HasSuffix(it.Name, suffix) {
			continue
		}
		parent, err := p.gw.GetRecord(ctx, p.cfg.EmailRecords, it.Name)
		if err != nil {
			return &ProcessingError{Stage: StageLink, Filename: rec.Filename, Err: err}
		}
		if parent.DocumentID != rec.ParentEmailID {
			continue
		}
		if slices.Contains(parent.Attachments, rec.DocumentID) {
			return nil
		}
		parent.Attachments = append(parent.Attachments, rec.DocumentID)
		if _, err := p.gw.PutRecord(ctx, p.cfg.EmailRecords, parent); err != nil {
			return &ProcessingError{Stage: StageLink, Filename: rec.Filename, Err: err}
		}
		slog.Debug("attachment linked to parent", "parent", parent.Filename, "document_id", rec.DocumentID)
		return nil
	}

	slog.Warn("parent message record not found", "file", rec.Filename, "parent_email_id", rec.ParentEmailID)
	return nil
}

// sidecar loads <name>.json from the attachments folder. A missing or
// undecodable sidecar yields nil.
func (p *AttachmentProcessor) sidecar(ctx context.Context, name string) (*models.Record, error) {
	data, err := p.gw.Store().Download(ctx, p.cfg.AttachmentsFolder, name+".json")
	if storage.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, &ProcessingError{Stage: StageSidecar, Filename: name, Err: err}
	}

	var rec models.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		slog.Warn("ignoring undecodable sidecar", "file", name, "error", err)
		return nil, nil
	}
	return &rec, nil
}
