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
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bcem/corpus/internal/extract"
	"github.com/bcem/corpus/internal/models"
	"github.com/bcem/corpus/internal/naming"
	"github.com/bcem/corpus/internal/storage"
)

// MessageProcessor turns an .eml file into an email record and one document
// record per non-image attachment.
type MessageProcessor struct {
	base
}

// NewMessageProcessor creates a MessageProcessor writing through gw.
func NewMessageProcessor(cfg Config, gw *storage.Gateway) *MessageProcessor {
	return &MessageProcessor{base: newBase(cfg, gw)}
}

// Process validates, parses and persists one message. Attachments are
// persisted first so the parent record lists exactly the children that made
// it to storage.
func (p *MessageProcessor) Process(ctx context.Context, item Item) (res *Result, err error) {
	defer recoverStage(&err, item.Filename)

	if err := p.validate(item, p.cfg.MaxFileSize); err != nil {
		return nil, err
	}
	msg, err := extract.ParseMessage(item.Content)
	if err != nil {
		return nil, &ValidationError{Filename: item.Filename, Reason: err.Error()}
	}

	now := p.now()
	date := now
	if !msg.Date.IsZero() {
		date = msg.Date.UTC()
	}
	id := msg.MessageID
	if id == "" {
		id = naming.StableID("email", item.Filename)
	}
	source := item.Source
	if source == "" {
		source = models.SourceEmail
	}

	rec := &models.Record{
		DocumentID:  id,
		Type:        models.TypeEmail,
		Filename:    p.outputName(item, date, msg.Subject, id),
		SourceURL:   item.SourceURL,
		CreatedAt:   now.Format(time.RFC3339),
		Size:        int64(len(item.Content)),
		ContentType: extract.TypeEML,
		Source:      source,
		MessageID:   msg.MessageID,
		Subject:     msg.Subject,
		From:        msg.From,
		To:          msg.To,
		Cc:          msg.Cc,
		Date:        messageDate(msg),
		Title:       msg.Subject,
		Author:      msg.From,
		Properties: map[string]any{
			"original_filename": item.Filename,
			"body_format":       msg.BodyFormat,
			"attachment_count":  len(msg.Attachments),
			"skipped_images":    msg.SkippedImages,
		},
		TextContent: p.normalize(msg.Body),
	}

	res = &Result{Content: item.Content}
	if msg.Diagnostic != "" {
		slog.Warn("extraction degraded", "file", item.Filename, "diagnostic", msg.Diagnostic)
		res.Diagnostics = append(res.Diagnostics, msg.Diagnostic)
	}

	for i, part := range msg.Attachments {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		child, err := p.attachment(ctx, rec, date, i, part)
		var verr *ValidationError
		switch {
		case errors.As(err, &verr):
			slog.Warn("attachment rejected",
				"message", item.Filename,
				"attachment", part.Filename,
				"reason", verr.Reason,
			)
			res.Rejected = append(res.Rejected, part.Filename)
		case err != nil:
			slog.Error("attachment failed",
				"message", item.Filename,
				"attachment", part.Filename,
				"error", err,
			)
			res.AttachmentErrors = append(res.AttachmentErrors, err)
		default:
			rec.LinkAttachment(child.Record)
			res.Attachments = append(res.Attachments, child)
			res.Diagnostics = append(res.Diagnostics, child.Diagnostics...)
		}
	}

	if err := p.persist(ctx, p.cfg.EmailRecords, rec); err != nil {
		return nil, err
	}
	res.Filename = rec.Filename
	res.Record = rec
	return res, nil
}

// attachment persists one embedded part as a document record inheriting the
// parent's email context, with the original bytes stored next to it.
func (p *MessageProcessor) attachment(ctx context.Context, parent *models.Record, date time.Time, index int, part extract.Part) (*Result, error) {
	ct := part.ContentType
	if ct == "" || ct == extract.TypeOctetStream {
		ct = extract.ContentTypeFor(part.Filename)
	}
	item := Item{
		Content:     part.Content,
		Filename:    part.Filename,
		ContentType: ct,
		Source:      parent.Source,
	}
	if err := p.validate(item, p.cfg.MaxAttachmentSize); err != nil {
		return nil, err
	}

	id := naming.StableID(parent.DocumentID, strconv.Itoa(index), part.Filename)
	rec, diags := p.documentRecord(item, id, date)
	rec = models.Merge(rec, &models.Record{
		ParentEmailID: parent.DocumentID,
		MessageID:     parent.MessageID,
		Subject:       parent.Subject,
		To:            parent.To,
		Cc:            parent.Cc,
		Date:          parent.Date,
	}, models.EmailFields)

	_, ext := naming.StemAndExt(part.Filename)
	artifact := strings.TrimSuffix(rec.Filename, ".json") + ext
	up, err := p.gw.PutArtifact(ctx, p.cfg.DocumentRecords, artifact, part.Content)
	if err != nil {
		return nil, &ProcessingError{Stage: StagePersist, Filename: artifact, Err: err}
	}
	rec.SourceURL = up.URL

	if err := p.persist(ctx, p.cfg.DocumentRecords, rec); err != nil {
		return nil, err
	}
	return &Result{Filename: rec.Filename, Record: rec, Content: part.Content, Diagnostics: diags}, nil
}

func messageDate(msg *extract.Message) string {
	if msg.Date.IsZero() {
		return msg.RawDate
	}
	return msg.Date.UTC().Format(time.RFC3339)
}
