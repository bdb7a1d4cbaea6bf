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

	"github.com/bcem/corpus/internal/models"
	"github.com/bcem/corpus/internal/naming"
	"github.com/bcem/corpus/internal/storage"
)

// DocumentProcessor turns a drive file into a document record.
type DocumentProcessor struct {
	base
}

// NewDocumentProcessor creates a DocumentProcessor writing through gw.
func NewDocumentProcessor(cfg Config, gw *storage.Gateway) *DocumentProcessor {
	return &DocumentProcessor{base: newBase(cfg, gw)}
}

// Process validates, extracts and persists one document.
func (p *DocumentProcessor) Process(ctx context.Context, item Item) (res *Result, err error) {
	defer recoverStage(&err, item.Filename)

	if err := p.validate(item, p.cfg.MaxFileSize); err != nil {
		return nil, err
	}
	if item.Source == "" {
		item.Source = models.SourceOneDrive
	}

	rec, diags := p.documentRecord(item, naming.StableID("document", item.Filename), p.now())
	if err := p.persist(ctx, p.cfg.DocumentRecords, rec); err != nil {
		return nil, err
	}
	return &Result{Filename: rec.Filename, Record: rec, Content: item.Content, Diagnostics: diags}, nil
}
