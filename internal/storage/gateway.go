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

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bcem/corpus/internal/models"
)

// Gateway persists records and original artifacts. Writes overwrite by name.
type Gateway struct {
	store RemoteStore
}

// NewGateway wraps a remote store.
func NewGateway(store RemoteStore) *Gateway {
	return &Gateway{store: store}
}

// Store returns the underlying remote store.
func (g *Gateway) Store() RemoteStore {
	return g.store
}

// PutRecord writes rec as indented JSON to folder/rec.Filename and sets
// rec.StorageURL to the written location.
func (g *Gateway) PutRecord(ctx context.Context, folder string, rec *models.Record) (UploadResult, error) {
	if err := rec.Validate(); err != nil {
		return UploadResult{}, fmt.Errorf("put record: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return UploadResult{}, fmt.Errorf("marshal record %s: %w", rec.DocumentID, err)
	}

	res, err := g.store.Upload(ctx, folder, rec.Filename, data)
	if err != nil {
		return UploadResult{}, fmt.Errorf("upload record %s: %w", rec.Filename, err)
	}

	// The first write assigns the URL; rewrite once so the stored record
	// carries its own location.
	if res.URL != "" && res.URL != rec.StorageURL {
		rec.StorageURL = res.URL
		if data, err = json.MarshalIndent(rec, "", "  "); err != nil {
			return UploadResult{}, fmt.Errorf("marshal record %s: %w", rec.DocumentID, err)
		}
		if res, err = g.store.Upload(ctx, folder, rec.Filename, data); err != nil {
			return UploadResult{}, fmt.Errorf("upload record %s: %w", rec.Filename, err)
		}
	}

	slog.Debug("record persisted",
		"folder", folder,
		"filename", rec.Filename,
		"document_id", rec.DocumentID,
		"bytes", len(data),
	)
	return res, nil
}

// PutArtifact writes the original bytes of an item next to its record.
func (g *Gateway) PutArtifact(ctx context.Context, folder, name string, content []byte) (UploadResult, error) {
	res, err := g.store.Upload(ctx, folder, name, content)
	if err != nil {
		return UploadResult{}, fmt.Errorf("upload artifact %s: %w", name, err)
	}
	return res, nil
}

// GetRecord reads and decodes a persisted record.
func (g *Gateway) GetRecord(ctx context.Context, folder, name string) (*models.Record, error) {
	data, err := g.store.Download(ctx, folder, name)
	if err != nil {
		return nil, fmt.Errorf("download record %s: %w", name, err)
	}
	var rec models.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", name, err)
	}
	return &rec, nil
}

// ListRecords lists the JSON files in folder. The store's listing is not
// modified.
func (g *Gateway) ListRecords(ctx context.Context, folder string) ([]Item, error) {
	items, err := g.store.List(ctx, folder)
	if err != nil {
		return nil, fmt.Errorf("list records in %s: %w", folder, err)
	}
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if strings.HasSuffix(strings.ToLower(it.Name), ".json") {
			out = append(out, it)
		}
	}
	return out, nil
}
