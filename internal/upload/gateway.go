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

// Package upload publishes persisted records to the vector index in batches.
//
// Upload is at-least-once: a record whose upload fails is left in place and
// picked up again by the next run. When a Claims store is configured, a
// record is skipped if the same document at the same text version was
// already indexed.
package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bcem/corpus/internal/naming"
	"github.com/bcem/corpus/internal/storage"
	"github.com/bcem/corpus/internal/vectorindex"
)

// DefaultBatchSize is the number of records uploaded per batch.
const DefaultBatchSize = 10

// Claims marks records as indexed. dedup.Filter implements it.
type Claims interface {
	IsNew(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Filter selects which listed JSON files are uploaded.
type Filter func(storage.Item) bool

// JSONRecords selects persisted record files.
func JSONRecords(it storage.Item) bool {
	return strings.HasSuffix(strings.ToLower(it.Name), ".json")
}

// Stats counts the outcome of one BatchUpload.
type Stats struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Success += o.Success
	s.Failed += o.Failed
	s.Skipped += o.Skipped
}

// Config holds the collaborators of a Gateway.
type Config struct {
	Records *storage.Gateway
	Index   vectorindex.Client

	// Claims is optional.
	Claims Claims

	// Concurrency bounds parallel uploads within a batch.
	Concurrency int
}

// Gateway uploads records from the drive to the vector index.
type Gateway struct {
	records     *storage.Gateway
	index       vectorindex.Client
	claims      Claims
	concurrency int
}

// NewGateway creates an upload gateway.
func NewGateway(cfg Config) *Gateway {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Gateway{
		records:     cfg.Records,
		index:       cfg.Index,
		claims:      cfg.Claims,
		concurrency: cfg.Concurrency,
	}
}

// BatchUpload uploads the records in folder accepted by filter, batchSize at
// a time. A failing record is counted and never stops the batch; only a
// failed listing returns an error.
func (g *Gateway) BatchUpload(ctx context.Context, folder string, batchSize int, filter Filter) (Stats, error) {
	var stats Stats
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if filter == nil {
		filter = JSONRecords
	}

	items, err := g.records.ListRecords(ctx, folder)
	if err != nil {
		return stats, err
	}
	var selected []storage.Item
	for _, it := range items {
		if filter(it) {
			selected = append(selected, it)
		}
	}

	total := (len(selected) + batchSize - 1) / batchSize
	slog.Info("starting batch upload", "folder", folder, "records", len(selected), "batches", total)

	var mu sync.Mutex
	for start := 0; start < len(selected); start += batchSize {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		end := min(start+batchSize, len(selected))

		var eg errgroup.Group
		eg.SetLimit(g.concurrency)
		for _, it := range selected[start:end] {
			eg.Go(func() error {
				outcome := g.uploadOne(ctx, folder, it)
				mu.Lock()
				switch outcome {
				case outcomeSuccess:
					stats.Success++
				case outcomeSkipped:
					stats.Skipped++
				case outcomeIgnored:
				default:
					stats.Failed++
				}
				mu.Unlock()
				return nil
			})
		}
		eg.Wait()

		slog.Info("processed upload batch",
			"folder", folder,
			"batch", start/batchSize+1,
			"of", total,
			"success", stats.Success,
			"failed", stats.Failed,
			"skipped", stats.Skipped,
		)
	}
	return stats, nil
}

type outcome int

const (
	outcomeFailed outcome = iota
	outcomeSuccess
	outcomeSkipped
	outcomeIgnored
)

func (g *Gateway) uploadOne(ctx context.Context, folder string, it storage.Item) outcome {
	rec, err := g.records.GetRecord(ctx, folder, it.Name)
	if err != nil {
		slog.Error("failed to read record", "folder", folder, "file", it.Name, "error", err)
		return outcomeFailed
	}
	if err := rec.Validate(); err != nil {
		slog.Warn("skipping file that is not a record", "folder", folder, "file", it.Name, "error", err)
		return outcomeIgnored
	}

	text := rec.TextContent
	if text == "" {
		raw, _ := json.Marshal(rec)
		text = string(raw)
	}

	key := ""
	if g.claims != nil {
		sum := sha256.Sum256([]byte(text))
		key = "indexed:" + rec.DocumentID + ":" + hex.EncodeToString(sum[:])[:16]
		fresh, err := g.claims.IsNew(ctx, key)
		if err != nil {
			// Without the claim the record is uploaded anyway.
			slog.Warn("dedup check failed", "file", it.Name, "error", err)
			key = ""
		} else if !fresh {
			slog.Debug("record already indexed", "file", it.Name, "document_id", rec.DocumentID)
			return outcomeSkipped
		}
	}

	stem, _ := naming.StemAndExt(rec.Filename)
	_, err = g.index.UploadDocument(ctx, vectorindex.Document{
		ID:         rec.DocumentID,
		Name:       stem + ".txt",
		Text:       text,
		Attributes: BuildAttributes(rec),
	})
	if err != nil {
		slog.Error("failed to upload record", "file", it.Name, "document_id", rec.DocumentID, "error", err)
		if key != "" {
			if rerr := g.claims.Release(context.WithoutCancel(ctx), key); rerr != nil {
				slog.Warn("failed to release dedup claim", "key", key, "error", rerr)
			}
		}
		return outcomeFailed
	}
	return outcomeSuccess
}
