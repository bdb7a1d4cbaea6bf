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

package vectorindex

import (
	"context"
	"fmt"
	"sort"

	"github.com/philippgille/chromem-go"
)

// DefaultCollection is the chromem collection records are stored in.
const DefaultCollection = "corpus"

// LocalConfig holds configuration for the embedded store.
type LocalConfig struct {
	// Path persists the collection on disk; empty keeps it in memory.
	Path       string
	Collection string

	// Embed produces embeddings. When nil, OpenAI embeddings are used with
	// APIKey and Model.
	Embed  chromem.EmbeddingFunc
	APIKey string
	Model  string

	ScoreThreshold float64
}

// LocalStore indexes records in an embedded chromem-go collection.
type LocalStore struct {
	coll      *chromem.Collection
	embed     chromem.EmbeddingFunc
	threshold float32
}

var _ Client = (*LocalStore)(nil)

// NewLocalStore opens or creates the embedded collection.
func NewLocalStore(cfg LocalConfig) (*LocalStore, error) {
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	if cfg.Embed == nil {
		model := chromem.EmbeddingModelOpenAI3Small
		if cfg.Model != "" {
			model = chromem.EmbeddingModelOpenAI(cfg.Model)
		}
		cfg.Embed = chromem.NewEmbeddingFuncOpenAI(cfg.APIKey, model)
	}

	db := chromem.NewDB()
	if cfg.Path != "" {
		var err error
		if db, err = chromem.NewPersistentDB(cfg.Path, false); err != nil {
			return nil, fmt.Errorf("open chromem db %s: %w", cfg.Path, err)
		}
	}
	coll, err := db.GetOrCreateCollection(cfg.Collection, nil, cfg.Embed)
	if err != nil {
		return nil, fmt.Errorf("open collection %s: %w", cfg.Collection, err)
	}
	return &LocalStore{coll: coll, embed: cfg.Embed, threshold: float32(cfg.ScoreThreshold)}, nil
}

// UploadDocument embeds doc's text and stores it under doc.ID, replacing any
// earlier version.
func (s *LocalStore) UploadDocument(ctx context.Context, doc Document) (string, error) {
	attrs := make(map[string]string, len(doc.Attributes))
	for k, v := range doc.Attributes {
		attrs[k] = v
	}
	err := s.coll.AddDocument(ctx, chromem.Document{
		ID:       doc.ID,
		Metadata: attrs,
		Content:  doc.Text,
	})
	if err != nil {
		return "", fmt.Errorf("add document %s: %w", doc.ID, err)
	}
	return doc.ID, nil
}

// Search embeds query and ranks stored documents by cosine similarity,
// dropping those under the threshold.
func (s *LocalStore) Search(ctx context.Context, query string, filters map[string]string, limit int) ([]Result, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}
	n := s.coll.Count()
	if n == 0 || limit <= 0 {
		return nil, nil
	}
	if limit > n {
		limit = n
	}

	qv, err := s.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := s.coll.QueryEmbedding(ctx, qv, limit, filters, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		score := Cosine(qv, h.Embedding)
		if score < s.threshold {
			continue
		}
		results = append(results, Result{ID: h.ID, Score: score, Attributes: h.Metadata, Text: h.Content})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}
