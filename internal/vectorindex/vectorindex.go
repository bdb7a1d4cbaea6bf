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

// Package vectorindex publishes record text to a similarity-search index and
// queries it back. Two backends share the Client interface: a hosted OpenAI
// vector store and an embedded chromem-go collection.
package vectorindex

import (
	"context"
	"errors"
	"math"
)

// DefaultScoreThreshold drops results less similar than this.
const DefaultScoreThreshold = 0.5

// ErrEmptyQuery is returned by Search for a blank query.
var ErrEmptyQuery = errors.New("empty query")

// Document is one record prepared for indexing. ID is the record's
// document_id and is the index's deduplication key.
type Document struct {
	ID         string
	Name       string
	Text       string
	Attributes map[string]string
}

// Result is one search hit.
type Result struct {
	ID         string
	Score      float32
	Attributes map[string]string
	Text       string
}

// Client is a vector index.
type Client interface {
	// UploadDocument indexes doc and returns the index's file id.
	UploadDocument(ctx context.Context, doc Document) (string, error)

	// Search returns at most limit hits whose attributes equal every entry
	// of filters, best first.
	Search(ctx context.Context, query string, filters map[string]string, limit int) ([]Result, error)
}

// Cosine returns the cosine similarity of a and b, normalizing both. It is
// 0 when either vector is zero or the lengths differ.
func Cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
