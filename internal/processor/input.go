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
	"github.com/bcem/corpus/internal/extract"
)

// Input is what a caller hands the pipeline for one source item: either raw
// bytes with a name to infer the type from, or bytes with an explicit type.
type Input interface {
	resolve() Item
}

// RawBytesInput carries content whose type is inferred from its name.
type RawBytesInput struct {
	Content          []byte
	InferredFilename string
}

// DescribedInput carries content with a declared type.
type DescribedInput struct {
	Content     []byte
	Filename    string
	ContentType string
}

func (in RawBytesInput) resolve() Item {
	return Item{
		Content:     in.Content,
		Filename:    in.InferredFilename,
		ContentType: extract.ContentTypeFor(in.InferredFilename),
	}
}

func (in DescribedInput) resolve() Item {
	ct := in.ContentType
	if ct == "" || ct == extract.TypeOctetStream {
		ct = extract.ContentTypeFor(in.Filename)
	}
	return Item{Content: in.Content, Filename: in.Filename, ContentType: ct}
}

// Item is the single input shape every processor accepts.
type Item struct {
	Content     []byte
	Filename    string
	ContentType string

	// Source is the provenance tag; SourceURL locates the original.
	Source    string
	SourceURL string

	// PreviousOutput is the record filename from an earlier run. A modified
	// item is written back to the same name.
	PreviousOutput string
}

// Resolve turns either input variant into an Item.
func Resolve(in Input) Item {
	return in.resolve()
}
