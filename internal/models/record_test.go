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

package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_Validate(t *testing.T) {
	tests := []struct {
		name    string
		record  Record
		wantErr bool
	}{
		{
			name:   "email",
			record: Record{DocumentID: "m1", Type: TypeEmail, Filename: "a.json", Attachments: []string{"d1"}},
		},
		{
			name:   "attachment with parent",
			record: Record{DocumentID: "d1", Type: TypeDocument, Filename: "d.json", IsAttachment: true, ParentEmailID: "m1"},
		},
		{
			name:    "attachment without parent",
			record:  Record{DocumentID: "d1", Type: TypeDocument, Filename: "d.json", IsAttachment: true},
			wantErr: true,
		},
		{
			name:    "missing id",
			record:  Record{Type: TypeEmail, Filename: "a.json"},
			wantErr: true,
		},
		{
			name:    "unknown type",
			record:  Record{DocumentID: "x", Type: "spreadsheet", Filename: "a.json"},
			wantErr: true,
		},
		{
			name:    "document with attachments",
			record:  Record{DocumentID: "x", Type: TypeDocument, Filename: "a.json", Attachments: []string{"y"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.record.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidRecord))
				return
			}
			assert.NoError(t, err)
		})
	}
}

// TestRecord_LinkAttachment verifies both sides of the parent/child link.
func TestRecord_LinkAttachment(t *testing.T) {
	parent := &Record{DocumentID: "msg-1", Type: TypeEmail}
	a := &Record{DocumentID: "doc-a", Type: TypeDocument}
	b := &Record{DocumentID: "doc-b", Type: TypeDocument}

	parent.LinkAttachment(a)
	parent.LinkAttachment(b)

	assert.Equal(t, []string{"doc-a", "doc-b"}, parent.Attachments)
	for _, child := range []*Record{a, b} {
		assert.True(t, child.IsAttachment)
		assert.Equal(t, parent.DocumentID, child.ParentEmailID)
	}
}

// TestMerge_AllowList verifies that only allow-listed fields are blended.
func TestMerge_AllowList(t *testing.T) {
	base := &Record{
		DocumentID:  "doc-1",
		Type:        TypeDocument,
		Filename:    "2024-01-01_reportdoc-1.json",
		Title:       "Extracted Title",
		From:        "keep@example.com",
		TextContent: "short",
	}
	sidecar := &Record{
		DocumentID:    "other",
		Filename:      "ignored.json",
		ParentEmailID: "msg-9",
		Subject:       "Quarterly numbers",
		To:            []string{"a@example.com"},
		From:          "overwrite@example.com",
		TextContent:   "a much longer body of text",
	}

	got := Merge(base, sidecar, EmailFields)

	assert.Equal(t, "doc-1", got.DocumentID)
	assert.Equal(t, "2024-01-01_reportdoc-1.json", got.Filename)
	assert.Equal(t, "msg-9", got.ParentEmailID)
	assert.True(t, got.IsAttachment)
	assert.Equal(t, "Quarterly numbers", got.Subject)
	assert.Equal(t, []string{"a@example.com"}, got.To)
	assert.Equal(t, "keep@example.com", got.From, "from is not in the email allow-list")
	assert.Equal(t, "Extracted Title", got.Title, "empty sidecar title must not erase")
	assert.Equal(t, "a much longer body of text", got.TextContent)

	// base is untouched
	assert.Empty(t, base.ParentEmailID)
	assert.Equal(t, "short", base.TextContent)
}

// TestMerge_PrefersLongerText verifies that a shorter fresh text never wins.
func TestMerge_PrefersLongerText(t *testing.T) {
	base := &Record{DocumentID: "d", TextContent: "the complete extracted text"}
	fresh := &Record{TextContent: "partial"}

	got := Merge(base, fresh, nil)
	assert.Equal(t, "the complete extracted text", got.TextContent)
	assert.False(t, got.IsAttachment)
}

func TestMerge_NilFresh(t *testing.T) {
	base := &Record{DocumentID: "d", Tags: []string{"x"}}
	got := Merge(base, nil, EmailFields)
	assert.Equal(t, base, got)
	got.Tags[0] = "y"
	assert.Equal(t, "x", base.Tags[0])
}
