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

// Package models defines the unified record shared by every stage of the
// corpus pipeline.
package models

import (
	"errors"
	"fmt"
)

// RecordType distinguishes messages from documents.
type RecordType string

const (
	TypeEmail    RecordType = "email"
	TypeDocument RecordType = "document"
)

// Provenance tags written to Record.Source.
const (
	SourceOutlook  = "outlook"
	SourceOneDrive = "onedrive"
	SourceEmail    = "email"
	SourceManual   = "manual"
)

// Record describes one ingested unit: an email message, or a document that is
// either standalone or attached to a message.
//
// This struct's JSON serialisation is the on-disk format of every file in the
// processed folders and is read back by the vector upload stage.
type Record struct {
	DocumentID  string     `json:"document_id"`
	Type        RecordType `json:"type"`
	Filename    string     `json:"filename"`
	StorageURL  string     `json:"storage_url"`
	SourceURL   string     `json:"source_url,omitempty"`
	CreatedAt   string     `json:"created_at"`
	Size        int64      `json:"size"`
	ContentType string     `json:"content_type"`
	Source      string     `json:"source"`

	IsAttachment     bool   `json:"is_attachment"`
	ParentEmailID    string `json:"parent_email_id,omitempty"`
	ParentDocumentID string `json:"parent_document_id,omitempty"`

	// Email fields.
	MessageID string   `json:"message_id,omitempty"`
	Subject   string   `json:"subject,omitempty"`
	From      string   `json:"from,omitempty"`
	To        []string `json:"to,omitempty"`
	Cc        []string `json:"cc,omitempty"`
	Date      string   `json:"date,omitempty"`

	// Document fields.
	Title        string `json:"title,omitempty"`
	Author       string `json:"author,omitempty"`
	LastModified string `json:"last_modified,omitempty"`

	Attachments []string       `json:"attachments,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`
	TextContent string         `json:"text_content"`
}

// ErrInvalidRecord is wrapped by every error returned from Validate.
var ErrInvalidRecord = errors.New("invalid record")

// Validate checks the structural invariants of a record before it is
// persisted.
func (r *Record) Validate() error {
	if r.DocumentID == "" {
		return fmt.Errorf("%w: missing document_id", ErrInvalidRecord)
	}
	if r.Type != TypeEmail && r.Type != TypeDocument {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidRecord, r.Type)
	}
	if r.Filename == "" {
		return fmt.Errorf("%w: missing filename", ErrInvalidRecord)
	}
	if r.IsAttachment && r.ParentEmailID == "" {
		return fmt.Errorf("%w: attachment %s has no parent_email_id", ErrInvalidRecord, r.DocumentID)
	}
	if r.Type == TypeDocument && len(r.Attachments) > 0 {
		return fmt.Errorf("%w: document %s lists attachments", ErrInvalidRecord, r.DocumentID)
	}
	return nil
}

// LinkAttachment records child as an attachment of the message r.
func (r *Record) LinkAttachment(child *Record) {
	child.ParentEmailID = r.DocumentID
	child.IsAttachment = true
	r.Attachments = append(r.Attachments, child.DocumentID)
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	out := *r
	out.To = cloneStrings(r.To)
	out.Cc = cloneStrings(r.Cc)
	out.Attachments = cloneStrings(r.Attachments)
	out.Tags = cloneStrings(r.Tags)
	if r.Properties != nil {
		out.Properties = make(map[string]any, len(r.Properties))
		for k, v := range r.Properties {
			out.Properties[k] = v
		}
	}
	return &out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
