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

// Field names accepted by Merge.
const (
	FieldParentEmailID    = "parent_email_id"
	FieldParentDocumentID = "parent_document_id"
	FieldMessageID        = "message_id"
	FieldSubject          = "subject"
	FieldFrom             = "from"
	FieldTo               = "to"
	FieldCc               = "cc"
	FieldDate             = "date"
	FieldTitle            = "title"
	FieldAuthor           = "author"
	FieldLastModified     = "last_modified"
	FieldTags             = "tags"
	FieldProperties       = "properties"
)

// EmailFields is the allow-list used when an attachment inherits context from
// a sidecar record written for its parent message.
var EmailFields = []string{
	FieldParentEmailID,
	FieldParentDocumentID,
	FieldMessageID,
	FieldSubject,
	FieldTo,
	FieldCc,
	FieldDate,
	FieldTitle,
	FieldAuthor,
}

// Merge blends fresh into base and returns a new record. Only the named
// fields are taken from fresh, and only when fresh carries a non-empty value
// for them. TextContent always resolves to the longer of the two. Identity
// fields (document_id, type, filename, storage_url) always come from base.
// IsAttachment is recomputed from the merged parent_email_id.
func Merge(base, fresh *Record, fields []string) *Record {
	out := base.Clone()
	if fresh == nil {
		return out
	}

	for _, f := range fields {
		switch f {
		case FieldParentEmailID:
			out.ParentEmailID = firstNonEmpty(fresh.ParentEmailID, out.ParentEmailID)
		case FieldParentDocumentID:
			out.ParentDocumentID = firstNonEmpty(fresh.ParentDocumentID, out.ParentDocumentID)
		case FieldMessageID:
			out.MessageID = firstNonEmpty(fresh.MessageID, out.MessageID)
		case FieldSubject:
			out.Subject = firstNonEmpty(fresh.Subject, out.Subject)
		case FieldFrom:
			out.From = firstNonEmpty(fresh.From, out.From)
		case FieldTo:
			if len(fresh.To) > 0 {
				out.To = cloneStrings(fresh.To)
			}
		case FieldCc:
			if len(fresh.Cc) > 0 {
				out.Cc = cloneStrings(fresh.Cc)
			}
		case FieldDate:
			out.Date = firstNonEmpty(fresh.Date, out.Date)
		case FieldTitle:
			out.Title = firstNonEmpty(fresh.Title, out.Title)
		case FieldAuthor:
			out.Author = firstNonEmpty(fresh.Author, out.Author)
		case FieldLastModified:
			out.LastModified = firstNonEmpty(fresh.LastModified, out.LastModified)
		case FieldTags:
			out.Tags = unionStrings(out.Tags, fresh.Tags)
		case FieldProperties:
			if len(fresh.Properties) > 0 && out.Properties == nil {
				out.Properties = make(map[string]any, len(fresh.Properties))
			}
			for k, v := range fresh.Properties {
				out.Properties[k] = v
			}
		}
	}

	if len(fresh.TextContent) > len(out.TextContent) {
		out.TextContent = fresh.TextContent
	}
	out.IsAttachment = out.ParentEmailID != ""
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func unionStrings(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(cloneStrings(a), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
