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

package upload

import (
	"encoding/json"
	"strings"

	"github.com/bcem/corpus/internal/models"
	"github.com/bcem/corpus/internal/naming"
)

// maxAttrLen bounds every string attribute the index accepts.
const maxAttrLen = 512

// attributeVersion tags the attribute layout.
const attributeVersion = "v1"

// BuildAttributes maps a record onto the flat string attributes stored with
// its vector entry.
func BuildAttributes(rec *models.Record) map[string]string {
	attrs := map[string]string{
		"document_id": rec.DocumentID,
		"version":     attributeVersion,
	}
	set := func(key, value string) {
		if value != "" {
			attrs[key] = truncate(value, maxAttrLen)
		}
	}

	original := rec.Filename
	if name, ok := rec.Properties["original_filename"].(string); ok && name != "" {
		original = name
	}

	set("subject", rec.Subject)
	set("from", rec.From)
	set("filename", original)
	set("recipients", strings.Join(append(append([]string{}, rec.To...), rec.Cc...), ","))
	set("rel", rec.ParentEmailID)
	set("tags", strings.Join(rec.Tags, ","))

	if rec.CreatedAt != "" && rec.LastModified != "" {
		dates, _ := json.Marshal(struct {
			C string `json:"c"`
			M string `json:"m"`
		}{truncate(rec.CreatedAt, 19), truncate(rec.LastModified, 19)})
		attrs["dates"] = string(dates)
	}
	if rec.StorageURL != "" {
		set("source_id", rec.StorageURL[strings.LastIndexByte(rec.StorageURL, '/')+1:])
	}

	_, ext := naming.StemAndExt(original)
	attrs["extension"] = ext
	return attrs
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
