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

// Package extract turns raw file bytes into plain text and structural
// metadata, one extractor per format family.
//
// Every exported function is total: malformed input, unsupported formats and
// panics inside third-party parsers all come back as a Result with empty
// defaults and a non-empty Diagnostic.
package extract

import (
	"fmt"
	"mime"
	"path"
	"strings"
	"unicode/utf8"
)

// Bounds shared by every extractor.
const (
	PreviewChars     = 5000
	PDFTextPages     = 5
	TablePreviewRows = 20
)

// Content types recognised by Extract.
const (
	TypeEML  = "message/rfc822"
	TypeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	TypePPTX = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	TypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	TypeDOC  = "application/msword"
	TypePPT  = "application/vnd.ms-powerpoint"
	TypeXLS  = "application/vnd.ms-excel"
	TypePDF  = "application/pdf"
	TypeCSV  = "text/csv"
	TypeHTML = "text/html"
	TypeText = "text/plain"

	TypeOctetStream = "application/octet-stream"
)

var extensionTypes = map[string]string{
	".eml":  TypeEML,
	".docx": TypeDOCX,
	".pptx": TypePPTX,
	".xlsx": TypeXLSX,
	".doc":  TypeDOC,
	".ppt":  TypePPT,
	".xls":  TypeXLS,
	".pdf":  TypePDF,
	".csv":  TypeCSV,
	".html": TypeHTML,
	".htm":  TypeHTML,
	".txt":  TypeText,
	".md":   TypeText,
	".json": "application/json",
}

// Metadata is the structural description of a file.
type Metadata struct {
	Title        string
	Author       string
	LastModified string

	// Properties holds format-specific structure (page counts, sheet names,
	// slide titles, headings). Never nil.
	Properties map[string]any
}

// Result is the outcome of an extraction. Text and Metadata are always
// usable; Diagnostic is non-empty when extraction degraded.
type Result struct {
	Text       string
	Metadata   Metadata
	Diagnostic string
}

// Degraded reports whether the extractor fell back to defaults.
func (r Result) Degraded() bool { return r.Diagnostic != "" }

// ContentTypeFor infers a content type from a filename's extension.
func ContentTypeFor(filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if ct, ok := extensionTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return baseType(ct)
	}
	return TypeOctetStream
}

// Extract returns text and structural metadata for content of the given
// content type.
func Extract(content []byte, contentType string) Result {
	ct := baseType(contentType)
	return safely(ct, func() Result {
		if len(content) == 0 {
			return degraded("empty content")
		}
		return dispatch(content, ct)
	})
}

// ExtractText returns only the text path of Extract.
func ExtractText(content []byte, contentType string) (string, string) {
	r := Extract(content, contentType)
	return r.Text, r.Diagnostic
}

// ExtractMetadata returns only the metadata path of Extract.
func ExtractMetadata(content []byte, contentType string) (Metadata, string) {
	r := Extract(content, contentType)
	return r.Metadata, r.Diagnostic
}

func dispatch(content []byte, ct string) Result {
	switch ct {
	case TypeEML:
		return extractEmail(content)
	case TypeDOCX:
		return extractDOCX(content)
	case TypePPTX:
		return extractPPTX(content)
	case TypeXLSX:
		return extractXLSX(content)
	case TypeCSV, "application/csv":
		return extractCSV(content)
	case TypePDF:
		return extractPDF(content)
	case TypeHTML, "application/xhtml+xml":
		return extractHTML(content)
	case TypeDOC, TypePPT, TypeXLS:
		return degraded("legacy binary office format %s is not supported", ct)
	}
	if strings.HasPrefix(ct, "text/") || ct == "application/json" || ct == "application/xml" {
		return extractPlain(content)
	}
	if utf8.Valid(content) {
		r := extractPlain(content)
		r.Diagnostic = fmt.Sprintf("unknown content type %q, decoded as text", ct)
		return r
	}
	return degraded("unsupported content type %q", ct)
}

// safely runs fn and converts a panic into a degraded result.
func safely(ct string, fn func() Result) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = degraded("%s extractor panicked: %v", ct, r)
		}
		if res.Metadata.Properties == nil {
			res.Metadata.Properties = make(map[string]any)
		}
	}()
	return fn()
}

func degraded(format string, args ...any) Result {
	return Result{
		Metadata:   Metadata{Properties: make(map[string]any)},
		Diagnostic: fmt.Sprintf(format, args...),
	}
}

func baseType(contentType string) string {
	ct := strings.TrimSpace(strings.ToLower(contentType))
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return mt
	}
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		return strings.TrimSpace(ct[:i])
	}
	return ct
}

func preview(s string) string {
	if utf8.RuneCountInString(s) <= PreviewChars {
		return s
	}
	n := 0
	for i := range s {
		if n == PreviewChars {
			return s[:i]
		}
		n++
	}
	return s
}
