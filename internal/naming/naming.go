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

// Package naming builds the canonical filenames used for every object the
// pipeline writes to the drive.
//
// The layout is {YYYY-MM-DD}_{sanitized text}{first 8 chars of id}.{ext} and
// must stay byte-compatible with records already stored by earlier versions.
package naming

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

const (
	// DefaultTextLength is the number of sanitized characters kept from the
	// subject or name.
	DefaultTextLength = 20

	// MaxTextLength bounds configurable text lengths.
	MaxTextLength = 50

	idLength = 8
)

// Sanitize keeps letters, digits, spaces and underscores, then replaces
// spaces with underscores.
func Sanitize(text string) string {
	var b strings.Builder
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '_' {
			b.WriteRune(r)
		}
	}
	return strings.ReplaceAll(b.String(), " ", "_")
}

// Canonical returns the canonical filename for an object created on date from
// text (a subject or original name) and a source id. maxLen outside
// [1, MaxTextLength] falls back to DefaultTextLength. ext may be given with or
// without its leading dot.
func Canonical(date time.Time, text, id, ext string, maxLen int) string {
	if maxLen <= 0 || maxLen > MaxTextLength {
		maxLen = DefaultTextLength
	}

	var b strings.Builder
	b.WriteString(date.Format("2006-01-02"))
	b.WriteByte('_')
	b.WriteString(truncateRunes(Sanitize(text), maxLen))
	b.WriteString(IDPrefix(id))
	if ext = strings.TrimPrefix(ext, "."); ext != "" {
		b.WriteByte('.')
		b.WriteString(ext)
	}
	return b.String()
}

// IDPrefix returns the id part of a canonical filename: the first 8
// characters of id as they are, minus path separators. Earlier records used
// the raw prefix, so message ids keep characters such as '@' and '.'.
func IDPrefix(id string) string {
	return strings.NewReplacer("/", "", "\\", "").Replace(truncateRunes(id, idLength))
}

// StemAndExt splits an original filename into its base name without
// extension and its lower-cased extension (including the dot).
func StemAndExt(name string) (string, string) {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 {
		return name, ""
	}
	return name[:i], strings.ToLower(name[i:])
}

var corpusNamespace = uuid.MustParse("6f1c3e5a-2b47-4d0e-9a8c-5e2f7d31b9c4")

// StableID derives a deterministic UUID from the given parts, so the same
// source item keeps the same identity across runs.
func StableID(parts ...string) string {
	return uuid.NewSHA1(corpusNamespace, []byte(strings.Join(parts, "\x00"))).String()
}

// ShortID returns a short deterministic hex id for an opaque source id whose
// prefix is not distinctive (Graph message ids share long prefixes).
func ShortID(sourceID string) string {
	return strings.ReplaceAll(StableID(sourceID), "-", "")[:idLength]
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
