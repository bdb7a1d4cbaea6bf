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

// Package clean normalizes extracted text into display- and index-ready form.
package clean

import (
	"html"
	"regexp"
	"strings"
	"unicode"
)

// Options toggles the optional cleaning steps.
type Options struct {
	// StripBoilerplate removes copyright, confidentiality, pagination and
	// cookie/privacy notices.
	StripBoilerplate bool

	// RemoveHeadersFooters drops short repeated lines and trailing legal
	// blocks in CleanLines.
	RemoveHeadersFooters bool
}

// DefaultOptions enables every step.
var DefaultOptions = Options{StripBoilerplate: true, RemoveHeadersFooters: true}

// Cleaner applies the normalization steps selected by its Options.
type Cleaner struct {
	opts Options
}

// New creates a Cleaner.
func New(opts Options) *Cleaner {
	return &Cleaner{opts: opts}
}

var defaultCleaner = New(DefaultOptions)

// Clean normalizes text with DefaultOptions.
func Clean(text string) string { return defaultCleaner.Clean(text) }

// CleanLines applies the line-oriented pass with DefaultOptions.
func CleanLines(text string) string { return defaultCleaner.CleanLines(text) }

var (
	commentRE = regexp.MustCompile(`(?s)<!--.*?-->`)
	tagRE     = regexp.MustCompile(`<[^<>]+>`)
	cssRE     = regexp.MustCompile(`@media[^{}]*\{[^{}]*\}`)
	spaceRE   = regexp.MustCompile(`\s+`)
)

var boilerplate = []*regexp.Regexp{
	regexp.MustCompile(`(?is)(?:©|\(c\)|copyright)\s*\d{4}.{0,200}?all rights reserved\.?`),
	regexp.MustCompile(`(?i)confidential and proprietary[^.\n]*\.?`),
	regexp.MustCompile(`(?i)this document contains[^.\n]*confidential[^.\n]*\.?`),
	regexp.MustCompile(`(?i)\bpage \d+ of \d+\b`),
	regexp.MustCompile(`(?i)document continues on next page[^.\n]*\.?`),
	regexp.MustCompile(`(?i)\b(?:this (?:web)?site|we) uses? cookies[^.\n]*\.?`),
	regexp.MustCompile(`(?i)\bby (?:continuing to (?:browse|use)|using) (?:this|our) (?:web)?site[^.\n]*\.?`),
	regexp.MustCompile(`(?i)\b(?:read|view|see|review) our (?:privacy|cookie) policy[^.\n]*\.?`),
	regexp.MustCompile(`(?i)\baccept (?:all )?cookies\b`),
}

var punctuation = strings.NewReplacer(
	"\u2018", "'", "\u2019", "'", "\u201b", "'", "\u2032", "'",
	"\u201c", `"`, "\u201d", `"`, "\u201f", `"`, "\u2033", `"`,
	"\u2010", "-", "\u2011", "-", "\u2012", "-", "\u2013", "-", "\u2014", "-", "\u2015", "-",
	"\u2026", "...",
	"\u00a0", " ", "\u202f", " ", "\u2009", " ", "\u2007", " ",
	"\u200b", "", "\u200c", "", "\u200d", "", "\ufeff", "", "\ufffd", "",
)

// Clean runs the normalization pipeline until the text stops changing, so
// Clean(Clean(x)) == Clean(x) for every x.
//
// After the first pass the text is pure ASCII and every further pass can only
// shorten it, which bounds the loop.
func (c *Cleaner) Clean(text string) string {
	for {
		next := c.cleanOnce(text)
		if next == text {
			return next
		}
		text = next
	}
}

func (c *Cleaner) cleanOnce(text string) string {
	text = stripMarkup(text)
	if c.opts.StripBoilerplate {
		text = removeBoilerplate(text)
	}
	text = spaceRE.ReplaceAllString(normalizeNewlines(text), " ")
	text = punctuation.Replace(text)
	text = asciiPrintable(text)
	return strings.TrimSpace(spaceRE.ReplaceAllString(text, " "))
}

// stripMarkup removes comments and tags and decodes entities, repeating
// until entity decoding stops exposing new markup.
func stripMarkup(text string) string {
	for {
		next := commentRE.ReplaceAllString(text, " ")
		next = tagRE.ReplaceAllString(next, " ")
		next = cssRE.ReplaceAllString(next, " ")
		next = html.UnescapeString(next)
		if next == text {
			return next
		}
		text = next
	}
}

func removeBoilerplate(text string) string {
	for _, re := range boilerplate {
		text = re.ReplaceAllString(text, " ")
	}
	return text
}

func normalizeNewlines(text string) string {
	return strings.ReplaceAll(strings.ReplaceAll(text, "\r\n", "\n"), "\r", "\n")
}

func asciiPrintable(text string) string {
	return strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsPrint(r) || unicode.IsSpace(r)) {
			return r
		}
		return -1
	}, text)
}
