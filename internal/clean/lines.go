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

package clean

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	// maxRepeatedLineLen is the longest line treated as a running header or
	// footer when it repeats.
	maxRepeatedLineLen = 60

	// tailWindow is the number of trailing lines inspected for legal blocks.
	tailWindow = 10
)

var pageNumberRE = regexp.MustCompile(`^\s*(?:-\s*)?\d{1,4}(?:\s*-)?\s*$`)

// CleanLines is the structure-preserving pass applied to document text before
// Clean. It drops short repeated lines, lines that are nothing but boilerplate
// and a trailing block dominated by boilerplate.
func (c *Cleaner) CleanLines(text string) string {
	lines := strings.Split(normalizeNewlines(text), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRightFunc(l, unicode.IsSpace)
	}

	if c.opts.RemoveHeadersFooters {
		lines = dropRepeated(lines)
	}
	if c.opts.StripBoilerplate {
		lines = dropBoilerplateLines(lines)
	}
	if c.opts.RemoveHeadersFooters {
		lines = trimLegalTail(lines)
	}
	return strings.Join(squeezeBlank(lines), "\n")
}

func dropRepeated(lines []string) []string {
	counts := make(map[string]int, len(lines))
	for _, l := range lines {
		if key := strings.TrimSpace(l); key != "" {
			counts[key]++
		}
	}

	out := lines[:0:0]
	for _, l := range lines {
		key := strings.TrimSpace(l)
		if key != "" && counts[key] > 1 && len([]rune(key)) <= maxRepeatedLineLen {
			continue
		}
		out = append(out, l)
	}
	return out
}

func dropBoilerplateLines(lines []string) []string {
	out := lines[:0:0]
	for _, l := range lines {
		if isBoilerplateLine(l) {
			continue
		}
		out = append(out, l)
	}
	return out
}

// isBoilerplateLine reports whether nothing but punctuation is left once
// every boilerplate match is removed.
func isBoilerplateLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	if pageNumberRE.MatchString(trimmed) {
		return true
	}
	if !hasBoilerplate(trimmed) {
		return false
	}
	rest := removeBoilerplate(trimmed)
	return strings.IndexFunc(rest, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	}) < 0
}

func hasBoilerplate(line string) bool {
	if pageNumberRE.MatchString(line) {
		return true
	}
	for _, re := range boilerplate {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// trimLegalTail looks at the last tailWindow non-empty lines and cuts from the
// first boilerplate line among them when more than half of the lines from
// there to the end carry boilerplate.
func trimLegalTail(lines []string) []string {
	var window []int
	for i := len(lines) - 1; i >= 0 && len(window) < tailWindow; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			window = append(window, i)
		}
	}

	start := -1
	for j := len(window) - 1; j >= 0; j-- {
		if hasBoilerplate(strings.TrimSpace(lines[window[j]])) {
			start = j
			break
		}
	}
	if start < 0 {
		return lines
	}

	matches := 0
	for _, idx := range window[:start+1] {
		if hasBoilerplate(strings.TrimSpace(lines[idx])) {
			matches++
		}
	}
	if matches*2 <= start+1 {
		return lines
	}
	return lines[:window[start]]
}

func squeezeBlank(lines []string) []string {
	out := lines[:0:0]
	blank := true
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			if blank {
				continue
			}
			blank = true
			out = append(out, "")
			continue
		}
		blank = false
		out = append(out, l)
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return out
}
