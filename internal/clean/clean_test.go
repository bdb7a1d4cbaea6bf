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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "markup and entities",
			in:   "<p>Hello&nbsp;&ldquo;world&rdquo; &mdash; it&rsquo;s fine&hellip;</p><!-- tracking -->",
			want: `Hello "world" - it's fine...`,
		},
		{
			name: "copyright and pagination",
			in:   "Annual report. © 2023 Acme Corp. All rights reserved. Page 3 of 10 Revenue grew.",
			want: "Annual report. Revenue grew.",
		},
		{
			name: "cookie notice",
			in:   "We use cookies to improve your experience. Welcome to the portal.",
			want: "Welcome to the portal.",
		},
		{
			name: "confidential marker",
			in:   "Plan B\nConfidential and Proprietary\nShip it",
			want: "Plan B Ship it",
		},
		{
			name: "whitespace and line endings",
			in:   "  one\r\ntwo\t\tthree\r\n\r\n four  ",
			want: "one two three four",
		},
		{
			name: "non ascii dropped",
			in:   "naïve café ✓ done​",
			want: "nave caf done",
		},
		{
			name: "double encoded markup",
			in:   "&lt;b&gt;bold&lt;/b&gt; text",
			want: "bold text",
		},
		{
			name: "empty",
			in:   "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Clean(tt.in))
		})
	}
}

// TestClean_Idempotent verifies clean(clean(x)) == clean(x) on inputs where a
// single pass would expose new matches.
func TestClean_Idempotent(t *testing.T) {
	samples := []string{
		"Page 1 of 2 body",
		"Page  7 of 9 end",
		"&amp;lt;script&amp;gt;alert(1)&amp;lt;/script&amp;gt;",
		"&amp;amp;amp;amp; nested",
		"© 2024 Example. All rights reserved. Tail text",
		"a < b and c > d",
		"“Quoted” — dash …",
		"<style>@media print { body { color: red } }</style>Visible",
		"Line one\n\n\nLine two",
		strings.Repeat("word ", 50),
		"\x00\x01binary\x02junk\xff",
	}

	for _, s := range samples {
		once := Clean(s)
		assert.Equal(t, once, Clean(once), "input %q", s)
	}
}

func TestClean_BoilerplateToggle(t *testing.T) {
	c := New(Options{StripBoilerplate: false})
	assert.Equal(t, "Page 3 of 10", c.Clean("Page 3 of 10"))
	assert.Equal(t, "", Clean("Page 3 of 10"))
}

func TestCleanLines_HeadersAndBoilerplate(t *testing.T) {
	in := strings.Join([]string{
		"ACME Corp Internal",
		"Introduction",
		"The plan is simple.",
		"",
		"",
		"ACME Corp Internal",
		"Details follow here.",
		"Page 2 of 5",
		"12",
		"Confidential and Proprietary",
	}, "\n")

	want := "Introduction\nThe plan is simple.\n\nDetails follow here."
	assert.Equal(t, want, CleanLines(in))
}

func TestCleanLines_LongRepeatedLinesKept(t *testing.T) {
	long := strings.TrimSpace(strings.Repeat("a substantive sentence ", 4))
	in := long + "\nmiddle\n" + long
	assert.Equal(t, in, CleanLines(in))
}

func TestCleanLines_LegalTail(t *testing.T) {
	in := strings.Join([]string{
		"Summary of findings.",
		"Copyright 2024 Example Inc. All rights reserved. Terms apply.",
		"We use cookies on this portal. Manage settings.",
		"Page 4 of 4 printed.",
	}, "\n")

	assert.Equal(t, "Summary of findings.", CleanLines(in))
}

func TestCleanLines_TailKeptWhenMostlyContent(t *testing.T) {
	in := strings.Join([]string{
		"Summary of findings.",
		"Copyright 2024 Example Inc. All rights reserved. Terms apply.",
		"Revenue grew in every region.",
		"Costs were flat.",
	}, "\n")

	assert.Equal(t, in, CleanLines(in))
}
