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

package extract

import (
	"bytes"
	"math"
	"strings"
	"time"

	"rsc.io/pdf"
)

func extractPDF(content []byte) Result {
	props := map[string]any{
		"format":    "pdf",
		"encrypted": bytes.Contains(content, []byte("/Encrypt")),
	}

	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		props["page_count"] = 0
		return Result{
			Metadata:   Metadata{Properties: props},
			Diagnostic: "pdf: " + err.Error(),
		}
	}

	pages := r.NumPage()
	props["page_count"] = pages

	meta := Metadata{Properties: props}
	info := r.Trailer().Key("Info")
	meta.Title = strings.TrimSpace(info.Key("Title").Text())
	meta.Author = strings.TrimSpace(info.Key("Author").Text())
	if v := strings.TrimSpace(info.Key("Producer").Text()); v != "" {
		props["producer"] = v
	}
	if v := strings.TrimSpace(info.Key("Creator").Text()); v != "" {
		props["creator"] = v
	}
	if v := info.Key("CreationDate").Text(); v != "" {
		props["created"] = pdfDate(v)
	}
	if v := info.Key("ModDate").Text(); v != "" {
		meta.LastModified = pdfDate(v)
	}

	limit := min(pages, PDFTextPages)
	texts := make([]string, 0, limit)
	for i := 1; i <= limit; i++ {
		if t := pageText(r.Page(i)); t != "" {
			texts = append(texts, t)
		}
	}
	props["text_pages"] = limit

	return Result{Text: strings.Join(texts, "\n\n"), Metadata: meta}
}

// pageText rebuilds reading order from positioned glyph runs: a change of
// baseline starts a new line and a horizontal gap inserts a space. Fonts
// without a /Widths array report zero advance for every glyph, so for those
// pages the text is taken from the string operands instead.
func pageText(p pdf.Page) (out string) {
	defer func() {
		if recover() != nil {
			out = ""
		}
	}()
	if p.V.IsNull() {
		return ""
	}

	glyphs := p.Content().Text
	if len(glyphs) > 0 && !hasAdvance(glyphs) {
		return operandText(p)
	}

	var b strings.Builder
	first := true
	var lastY, lastEnd float64
	for _, t := range glyphs {
		if !first {
			tolerance := math.Max(t.FontSize*0.5, 1)
			switch {
			case math.Abs(t.Y-lastY) > tolerance:
				b.WriteByte('\n')
			case t.X-lastEnd > math.Max(t.FontSize*0.25, 1):
				b.WriteByte(' ')
			}
		}
		b.WriteString(t.S)
		lastY, lastEnd = t.Y, t.X+t.W
		first = false
	}
	return strings.TrimSpace(b.String())
}

func hasAdvance(glyphs []pdf.Text) bool {
	for _, t := range glyphs {
		if t.W > 0 {
			return true
		}
	}
	return false
}

// tjSpace is the TJ kerning adjustment, in thousandths of an em, treated as
// a word gap.
const tjSpace = 200

// operandText walks the content stream and concatenates the decoded Tj and
// TJ operands, keeping the spaces present in the source strings. Line moves
// and text object boundaries become newlines.
func operandText(p pdf.Page) string {
	var b strings.Builder
	var enc pdf.TextEncoding
	decode := func(raw string) string {
		if enc == nil {
			return raw
		}
		return enc.Decode(raw)
	}
	newline := func() {
		if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
			b.WriteByte('\n')
		}
	}

	pdf.Interpret(p.V.Key("Contents"), func(stk *pdf.Stack, op string) {
		n := stk.Len()
		args := make([]pdf.Value, n)
		for i := n - 1; i >= 0; i-- {
			args[i] = stk.Pop()
		}
		switch op {
		case "Tf":
			if n == 2 {
				enc = p.Font(args[0].Name()).Encoder()
			}
		case "Td", "TD":
			if n == 2 && args[1].Float64() != 0 {
				newline()
			}
		case "T*", "ET":
			newline()
		case "'", "\"":
			newline()
			if n > 0 {
				b.WriteString(decode(args[n-1].RawString()))
			}
		case "Tj":
			if n == 1 {
				b.WriteString(decode(args[0].RawString()))
			}
		case "TJ":
			if n != 1 {
				return
			}
			arr := args[0]
			for i := 0; i < arr.Len(); i++ {
				x := arr.Index(i)
				if x.Kind() == pdf.String {
					b.WriteString(decode(x.RawString()))
				} else if -x.Float64() > tjSpace && !strings.HasSuffix(b.String(), " ") {
					b.WriteByte(' ')
				}
			}
		}
	})
	return strings.TrimSpace(b.String())
}

// pdfDate converts a PDF date string (D:YYYYMMDDHHmmSS+HH'mm') to RFC 3339,
// returning the input unchanged when it does not parse.
func pdfDate(s string) string {
	v := strings.TrimPrefix(strings.TrimSpace(s), "D:")
	v = strings.ReplaceAll(v, "'", "")
	layouts := []string{"20060102150405-0700", "20060102150405Z0700", "20060102150405Z", "20060102150405", "200601021504", "20060102"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Format(time.RFC3339)
		}
	}
	return s
}
