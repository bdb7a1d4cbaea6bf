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
	"encoding/xml"
	"errors"
	"io"
	"strconv"
	"strings"
)

type paragraph struct {
	style string
	text  strings.Builder
}

// section is a run of body paragraphs under one heading path.
type section struct {
	Breadcrumb string `json:"breadcrumb"`
	Paragraphs int    `json:"paragraphs"`
}

type heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

func extractDOCX(content []byte) Result {
	zr, err := openZip(content)
	if err != nil {
		return degraded("docx: %v", err)
	}
	data, err := readZipFile(zr, "word/document.xml")
	if err != nil {
		return degraded("docx: %v", err)
	}

	paras, err := parseParagraphs(data)
	diag := ""
	if err != nil {
		diag = "docx: " + err.Error()
	}

	var (
		lines    []string
		headings []heading
		sections []section
		stack    []string
	)
	for _, p := range paras {
		text := strings.TrimSpace(p.text)
		if text == "" {
			continue
		}
		lines = append(lines, text)

		if level, ok := headingLevel(p.style); ok {
			// Pop back to the parent of this level, then push.
			if len(stack) >= level {
				stack = stack[:level-1]
			}
			stack = append(stack, text)
			headings = append(headings, heading{Level: level, Text: text})
			continue
		}

		crumb := strings.Join(stack, " > ")
		if n := len(sections); n > 0 && sections[n-1].Breadcrumb == crumb {
			sections[n-1].Paragraphs++
		} else {
			sections = append(sections, section{Breadcrumb: crumb, Paragraphs: 1})
		}
	}

	props := map[string]any{
		"format":          "docx",
		"paragraph_count": len(lines),
		"headings":        headings,
		"sections":        sections,
	}
	text := strings.Join(lines, "\n")
	props["word_count"] = len(strings.Fields(text))

	return Result{
		Text:       text,
		Metadata:   readCoreProperties(zr).metadata(props),
		Diagnostic: diag,
	}
}

type parsedParagraph struct {
	style string
	text  string
}

// parseParagraphs walks word/document.xml and returns paragraphs in document
// order, including those nested in tables and text boxes. Paragraphs read
// before a decoding error are returned with the error.
func parseParagraphs(data []byte) ([]parsedParagraph, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var (
		out    []parsedParagraph
		stack  []*paragraph
		inText bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}

		var cur *paragraph
		if len(stack) > 0 {
			cur = stack[len(stack)-1]
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				stack = append(stack, &paragraph{})
			case "pStyle":
				if cur != nil {
					cur.style = attrValue(t, "val")
				}
			case "t":
				inText = true
			case "tab":
				if cur != nil {
					cur.text.WriteByte('\t')
				}
			case "br", "cr":
				if cur != nil {
					cur.text.WriteByte('\n')
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if cur != nil {
					out = append(out, parsedParagraph{style: cur.style, text: cur.text.String()})
					stack = stack[:len(stack)-1]
				}
			}
		case xml.CharData:
			if inText && cur != nil {
				cur.text.Write(t)
			}
		}
	}
}

// headingLevel maps paragraph style ids such as "Heading2" or "heading 2" to
// a level. A heading style without a number is level 1.
func headingLevel(style string) (int, bool) {
	s := strings.ToLower(strings.ReplaceAll(style, " ", ""))
	if !strings.HasPrefix(s, "heading") {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(s, "heading"))
	if err != nil || n < 1 {
		n = 1
	}
	return n, true
}
