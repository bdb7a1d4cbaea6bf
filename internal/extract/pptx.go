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
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var slidePathRE = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

type slide struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	shapes []string
}

func extractPPTX(content []byte) Result {
	zr, err := openZip(content)
	if err != nil {
		return degraded("pptx: %v", err)
	}

	var slides []slide
	for _, f := range zr.File {
		m := slidePathRE.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{Number: n})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].Number < slides[j].Number })

	var diags []string
	var blocks []string
	titles := make([]string, 0, len(slides))
	for i := range slides {
		s := &slides[i]
		data, err := readZipFile(zr, fmt.Sprintf("ppt/slides/slide%d.xml", s.Number))
		if err == nil {
			s.shapes, err = shapeTexts(data)
		}
		if err != nil {
			diags = append(diags, fmt.Sprintf("slide %d: %v", s.Number, err))
		}
		for _, text := range s.shapes {
			if s.Title == "" {
				s.Title = firstLine(text)
			}
		}
		titles = append(titles, s.Title)
		if len(s.shapes) > 0 {
			blocks = append(blocks, strings.Join(s.shapes, "\n"))
		}
	}

	props := map[string]any{
		"format":       "pptx",
		"slide_count":  len(slides),
		"slide_titles": titles,
	}
	res := Result{
		Text:     strings.Join(blocks, "\n\n"),
		Metadata: readCoreProperties(zr).metadata(props),
	}
	if len(slides) == 0 {
		res.Diagnostic = "pptx: no slides found"
	} else if len(diags) > 0 {
		res.Diagnostic = "pptx: " + strings.Join(diags, "; ")
	}
	return res
}

// shapeTexts returns the non-empty text of each shape on a slide, in shape
// order. Paragraphs within a shape are separated by newlines.
func shapeTexts(data []byte) ([]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var (
		out     []string
		cur     strings.Builder
		depth   int
		inText  bool
		sawPara bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "sp":
				if depth == 0 {
					cur.Reset()
					sawPara = false
				}
				depth++
			case "p":
				if depth > 0 {
					if sawPara {
						cur.WriteByte('\n')
					}
					sawPara = true
				}
			case "t":
				inText = depth > 0
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "sp":
				if depth == 0 {
					continue
				}
				depth--
				if depth == 0 {
					if text := strings.TrimSpace(cur.String()); text != "" {
						out = append(out, text)
					}
				}
			case "t":
				inText = false
			}
		case xml.CharData:
			if inText {
				cur.Write(t)
			}
		}
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}
