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
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"
)

// skippedElements never contribute visible text.
var skippedElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Head:     true,
	atom.Title:    true,
	atom.Noscript: true,
	atom.Template: true,
}

var metaNames = map[string]bool{
	"author":      true,
	"description": true,
	"keywords":    true,
}

func extractHTML(content []byte) Result {
	contentType := TypeHTML
	if utf8.Valid(content) {
		contentType = TypeHTML + "; charset=utf-8"
	}
	r, err := charset.NewReader(bytes.NewReader(content), contentType)
	if err != nil {
		return degraded("html: detect charset: %v", err)
	}
	doc, err := html.Parse(r)
	if err != nil {
		return degraded("html: parse: %v", err)
	}

	props := map[string]any{"format": "html"}
	meta := Metadata{Properties: props}
	walkHead(doc, &meta)

	text := visibleText(doc)
	props["preview"] = preview(text)
	props["word_count"] = len(strings.Fields(text))
	return Result{Text: text, Metadata: meta}
}

// HTMLText returns the visible text of an HTML fragment or document.
func HTMLText(s string) string {
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return ""
	}
	return visibleText(doc)
}

func walkHead(n *html.Node, meta *Metadata) {
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.Title:
			if meta.Title == "" && n.FirstChild != nil {
				meta.Title = strings.TrimSpace(n.FirstChild.Data)
			}
		case atom.Meta:
			name := strings.ToLower(attr(n, "name"))
			if metaNames[name] {
				value := strings.TrimSpace(attr(n, "content"))
				meta.Properties[name] = value
				if name == "author" {
					meta.Author = value
				}
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkHead(c, meta)
	}
}

// visibleText joins trimmed text nodes outside skipped elements with
// newlines.
func visibleText(doc *html.Node) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skippedElements[n.DataAtom] {
			return
		}
		if n.Type == html.CommentNode {
			return
		}
		if n.Type == html.TextNode {
			if t := strings.Join(strings.Fields(n.Data), " "); t != "" {
				parts = append(parts, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.Join(parts, "\n")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
