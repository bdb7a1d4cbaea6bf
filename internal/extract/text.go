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

	"golang.org/x/net/html/charset"
	"golang.org/x/text/transform"
)

// decodeText returns content as UTF-8 along with the encoding name and
// whether the detection was certain. Valid UTF-8 is returned unchanged;
// detection only samples the leading bytes and would otherwise mislabel text
// whose first non-ASCII character comes later.
func decodeText(content []byte, contentType string) (string, string, bool) {
	content = bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))
	if utf8.Valid(content) {
		return string(content), "utf-8", true
	}
	enc, name, certain := charset.DetermineEncoding(content, contentType)
	decoded, _, err := transform.Bytes(enc.NewDecoder(), content)
	if err != nil {
		return strings.ToValidUTF8(string(content), ""), name, false
	}
	return string(decoded), name, certain
}

func extractPlain(content []byte) Result {
	text, encoding, certain := decodeText(content, TypeText)

	lines := 0
	if text != "" {
		lines = strings.Count(text, "\n") + 1
		if strings.HasSuffix(text, "\n") {
			lines--
		}
	}

	return Result{
		Text: text,
		Metadata: Metadata{Properties: map[string]any{
			"format":             "text",
			"encoding":           encoding,
			"encoding_confident": certain,
			"line_count":         lines,
			"word_count":         len(strings.Fields(text)),
			"char_count":         utf8.RuneCountInString(text),
			"preview":            preview(text),
		}},
	}
}
