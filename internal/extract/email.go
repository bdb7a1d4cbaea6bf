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
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// maxPartSize bounds how much of a single MIME part is read into memory.
const maxPartSize = 64 << 20

// ErrNotMessage is returned by ParseMessage when content has no parseable
// header block.
var ErrNotMessage = errors.New("not an RFC 5322 message")

// Message is a parsed email.
type Message struct {
	MessageID string
	Subject   string
	From      string
	To        []string
	Cc        []string
	Date      time.Time
	RawDate   string

	// Body is the first text/plain part, or the first text/html part reduced
	// to visible text when there is no plain part.
	Body       string
	BodyFormat string

	Attachments []Part

	// SkippedImages counts image parts dropped from processing.
	SkippedImages int

	// Diagnostic describes a part walk that stopped early.
	Diagnostic string
}

// Part is a non-image attachment of a Message.
type Part struct {
	Filename    string
	ContentType string
	Content     []byte
}

// ParseMessage parses an RFC 5322 message. It fails only when the header
// block cannot be read or carries none of the usual message headers; a
// damaged body is reported through Message.Diagnostic instead.
func ParseMessage(content []byte) (*Message, error) {
	mr, err := mail.CreateReader(bytes.NewReader(content))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("%w: %v", ErrNotMessage, err)
	}
	defer mr.Close()

	h := mr.Header
	if h.Get("From") == "" && h.Get("To") == "" && h.Get("Subject") == "" &&
		h.Get("Date") == "" && h.Get("Message-Id") == "" {
		return nil, fmt.Errorf("%w: no message headers", ErrNotMessage)
	}

	msg := &Message{
		From:    firstAddress(h, "From"),
		To:      addresses(h, "To"),
		Cc:      addresses(h, "Cc"),
		RawDate: h.Get("Date"),
	}
	if msg.Subject, err = h.Subject(); err != nil {
		msg.Subject = h.Get("Subject")
	}
	if id, err := h.MessageID(); err == nil && id != "" {
		msg.MessageID = id
	} else {
		msg.MessageID = strings.Trim(strings.TrimSpace(h.Get("Message-Id")), "<>")
	}
	if d, err := h.Date(); err == nil {
		msg.Date = d
	}

	var plain, htmlBody string
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			msg.Diagnostic = fmt.Sprintf("read message part: %v", err)
			break
		}
		if p == nil {
			break
		}

		switch ph := p.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := ph.ContentType()
			if strings.HasPrefix(ct, "image/") {
				msg.SkippedImages++
				continue
			}
			body, _ := io.ReadAll(io.LimitReader(p.Body, maxPartSize))
			switch {
			case ct == "text/plain" && plain == "":
				plain = string(body)
			case ct == "text/html" && htmlBody == "":
				htmlBody = string(body)
			}
		case *mail.AttachmentHeader:
			ct, _, _ := ph.ContentType()
			if strings.HasPrefix(ct, "image/") {
				msg.SkippedImages++
				continue
			}
			body, err := io.ReadAll(io.LimitReader(p.Body, maxPartSize))
			if err != nil {
				msg.Diagnostic = fmt.Sprintf("read attachment: %v", err)
				continue
			}
			name, _ := ph.Filename()
			if name == "" {
				name = fmt.Sprintf("attachment-%d%s", len(msg.Attachments)+1, extensionFor(ct))
			}
			msg.Attachments = append(msg.Attachments, Part{Filename: name, ContentType: ct, Content: body})
		}
	}

	switch {
	case plain != "":
		msg.Body, msg.BodyFormat = plain, TypeText
	case htmlBody != "":
		msg.Body, msg.BodyFormat = HTMLText(htmlBody), TypeHTML
	}
	return msg, nil
}

func extractEmail(content []byte) Result {
	msg, err := ParseMessage(content)
	if err != nil {
		return degraded("parse message: %v", err)
	}

	props := map[string]any{
		"format":           "email",
		"message_id":       msg.MessageID,
		"from":             msg.From,
		"to":               msg.To,
		"cc":               msg.Cc,
		"attachment_count": len(msg.Attachments),
		"skipped_images":   msg.SkippedImages,
		"body_format":      msg.BodyFormat,
		"preview":          preview(msg.Body),
	}
	res := Result{
		Text: msg.Body,
		Metadata: Metadata{
			Title:      msg.Subject,
			Author:     msg.From,
			Properties: props,
		},
		Diagnostic: msg.Diagnostic,
	}
	if !msg.Date.IsZero() {
		res.Metadata.LastModified = msg.Date.Format(time.RFC3339)
	}
	return res
}

func firstAddress(h mail.Header, key string) string {
	if list := addresses(h, key); len(list) > 0 {
		return list[0]
	}
	return ""
}

// addresses returns bare addresses, falling back to the raw comma-separated
// header when it does not parse as an address list.
func addresses(h mail.Header, key string) []string {
	list, err := h.AddressList(key)
	if err == nil {
		out := make([]string, 0, len(list))
		for _, a := range list {
			out = append(out, a.Address)
		}
		return out
	}

	var out []string
	for _, raw := range strings.Split(h.Get(key), ",") {
		if raw = strings.TrimSpace(raw); raw != "" {
			out = append(out, raw)
		}
	}
	return out
}

var preferredExtensions = map[string]string{
	TypeEML:  ".eml",
	TypeDOCX: ".docx",
	TypePPTX: ".pptx",
	TypeXLSX: ".xlsx",
	TypeDOC:  ".doc",
	TypePPT:  ".ppt",
	TypeXLS:  ".xls",
	TypePDF:  ".pdf",
	TypeCSV:  ".csv",
	TypeHTML: ".html",
	TypeText: ".txt",
}

func extensionFor(ct string) string {
	if ext, ok := preferredExtensions[ct]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(ct); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
