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

package processor

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcem/corpus/internal/extract"
	"github.com/bcem/corpus/internal/models"
	"github.com/bcem/corpus/internal/naming"
	"github.com/bcem/corpus/internal/storage"
)

var testNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Now = func() time.Time { return testNow }
	return cfg
}

func quarterlyEmail(messageID string) []byte {
	header := ""
	if messageID != "" {
		header = "Message-ID: <" + messageID + ">\n"
	}
	msg := header + `From: Alice <alice@example.com>
To: Bob <bob@example.com>
Cc: Carol <carol@example.com>
Subject: Quarterly report
Date: Mon, 15 Jan 2024 10:30:00 +0000
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="XYZ"

--XYZ
Content-Type: text/plain; charset=utf-8

Please find the numbers attached.
--XYZ
Content-Type: text/csv
Content-Disposition: attachment; filename="numbers.csv"

region,total
north,10
south,20
--XYZ
Content-Type: application/octet-stream
Content-Disposition: attachment; filename="tool.exe"

MZ-not-really
--XYZ
Content-Type: image/png
Content-Disposition: attachment; filename="logo.png"
Content-Transfer-Encoding: base64

iVBORw0KGgo=
--XYZ
Content-Type: text/csv
Content-Disposition: attachment; filename="report.csv"

quarter,revenue
q1,100
--XYZ--
`
	return []byte(strings.ReplaceAll(msg, "\n", "\r\n"))
}

func newGateway() (*storage.MemoryStore, *storage.Gateway) {
	store := storage.NewMemoryStore()
	return store, storage.NewGateway(store)
}

// TestMessageProcessor_AttachmentLinkage verifies that each persisted
// attachment is listed on its parent and points back at it.
func TestMessageProcessor_AttachmentLinkage(t *testing.T) {
	store, gw := newGateway()
	p := NewMessageProcessor(testConfig(), gw)

	res, err := p.Process(context.Background(), Resolve(RawBytesInput{
		Content:          quarterlyEmail("q1@example.com"),
		InferredFilename: "quarterly.eml",
	}))
	require.NoError(t, err)

	rec := res.Record
	assert.Equal(t, "q1@example.com", rec.DocumentID)
	assert.Equal(t, models.TypeEmail, rec.Type)
	assert.Equal(t, "Quarterly report", rec.Subject)
	assert.Equal(t, "2024-01-15T10:30:00Z", rec.Date)
	assert.Contains(t, rec.TextContent, "Please find the numbers attached.")
	assert.Equal(t, naming.Canonical(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), "Quarterly report", "q1@example.com", ".json", 20), rec.Filename)

	require.Len(t, res.Attachments, 2)
	assert.Equal(t, []string{"tool.exe"}, res.Rejected)
	assert.Empty(t, res.AttachmentErrors)

	var childIDs []string
	for _, child := range res.Attachments {
		childIDs = append(childIDs, child.Record.DocumentID)
		assert.Equal(t, rec.DocumentID, child.Record.ParentEmailID)
		assert.True(t, child.Record.IsAttachment)
		assert.Equal(t, models.TypeDocument, child.Record.Type)
		assert.Equal(t, rec.Subject, child.Record.Subject)
		assert.Equal(t, rec.To, child.Record.To)
		assert.NotEmpty(t, child.Record.SourceURL)
	}
	assert.Equal(t, childIDs, rec.Attachments)
	assert.Equal(t, naming.StableID(rec.DocumentID, "0", "numbers.csv"), childIDs[0])
	assert.Equal(t, naming.StableID(rec.DocumentID, "2", "report.csv"), childIDs[1])

	stored, err := gw.GetRecord(context.Background(), "processed_emails", rec.Filename)
	require.NoError(t, err)
	assert.Equal(t, childIDs, stored.Attachments)
	assert.Equal(t, "memory://processed_emails/"+rec.Filename, stored.StorageURL)

	// Two records and two original artifacts.
	assert.Len(t, store.Names("processed_documents"), 4)
}

// TestMessageProcessor_AttachmentPersistFailure verifies that a child which
// fails to persist is reported and left off the parent.
func TestMessageProcessor_AttachmentPersistFailure(t *testing.T) {
	store, gw := newGateway()
	p := NewMessageProcessor(testConfig(), gw)

	parentID := "q1@example.com"
	childID := naming.StableID(parentID, "2", "report.csv")
	artifact := strings.TrimSuffix(naming.Canonical(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), "report", childID, ".json", 20), ".json") + ".csv"
	store.FailOn("processed_documents/"+artifact, storage.ErrTransient)

	res, err := p.Process(context.Background(), Item{
		Content:     quarterlyEmail(parentID),
		Filename:    "quarterly.eml",
		ContentType: extract.TypeEML,
	})
	require.NoError(t, err)

	require.Len(t, res.Attachments, 1)
	require.Len(t, res.AttachmentErrors, 1)
	var perr *ProcessingError
	require.ErrorAs(t, res.AttachmentErrors[0], &perr)
	assert.Equal(t, StagePersist, perr.Stage)
	assert.ErrorIs(t, perr, storage.ErrTransient)
	assert.Equal(t, []string{res.Attachments[0].Record.DocumentID}, res.Record.Attachments)
}

// TestMessageProcessor_Malformed verifies that unparseable content is a
// validation failure.
func TestMessageProcessor_Malformed(t *testing.T) {
	_, gw := newGateway()
	p := NewMessageProcessor(testConfig(), gw)

	_, err := p.Process(context.Background(), Resolve(RawBytesInput{
		Content:          []byte("this is not an email\nat all"),
		InferredFilename: "C.eml",
	}))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "C.eml", verr.Filename)
	assert.Contains(t, err.Error(), "C.eml")
}

// TestMessageProcessor_StableIdentity verifies that a message without a
// Message-ID keeps the same identity across runs.
func TestMessageProcessor_StableIdentity(t *testing.T) {
	_, gw := newGateway()
	p := NewMessageProcessor(testConfig(), gw)
	item := Resolve(RawBytesInput{Content: quarterlyEmail(""), InferredFilename: "anon.eml"})

	first, err := p.Process(context.Background(), item)
	require.NoError(t, err)
	second, err := p.Process(context.Background(), item)
	require.NoError(t, err)

	assert.Equal(t, naming.StableID("email", "anon.eml"), first.Record.DocumentID)
	assert.Equal(t, first.Record.DocumentID, second.Record.DocumentID)
	assert.Equal(t, first.Record.Attachments, second.Record.Attachments)
	assert.Empty(t, first.Record.MessageID)
}

// TestMessageProcessor_ReusesPreviousOutput verifies that a modified item is
// written back to its previous record file.
func TestMessageProcessor_ReusesPreviousOutput(t *testing.T) {
	store, gw := newGateway()
	p := NewMessageProcessor(testConfig(), gw)

	item := Resolve(RawBytesInput{Content: quarterlyEmail("q1@example.com"), InferredFilename: "quarterly.eml"})
	item.PreviousOutput = "2023-12-01_Old_subjectq1exampl.json"

	res, err := p.Process(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, item.PreviousOutput, res.Filename)
	assert.Equal(t, []string{item.PreviousOutput}, store.Names("processed_emails"))
}

// TestMessageProcessor_PersistFailure verifies that a failed record write is
// a ProcessingError.
func TestMessageProcessor_PersistFailure(t *testing.T) {
	store, gw := newGateway()
	p := NewMessageProcessor(testConfig(), gw)

	name := naming.Canonical(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), "Quarterly report", "q1@example.com", ".json", 20)
	store.FailOn("processed_emails/"+name, storage.ErrPermission)

	_, err := p.Process(context.Background(), Resolve(RawBytesInput{
		Content:          quarterlyEmail("q1@example.com"),
		InferredFilename: "quarterly.eml",
	}))
	var perr *ProcessingError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, StagePersist, perr.Stage)
	assert.True(t, storage.IsPermission(err))
}

// TestDocumentProcessor_Process verifies the record built for a plain file.
func TestDocumentProcessor_Process(t *testing.T) {
	_, gw := newGateway()
	p := NewDocumentProcessor(testConfig(), gw)

	res, err := p.Process(context.Background(), Item{
		Content:     []byte("Budget  notes\n\nLine two"),
		Filename:    "Budget notes.txt",
		ContentType: extract.TypeText,
		SourceURL:   "https://drive.example/Budget notes.txt",
	})
	require.NoError(t, err)

	rec := res.Record
	assert.Equal(t, naming.StableID("document", "Budget notes.txt"), rec.DocumentID)
	assert.Equal(t, models.TypeDocument, rec.Type)
	assert.Equal(t, models.SourceOneDrive, rec.Source)
	assert.False(t, rec.IsAttachment)
	assert.Equal(t, naming.Canonical(testNow, "Budget notes", rec.DocumentID, ".json", 20), rec.Filename)
	assert.Equal(t, "2024-03-01T09:00:00Z", rec.CreatedAt)
	assert.Equal(t, "https://drive.example/Budget notes.txt", rec.SourceURL)
	assert.Equal(t, "Budget notes.txt", rec.Properties["original_filename"])
	assert.Contains(t, rec.TextContent, "Budget notes")
	assert.Equal(t, int64(23), rec.Size)
}

// TestDocumentProcessor_Validation verifies the checks made before
// extraction.
func TestDocumentProcessor_Validation(t *testing.T) {
	cfg := testConfig()
	cfg.MaxFileSize = 8
	_, gw := newGateway()
	p := NewDocumentProcessor(cfg, gw)

	tests := []struct {
		name   string
		item   Item
		reason string
	}{
		{"empty", Item{Filename: "a.txt"}, "empty content"},
		{"too large", Item{Filename: "a.txt", Content: []byte("123456789")}, "exceeds limit"},
		{"extension", Item{Filename: "a.exe", Content: []byte("x")}, "not allowed"},
		{"no extension", Item{Filename: "README", Content: []byte("x")}, "not allowed"},
		{"no filename", Item{Content: []byte("x")}, "missing filename"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Process(context.Background(), tt.item)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Reason, tt.reason)
		})
	}
}

// TestDocumentProcessor_DegradedExtraction verifies that a damaged file is
// still persisted, with a diagnostic.
func TestDocumentProcessor_DegradedExtraction(t *testing.T) {
	store, gw := newGateway()
	p := NewDocumentProcessor(testConfig(), gw)

	res, err := p.Process(context.Background(), Resolve(RawBytesInput{
		Content:          []byte("PK\x03\x04 truncated"),
		InferredFilename: "broken.docx",
	}))
	require.NoError(t, err)
	assert.NotEmpty(t, res.Diagnostics)
	assert.Empty(t, res.Record.TextContent)
	assert.Len(t, store.Names("processed_documents"), 1)
}

// TestAttachmentProcessor_SidecarBlend verifies that sidecar email context
// is kept over the fresh extraction and the longer text wins.
func TestAttachmentProcessor_SidecarBlend(t *testing.T) {
	store, gw := newGateway()
	p := NewAttachmentProcessor(testConfig(), gw)

	sidecar, err := json.Marshal(models.Record{
		DocumentID:    "att-1",
		Type:          models.TypeDocument,
		ParentEmailID: "parent-1",
		Subject:       "Contract draft",
		From:          "legal@example.com",
		Tags:          []string{"legal"},
		TextContent:   "The full contract text as exported with the original message.",
	})
	require.NoError(t, err)
	store.Put("attachments", "contract.txt.json", sidecar, "t0")

	res, err := p.Process(context.Background(), Item{
		Content:     []byte("short"),
		Filename:    "contract.txt",
		ContentType: extract.TypeText,
	})
	require.NoError(t, err)

	rec := res.Record
	assert.Equal(t, "att-1", rec.DocumentID)
	assert.Equal(t, "parent-1", rec.ParentEmailID)
	assert.True(t, rec.IsAttachment)
	assert.Equal(t, "Contract draft", rec.Subject)
	assert.Equal(t, "legal@example.com", rec.From)
	assert.Equal(t, []string{"legal"}, rec.Tags)
	assert.Equal(t, "The full contract text as exported with the original message.", rec.TextContent)
	assert.Equal(t, models.TypeDocument, rec.Type)
}

// TestAttachmentProcessor_SidecarLinksParent verifies that an attachment
// whose sidecar names a persisted message is added to that message's list
// once, however often it is processed.
func TestAttachmentProcessor_SidecarLinksParent(t *testing.T) {
	store, gw := newGateway()
	msg := NewMessageProcessor(testConfig(), gw)
	parent, err := msg.Process(context.Background(), Resolve(RawBytesInput{
		Content:          quarterlyEmail("q1@example.com"),
		InferredFilename: "q1.eml",
	}))
	require.NoError(t, err)
	embedded := slices.Clone(parent.Record.Attachments)

	store.Put("attachments", "notes.txt.json", []byte(`{"parent_email_id":"q1@example.com"}`), "t0")
	p := NewAttachmentProcessor(testConfig(), gw)
	item := Item{Content: []byte("meeting notes"), Filename: "notes.txt", ContentType: extract.TypeText}

	for range 2 {
		res, err := p.Process(context.Background(), item)
		require.NoError(t, err)
		assert.True(t, res.Record.IsAttachment)

		stored, err := gw.GetRecord(context.Background(), "processed_emails", parent.Record.Filename)
		require.NoError(t, err)
		assert.Equal(t, append(slices.Clone(embedded), res.Record.DocumentID), stored.Attachments)
	}
}

// TestAttachmentProcessor_NoSidecar verifies the identity and flags of an
// attachment without email context.
func TestAttachmentProcessor_NoSidecar(t *testing.T) {
	_, gw := newGateway()
	p := NewAttachmentProcessor(testConfig(), gw)

	res, err := p.Process(context.Background(), Resolve(RawBytesInput{
		Content:          []byte("a,b\n1,2\n"),
		InferredFilename: "table.csv",
	}))
	require.NoError(t, err)
	assert.Equal(t, naming.StableID("attachment", "table.csv"), res.Record.DocumentID)
	assert.False(t, res.Record.IsAttachment)
	assert.Equal(t, models.SourceEmail, res.Record.Source)
}

// TestAttachmentProcessor_SidecarErrors verifies that an undecodable sidecar
// is ignored and an unreadable one fails the item.
func TestAttachmentProcessor_SidecarErrors(t *testing.T) {
	store, gw := newGateway()
	p := NewAttachmentProcessor(testConfig(), gw)
	item := Resolve(RawBytesInput{Content: []byte("hello"), InferredFilename: "note.txt"})

	store.Put("attachments", "note.txt.json", []byte("{not json"), "t0")
	res, err := p.Process(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, naming.StableID("attachment", "note.txt"), res.Record.DocumentID)

	store.FailOn("attachments/note.txt.json", storage.ErrTransient)
	_, err = p.Process(context.Background(), item)
	var perr *ProcessingError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, StageSidecar, perr.Stage)
	assert.True(t, errors.Is(err, storage.ErrTransient))
}

// TestResolve verifies how both input variants resolve their content type.
func TestResolve(t *testing.T) {
	tests := []struct {
		name string
		in   Input
		want string
	}{
		{"raw infers from name", RawBytesInput{InferredFilename: "deck.pptx"}, extract.TypePPTX},
		{"described keeps type", DescribedInput{Filename: "page.bin", ContentType: extract.TypeHTML}, extract.TypeHTML},
		{"described falls back", DescribedInput{Filename: "notes.csv"}, extract.TypeCSV},
		{"octet stream falls back", DescribedInput{Filename: "a.pdf", ContentType: extract.TypeOctetStream}, extract.TypePDF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.in).ContentType)
		})
	}
}
