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

package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcem/corpus/internal/ledger"
	"github.com/bcem/corpus/internal/models"
	"github.com/bcem/corpus/internal/processor"
	"github.com/bcem/corpus/internal/queue"
	"github.com/bcem/corpus/internal/storage"
	"github.com/bcem/corpus/internal/upload"
)

var testNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

const (
	emailsFolder      = "corpus/emails"
	documentsFolder   = "corpus/documents"
	attachmentsFolder = "corpus/attachments"
	emailRecords      = "corpus/processed_emails"
	documentRecords   = "corpus/processed_documents"
)

type fakeUploader struct {
	mu      sync.Mutex
	folders []string
	stats   upload.Stats
	err     error
}

func (f *fakeUploader) BatchUpload(_ context.Context, folder string, _ int, _ upload.Filter) (upload.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.folders = append(f.folders, folder)
	return f.stats, f.err
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []queue.RecordEvent
}

func (f *fakeNotifier) PublishRecord(_ context.Context, event queue.RecordEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

// hookProcessor calls hook before delegating each item.
type hookProcessor struct {
	next processor.Processor
	hook func(item processor.Item)
}

func (h *hookProcessor) Process(ctx context.Context, item processor.Item) (*processor.Result, error) {
	h.hook(item)
	return h.next.Process(ctx, item)
}

type fixture struct {
	store    *storage.MemoryStore
	uploader *fakeUploader
	notifier *fakeNotifier
	pipeline *Pipeline
}

func newFixture(t *testing.T, mutate func(cfg *Config)) *fixture {
	t.Helper()

	store := storage.NewMemoryStore()
	gw := storage.NewGateway(store)

	pcfg := processor.DefaultConfig()
	pcfg.EmailRecords = emailRecords
	pcfg.DocumentRecords = documentRecords
	pcfg.AttachmentsFolder = attachmentsFolder
	pcfg.Now = func() time.Time { return testNow }

	f := &fixture{
		store:    store,
		uploader: &fakeUploader{stats: upload.Stats{Success: 2}},
		notifier: &fakeNotifier{},
	}
	cfg := Config{
		Source: store,
		Folders: Folders{
			Emails:      emailsFolder,
			Documents:   documentsFolder,
			Attachments: attachmentsFolder,
		},
		Processors: Processors{
			Emails:      processor.NewMessageProcessor(pcfg, gw),
			Documents:   processor.NewDocumentProcessor(pcfg, gw),
			Attachments: processor.NewAttachmentProcessor(pcfg, gw),
		},
		LedgerStore:     ledger.NewDriveStore(store, "corpus", ""),
		Uploader:        f.uploader,
		UploadFolders:   []string{emailRecords, documentRecords},
		UploadBatchSize: 10,
		Notifier:        f.notifier,
		Now:             func() time.Time { return testNow },
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f.pipeline = New(cfg)
	return f
}

func (f *fixture) state(t *testing.T) *ledger.State {
	t.Helper()
	st, err := ledger.NewDriveStore(f.store, "corpus", "").Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, st, "ledger state was not saved")
	return st
}

func plainEmail(id, subject string) []byte {
	return []byte("From: Ana Diaz <ana@example.com>\r\n" +
		"To: ben@example.com\r\n" +
		"Subject: " + subject + "\r\n" +
		"Message-ID: <" + id + "@example.com>\r\n" +
		"Date: Mon, 15 Jan 2024 10:30:00 +0000\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Notes for " + subject + ".\r\n")
}

func emailWithCSV(id, subject string) []byte {
	return []byte("From: Ana Diaz <ana@example.com>\r\n" +
		"To: ben@example.com\r\n" +
		"Subject: " + subject + "\r\n" +
		"Message-ID: <" + id + "@example.com>\r\n" +
		"Date: Mon, 15 Jan 2024 10:30:00 +0000\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/mixed; boundary=\"b1\"\r\n" +
		"\r\n" +
		"--b1\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Numbers attached.\r\n" +
		"--b1\r\n" +
		"Content-Type: text/csv\r\n" +
		"Content-Disposition: attachment; filename=\"numbers.csv\"\r\n" +
		"\r\n" +
		"quarter,total\r\nQ1,10\r\n" +
		"--b1--\r\n")
}

func (f *fixture) seedABC() {
	f.store.Put(emailsFolder, "A.eml", emailWithCSV("a", "Budget review"), "t1")
	f.store.Put(emailsFolder, "B.eml", plainEmail("b", "Hiring plan"), "t1")
	f.store.Put(emailsFolder, "C.eml", []byte("this is not an email\nat all"), "t1")
}

// TestRun_IncrementalWithFailure walks two runs over two valid messages and
// one malformed one: the first run processes what it can, the second skips
// the successes and retries only the failure.
func TestRun_IncrementalWithFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.seedABC()
	ctx := context.Background()

	first, err := f.pipeline.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, first.NewItems)
	assert.Equal(t, 2, first.EmailsProcessed)
	assert.Equal(t, 1, first.AttachmentsProcessed)
	require.Len(t, first.Errors, 1)
	assert.Contains(t, first.Errors[0], "Email processing error: C.eml")
	assert.Equal(t, 1, first.ExitCode())

	st := f.state(t)
	assert.Equal(t, ledger.StatusSuccess, st.ProcessedItems["email:A.eml"].Status)
	assert.Equal(t, ledger.StatusSuccess, st.ProcessedItems["email:B.eml"].Status)
	assert.Equal(t, ledger.StatusFailed, st.ProcessedItems["email:C.eml"].Status)
	assert.NotEmpty(t, st.ProcessedItems["email:C.eml"].Error)
	assert.Equal(t, "t1", st.ProcessedItems["email:A.eml"].LastModified)
	assert.NotEmpty(t, st.Metadata.PipelineStats)

	second, err := f.pipeline.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, second.SkippedDuplicates)
	assert.Zero(t, second.NewItems)
	assert.Zero(t, second.ModifiedItems)
	assert.Equal(t, 1, second.RetriedItems)
	assert.Zero(t, second.EmailsProcessed)
	require.Len(t, second.Errors, 1)
	assert.Contains(t, second.Errors[0], "C.eml")
	assert.Equal(t, 1, second.ExitCode())
}

// TestRun_Idempotent verifies that a clean second run writes no records.
func TestRun_Idempotent(t *testing.T) {
	f := newFixture(t, nil)
	f.store.Put(documentsFolder, "plan.txt", []byte("Roadmap for the year"), "t1")
	f.store.Put(documentsFolder, "notes.txt", []byte("Meeting notes"), "t1")
	ctx := context.Background()

	first, err := f.pipeline.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, first.DocumentsProcessed)
	assert.Zero(t, first.ExitCode())
	written := f.store.Names(documentRecords)

	second, err := f.pipeline.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Zero(t, second.DocumentsProcessed)
	assert.Equal(t, 2, second.SkippedDuplicates)
	assert.Equal(t, written, f.store.Names(documentRecords))
}

// TestRun_ModifiedItemReusesOutput verifies that a changed item overwrites
// its earlier record rather than adding a new one.
func TestRun_ModifiedItemReusesOutput(t *testing.T) {
	f := newFixture(t, nil)
	f.store.Put(documentsFolder, "plan.txt", []byte("Roadmap draft"), "t1")
	ctx := context.Background()

	_, err := f.pipeline.Run(ctx, Options{})
	require.NoError(t, err)
	before := f.state(t).ProcessedItems["document:plan.txt"]
	require.NotEmpty(t, before.OutputFile)

	f.store.Put(documentsFolder, "plan.txt", []byte("Roadmap final version"), "t2")
	stats, err := f.pipeline.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ModifiedItems)
	assert.Equal(t, 1, stats.DocumentsProcessed)

	after := f.state(t).ProcessedItems["document:plan.txt"]
	assert.Equal(t, before.OutputFile, after.OutputFile)
	assert.Equal(t, "t2", after.LastModified)
	assert.Equal(t, []string{before.OutputFile}, f.store.Names(documentRecords))

	content, ok := f.store.Content(documentRecords, after.OutputFile)
	require.True(t, ok)
	assert.Contains(t, string(content), "Roadmap final version")
}

// TestRun_FailureIsolation verifies that one bad document does not stop
// the others.
func TestRun_FailureIsolation(t *testing.T) {
	f := newFixture(t, nil)
	f.store.Put(documentsFolder, "a.txt", []byte("first"), "t1")
	f.store.Put(documentsFolder, "empty.txt", nil, "t1")
	f.store.Put(documentsFolder, "b.txt", []byte("second"), "t1")
	f.store.Put(documentsFolder, "c.txt", []byte("third"), "t1")

	stats, err := f.pipeline.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.DocumentsProcessed)
	require.Len(t, stats.Errors, 1)
	assert.Contains(t, stats.Errors[0], "Document processing error: empty.txt")
	assert.Contains(t, stats.Errors[0], "empty content")

	st := f.state(t)
	assert.Equal(t, ledger.StatusFailed, st.ProcessedItems["document:empty.txt"].Status)
	assert.Len(t, st.ProcessedItems, 4)
}

// TestRun_FiltersListings verifies which names each phase picks up.
func TestRun_FiltersListings(t *testing.T) {
	f := newFixture(t, nil)
	f.store.Put(emailsFolder, "readme.txt", []byte("not a message"), "t1")
	f.store.Put(documentsFolder, "tool.exe", []byte("MZ"), "t1")
	f.store.Put(documentsFolder, "forwarded.eml", plainEmail("f", "Forwarded"), "t1")
	f.store.Put(attachmentsFolder, "report.csv.json", []byte(`{}`), "t1")
	f.store.Put(attachmentsFolder, "report.csv", []byte("a,b\n1,2\n"), "t1")

	stats, err := f.pipeline.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Zero(t, stats.EmailsProcessed)
	assert.Zero(t, stats.DocumentsProcessed)
	assert.Equal(t, 1, stats.AttachmentsProcessed)
	assert.Equal(t, 1, stats.NewItems)
	assert.Empty(t, stats.Errors)
}

// TestRun_DryRun verifies that a dry run classifies without writing.
func TestRun_DryRun(t *testing.T) {
	f := newFixture(t, nil)
	f.seedABC()

	stats, err := f.pipeline.Run(context.Background(), Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.NewItems)
	assert.Zero(t, stats.EmailsProcessed)
	assert.Empty(t, f.store.Names(emailRecords))
	assert.Empty(t, f.uploader.folders)
	assert.Empty(t, f.notifier.events)

	_, ok := f.store.Content("corpus", ledger.DefaultStateFile)
	assert.False(t, ok, "dry run must not save the ledger")
}

// TestRun_MaxItems verifies the per-kind cap.
func TestRun_MaxItems(t *testing.T) {
	f := newFixture(t, nil)
	for i := range 3 {
		f.store.Put(documentsFolder, fmt.Sprintf("doc%d.txt", i), []byte("content"), "t1")
	}

	stats, err := f.pipeline.Run(context.Background(), Options{MaxItems: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DocumentsProcessed)
	assert.Equal(t, 1, stats.NewItems)
	assert.Len(t, f.state(t).ProcessedItems, 1)
}

// TestRun_ListingFailure verifies that a listing error aborts only its phase.
func TestRun_ListingFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.seedABC()
	f.store.Put(documentsFolder, "plan.txt", []byte("Roadmap"), "t1")
	f.store.FailOn(emailsFolder, errors.New("drive unavailable"))

	stats, err := f.pipeline.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Zero(t, stats.EmailsProcessed)
	assert.Equal(t, 1, stats.DocumentsProcessed)
	require.Len(t, stats.Errors, 1)
	assert.Equal(t, "Email workflow error: drive unavailable", stats.Errors[0])
}

// TestRun_LedgerLoadFailure verifies that an unreadable ledger aborts the
// run before anything is processed.
func TestRun_LedgerLoadFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.store.Put(documentsFolder, "plan.txt", []byte("Roadmap"), "t1")
	f.store.FailOn("corpus/"+ledger.DefaultStateFile, errors.New("access denied"))

	stats, err := f.pipeline.Run(context.Background(), Options{})
	require.Error(t, err)
	require.Len(t, stats.Errors, 1)
	assert.True(t, strings.HasPrefix(stats.Errors[0], "Critical pipeline error:"))
	assert.Zero(t, stats.DocumentsProcessed)
	assert.Empty(t, f.store.Names(documentRecords))
}

// TestRun_LedgerSaveFailure verifies that a failed save is reported.
func TestRun_LedgerSaveFailure(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.LedgerStore = ledger.NewDriveStore(cfg.Source, "corpus", "locked.json")
	})
	f.store.Put(documentsFolder, "plan.txt", []byte("Roadmap"), "t1")
	f.store.Put("corpus", "locked.json", []byte(`{}`), "t0")

	// Readable for Load, then unwritable for Save.
	next := f.pipeline.cfg.Processors.Documents
	f.pipeline.cfg.Processors.Documents = &hookProcessor{next: next, hook: func(processor.Item) {
		f.store.FailOn("corpus/locked.json", errors.New("quota exceeded"))
	}}

	stats, err := f.pipeline.Run(context.Background(), Options{})
	require.Error(t, err)
	assert.Equal(t, 1, stats.DocumentsProcessed)
	require.NotEmpty(t, stats.Errors)
	assert.Contains(t, stats.Errors[len(stats.Errors)-1], "State save error:")
}

// TestRun_Upload verifies the upload stage and its counters.
func TestRun_Upload(t *testing.T) {
	f := newFixture(t, nil)
	f.store.Put(documentsFolder, "plan.txt", []byte("Roadmap"), "t1")

	stats, err := f.pipeline.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{emailRecords, documentRecords}, f.uploader.folders)
	assert.Equal(t, 4, stats.UploadSuccess)

	f.uploader.folders = nil
	_, err = f.pipeline.Run(context.Background(), Options{SkipUpload: true})
	require.NoError(t, err)
	assert.Empty(t, f.uploader.folders)
}

// TestRun_UploadFailure verifies that an upload error is recorded and the
// ledger is still saved.
func TestRun_UploadFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.uploader.stats = upload.Stats{}
	f.uploader.err = errors.New("index unavailable")
	f.store.Put(documentsFolder, "plan.txt", []byte("Roadmap"), "t1")

	stats, err := f.pipeline.Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Len(t, stats.Errors, 2)
	assert.Equal(t, "Vector store error: index unavailable", stats.Errors[0])
	assert.Equal(t, ledger.StatusSuccess, f.state(t).ProcessedItems["document:plan.txt"].Status)
}

// TestRun_Stop verifies that a stop request lets the current item finish,
// skips the rest and still saves the ledger.
func TestRun_Stop(t *testing.T) {
	f := newFixture(t, nil)
	for i := range 3 {
		f.store.Put(documentsFolder, fmt.Sprintf("doc%d.txt", i), []byte("content"), "t1")
	}
	next := f.pipeline.cfg.Processors.Documents
	f.pipeline.cfg.Processors.Documents = &hookProcessor{next: next, hook: func(processor.Item) {
		f.pipeline.Stop()
	}}

	stats, err := f.pipeline.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.True(t, stats.Interrupted)
	assert.Equal(t, 1, stats.DocumentsProcessed)
	assert.Empty(t, f.uploader.folders)
	assert.Len(t, f.state(t).ProcessedItems, 1)
}

// TestRun_ConcurrentWorkers verifies that every item is handled once with
// several workers.
func TestRun_ConcurrentWorkers(t *testing.T) {
	f := newFixture(t, func(cfg *Config) { cfg.Workers = 4 })
	for i := range 8 {
		f.store.Put(documentsFolder, fmt.Sprintf("doc%d.txt", i), []byte(fmt.Sprintf("content %d", i)), "t1")
	}

	stats, err := f.pipeline.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 8, stats.DocumentsProcessed)
	assert.Len(t, f.state(t).ProcessedItems, 8)
	assert.Len(t, f.store.Names(documentRecords), 8)
	assert.Len(t, f.notifier.events, 8)
}

// TestRun_NotifiesRecords verifies one event per persisted record,
// attachments included.
func TestRun_NotifiesRecords(t *testing.T) {
	f := newFixture(t, nil)
	f.seedABC()

	_, err := f.pipeline.Run(context.Background(), Options{})
	require.NoError(t, err)

	require.Len(t, f.notifier.events, 3)
	var keys []string
	for _, e := range f.notifier.events {
		keys = append(keys, e.ItemKey)
		assert.NotEmpty(t, e.DocumentID)
		assert.Equal(t, "success", e.Status)
	}
	assert.ElementsMatch(t, []string{"email:A.eml", "email:A.eml", "email:B.eml"}, keys)
}

func (f *fixture) records(t *testing.T, folder string) []*models.Record {
	t.Helper()
	var out []*models.Record
	for _, name := range f.store.Names(folder) {
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		data, ok := f.store.Content(folder, name)
		require.True(t, ok, name)
		var rec models.Record
		require.NoError(t, json.Unmarshal(data, &rec), name)
		out = append(out, &rec)
	}
	return out
}

// TestRun_SidecarAttachmentLinksParent verifies that an attachment saved
// next to a sidecar naming an already processed message is listed by that
// message, alongside the copy embedded in it.
func TestRun_SidecarAttachmentLinksParent(t *testing.T) {
	f := newFixture(t, nil)
	f.store.Put(emailsFolder, "A.eml", emailWithCSV("a", "Budget review"), "t1")
	f.store.Put(attachmentsFolder, "numbers.csv", []byte("quarter,total\nQ1,10\n"), "t1")
	f.store.Put(attachmentsFolder, "numbers.csv.json", []byte(`{"parent_email_id":"a@example.com"}`), "t1")
	ctx := context.Background()

	check := func() {
		t.Helper()
		emails := f.records(t, emailRecords)
		require.Len(t, emails, 1)
		parent := emails[0]
		assert.Equal(t, "a@example.com", parent.DocumentID)

		var children []string
		for _, rec := range f.records(t, documentRecords) {
			if rec.ParentEmailID == parent.DocumentID {
				assert.True(t, rec.IsAttachment, rec.Filename)
				children = append(children, rec.DocumentID)
			}
		}
		require.Len(t, children, 2)
		assert.ElementsMatch(t, children, parent.Attachments)
	}

	stats, err := f.pipeline.Run(ctx, Options{SkipUpload: true})
	require.NoError(t, err)
	assert.Empty(t, stats.Errors)
	assert.Equal(t, 1, stats.EmailsProcessed)
	check()

	f.store.Put(attachmentsFolder, "numbers.csv", []byte("quarter,total\nQ1,12\n"), "t2")
	stats, err = f.pipeline.Run(ctx, Options{SkipUpload: true})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ModifiedItems)
	check()
}

// TestRunStats_WriteSummary verifies the operator report.
func TestRunStats_WriteSummary(t *testing.T) {
	stats := newRunStats(testNow, Options{SkipUpload: true})
	stats.EndTime = testNow.Add(1500 * time.Millisecond)
	stats.EmailsProcessed = 2
	for i := range 7 {
		stats.addError(fmt.Sprintf("error %d", i))
	}

	var buf bytes.Buffer
	require.NoError(t, stats.WriteSummary(&buf))
	out := buf.String()

	assert.Contains(t, out, "PRODUCTION PIPELINE SUMMARY")
	assert.Contains(t, out, "Execution time: 1.50 seconds")
	assert.Contains(t, out, "Emails processed: 2")
	assert.Contains(t, out, "Errors encountered: 7")
	assert.Contains(t, out, "  - error 4\n")
	assert.NotContains(t, out, "error 5")
	assert.Contains(t, out, "  ... and 2 more")
	assert.NotContains(t, out, "Vector store uploads")

	withUpload := newRunStats(testNow, Options{})
	withUpload.UploadSuccess = 3
	buf.Reset()
	require.NoError(t, withUpload.WriteSummary(&buf))
	assert.Contains(t, buf.String(), "Vector store uploads: 3 success, 0 failed")
	assert.NotContains(t, buf.String(), "Errors encountered")
	assert.Zero(t, withUpload.ExitCode())
}

// TestScheduler runs once on start and stops cleanly.
func TestScheduler(t *testing.T) {
	f := newFixture(t, nil)
	f.store.Put(documentsFolder, "plan.txt", []byte("Roadmap"), "t1")

	var mu sync.Mutex
	beforeRuns := 0
	s := NewScheduler(f.pipeline, SchedulerConfig{
		Interval: time.Hour,
		BeforeRun: func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			beforeRuns++
			return errors.New("mailbox export failed")
		},
	})
	s.Start(context.Background())

	require.Eventually(t, func() bool { return s.LastRun() != nil }, 5*time.Second, 10*time.Millisecond)
	s.Stop()

	assert.Equal(t, 1, s.LastRun().DocumentsProcessed)
	mu.Lock()
	assert.Equal(t, 1, beforeRuns)
	mu.Unlock()

	// A stopped pipeline refuses further runs from the loop.
	s.runOnce(context.Background())
	assert.Equal(t, 1, beforeRuns)
}
