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

// Package mailsync exports mailbox messages from Microsoft Graph into the
// emails folder as .eml files, where the pipeline picks them up. The first
// sync of a mailbox exports the lookback window and records a delta link;
// later syncs follow the delta link and export only new messages.
package mailsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bcem/corpus/internal/graph"
	"github.com/bcem/corpus/internal/naming"
	"github.com/bcem/corpus/internal/storage"
)

// DefaultLookback is how far back the first sync of a mailbox reaches.
const DefaultLookback = 7 * 24 * time.Hour

// MailClient is the Graph mail surface the syncer needs.
type MailClient interface {
	MessagesURL(mailbox string, since time.Time) string
	DeltaURL(mailbox string) string
	FetchMessagePage(ctx context.Context, pageURL string) (*graph.MessagePage, error)
	MessageMIME(ctx context.Context, mailbox, id string) ([]byte, error)
}

// DeltaStore persists one delta link per mailbox. Implemented by
// ledger.DriveStore and ledger.PostgresStore.
type DeltaStore interface {
	LoadDeltaLinks(ctx context.Context) (map[string]string, error)
	SaveDeltaLink(ctx context.Context, mailbox, link string) error
}

// Claims marks messages as exported. Implemented by dedup.Filter.
type Claims interface {
	IsNew(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// SyncerConfig holds the dependencies of a Syncer.
type SyncerConfig struct {
	Mail   MailClient
	Store  storage.RemoteStore
	Folder string
	Links  DeltaStore

	// Dedup is optional; without it only the file existence check
	// prevents re-export.
	Dedup Claims

	Lookback   time.Duration
	TextLength int
	Now        func() time.Time
}

// Result summarises one mailbox sync.
type Result struct {
	Mailbox  string
	Exported int
	Skipped  int
	Errors   int
	Full     bool
}

// Syncer exports mailbox messages to the drive.
type Syncer struct {
	mail       MailClient
	store      storage.RemoteStore
	folder     string
	links      DeltaStore
	dedup      Claims
	lookback   time.Duration
	textLength int
	now        func() time.Time
}

// NewSyncer creates a Syncer.
func NewSyncer(cfg SyncerConfig) *Syncer {
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Syncer{
		mail:       cfg.Mail,
		store:      cfg.Store,
		folder:     cfg.Folder,
		links:      cfg.Links,
		dedup:      cfg.Dedup,
		lookback:   cfg.Lookback,
		textLength: cfg.TextLength,
		now:        cfg.Now,
	}
}

// Sync runs SyncMailbox for every mailbox. A failing mailbox does not stop
// the others; all failures are returned joined.
func (s *Syncer) Sync(ctx context.Context, mailboxes []string) ([]Result, error) {
	links, err := s.links.LoadDeltaLinks(ctx)
	if err != nil {
		return nil, fmt.Errorf("load delta links: %w", err)
	}

	var results []Result
	var errs []error
	for _, mailbox := range mailboxes {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		res, err := s.syncMailbox(ctx, mailbox, links[mailbox])
		if err != nil {
			slog.Error("mailbox sync failed", "mailbox", mailbox, "error", err)
			errs = append(errs, fmt.Errorf("sync %s: %w", mailbox, err))
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// SyncMailbox exports what changed in one mailbox since its last sync.
func (s *Syncer) SyncMailbox(ctx context.Context, mailbox string) (Result, error) {
	links, err := s.links.LoadDeltaLinks(ctx)
	if err != nil {
		return Result{Mailbox: mailbox}, fmt.Errorf("load delta links: %w", err)
	}
	return s.syncMailbox(ctx, mailbox, links[mailbox])
}

func (s *Syncer) syncMailbox(ctx context.Context, mailbox, deltaLink string) (Result, error) {
	if deltaLink == "" {
		return s.initialSync(ctx, mailbox)
	}

	res, err := s.incrementalSync(ctx, mailbox, deltaLink)
	if isGone(err) {
		slog.Warn("delta link expired, performing full re-sync", "mailbox", mailbox)
		return s.initialSync(ctx, mailbox)
	}
	return res, err
}

// Backfill exports every message received since the given time without
// touching the mailbox's delta link.
func (s *Syncer) Backfill(ctx context.Context, mailbox string, since time.Time) (Result, error) {
	res := Result{Mailbox: mailbox, Full: true}
	start := time.Now()

	slog.Info("backfilling mailbox", "mailbox", mailbox, "since", since.UTC().Format(time.RFC3339))

	pageCount := 0
	for next := s.mail.MessagesURL(mailbox, since); next != ""; {
		page, err := s.fetchPage(ctx, next)
		if err != nil {
			return res, fmt.Errorf("list messages page %d: %w", pageCount, err)
		}
		pageCount++
		s.exportPage(ctx, mailbox, page, &res)
		next = page.NextLink
	}

	slog.Info("mailbox backfill complete",
		"mailbox", mailbox,
		"exported", res.Exported,
		"skipped", res.Skipped,
		"errors", res.Errors,
		"elapsed", time.Since(start),
	)
	return res, nil
}

// initialSync exports the lookback window, then pages through a new delta
// round only to obtain its delta link. History older than the lookback is
// not exported.
func (s *Syncer) initialSync(ctx context.Context, mailbox string) (Result, error) {
	res, err := s.Backfill(ctx, mailbox, s.now().Add(-s.lookback))
	if err != nil {
		return res, err
	}

	pageCount := 0
	for next := s.mail.DeltaURL(mailbox); next != ""; {
		page, err := s.fetchPage(ctx, next)
		if err != nil {
			return res, fmt.Errorf("initial delta sync page %d: %w", pageCount, err)
		}
		pageCount++

		if page.DeltaLink != "" {
			return res, s.saveDeltaLink(ctx, mailbox, page.DeltaLink)
		}
		next = page.NextLink
	}
	return res, fmt.Errorf("initial delta sync completed without receiving deltaLink")
}

func (s *Syncer) incrementalSync(ctx context.Context, mailbox, deltaLink string) (Result, error) {
	res := Result{Mailbox: mailbox}
	slog.Info("starting incremental mailbox sync", "mailbox", mailbox)

	for next := deltaLink; next != ""; {
		page, err := s.fetchPage(ctx, next)
		if err != nil {
			return res, err
		}
		s.exportPage(ctx, mailbox, page, &res)

		if page.DeltaLink != "" {
			if err := s.saveDeltaLink(ctx, mailbox, page.DeltaLink); err != nil {
				return res, err
			}
			break
		}
		next = page.NextLink
	}

	slog.Info("incremental mailbox sync complete",
		"mailbox", mailbox,
		"exported", res.Exported,
		"skipped", res.Skipped,
		"errors", res.Errors,
	)
	return res, nil
}

func (s *Syncer) exportPage(ctx context.Context, mailbox string, page *graph.MessagePage, res *Result) {
	for _, msg := range page.Messages {
		if msg.Removed {
			continue
		}
		exported, err := s.export(ctx, mailbox, msg)
		switch {
		case err != nil:
			slog.Error("message export failed", "mailbox", mailbox, "message_id", msg.ID, "error", err)
			res.Errors++
		case exported:
			res.Exported++
		default:
			res.Skipped++
		}
	}
}

// export writes one message to the emails folder. It reports false when the
// message was exported before.
func (s *Syncer) export(ctx context.Context, mailbox string, msg graph.MessageStub) (bool, error) {
	key := "mail:" + mailbox + ":" + msg.ID
	if s.dedup != nil {
		isNew, err := s.dedup.IsNew(ctx, key)
		if err != nil {
			slog.Warn("dedup check failed during mail sync", "error", err)
		} else if !isNew {
			return false, nil
		}
	}

	name := s.fileName(msg)
	exists, err := s.store.Exists(ctx, storage.Join(s.folder, name))
	if err != nil {
		s.release(ctx, key)
		return false, fmt.Errorf("check %s: %w", name, err)
	}
	if exists {
		return false, nil
	}

	content, err := s.mail.MessageMIME(ctx, mailbox, msg.ID)
	if err != nil {
		s.release(ctx, key)
		return false, err
	}
	if _, err := s.store.Upload(ctx, s.folder, name, content); err != nil {
		s.release(ctx, key)
		return false, fmt.Errorf("upload %s: %w", name, err)
	}
	slog.Debug("message exported", "mailbox", mailbox, "file", name)
	return true, nil
}

func (s *Syncer) fileName(msg graph.MessageStub) string {
	date := msg.ReceivedAt
	if date.IsZero() {
		date = s.now()
	}
	return naming.Canonical(date.UTC(), msg.Subject, naming.ShortID(msg.ID), ".eml", s.textLength)
}

func (s *Syncer) release(ctx context.Context, key string) {
	if s.dedup == nil {
		return
	}
	if err := s.dedup.Release(context.WithoutCancel(ctx), key); err != nil {
		slog.Warn("failed to release mail sync claim", "key", key, "error", err)
	}
}

func (s *Syncer) saveDeltaLink(ctx context.Context, mailbox, link string) error {
	if err := s.links.SaveDeltaLink(ctx, mailbox, link); err != nil {
		return fmt.Errorf("persist delta link: %w", err)
	}
	slog.Debug("delta link saved", "mailbox", mailbox)
	return nil
}

// fetchPage maps a 410 Gone to goneError.
func (s *Syncer) fetchPage(ctx context.Context, pageURL string) (*graph.MessagePage, error) {
	page, err := s.mail.FetchMessagePage(ctx, pageURL)
	var serr *graph.StatusError
	if errors.As(err, &serr) && serr.StatusCode == http.StatusGone {
		return nil, &goneError{}
	}
	return page, err
}

// goneError is a 410 Gone on a delta link.
type goneError struct{}

func (e *goneError) Error() string { return "delta token expired (410 Gone)" }

func isGone(err error) bool {
	var gerr *goneError
	return errors.As(err, &gerr)
}
