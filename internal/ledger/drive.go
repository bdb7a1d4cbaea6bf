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

package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bcem/corpus/internal/storage"
)

// DefaultStateFile is the ledger file name under the processed root.
const DefaultStateFile = "processing_state.json"

// deltaLinksFile holds mailbox delta links next to the ledger file.
const deltaLinksFile = "mailsync_state.json"

// DriveStore keeps the ledger as one JSON document on the remote drive.
type DriveStore struct {
	store  storage.RemoteStore
	folder string
	name   string

	mu sync.Mutex // serializes delta link read-modify-write
}

// NewDriveStore stores state at folder/name. An empty name uses
// DefaultStateFile.
func NewDriveStore(store storage.RemoteStore, folder, name string) *DriveStore {
	if name == "" {
		name = DefaultStateFile
	}
	return &DriveStore{store: store, folder: folder, name: name}
}

func (d *DriveStore) Load(ctx context.Context) (*State, error) {
	data, err := d.store.Download(ctx, d.folder, d.name)
	if storage.IsNotFound(err) {
		slog.Info("no ledger state found, starting fresh", "path", storage.Join(d.folder, d.name))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("download ledger state: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		slog.Warn("ledger state is not valid JSON, starting fresh",
			"path", storage.Join(d.folder, d.name),
			"error", err,
		)
		return nil, nil
	}

	slog.Info("ledger state loaded",
		"path", storage.Join(d.folder, d.name),
		"entries", len(state.ProcessedItems),
	)
	return &state, nil
}

func (d *DriveStore) Save(ctx context.Context, state *State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger state: %w", err)
	}
	if _, err := d.store.Upload(ctx, d.folder, d.name, data); err != nil {
		return fmt.Errorf("upload ledger state: %w", err)
	}
	slog.Info("ledger state saved",
		"path", storage.Join(d.folder, d.name),
		"entries", len(state.ProcessedItems),
	)
	return nil
}

// LoadDeltaLinks returns the saved delta link per mailbox.
func (d *DriveStore) LoadDeltaLinks(ctx context.Context) (map[string]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loadDeltaLinks(ctx)
}

// SaveDeltaLink persists the delta link for one mailbox.
func (d *DriveStore) SaveDeltaLink(ctx context.Context, mailbox, link string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	links, err := d.loadDeltaLinks(ctx)
	if err != nil {
		return err
	}
	links[mailbox] = link

	data, err := json.MarshalIndent(links, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal delta links: %w", err)
	}
	if _, err := d.store.Upload(ctx, d.folder, deltaLinksFile, data); err != nil {
		return fmt.Errorf("upload delta links: %w", err)
	}
	return nil
}

func (d *DriveStore) loadDeltaLinks(ctx context.Context) (map[string]string, error) {
	links := make(map[string]string)
	data, err := d.store.Download(ctx, d.folder, deltaLinksFile)
	if storage.IsNotFound(err) {
		return links, nil
	}
	if err != nil {
		return nil, fmt.Errorf("download delta links: %w", err)
	}
	if err := json.Unmarshal(data, &links); err != nil {
		slog.Warn("delta link state is not valid JSON, starting fresh", "error", err)
		return make(map[string]string), nil
	}
	return links, nil
}
