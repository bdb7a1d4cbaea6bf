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

package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryFile struct {
	item    Item
	content []byte
}

// MemoryStore is an in-process RemoteStore. It backs dry runs, local
// development and tests.
type MemoryStore struct {
	mu      sync.Mutex
	folders map[string]map[string]*memoryFile
	failing map[string]error
	nextID  int
	now     func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		folders: make(map[string]map[string]*memoryFile),
		failing: make(map[string]error),
		now:     time.Now,
	}
}

// Put seeds a file with an explicit fingerprint.
func (m *MemoryStore) Put(folder, name string, content []byte, lastModified string) Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.put(folder, name, content, lastModified)
}

// FailOn makes every operation touching path (folder/name, or a folder for
// List) return err until cleared with a nil err.
func (m *MemoryStore) FailOn(path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failing, path)
		return
	}
	m.failing[path] = err
}

// Content returns a copy of a stored file's bytes.
func (m *MemoryStore) Content(folder, name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.folders[clean(folder)][name]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), f.content...), true
}

// Names lists the file names in folder, sorted.
func (m *MemoryStore) Names(folder string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for name := range m.folders[clean(folder)] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *MemoryStore) List(ctx context.Context, folder string) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failing[clean(folder)]; err != nil {
		return nil, err
	}

	files := m.folders[clean(folder)]
	items := make([]Item, 0, len(files))
	for _, f := range files {
		items = append(items, f.item)
	}
	// Most recently modified first, ties by name.
	sort.Slice(items, func(i, j int) bool {
		if items[i].LastModified != items[j].LastModified {
			return items[i].LastModified > items[j].LastModified
		}
		return items[i].Name < items[j].Name
	})
	return items, nil
}

func (m *MemoryStore) Download(ctx context.Context, folder, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failing[Join(clean(folder), name)]; err != nil {
		return nil, err
	}
	f, ok := m.folders[clean(folder)][name]
	if !ok {
		return nil, fmt.Errorf("download %s: %w", Join(folder, name), ErrNotFound)
	}
	return append([]byte(nil), f.content...), nil
}

func (m *MemoryStore) Upload(ctx context.Context, folder, name string, content []byte) (UploadResult, error) {
	if err := ctx.Err(); err != nil {
		return UploadResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failing[Join(clean(folder), name)]; err != nil {
		return UploadResult{}, err
	}
	item := m.put(folder, name, content, m.now().UTC().Format(time.RFC3339Nano))
	return UploadResult{ID: item.ID, URL: item.WebURL}, nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, files := range m.folders {
		for name, f := range files {
			if f.item.ID == id {
				delete(files, name)
				return nil
			}
		}
	}
	return fmt.Errorf("delete %s: %w", id, ErrNotFound)
}

func (m *MemoryStore) Exists(ctx context.Context, p string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p = clean(p)
	i := strings.LastIndex(p, "/")
	if i < 0 {
		_, ok := m.folders[p]
		return ok, nil
	}
	_, ok := m.folders[p[:i]][p[i+1:]]
	return ok, nil
}

func (m *MemoryStore) put(folder, name string, content []byte, lastModified string) Item {
	folder = clean(folder)
	files, ok := m.folders[folder]
	if !ok {
		files = make(map[string]*memoryFile)
		m.folders[folder] = files
	}

	f, ok := files[name]
	if !ok {
		m.nextID++
		f = &memoryFile{item: Item{
			ID:     fmt.Sprintf("mem-%d", m.nextID),
			Name:   name,
			WebURL: "memory://" + Join(folder, name),
		}}
		files[name] = f
	}
	f.content = append([]byte(nil), content...)
	f.item.Size = int64(len(content))
	f.item.LastModified = lastModified
	f.item.ETag = fmt.Sprintf("%q", lastModified)
	return f.item
}

func clean(p string) string {
	return strings.Trim(p, "/")
}
