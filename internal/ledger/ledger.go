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

// Package ledger tracks every source item the pipeline has seen, so repeated
// runs only process what is new or changed. The state is loaded once at the
// start of a run, updated in memory per item, and saved once at the end.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ProcessorVersion is written into the state metadata.
const ProcessorVersion = "1.2.0"

// Kind prefixes item keys by source kind.
type Kind string

const (
	KindEmail      Kind = "email"
	KindDocument   Kind = "document"
	KindAttachment Kind = "attachment"
)

// Key builds the ledger key for a source item.
func Key(kind Kind, name string) string {
	return string(kind) + ":" + name
}

// Status is the outcome of the last attempt on an item.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Classification is the delta decision for one item.
type Classification int

const (
	New Classification = iota
	Modified
	Unchanged
)

func (c Classification) String() string {
	switch c {
	case New:
		return "new"
	case Modified:
		return "modified"
	case Unchanged:
		return "unchanged"
	}
	return fmt.Sprintf("classification(%d)", int(c))
}

// Entry is the ledger's knowledge of one source item.
type Entry struct {
	FileName     string `json:"file_name"`
	LastModified string `json:"last_modified"`
	ProcessedAt  string `json:"processed_at"`
	OutputFile   string `json:"output_file,omitempty"`
	Status       Status `json:"status"`
	Error        string `json:"error,omitempty"`
}

// Metadata describes the state file itself.
type Metadata struct {
	ProcessorVersion string          `json:"processor_version"`
	CreatedAt        string          `json:"created_at"`
	PipelineStats    json.RawMessage `json:"pipeline_stats,omitempty"`
}

// State is the persisted form of the ledger.
type State struct {
	LastUpdated    string           `json:"last_updated"`
	ProcessedItems map[string]Entry `json:"processed_items"`
	Metadata       Metadata         `json:"metadata"`
}

// NewState returns an empty state created at now.
func NewState(now time.Time) *State {
	ts := now.UTC().Format(time.RFC3339)
	return &State{
		LastUpdated:    ts,
		ProcessedItems: make(map[string]Entry),
		Metadata: Metadata{
			ProcessorVersion: ProcessorVersion,
			CreatedAt:        ts,
		},
	}
}

// Store persists ledger state. Load returns (nil, nil) when no state exists
// yet or the stored state cannot be decoded; transport and permission
// failures are returned as errors.
type Store interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, state *State) error
}

// Ledger is the in-memory view of the state for one run. Methods are safe
// for concurrent use.
type Ledger struct {
	mu    sync.Mutex
	state *State
	now   func() time.Time
}

// FromState wraps state; a nil state starts fresh.
func FromState(state *State) *Ledger {
	if state == nil {
		state = NewState(time.Now())
	}
	if state.ProcessedItems == nil {
		state.ProcessedItems = make(map[string]Entry)
	}
	if state.Metadata.ProcessorVersion == "" {
		state.Metadata.ProcessorVersion = ProcessorVersion
	}
	return &Ledger{state: state, now: time.Now}
}

// Load reads the ledger from store.
func Load(ctx context.Context, store Store) (*Ledger, error) {
	state, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	return FromState(state), nil
}

// Save writes a snapshot of the ledger to store in one write.
func (l *Ledger) Save(ctx context.Context, store Store) error {
	if err := store.Save(ctx, l.Snapshot()); err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	return nil
}

// Classify compares fingerprint with the stored one. Unchanged means an
// entry exists with exactly this fingerprint, whatever its status.
func (l *Ledger) Classify(key, fingerprint string) Classification {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.state.ProcessedItems[key]
	switch {
	case !ok:
		return New
	case e.LastModified == fingerprint:
		return Unchanged
	default:
		return Modified
	}
}

// Lookup returns the entry for key.
func (l *Ledger) Lookup(key string) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.state.ProcessedItems[key]
	return e, ok
}

// Record upserts the entry for key. It never touches the store.
func (l *Ledger) Record(key, fingerprint string, status Status, outputFile, errMsg string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := Entry{
		FileName:     fileName(key),
		LastModified: fingerprint,
		ProcessedAt:  l.now().UTC().Format(time.RFC3339),
		Status:       status,
	}
	if status == StatusSuccess {
		e.OutputFile = outputFile
	} else {
		e.Error = errMsg
		// Keep pointing at the last good output so a later success
		// overwrites the same record.
		if prev, ok := l.state.ProcessedItems[key]; ok {
			e.OutputFile = prev.OutputFile
		}
	}
	l.state.ProcessedItems[key] = e
}

// SetStats stores the last run's statistics in the state metadata.
func (l *Ledger) SetStats(stats any) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal pipeline stats: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.Metadata.PipelineStats = data
	return nil
}

// Len returns the number of entries.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.state.ProcessedItems)
}

// Counts returns the number of entries per status.
func (l *Ledger) Counts() map[Status]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[Status]int)
	for _, e := range l.state.ProcessedItems {
		out[e.Status]++
	}
	return out
}

// Snapshot returns a copy of the state stamped with the current time.
func (l *Ledger) Snapshot() *State {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := &State{
		LastUpdated:    l.now().UTC().Format(time.RFC3339),
		ProcessedItems: make(map[string]Entry, len(l.state.ProcessedItems)),
		Metadata:       l.state.Metadata,
	}
	out.Metadata.PipelineStats = append(json.RawMessage(nil), l.state.Metadata.PipelineStats...)
	for k, e := range l.state.ProcessedItems {
		out.ProcessedItems[k] = e
	}
	return out
}

func fileName(key string) string {
	if _, name, ok := strings.Cut(key, ":"); ok {
		return name
	}
	return key
}
