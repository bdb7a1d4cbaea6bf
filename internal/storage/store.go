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

// Package storage defines the contract for the remote file store that holds
// source items, persisted records and original artifacts, plus a gateway that
// writes records as JSON documents addressed by folder and canonical filename.
package storage

import (
	"context"
	"errors"
	"path"
)

// Error kinds every RemoteStore implementation must make distinguishable.
var (
	ErrNotFound   = errors.New("storage: not found")
	ErrTransient  = errors.New("storage: transient failure")
	ErrPermission = errors.New("storage: permission denied")
)

// Item describes one file in a remote folder.
type Item struct {
	ID           string
	Name         string
	Size         int64
	ContentType  string
	LastModified string
	ETag         string
	WebURL       string
}

// Fingerprint is the value the ledger compares between runs: the reported
// modification timestamp, or the etag when the store has no timestamp.
func (i Item) Fingerprint() string {
	if i.LastModified != "" {
		return i.LastModified
	}
	return i.ETag
}

// UploadResult identifies a written file.
type UploadResult struct {
	ID  string
	URL string
}

// RemoteStore is the file/mail store collaborator. Folder and name are joined
// with "/"; Exists takes the joined path.
type RemoteStore interface {
	List(ctx context.Context, folder string) ([]Item, error)
	Download(ctx context.Context, folder, name string) ([]byte, error)
	Upload(ctx context.Context, folder, name string, content []byte) (UploadResult, error)
	Delete(ctx context.Context, id string) error
	Exists(ctx context.Context, path string) (bool, error)
}

// Join builds the path Exists expects.
func Join(folder, name string) string {
	return path.Join(folder, name)
}

func IsNotFound(err error) bool   { return errors.Is(err, ErrNotFound) }
func IsTransient(err error) bool  { return errors.Is(err, ErrTransient) }
func IsPermission(err error) bool { return errors.Is(err, ErrPermission) }
