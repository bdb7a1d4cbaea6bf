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

package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/bcem/corpus/internal/storage"
)

var _ storage.RemoteStore = (*Client)(nil)

// driveItem is the subset of a Graph driveItem the pipeline uses.
type driveItem struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	Size                 int64  `json:"size"`
	ETag                 string `json:"eTag"`
	LastModifiedDateTime string `json:"lastModifiedDateTime"`
	WebURL               string `json:"webUrl"`
	File                 *struct {
		MimeType string `json:"mimeType"`
	} `json:"file"`
	Folder *struct {
		ChildCount int `json:"childCount"`
	} `json:"folder"`
}

func (d driveItem) item() storage.Item {
	it := storage.Item{
		ID:           d.ID,
		Name:         d.Name,
		Size:         d.Size,
		ETag:         d.ETag,
		LastModified: d.LastModifiedDateTime,
		WebURL:       d.WebURL,
	}
	if d.File != nil {
		it.ContentType = d.File.MimeType
	}
	return it
}

type driveItemPage struct {
	Value    []driveItem `json:"value"`
	NextLink string      `json:"@odata.nextLink"`
}

// escapePath escapes each segment of a drive path.
func escapePath(p string) string {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	for i, s := range parts {
		parts[i] = url.PathEscape(s)
	}
	return strings.Join(parts, "/")
}

func (c *Client) itemURL(p string) string {
	return fmt.Sprintf("%s/users/%s/drive/root:/%s:", c.baseURL, url.PathEscape(c.user), escapePath(p))
}

// List returns the files (not sub-folders) of a drive folder, most recently
// modified first.
func (c *Client) List(ctx context.Context, folder string) ([]storage.Item, error) {
	params := url.Values{}
	params.Set("$top", "200")
	params.Set("$select", "id,name,size,eTag,lastModifiedDateTime,webUrl,file,folder")
	listURL := c.itemURL(folder) + "/children?" + params.Encode()

	var items []storage.Item
	pageCount := 0
	for nextURL := listURL; nextURL != ""; {
		var page driveItemPage
		if err := c.getJSON(ctx, "list "+folder, nextURL, &page); err != nil {
			return nil, fmt.Errorf("list page %d: %w", pageCount, err)
		}
		pageCount++

		for _, d := range page.Value {
			if d.Folder != nil {
				continue
			}
			items = append(items, d.item())
		}
		nextURL = page.NextLink
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].LastModified > items[j].LastModified
	})

	slog.Debug("drive folder listed", "folder", folder, "items", len(items), "pages", pageCount)
	return items, nil
}

// Download returns the content of folder/name.
func (c *Client) Download(ctx context.Context, folder, name string) ([]byte, error) {
	p := storage.Join(folder, name)
	resp, err := c.do(ctx, c.httpClient, "download "+p, http.MethodGet, c.itemURL(p)+"/content", nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w: %v", p, storage.ErrTransient, err)
	}
	return data, nil
}

// Upload writes content to folder/name, replacing any existing file. Bodies
// above 4 MiB go through an upload session.
func (c *Client) Upload(ctx context.Context, folder, name string, content []byte) (storage.UploadResult, error) {
	p := storage.Join(folder, name)
	if len(content) > simpleUploadLimit {
		return c.uploadSession(ctx, p, content)
	}

	header := http.Header{"Content-Type": {"application/octet-stream"}}
	resp, err := c.do(ctx, c.httpClient, "upload "+p, http.MethodPut, c.itemURL(p)+"/content", bytes.NewReader(content), header)
	if err != nil {
		return storage.UploadResult{}, err
	}
	defer resp.Body.Close()

	var d driveItem
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return storage.UploadResult{}, fmt.Errorf("decode upload response: %w", err)
	}
	return storage.UploadResult{ID: d.ID, URL: d.WebURL}, nil
}

// uploadSession streams content in fixed-size chunks to a resumable upload
// session.
func (c *Client) uploadSession(ctx context.Context, p string, content []byte) (storage.UploadResult, error) {
	body, _ := json.Marshal(map[string]any{
		"item": map[string]string{"@microsoft.graph.conflictBehavior": "replace"},
	})
	header := http.Header{"Content-Type": {"application/json"}}
	resp, err := c.do(ctx, c.httpClient, "create upload session "+p, http.MethodPost, c.itemURL(p)+"/createUploadSession", bytes.NewReader(body), header)
	if err != nil {
		return storage.UploadResult{}, err
	}
	var session struct {
		UploadURL string `json:"uploadUrl"`
	}
	err = json.NewDecoder(resp.Body).Decode(&session)
	resp.Body.Close()
	if err != nil {
		return storage.UploadResult{}, fmt.Errorf("decode upload session: %w", err)
	}
	if session.UploadURL == "" {
		return storage.UploadResult{}, fmt.Errorf("create upload session %s: empty uploadUrl", p)
	}

	total := len(content)
	for start := 0; start < total; start += uploadChunkSize {
		end := min(start+uploadChunkSize, total)
		header := http.Header{"Content-Range": {fmt.Sprintf("bytes %d-%d/%d", start, end-1, total)}}
		resp, err := c.do(ctx, c.uploadClient, "upload chunk "+p, http.MethodPut, session.UploadURL, bytes.NewReader(content[start:end]), header)
		if err != nil {
			return storage.UploadResult{}, err
		}

		if end < total {
			resp.Body.Close()
			continue
		}

		var d driveItem
		err = json.NewDecoder(resp.Body).Decode(&d)
		resp.Body.Close()
		if err != nil {
			return storage.UploadResult{}, fmt.Errorf("decode final chunk response: %w", err)
		}
		slog.Debug("upload session complete", "path", p, "bytes", total)
		return storage.UploadResult{ID: d.ID, URL: d.WebURL}, nil
	}
	return storage.UploadResult{}, fmt.Errorf("upload session %s: empty content", p)
}

// Delete removes a drive item by id.
func (c *Client) Delete(ctx context.Context, id string) error {
	itemURL := fmt.Sprintf("%s/users/%s/drive/items/%s", c.baseURL, url.PathEscape(c.user), url.PathEscape(id))
	resp, err := c.do(ctx, c.httpClient, "delete "+id, http.MethodDelete, itemURL, nil, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Exists reports whether a drive path resolves to an item.
func (c *Client) Exists(ctx context.Context, p string) (bool, error) {
	var d driveItem
	err := c.getJSON(ctx, "stat "+p, c.itemURL(p)+"?$select=id", &d)
	if storage.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) getJSON(ctx context.Context, op, rawURL string, v any) error {
	resp, err := c.do(ctx, c.httpClient, op, http.MethodGet, rawURL, nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := decodeJSON(resp.Body, v); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

func decodeJSON(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}
