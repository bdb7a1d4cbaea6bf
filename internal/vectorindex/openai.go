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

package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sort"
	"time"
)

// DefaultOpenAIBaseURL is the public API root.
const DefaultOpenAIBaseURL = "https://api.openai.com/v1"

// APIError is a non-2xx answer from the hosted API.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// OpenAIConfig holds configuration for the hosted vector store.
type OpenAIConfig struct {
	APIKey         string
	VectorStoreID  string
	BaseURL        string
	ScoreThreshold float64
	HTTPClient     *http.Client
}

// OpenAIStore uploads record text as files attached to a hosted vector
// store.
type OpenAIStore struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	storeID    string
	threshold  float64
}

var _ Client = (*OpenAIStore)(nil)

// NewOpenAIStore creates a hosted vector store client.
func NewOpenAIStore(cfg OpenAIConfig) *OpenAIStore {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	return &OpenAIStore{
		httpClient: cfg.HTTPClient,
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		storeID:    cfg.VectorStoreID,
		threshold:  cfg.ScoreThreshold,
	}
}

// UploadDocument creates a text file from doc and attaches it to the vector
// store with doc's attributes.
func (s *OpenAIStore) UploadDocument(ctx context.Context, doc Document) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("purpose", "assistants"); err != nil {
		return "", fmt.Errorf("write purpose field: %w", err)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, doc.Name))
	h.Set("Content-Type", "text/plain")
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.WriteString(part, doc.Text); err != nil {
		return "", fmt.Errorf("write file part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart body: %w", err)
	}

	var file struct {
		ID string `json:"id"`
	}
	if err := s.do(ctx, "create file", http.MethodPost, "/files", mw.FormDataContentType(), &body, &file); err != nil {
		return "", err
	}

	attach, err := json.Marshal(map[string]any{
		"file_id":    file.ID,
		"attributes": doc.Attributes,
	})
	if err != nil {
		return "", fmt.Errorf("marshal attach request: %w", err)
	}
	path := "/vector_stores/" + s.storeID + "/files"
	if err := s.do(ctx, "attach file", http.MethodPost, path, "application/json", bytes.NewReader(attach), nil); err != nil {
		return "", err
	}

	slog.Debug("indexed document", "document_id", doc.ID, "file_id", file.ID)
	return file.ID, nil
}

type searchResponse struct {
	Data []struct {
		FileID     string            `json:"file_id"`
		Filename   string            `json:"filename"`
		Score      float32           `json:"score"`
		Attributes map[string]any    `json:"attributes"`
		Content    []json.RawMessage `json:"content"`
	} `json:"data"`
}

// Search queries the vector store. The score threshold is applied by the
// service through ranking_options.
func (s *OpenAIStore) Search(ctx context.Context, query string, filters map[string]string, limit int) ([]Result, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}
	req := map[string]any{
		"query":           query,
		"max_num_results": limit,
	}
	if f := comparisonFilter(filters); f != nil {
		req["filters"] = f
	}
	if s.threshold > 0 {
		req["ranking_options"] = map[string]any{"score_threshold": s.threshold}
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	var resp searchResponse
	path := "/vector_stores/" + s.storeID + "/search"
	if err := s.do(ctx, "search", http.MethodPost, path, "application/json", bytes.NewReader(payload), &resp); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(resp.Data))
	for _, d := range resp.Data {
		r := Result{ID: d.FileID, Score: d.Score, Attributes: make(map[string]string, len(d.Attributes))}
		for k, v := range d.Attributes {
			r.Attributes[k] = fmt.Sprint(v)
		}
		for _, raw := range d.Content {
			var c struct {
				Type string `json:"type"`
				Text string `json:"text"`
			}
			if json.Unmarshal(raw, &c) == nil && c.Type == "text" {
				r.Text += c.Text
			}
		}
		results = append(results, r)
	}
	return results, nil
}

// comparisonFilter builds an eq filter, or an "and" of them for several keys.
func comparisonFilter(filters map[string]string) map[string]any {
	if len(filters) == 0 {
		return nil
	}
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	eqs := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		eqs = append(eqs, map[string]any{"type": "eq", "key": k, "value": filters[k]})
	}
	if len(eqs) == 1 {
		return eqs[0]
	}
	return map[string]any{"type": "and", "filters": eqs}
}

func (s *OpenAIStore) do(ctx context.Context, op, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		slog.Error("vector store request failed",
			"op", op,
			"status", resp.StatusCode,
			"body", string(b),
		)
		return &APIError{Op: op, StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}
