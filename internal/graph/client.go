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

// Package graph is a Microsoft Graph client for one user's OneDrive and the
// mailboxes the application may read. It implements storage.RemoteStore for
// the drive and exposes the message list, delta and MIME endpoints used by
// mailbox export.
package graph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/bcem/corpus/internal/storage"
)

// DefaultBaseURL is the Graph v1.0 endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

const (
	// simpleUploadLimit is the largest body Graph accepts on a single PUT.
	simpleUploadLimit = 4 << 20

	// uploadChunkSize must be a multiple of 320 KiB.
	uploadChunkSize = 5 << 20

	maxErrorBody = 4096
)

// Client talks to Graph on behalf of one user.
type Client struct {
	httpClient   *http.Client
	uploadClient *http.Client
	baseURL      string
	user         string
	limiter      *rate.Limiter
}

// ClientConfig holds the dependencies for a Graph client.
type ClientConfig struct {
	// HTTPClient must attach bearer tokens (see NewHTTPClient).
	HTTPClient *http.Client
	// UploadClient sends upload-session chunks. Session URLs are
	// pre-authenticated and reject bearer tokens.
	UploadClient *http.Client
	BaseURL      string
	UserEmail    string

	// RequestsPerSecond paces calls; zero disables pacing.
	RequestsPerSecond float64
	Burst             int
}

// NewClient creates a Graph client.
func NewClient(cfg ClientConfig) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	uploadClient := cfg.UploadClient
	if uploadClient == nil {
		uploadClient = &http.Client{Timeout: 2 * time.Minute}
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		httpClient:   httpClient,
		uploadClient: uploadClient,
		baseURL:      base,
		user:         cfg.UserEmail,
		limiter:      rate.NewLimiter(limit, burst),
	}
}

// StatusError is a non-2xx Graph response. It unwraps to the storage error
// kind matching the status so callers can branch with errors.Is.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: graph API returned HTTP %d", e.Op, e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusNotFound:
		return storage.ErrNotFound
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return storage.ErrPermission
	case e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500:
		return storage.ErrTransient
	}
	return nil
}

// do paces and sends a request. Any status of 300 or above is returned as a
// *StatusError with the response body consumed.
func (c *Client) do(ctx context.Context, client *http.Client, op, method, rawURL string, body io.Reader, header http.Header) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, transportError(ctx, op, err)
	}

	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		serr := &StatusError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       string(data),
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
		}
		if resp.StatusCode != http.StatusNotFound {
			slog.Error("graph API error",
				"op", op,
				"status", resp.StatusCode,
				"body", serr.Body,
			)
		}
		return nil, serr
	}
	return resp, nil
}

// transportError classifies a failed round trip. Token failures surface as
// *AuthError; cancellation is returned as-is; anything else is transient.
func transportError(ctx context.Context, op string, err error) error {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return fmt.Errorf("%s: %w", op, authErr)
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
	return fmt.Errorf("%s: %w: %v", op, storage.ErrTransient, err)
}

func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}
