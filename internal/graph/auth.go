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
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/bcem/corpus/internal/storage"
)

// ExpiryBuffer is how long before reported expiry a cached token is
// refreshed.
const ExpiryBuffer = 300 * time.Second

var defaultScopes = []string{"https://graph.microsoft.com/.default"}

// Credentials identify the application registration.
type Credentials struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	// TokenURL overrides the directory token endpoint.
	TokenURL string
	Scopes   []string
}

// AuthError is returned when a token cannot be acquired. It matches
// storage.ErrPermission and unwraps to the underlying oauth2 error.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return "acquire graph token: " + e.Err.Error() }

func (e *AuthError) Unwrap() []error { return []error{storage.ErrPermission, e.Err} }

type credentialSource struct {
	ctx context.Context
	cfg *clientcredentials.Config
}

// Token always performs a client-credentials exchange; caching is left to
// the wrapping ReuseTokenSource.
func (s credentialSource) Token() (*oauth2.Token, error) {
	tok, err := s.cfg.Token(s.ctx)
	if err != nil {
		return nil, &AuthError{Err: err}
	}
	return tok, nil
}

// NewTokenSource returns a token source that caches the client-credentials
// token until ExpiryBuffer before it expires.
func NewTokenSource(ctx context.Context, creds Credentials) oauth2.TokenSource {
	tokenURL := creds.TokenURL
	if tokenURL == "" {
		tokenURL = fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", creds.TenantID)
	}
	scopes := creds.Scopes
	if len(scopes) == 0 {
		scopes = defaultScopes
	}

	cfg := &clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       scopes,
	}
	return oauth2.ReuseTokenSourceWithExpiry(nil, credentialSource{ctx: ctx, cfg: cfg}, ExpiryBuffer)
}

// NewHTTPClient returns an HTTP client that authenticates every request with
// ts and gives up after timeout.
func NewHTTPClient(ctx context.Context, ts oauth2.TokenSource, timeout time.Duration) *http.Client {
	c := oauth2.NewClient(ctx, ts)
	c.Timeout = timeout
	return c
}
