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
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/bcem/corpus/internal/storage"
)

// MessageStub is a message reference from a list or delta page.
type MessageStub struct {
	ID         string
	Subject    string
	ReceivedAt time.Time
	Removed    bool
}

// MessagePage is one page of a message list or delta query. DeltaLink is set
// only on the last page of a delta round.
type MessagePage struct {
	Messages  []MessageStub
	NextLink  string
	DeltaLink string
}

type messagePage struct {
	Value []struct {
		ID               string `json:"id"`
		Subject          string `json:"subject"`
		ReceivedDateTime string `json:"receivedDateTime"`
		Removed          *struct {
			Reason string `json:"reason"`
		} `json:"@removed"`
	} `json:"value"`
	NextLink  string `json:"@odata.nextLink"`
	DeltaLink string `json:"@odata.deltaLink"`
}

const messageFields = "id,subject,receivedDateTime"

// MessagesURL is the first page of messages received at or after since,
// newest first.
func (c *Client) MessagesURL(mailbox string, since time.Time) string {
	params := url.Values{}
	params.Set("$filter", fmt.Sprintf("receivedDateTime ge %s", since.UTC().Format(time.RFC3339)))
	params.Set("$select", messageFields)
	params.Set("$orderby", "receivedDateTime desc")
	params.Set("$top", "50")
	return fmt.Sprintf("%s/users/%s/messages?%s", c.baseURL, url.PathEscape(mailbox), params.Encode())
}

// DeltaURL starts a new delta round for the mailbox.
func (c *Client) DeltaURL(mailbox string) string {
	params := url.Values{}
	params.Set("$select", messageFields)
	return fmt.Sprintf("%s/users/%s/messages/delta?%s", c.baseURL, url.PathEscape(mailbox), params.Encode())
}

// FetchMessagePage fetches one page of a list or delta query by URL.
func (c *Client) FetchMessagePage(ctx context.Context, pageURL string) (*MessagePage, error) {
	resp, err := c.do(ctx, c.httpClient, "fetch message page", http.MethodGet, pageURL, nil,
		http.Header{"Prefer": {"odata.maxpagesize=50"}})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var raw messagePage
	if err := decodeJSON(resp.Body, &raw); err != nil {
		return nil, fmt.Errorf("decode message page: %w", err)
	}

	page := &MessagePage{NextLink: raw.NextLink, DeltaLink: raw.DeltaLink}
	for _, m := range raw.Value {
		stub := MessageStub{ID: m.ID, Subject: m.Subject, Removed: m.Removed != nil}
		if t, err := time.Parse(time.RFC3339, m.ReceivedDateTime); err == nil {
			stub.ReceivedAt = t
		}
		page.Messages = append(page.Messages, stub)
	}
	return page, nil
}

// MessageMIME returns the full RFC 5322 content of a message.
func (c *Client) MessageMIME(ctx context.Context, mailbox, id string) ([]byte, error) {
	msgURL := fmt.Sprintf("%s/users/%s/messages/%s/$value", c.baseURL, url.PathEscape(mailbox), url.PathEscape(id))
	resp, err := c.do(ctx, c.httpClient, "fetch message "+id, http.MethodGet, msgURL, nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read message %s: %w: %v", id, storage.ErrTransient, err)
	}
	return data, nil
}
