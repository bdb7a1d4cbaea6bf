// Copyright (c) 2026 John Earle
//
// Licensed under the Business Source License 1.1 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://github.com/yourusername/bcem/blob/main/LICENSE
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package queue

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// TestPublishRecord verifies the Celery envelope pushed for a record.
func TestPublishRecord(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	p := NewPublisher(rdb, "")
	if err := p.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	err := p.PublishRecord(context.Background(), RecordEvent{
		DocumentID: "doc-1",
		Type:       "document",
		Filename:   "2024-01-15_Reportabcdef12.json",
		StorageURL: "https://drive.example/r.json",
		ItemKey:    "document:Report.pdf",
		Status:     "success",
	})
	if err != nil {
		t.Fatalf("PublishRecord: %v", err)
	}

	items, err := mr.List(DefaultQueue)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 queued message, got %d", len(items))
	}

	var msg celeryMessage
	if err := json.Unmarshal([]byte(items[0]), &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if msg.Headers["task"] != refreshTask {
		t.Errorf("task header = %v, want %s", msg.Headers["task"], refreshTask)
	}

	var task celeryTask
	if err := json.Unmarshal([]byte(msg.Body), &task); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if len(task.Args) != 1 {
		t.Fatalf("expected 1 task arg, got %d", len(task.Args))
	}
	var event RecordEvent
	if err := json.Unmarshal([]byte(task.Args[0].(string)), &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.DocumentID != "doc-1" || event.ItemKey != "document:Report.pdf" {
		t.Errorf("unexpected event: %+v", event)
	}
	if event.PublishedAt.IsZero() {
		t.Error("expected PublishedAt to be set")
	}
}
