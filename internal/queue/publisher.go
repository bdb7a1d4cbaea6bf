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

// Package queue notifies downstream consumers of persisted records through a
// Redis list, as Celery-compatible tasks so the question-answering workers
// can pick them up with `celery worker -Q records`.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultQueue is the Redis list records are pushed to.
const DefaultQueue = "records"

// refreshTask is the Celery task name consumers register.
const refreshTask = "corpus.tasks.refresh_record"

// RecordEvent announces one persisted record.
type RecordEvent struct {
	DocumentID  string    `json:"document_id"`
	Type        string    `json:"type"`
	Filename    string    `json:"filename"`
	StorageURL  string    `json:"storage_url"`
	ItemKey     string    `json:"item_key"`
	Status      string    `json:"status"`
	PublishedAt time.Time `json:"published_at"`
}

// Publisher sends record events to Redis in Celery task format.
type Publisher struct {
	rdb       *redis.Client
	queueName string
}

// NewPublisher creates a new Redis publisher targeting the specified queue.
func NewPublisher(rdb *redis.Client, queueName string) *Publisher {
	if queueName == "" {
		queueName = DefaultQueue
	}
	return &Publisher{
		rdb:       rdb,
		queueName: queueName,
	}
}

// celeryTask is the task body Celery decodes.
type celeryTask struct {
	ID      string  `json:"id"`
	Task    string  `json:"task"`
	Args    []any   `json:"args"`
	Kwargs  any     `json:"kwargs"`
	Retries int     `json:"retries"`
	ETA     *string `json:"eta"`
}

// celeryMessage wraps a task for Redis transport.
type celeryMessage struct {
	Body            string         `json:"body"`
	ContentEncoding string         `json:"content-encoding"`
	ContentType     string         `json:"content-type"`
	Headers         map[string]any `json:"headers"`
	Properties      map[string]any `json:"properties"`
}

// PublishRecord serialises a record event and pushes it as a Celery task.
func (p *Publisher) PublishRecord(ctx context.Context, event RecordEvent) error {
	if event.PublishedAt.IsZero() {
		event.PublishedAt = time.Now().UTC()
	}
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal record event: %w", err)
	}

	taskID := uuid.New().String()
	taskBody, err := json.Marshal(celeryTask{
		ID:     taskID,
		Task:   refreshTask,
		Args:   []any{string(eventJSON)},
		Kwargs: map[string]any{},
	})
	if err != nil {
		return fmt.Errorf("marshal celery task: %w", err)
	}

	msgJSON, err := json.Marshal(celeryMessage{
		Body:            string(taskBody),
		ContentEncoding: "utf-8",
		ContentType:     "application/json",
		Headers: map[string]any{
			"lang":    "py",
			"task":    refreshTask,
			"id":      taskID,
			"retries": 0,
		},
		Properties: map[string]any{
			"correlation_id": taskID,
			"delivery_mode":  2,
			"delivery_tag":   taskID,
			"body_encoding":  "utf-8",
			"delivery_info": map[string]string{
				"exchange":    p.queueName,
				"routing_key": p.queueName,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("marshal celery message: %w", err)
	}

	if err := p.rdb.LPush(ctx, p.queueName, string(msgJSON)).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Debug("published record event",
		"task_id", taskID,
		"document_id", event.DocumentID,
		"queue", p.queueName,
	)
	return nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
