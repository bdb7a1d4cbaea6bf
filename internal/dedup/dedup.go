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

// Package dedup remembers which keys have been handled using Redis SET NX
// markers with a TTL. Mail export uses it to skip messages it already wrote
// and the upload gateway to skip records already indexed at their current
// content version.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long a marker is kept. Mail export looks back at most
	// a week, so markers older than that are never consulted.
	DefaultTTL = 7 * 24 * time.Hour

	// DefaultPrefix namespaces markers in Redis.
	DefaultPrefix = "corpus:seen:"
)

// Filter tracks which keys have already been claimed.
type Filter struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// FilterConfig holds optional settings for NewFilter.
type FilterConfig struct {
	Prefix string
	TTL    time.Duration
}

// NewFilter creates a dedup filter backed by Redis.
func NewFilter(rdb *redis.Client, cfg FilterConfig) *Filter {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Filter{
		rdb:    rdb,
		prefix: cfg.Prefix,
		ttl:    cfg.TTL,
	}
}

// IsNew returns true if key has NOT been claimed before, claiming it
// atomically.
func (f *Filter) IsNew(ctx context.Context, key string) (bool, error) {
	set, err := f.rdb.SetNX(ctx, f.prefix+key, 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}
	return set, nil
}

// Release drops a claim so the key is treated as new again. Callers release
// after the work guarded by IsNew failed.
func (f *Filter) Release(ctx context.Context, key string) error {
	if err := f.rdb.Del(ctx, f.prefix+key).Err(); err != nil {
		return fmt.Errorf("dedup DEL: %w", err)
	}
	return nil
}
