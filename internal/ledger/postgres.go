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

package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps the ledger and mailbox delta links in Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store backed by the given pool and ensures its
// tables exist.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	s := &PostgresStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure ledger schema: %w", err)
	}
	slog.Info("ledger store initialised", "backend", "postgres")
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS ledger_entries (
			item_key      TEXT PRIMARY KEY,
			file_name     TEXT NOT NULL,
			last_modified TEXT NOT NULL,
			processed_at  TEXT NOT NULL,
			output_file   TEXT DEFAULT '',
			status        TEXT NOT NULL,
			error         TEXT DEFAULT '',
			updated_at    TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_ledger_status ON ledger_entries(status);
		CREATE TABLE IF NOT EXISTS ledger_metadata (
			id                SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
			processor_version TEXT NOT NULL,
			created_at        TEXT NOT NULL,
			last_updated      TEXT NOT NULL,
			pipeline_stats    JSONB
		);
		CREATE TABLE IF NOT EXISTS delta_links (
			mailbox         TEXT PRIMARY KEY,
			delta_link      TEXT NOT NULL,
			last_delta_sync TIMESTAMPTZ DEFAULT NOW()
		);
	`)
	return err
}

func (s *PostgresStore) Load(ctx context.Context) (*State, error) {
	var state State
	var stats []byte
	err := s.pool.QueryRow(ctx, `
		SELECT processor_version, created_at, last_updated, pipeline_stats
		FROM ledger_metadata
		WHERE id = 1
	`).Scan(&state.Metadata.ProcessorVersion, &state.Metadata.CreatedAt, &state.LastUpdated, &stats)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query ledger metadata: %w", err)
	}
	state.Metadata.PipelineStats = stats

	rows, err := s.pool.Query(ctx, `
		SELECT item_key, file_name, last_modified, processed_at, output_file, status, error
		FROM ledger_entries
	`)
	if err != nil {
		return nil, fmt.Errorf("query ledger entries: %w", err)
	}
	defer rows.Close()

	state.ProcessedItems, err = collectEntries(rows)
	if err != nil {
		return nil, fmt.Errorf("scan ledger entries: %w", err)
	}
	return &state, nil
}

// Save writes every entry and the metadata row in one transaction.
func (s *PostgresStore) Save(ctx context.Context, state *State) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin ledger save: %w", err)
	}
	defer tx.Rollback(ctx)

	var stats any
	if len(state.Metadata.PipelineStats) > 0 {
		stats = string(state.Metadata.PipelineStats)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO ledger_metadata (id, processor_version, created_at, last_updated, pipeline_stats)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			processor_version = EXCLUDED.processor_version,
			last_updated      = EXCLUDED.last_updated,
			pipeline_stats    = EXCLUDED.pipeline_stats
	`, state.Metadata.ProcessorVersion, state.Metadata.CreatedAt, state.LastUpdated, stats); err != nil {
		return fmt.Errorf("upsert ledger metadata: %w", err)
	}

	batch := &pgx.Batch{}
	for key, e := range state.ProcessedItems {
		batch.Queue(`
			INSERT INTO ledger_entries
				(item_key, file_name, last_modified, processed_at, output_file, status, error)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (item_key) DO UPDATE SET
				file_name     = EXCLUDED.file_name,
				last_modified = EXCLUDED.last_modified,
				processed_at  = EXCLUDED.processed_at,
				output_file   = EXCLUDED.output_file,
				status        = EXCLUDED.status,
				error         = EXCLUDED.error,
				updated_at    = NOW()
		`, key, e.FileName, e.LastModified, e.ProcessedAt, e.OutputFile, string(e.Status), e.Error)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert ledger entries: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger save: %w", err)
	}
	slog.Info("ledger state saved", "backend", "postgres", "entries", len(state.ProcessedItems))
	return nil
}

// SaveDeltaLink persists the delta token for a mailbox.
func (s *PostgresStore) SaveDeltaLink(ctx context.Context, mailbox, link string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO delta_links (mailbox, delta_link)
		VALUES ($1, $2)
		ON CONFLICT (mailbox) DO UPDATE SET
			delta_link      = EXCLUDED.delta_link,
			last_delta_sync = NOW()
	`, mailbox, link)
	return err
}

// LoadDeltaLinks returns the saved delta link per mailbox.
func (s *PostgresStore) LoadDeltaLinks(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT mailbox, delta_link FROM delta_links`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	links := make(map[string]string)
	for rows.Next() {
		var mailbox, link string
		if err := rows.Scan(&mailbox, &link); err != nil {
			return nil, err
		}
		links[mailbox] = link
	}
	return links, rows.Err()
}

// collectEntries scans ledger rows into a map keyed by item key.
func collectEntries(rows pgx.Rows) (map[string]Entry, error) {
	entries := make(map[string]Entry)
	for rows.Next() {
		var key, status string
		var e Entry
		if err := rows.Scan(&key, &e.FileName, &e.LastModified, &e.ProcessedAt, &e.OutputFile, &status, &e.Error); err != nil {
			return nil, err
		}
		e.Status = Status(status)
		entries[key] = e
	}
	return entries, rows.Err()
}
