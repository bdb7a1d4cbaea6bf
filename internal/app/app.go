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

// Package app wires the configured collaborators into a pipeline, a mailbox
// syncer and a vector index for the corpus binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/bcem/corpus/internal/config"
	"github.com/bcem/corpus/internal/dedup"
	"github.com/bcem/corpus/internal/graph"
	"github.com/bcem/corpus/internal/ledger"
	"github.com/bcem/corpus/internal/mailsync"
	"github.com/bcem/corpus/internal/metrics"
	"github.com/bcem/corpus/internal/pipeline"
	"github.com/bcem/corpus/internal/processor"
	"github.com/bcem/corpus/internal/queue"
	"github.com/bcem/corpus/internal/storage"
	"github.com/bcem/corpus/internal/upload"
	"github.com/bcem/corpus/internal/vectorindex"
)

const graphTimeout = 2 * time.Minute

// stateStore is a ledger backend that also keeps mailbox delta links.
type stateStore interface {
	ledger.Store
	mailsync.DeltaStore
}

// Options select which optional parts New builds.
type Options struct {
	// Index builds the vector index client and the upload stage.
	Index bool

	// Registerer receives the run metrics; nil disables them.
	Registerer prometheus.Registerer
}

// App holds the wired collaborators.
type App struct {
	Config   *config.Config
	Drive    *graph.Client
	Pipeline *pipeline.Pipeline
	Syncer   *mailsync.Syncer

	// Index is nil unless Options.Index was set.
	Index vectorindex.Client

	pool      *pgxpool.Pool
	rdb       *redis.Client
	publisher *queue.Publisher
}

// New connects to every configured backend. Close releases them.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	a := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	ts := graph.NewTokenSource(ctx, graph.Credentials{
		TenantID:     cfg.Graph.TenantID,
		ClientID:     cfg.Graph.ClientID,
		ClientSecret: cfg.Graph.ClientSecret,
	})
	a.Drive = graph.NewClient(graph.ClientConfig{
		HTTPClient:        graph.NewHTTPClient(ctx, ts, graphTimeout),
		BaseURL:           cfg.Graph.BaseURL,
		UserEmail:         cfg.Graph.UserEmail,
		RequestsPerSecond: cfg.Graph.RequestsPerSecond,
	})

	var rec *metrics.Recorder
	if opts.Registerer != nil {
		rec = metrics.NewRecorder(opts.Registerer)
	}

	state, err := a.openLedger(ctx, opts.Registerer)
	if err != nil {
		return nil, err
	}

	var filter *dedup.Filter
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		a.rdb = redis.NewClient(opt)
		a.publisher = queue.NewPublisher(a.rdb, cfg.Redis.RecordsQueue)
		if err := a.publisher.Ping(ctx); err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		filter = dedup.NewFilter(a.rdb, dedup.FilterConfig{TTL: cfg.Redis.DedupTTL})
		slog.Info("connected to Redis", "records_queue", cfg.Redis.RecordsQueue)
	}

	if opts.Index {
		if a.Index, err = NewIndex(cfg.VectorIndex); err != nil {
			return nil, err
		}
	}

	a.Pipeline = a.newPipeline(state, filter, rec)

	syncCfg := mailsync.SyncerConfig{
		Mail:       a.Drive,
		Store:      a.Drive,
		Folder:     cfg.Folders.Emails,
		Links:      state,
		Lookback:   cfg.MailSync.Lookback,
		TextLength: cfg.Processing.FilenameTextLength,
	}
	if filter != nil {
		syncCfg.Dedup = filter
	}
	a.Syncer = mailsync.NewSyncer(syncCfg)

	ok = true
	return a, nil
}

// openLedger returns the drive ledger next to the processed documents, or
// the Postgres ledger.
func (a *App) openLedger(ctx context.Context, reg prometheus.Registerer) (stateStore, error) {
	cfg := a.Config
	if cfg.Ledger.Backend != config.LedgerPostgres {
		dir := path.Dir(cfg.Folders.ProcessedDocuments)
		slog.Info("ledger store initialised", "backend", "drive", "path", storage.Join(dir, cfg.Ledger.File))
		return ledger.NewDriveStore(a.Drive, dir, cfg.Ledger.File), nil
	}

	pool, err := pgxpool.New(ctx, cfg.Ledger.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	a.pool = pool
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	slog.Info("connected to PostgreSQL")

	if reg != nil {
		if err := reg.Register(metrics.NewPoolCollector(pool)); err != nil {
			slog.Warn("failed to register ledger pool metrics", "error", err)
		}
	}
	return ledger.NewPostgresStore(ctx, pool)
}

func (a *App) newPipeline(state stateStore, filter *dedup.Filter, rec *metrics.Recorder) *pipeline.Pipeline {
	cfg := a.Config
	records := storage.NewGateway(a.Drive)
	pcfg := cfg.ProcessorConfig()

	pc := pipeline.Config{
		Source: a.Drive,
		Folders: pipeline.Folders{
			Emails:      cfg.Folders.Emails,
			Documents:   cfg.Folders.Documents,
			Attachments: cfg.Folders.Attachments,
		},
		Processors: pipeline.Processors{
			Emails:      processor.NewMessageProcessor(pcfg, records),
			Documents:   processor.NewDocumentProcessor(pcfg, records),
			Attachments: processor.NewAttachmentProcessor(pcfg, records),
		},
		LedgerStore:       state,
		AllowedExtensions: cfg.Processing.AllowedExtensions,
		UploadFolders:     cfg.Upload.Folders,
		UploadBatchSize:   cfg.Upload.BatchSize,
		Metrics:           rec,
		Workers:           cfg.Processing.Workers,
	}
	if a.Index != nil {
		ucfg := upload.Config{
			Records:     records,
			Index:       a.Index,
			Concurrency: cfg.Upload.Concurrency,
		}
		if filter != nil {
			ucfg.Claims = filter
		}
		pc.Uploader = upload.NewGateway(ucfg)
	}
	if a.publisher != nil {
		pc.Notifier = a.publisher
	}
	return pipeline.New(pc)
}

// NewIndex builds the configured vector index client.
func NewIndex(cfg config.VectorIndexConfig) (vectorindex.Client, error) {
	switch cfg.Backend {
	case config.IndexOpenAI:
		return vectorindex.NewOpenAIStore(vectorindex.OpenAIConfig{
			APIKey:         cfg.APIKey,
			VectorStoreID:  cfg.VectorStoreID,
			BaseURL:        cfg.BaseURL,
			ScoreThreshold: cfg.ScoreThreshold,
		}), nil
	case config.IndexLocal:
		store, err := vectorindex.NewLocalStore(vectorindex.LocalConfig{
			Path:           cfg.LocalPath,
			Collection:     cfg.Collection,
			APIKey:         cfg.APIKey,
			Model:          cfg.EmbeddingModel,
			ScoreThreshold: cfg.ScoreThreshold,
		})
		if err != nil {
			return nil, fmt.Errorf("open local vector index: %w", err)
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown vector index backend %q", cfg.Backend)
}

// Ping checks the optional Redis and Postgres connections.
func (a *App) Ping(ctx context.Context) error {
	var errs []error
	if a.publisher != nil {
		if err := a.publisher.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if a.pool != nil {
		if err := a.pool.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close releases connections opened by New.
func (a *App) Close() {
	if a.rdb != nil {
		a.rdb.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
