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

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bcem/corpus/internal/clean"
	"github.com/bcem/corpus/internal/naming"
	"github.com/bcem/corpus/internal/processor"
)

// Ledger and vector index backends.
const (
	LedgerDrive    = "drive"
	LedgerPostgres = "postgres"

	IndexOpenAI = "openai"
	IndexLocal  = "local"
)

// GraphConfig holds Microsoft Graph credentials and the drive owner.
type GraphConfig struct {
	TenantID          string
	ClientID          string
	ClientSecret      string
	UserEmail         string
	BaseURL           string
	RequestsPerSecond float64
}

// FolderConfig names the drive folders the pipeline reads and writes.
type FolderConfig struct {
	Emails             string
	Documents          string
	Attachments        string
	ProcessedEmails    string
	ProcessedDocuments string
}

// ProcessingConfig holds validation limits and cleaning toggles.
type ProcessingConfig struct {
	MaxFileSize          int64
	MaxAttachmentSize    int64
	AllowedExtensions    []string
	FilenameTextLength   int
	Workers              int
	RemoveBoilerplate    bool
	RemoveHeadersFooters bool
}

// LedgerConfig selects where processing state is kept.
type LedgerConfig struct {
	Backend     string
	File        string
	DatabaseURL string
}

// UploadConfig controls the vector upload stage.
type UploadConfig struct {
	BatchSize   int
	Concurrency int
	Folders     []string
}

// VectorIndexConfig selects and configures the vector index.
type VectorIndexConfig struct {
	Backend        string
	APIKey         string
	VectorStoreID  string
	BaseURL        string
	LocalPath      string
	Collection     string
	EmbeddingModel string
	ScoreThreshold float64
}

// RedisConfig enables dedup and record notifications when URL is set.
type RedisConfig struct {
	URL          string
	RecordsQueue string
	DedupTTL     time.Duration
}

// MailSyncConfig controls mailbox export.
type MailSyncConfig struct {
	Mailboxes []string
	Lookback  time.Duration
}

// Config holds all configuration for the corpus pipeline.
type Config struct {
	Graph       GraphConfig
	Folders     FolderConfig
	Processing  ProcessingConfig
	Ledger      LedgerConfig
	Upload      UploadConfig
	VectorIndex VectorIndexConfig
	Redis       RedisConfig
	MailSync    MailSyncConfig

	// Server
	Port        int
	RunInterval time.Duration
	LogLevel    string
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Graph struct {
		TenantID          string  `yaml:"tenant_id"`
		ClientID          string  `yaml:"client_id"`
		ClientSecret      string  `yaml:"client_secret"`
		UserEmail         string  `yaml:"user_email"`
		BaseURL           string  `yaml:"base_url"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
	} `yaml:"graph"`
	Folders struct {
		Emails             string `yaml:"emails"`
		Documents          string `yaml:"documents"`
		Attachments        string `yaml:"attachments"`
		ProcessedEmails    string `yaml:"processed_emails"`
		ProcessedDocuments string `yaml:"processed_documents"`
	} `yaml:"folders"`
	Processing struct {
		MaxFileSize          int64    `yaml:"max_file_size"`
		MaxAttachmentSize    int64    `yaml:"max_attachment_size"`
		AllowedExtensions    []string `yaml:"allowed_extensions"`
		FilenameTextLength   int      `yaml:"filename_text_length"`
		Workers              int      `yaml:"workers"`
		RemoveBoilerplate    *bool    `yaml:"remove_boilerplate"`
		RemoveHeadersFooters *bool    `yaml:"remove_headers_footers"`
	} `yaml:"processing"`
	Ledger struct {
		Backend     string `yaml:"backend"`
		File        string `yaml:"file"`
		DatabaseURL string `yaml:"database_url"`
	} `yaml:"ledger"`
	Upload struct {
		BatchSize   int      `yaml:"batch_size"`
		Concurrency int      `yaml:"concurrency"`
		Folders     []string `yaml:"folders"`
	} `yaml:"upload"`
	VectorIndex struct {
		Backend        string  `yaml:"backend"`
		APIKey         string  `yaml:"api_key"`
		VectorStoreID  string  `yaml:"vector_store_id"`
		BaseURL        string  `yaml:"base_url"`
		LocalPath      string  `yaml:"local_path"`
		Collection     string  `yaml:"collection"`
		EmbeddingModel string  `yaml:"embedding_model"`
		ScoreThreshold float64 `yaml:"score_threshold"`
	} `yaml:"vector_index"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Records string `yaml:"records"`
		} `yaml:"queues"`
		DedupTTL string `yaml:"dedup_ttl"`
	} `yaml:"redis"`
	MailSync struct {
		Mailboxes []string `yaml:"mailboxes"`
		Lookback  string   `yaml:"lookback"`
	} `yaml:"mailsync"`
}

// Load reads configuration from path (CONFIG_PATH, then config.yaml, when
// empty) with ${VAR} expansion, and fills gaps from the environment. A
// missing file leaves everything to the environment.
func Load(path string) (*Config, error) {
	path = firstNonEmpty(path, envOrDefault("CONFIG_PATH", "config.yaml"))

	var raw rawConfig
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	default:
		// Expand ${VAR} references in the YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	}

	p := raw.Processing
	cfg := &Config{
		Graph: GraphConfig{
			TenantID:          firstNonEmpty(raw.Graph.TenantID, os.Getenv("TENANT_ID")),
			ClientID:          firstNonEmpty(raw.Graph.ClientID, os.Getenv("CLIENT_ID")),
			ClientSecret:      firstNonEmpty(raw.Graph.ClientSecret, os.Getenv("CLIENT_SECRET")),
			UserEmail:         firstNonEmpty(raw.Graph.UserEmail, os.Getenv("USER_EMAIL")),
			BaseURL:           raw.Graph.BaseURL,
			RequestsPerSecond: raw.Graph.RequestsPerSecond,
		},
		Folders: FolderConfig{
			Emails:             firstNonEmpty(raw.Folders.Emails, "corpus/emails"),
			Documents:          firstNonEmpty(raw.Folders.Documents, "corpus/documents"),
			Attachments:        firstNonEmpty(raw.Folders.Attachments, "corpus/attachments"),
			ProcessedEmails:    firstNonEmpty(raw.Folders.ProcessedEmails, "corpus/processed_emails"),
			ProcessedDocuments: firstNonEmpty(raw.Folders.ProcessedDocuments, "corpus/processed_documents"),
		},
		Processing: ProcessingConfig{
			MaxFileSize:          orDefault(p.MaxFileSize, processor.DefaultMaxFileSize),
			MaxAttachmentSize:    orDefault(p.MaxAttachmentSize, processor.DefaultMaxAttachmentSize),
			AllowedExtensions:    p.AllowedExtensions,
			FilenameTextLength:   orDefault(p.FilenameTextLength, naming.DefaultTextLength),
			Workers:              orDefault(p.Workers, 1),
			RemoveBoilerplate:    p.RemoveBoilerplate == nil || *p.RemoveBoilerplate,
			RemoveHeadersFooters: p.RemoveHeadersFooters == nil || *p.RemoveHeadersFooters,
		},
		Ledger: LedgerConfig{
			Backend:     strings.ToLower(firstNonEmpty(raw.Ledger.Backend, envOrDefault("LEDGER_BACKEND", LedgerDrive))),
			File:        firstNonEmpty(raw.Ledger.File, "processing_state.json"),
			DatabaseURL: firstNonEmpty(raw.Ledger.DatabaseURL, os.Getenv("DATABASE_URL")),
		},
		Upload: UploadConfig{
			BatchSize:   orDefault(raw.Upload.BatchSize, 10),
			Concurrency: orDefault(raw.Upload.Concurrency, 4),
			Folders:     raw.Upload.Folders,
		},
		VectorIndex: VectorIndexConfig{
			Backend:        strings.ToLower(firstNonEmpty(raw.VectorIndex.Backend, IndexOpenAI)),
			APIKey:         firstNonEmpty(raw.VectorIndex.APIKey, os.Getenv("OPENAI_API_KEY")),
			VectorStoreID:  firstNonEmpty(raw.VectorIndex.VectorStoreID, os.Getenv("OPENAI_VECTOR_STORE_ID")),
			BaseURL:        raw.VectorIndex.BaseURL,
			LocalPath:      raw.VectorIndex.LocalPath,
			Collection:     raw.VectorIndex.Collection,
			EmbeddingModel: raw.VectorIndex.EmbeddingModel,
			ScoreThreshold: orDefault(raw.VectorIndex.ScoreThreshold, 0.5),
		},
		Redis: RedisConfig{
			URL:          firstNonEmpty(raw.Redis.URL, os.Getenv("REDIS_URL")),
			RecordsQueue: firstNonEmpty(raw.Redis.Queues.Records, envOrDefault("RECORDS_QUEUE", "records")),
			DedupTTL:     parseDurationOr(raw.Redis.DedupTTL, 7*24*time.Hour),
		},
		MailSync: MailSyncConfig{
			Mailboxes: raw.MailSync.Mailboxes,
			Lookback:  parseDurationOr(raw.MailSync.Lookback, 7*24*time.Hour),
		},
		Port:        envOrDefaultInt("PORT", 8080),
		RunInterval: envOrDefaultDuration("RUN_INTERVAL", time.Hour),
		LogLevel:    envOrDefault("LOG_LEVEL", "info"),
	}

	if len(cfg.Processing.AllowedExtensions) == 0 {
		cfg.Processing.AllowedExtensions = processor.DefaultAllowedExtensions
	}
	if len(cfg.Upload.Folders) == 0 {
		cfg.Upload.Folders = []string{cfg.Folders.ProcessedEmails, cfg.Folders.ProcessedDocuments}
	}
	if len(cfg.MailSync.Mailboxes) == 0 && cfg.Graph.UserEmail != "" {
		cfg.MailSync.Mailboxes = []string{cfg.Graph.UserEmail}
	}
	return cfg, nil
}

// Validate checks the settings every run needs. The vector index settings
// are only required when the upload stage will run.
func (c *Config) Validate(requireUpload bool) error {
	var errs []error
	missing := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}

	missing("graph.tenant_id (TENANT_ID)", c.Graph.TenantID)
	missing("graph.client_id (CLIENT_ID)", c.Graph.ClientID)
	missing("graph.client_secret (CLIENT_SECRET)", c.Graph.ClientSecret)
	missing("graph.user_email (USER_EMAIL)", c.Graph.UserEmail)

	switch c.Ledger.Backend {
	case LedgerDrive:
	case LedgerPostgres:
		missing("ledger.database_url (DATABASE_URL)", c.Ledger.DatabaseURL)
	default:
		errs = append(errs, fmt.Errorf("unknown ledger backend %q", c.Ledger.Backend))
	}

	if n := c.Processing.FilenameTextLength; n < naming.DefaultTextLength || n > naming.MaxTextLength {
		errs = append(errs, fmt.Errorf("processing.filename_text_length must be between %d and %d, got %d",
			naming.DefaultTextLength, naming.MaxTextLength, n))
	}
	if c.Processing.Workers < 1 {
		errs = append(errs, fmt.Errorf("processing.workers must be at least 1, got %d", c.Processing.Workers))
	}

	if requireUpload {
		switch c.VectorIndex.Backend {
		case IndexOpenAI:
			missing("vector_index.api_key (OPENAI_API_KEY)", c.VectorIndex.APIKey)
			missing("vector_index.vector_store_id (OPENAI_VECTOR_STORE_ID)", c.VectorIndex.VectorStoreID)
		case IndexLocal:
			missing("vector_index.api_key (OPENAI_API_KEY)", c.VectorIndex.APIKey)
		default:
			errs = append(errs, fmt.Errorf("unknown vector index backend %q", c.VectorIndex.Backend))
		}
	}
	return errors.Join(errs...)
}

// ProcessorConfig derives the processors' settings.
func (c *Config) ProcessorConfig() processor.Config {
	return processor.Config{
		MaxFileSize:       c.Processing.MaxFileSize,
		MaxAttachmentSize: c.Processing.MaxAttachmentSize,
		AllowedExtensions: c.Processing.AllowedExtensions,
		TextLength:        c.Processing.FilenameTextLength,
		Clean: clean.Options{
			StripBoilerplate:     c.Processing.RemoveBoilerplate,
			RemoveHeadersFooters: c.Processing.RemoveHeadersFooters,
		},
		EmailRecords:      c.Folders.ProcessedEmails,
		DocumentRecords:   c.Folders.ProcessedDocuments,
		AttachmentsFolder: c.Folders.Attachments,
		Now:               time.Now,
	}
}

func orDefault[T int | int64 | float64](v, fallback T) T {
	if v <= 0 {
		return fallback
	}
	return v
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil && d > 0 {
		return d
	}
	return fallback
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	return parseDurationOr(os.Getenv(key), fallback)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
