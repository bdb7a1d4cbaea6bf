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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// TestLoad_YAMLWithExpansion verifies that ${VAR} references and file values
// are applied.
func TestLoad_YAMLWithExpansion(t *testing.T) {
	t.Setenv("TEST_SECRET", "s3cret")
	path := writeConfig(t, `
graph:
  tenant_id: tenant-1
  client_id: client-1
  client_secret: ${TEST_SECRET}
  user_email: ops@example.com
folders:
  emails: data/emails
processing:
  filename_text_length: 30
  workers: 4
  remove_boilerplate: false
ledger:
  backend: postgres
  database_url: postgres://localhost/corpus
vector_index:
  backend: local
  score_threshold: 0.7
redis:
  url: redis://localhost:6379/1
  dedup_ttl: 48h
mailsync:
  mailboxes: [a@example.com, b@example.com]
  lookback: 24h
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Graph.ClientSecret != "s3cret" {
		t.Errorf("client secret = %q, want expanded value", cfg.Graph.ClientSecret)
	}
	if cfg.Folders.Emails != "data/emails" || cfg.Folders.Documents != "corpus/documents" {
		t.Errorf("unexpected folders: %+v", cfg.Folders)
	}
	if cfg.Processing.FilenameTextLength != 30 || cfg.Processing.Workers != 4 {
		t.Errorf("unexpected processing: %+v", cfg.Processing)
	}
	if cfg.Processing.RemoveBoilerplate || !cfg.Processing.RemoveHeadersFooters {
		t.Errorf("unexpected cleaning toggles: %+v", cfg.Processing)
	}
	if cfg.Ledger.Backend != LedgerPostgres {
		t.Errorf("ledger backend = %q", cfg.Ledger.Backend)
	}
	if cfg.VectorIndex.ScoreThreshold != 0.7 {
		t.Errorf("score threshold = %v", cfg.VectorIndex.ScoreThreshold)
	}
	if cfg.Redis.DedupTTL != 48*time.Hour || cfg.MailSync.Lookback != 24*time.Hour {
		t.Errorf("unexpected durations: ttl=%v lookback=%v", cfg.Redis.DedupTTL, cfg.MailSync.Lookback)
	}
	if len(cfg.MailSync.Mailboxes) != 2 {
		t.Errorf("mailboxes = %v", cfg.MailSync.Mailboxes)
	}
	if err := cfg.Validate(false); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

// TestLoad_EnvironmentOnly verifies defaults and environment fallbacks when
// there is no config file.
func TestLoad_EnvironmentOnly(t *testing.T) {
	t.Setenv("TENANT_ID", "t")
	t.Setenv("CLIENT_ID", "c")
	t.Setenv("CLIENT_SECRET", "s")
	t.Setenv("USER_EMAIL", "me@example.com")
	t.Setenv("OPENAI_API_KEY", "sk")
	t.Setenv("RUN_INTERVAL", "30m")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Processing.MaxFileSize != 50<<20 || cfg.Processing.MaxAttachmentSize != 25<<20 {
		t.Errorf("unexpected size limits: %+v", cfg.Processing)
	}
	if cfg.Processing.FilenameTextLength != 20 || cfg.Upload.BatchSize != 10 {
		t.Errorf("unexpected defaults: %+v %+v", cfg.Processing, cfg.Upload)
	}
	if len(cfg.Upload.Folders) != 2 || cfg.Upload.Folders[0] != cfg.Folders.ProcessedEmails {
		t.Errorf("upload folders = %v", cfg.Upload.Folders)
	}
	if len(cfg.MailSync.Mailboxes) != 1 || cfg.MailSync.Mailboxes[0] != "me@example.com" {
		t.Errorf("mailboxes = %v", cfg.MailSync.Mailboxes)
	}
	if cfg.RunInterval != 30*time.Minute || cfg.Port != 8080 {
		t.Errorf("server settings: interval=%v port=%d", cfg.RunInterval, cfg.Port)
	}

	if err := cfg.Validate(false); err != nil {
		t.Errorf("Validate(false): %v", err)
	}
	err = cfg.Validate(true)
	if err == nil || !strings.Contains(err.Error(), "vector_store_id") {
		t.Errorf("Validate(true) = %v, want missing vector store id", err)
	}
}

// TestValidate verifies that every problem is reported at once.
func TestValidate(t *testing.T) {
	cfg := &Config{
		Ledger:     LedgerConfig{Backend: LedgerPostgres},
		Processing: ProcessingConfig{FilenameTextLength: 60, Workers: 0},
	}
	err := cfg.Validate(false)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"TENANT_ID", "CLIENT_SECRET", "USER_EMAIL", "DATABASE_URL", "filename_text_length", "workers"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

// TestProcessorConfig verifies the mapping onto processor settings.
func TestProcessorConfig(t *testing.T) {
	cfg := &Config{
		Folders:    FolderConfig{ProcessedEmails: "pe", ProcessedDocuments: "pd", Attachments: "att"},
		Processing: ProcessingConfig{MaxFileSize: 10, FilenameTextLength: 25, RemoveBoilerplate: true},
	}
	pc := cfg.ProcessorConfig()
	if pc.EmailRecords != "pe" || pc.DocumentRecords != "pd" || pc.AttachmentsFolder != "att" {
		t.Errorf("unexpected folders: %+v", pc)
	}
	if pc.TextLength != 25 || pc.MaxFileSize != 10 || !pc.Clean.StripBoilerplate || pc.Clean.RemoveHeadersFooters {
		t.Errorf("unexpected settings: %+v", pc)
	}
}
