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

// Corpus pipeline service
//
// Entry point for the long-running pipeline service. It:
//  1. Loads configuration from config.yaml, the environment and .env
//  2. Connects to the drive, the ledger backend and (optionally) Redis
//  3. Exports configured mailboxes, then runs the pipeline, on RUN_INTERVAL
//  4. Serves /health and /metrics
//  5. Handles graceful shutdown on SIGTERM/SIGINT, letting the current
//     item finish and the ledger be saved
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bcem/corpus/internal/app"
	"github.com/bcem/corpus/internal/config"
	"github.com/bcem/corpus/internal/pipeline"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	// --- Load Configuration ---
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}

	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	slog.Info("starting corpus pipeline service")

	if err := cfg.Validate(true); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("configuration loaded",
		"ledger_backend", cfg.Ledger.Backend,
		"index_backend", cfg.VectorIndex.Backend,
		"run_interval", cfg.RunInterval,
		"mailboxes", len(cfg.MailSync.Mailboxes),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// --- Wire collaborators ---
	a, err := app.New(ctx, cfg, app.Options{Index: true, Registerer: registry})
	if err != nil {
		slog.Error("failed to initialise pipeline", "error", err)
		os.Exit(1)
	}

	// --- Scheduler ---
	sched := pipeline.NewScheduler(a.Pipeline, pipeline.SchedulerConfig{
		Interval: cfg.RunInterval,
		BeforeRun: func(ctx context.Context) error {
			if len(cfg.MailSync.Mailboxes) == 0 {
				return nil
			}
			_, err := a.Syncer.Sync(ctx, cfg.MailSync.Mailboxes)
			return err
		},
	})
	sched.Start(ctx)

	// --- Health Check and Metrics Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := a.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
		json.NewEncoder(w).Encode(healthBody(sched.LastRun()))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// --- Graceful Shutdown ---
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig)
		sched.Stop() // finishes the current item and saves the ledger
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		a.Close()
	}()

	slog.Info("corpus pipeline service listening", "addr", addr)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("corpus pipeline service stopped")
}

type lastRun struct {
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Errors      int       `json:"errors"`
	Interrupted bool      `json:"interrupted"`
}

func healthBody(stats *pipeline.RunStats) map[string]any {
	body := map[string]any{"status": "healthy"}
	if stats != nil {
		body["last_run"] = lastRun{
			StartTime:   stats.StartTime,
			EndTime:     stats.EndTime,
			Errors:      len(stats.Errors),
			Interrupted: stats.Interrupted,
		}
	}
	return body
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
