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

package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SchedulerConfig holds configuration for a Scheduler.
type SchedulerConfig struct {
	Interval time.Duration
	Options  Options

	// BeforeRun runs ahead of every pipeline run, e.g. a mailbox export.
	// Its error is logged and the run proceeds.
	BeforeRun func(ctx context.Context) error
}

// Scheduler runs the pipeline immediately and then on a fixed interval.
type Scheduler struct {
	pipeline  *Pipeline
	interval  time.Duration
	opts      Options
	beforeRun func(ctx context.Context) error

	mu   sync.Mutex
	last *RunStats

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler for p.
func NewScheduler(p *Pipeline, cfg SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	return &Scheduler{
		pipeline:  p,
		interval:  cfg.Interval,
		opts:      cfg.Options,
		beforeRun: cfg.BeforeRun,
	}
}

// Start launches the loop.
func (s *Scheduler) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			s.runOnce(loopCtx)

			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	slog.Info("pipeline scheduler started", "interval", s.interval)
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if s.pipeline.stopped.Load() {
		return
	}
	if s.beforeRun != nil {
		if err := s.beforeRun(ctx); err != nil {
			slog.Error("pre-run step failed", "error", err)
		}
	}
	if ctx.Err() != nil {
		return
	}

	// The run is not bound to ctx: Stop lets the current item finish
	// through Pipeline.Stop instead of cancelling it.
	stats, err := s.pipeline.Run(context.WithoutCancel(ctx), s.opts)
	if err != nil {
		slog.Error("scheduled pipeline run failed", "error", err)
	}
	s.mu.Lock()
	s.last = stats
	s.mu.Unlock()
}

// LastRun returns the stats of the most recent run, or nil.
func (s *Scheduler) LastRun() *RunStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Stop finishes the item in progress, saves the ledger and ends the loop.
func (s *Scheduler) Stop() {
	s.pipeline.Stop()
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}
