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

// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "corpus"

// Item outcomes.
const (
	OutcomeProcessed = "processed"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// Recorder updates run metrics. A nil *Recorder records nothing.
type Recorder struct {
	items    *prometheus.CounterVec
	uploads  *prometheus.CounterVec
	errors   *prometheus.CounterVec
	duration prometheus.Histogram
	lastRun  prometheus.Gauge
}

// NewRecorder creates the collectors and registers them with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_total",
			Help:      "Source items handled, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Records sent to the vector index, by outcome.",
		}, []string{"outcome"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_errors_total",
			Help:      "Errors added to run summaries, by category.",
		}, []string{"category"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of pipeline runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last pipeline run finished.",
		}),
	}
	reg.MustRegister(r.items, r.uploads, r.errors, r.duration, r.lastRun)
	return r
}

// Item counts one source item.
func (r *Recorder) Item(kind, outcome string) {
	if r == nil {
		return
	}
	r.items.WithLabelValues(kind, outcome).Inc()
}

// Uploads counts the outcome of an upload stage.
func (r *Recorder) Uploads(success, failed int) {
	if r == nil {
		return
	}
	r.uploads.WithLabelValues("success").Add(float64(success))
	r.uploads.WithLabelValues("failed").Add(float64(failed))
}

// RunError counts one summary error.
func (r *Recorder) RunError(category string) {
	if r == nil {
		return
	}
	r.errors.WithLabelValues(category).Inc()
}

// RunFinished records a completed run.
func (r *Recorder) RunFinished(end time.Time, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.duration.Observe(elapsed.Seconds())
	r.lastRun.Set(float64(end.Unix()))
}

// PoolCollector reports pgx pool statistics of the ledger database.
type PoolCollector struct {
	pool     *pgxpool.Pool
	total    *prometheus.Desc
	idle     *prometheus.Desc
	acquired *prometheus.Desc
}

// NewPoolCollector creates a collector reading pool on every scrape.
func NewPoolCollector(pool *pgxpool.Pool) *PoolCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "ledger_pool", name), help, nil, nil)
	}
	return &PoolCollector{
		pool:     pool,
		total:    desc("total_conns", "Connections open in the ledger pool."),
		idle:     desc("idle_conns", "Idle connections in the ledger pool."),
		acquired: desc("acquired_conns", "Connections currently acquired from the ledger pool."),
	}
}

func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.total
	ch <- c.idle
	ch <- c.acquired
}

func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	if c.pool == nil {
		return
	}
	s := c.pool.Stat()
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(s.TotalConns()))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.acquired, prometheus.GaugeValue, float64(s.AcquiredConns()))
}
