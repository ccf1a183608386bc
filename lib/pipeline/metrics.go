// Copyright 2025 Antfly, Inc.
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

import "github.com/prometheus/client_golang/prometheus"

var (
	docsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "camphr",
			Subsystem: "pipeline",
			Name:      "docs_processed_total",
			Help:      "The total number of documents processed by a pipe.",
		},
		[]string{"pipe"},
	)

	pipeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "camphr",
			Subsystem: "pipeline",
			Name:      "pipe_duration_seconds",
			Help:      "Time taken by a pipe to process one batch.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"pipe"},
	)

	updateOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "camphr",
			Subsystem: "pipeline",
			Name:      "update_ops_total",
			Help:      "The total number of update calls made on a pipe.",
		},
		[]string{"pipe"},
	)

	pipeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "camphr",
			Subsystem: "pipeline",
			Name:      "errors_total",
			Help:      "The total number of failed pipe calls.",
		},
		[]string{"pipe", "op"},
	)

	modelLoadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "camphr",
			Subsystem: "pipeline",
			Name:      "model_load_duration_seconds",
			Help:      "Time taken to load a model.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"model", "type"},
	)

	cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "camphr",
			Subsystem: "pipeline",
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits.",
		},
		[]string{"type"},
	)

	cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "camphr",
			Subsystem: "pipeline",
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses.",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(docsProcessed)
	prometheus.MustRegister(pipeDuration)
	prometheus.MustRegister(updateOps)
	prometheus.MustRegister(pipeErrors)
	prometheus.MustRegister(modelLoadDuration)
	prometheus.MustRegister(cacheHits)
	prometheus.MustRegister(cacheMisses)
}

// RecordModelLoadDuration records how long it took to load a model
func RecordModelLoadDuration(model, modelType string, seconds float64) {
	modelLoadDuration.WithLabelValues(model, modelType).Observe(seconds)
}

// RecordCacheHit increments the cache hit counter
func RecordCacheHit(cacheType string) {
	cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss increments the cache miss counter
func RecordCacheMiss(cacheType string) {
	cacheMisses.WithLabelValues(cacheType).Inc()
}

// WriteMetrics writes every registered metric to path in the Prometheus
// text format, for batch jobs that have no scrape endpoint.
func WriteMetrics(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
