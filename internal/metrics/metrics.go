// SPDX-License-Identifier: MIT

// Package metrics holds the Prometheus collectors for the daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "copernicus"

var (
	// TasksTotal counts task submissions by kind and final status.
	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Total tasks by kind and terminal status",
		},
		[]string{"kind", "status"}, // kind: transcript|evaluation|compliance, status: completed|failed
	)

	// TaskDuration observes wall-clock task duration.
	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Task duration from start to terminal state",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68min
		},
		[]string{"kind"},
	)

	// ActiveTasks tracks non-terminal tasks currently registered.
	ActiveTasks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_tasks",
			Help:      "Number of tasks currently pending or running",
		},
	)

	// TaskEvictions counts in-memory registry evictions.
	TaskEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_evictions_total",
			Help:      "Total terminal tasks evicted from the in-memory registry",
		},
	)

	// StageDuration observes per-pipeline-stage duration.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage execution time",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"stage"},
	)

	// LLMRequests counts chat calls by outcome.
	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total LLM chat requests by outcome",
		},
		[]string{"outcome"}, // ok|transport_error|server_error
	)

	// LLMRetries counts retry attempts.
	LLMRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_retries_total",
			Help:      "Total LLM retry attempts",
		},
	)

	// LLMInFlight tracks calls currently holding a concurrency permit.
	LLMInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "llm_in_flight",
			Help:      "LLM chat calls currently in flight",
		},
	)

	// ASRSeconds accumulates audio seconds recognized.
	ASRSeconds = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asr_audio_seconds_total",
			Help:      "Total seconds of audio sent through ASR",
		},
	)

	// Violations counts compliance violations surviving the filter chain.
	Violations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compliance_violations_total",
			Help:      "Compliance violations by severity after filtering",
		},
		[]string{"severity"},
	)

	// ModelsLoaded tracks GPU models currently resident, by kind.
	ModelsLoaded = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "models_loaded",
			Help:      "GPU models currently loaded, by kind",
		},
		[]string{"kind"},
	)

	// ModelLoadDuration observes model load time by kind.
	ModelLoadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_load_duration_seconds",
			Help:      "Time spent loading a GPU model",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"kind"},
	)

	// HashDedupHits counts duplicate uploads short-circuited by the hash index.
	HashDedupHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hash_dedup_hits_total",
			Help:      "Uploads answered from the content-hash index",
		},
	)
)
