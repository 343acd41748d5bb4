// Package metrics 提供 Prometheus 指标采集功能
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "story_summary"
)

var (
	// 业务指标 - 摘要运行
	SummaryRunTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "total",
			Help:      "Total number of summary runs",
		},
		[]string{"status"},
	)

	SummaryRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Summary run duration in seconds",
			Buckets:   []float64{10, 60, 300, 900, 1800, 3600, 7200, 21600},
		},
		[]string{"status"},
	)

	SummaryBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "batches_total",
			Help:      "Total number of chapter batches summarized",
		},
		[]string{"mode"}, // mode: first/incremental
	)

	SummaryConsolidationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "consolidations_total",
			Help:      "Total number of long summary consolidations",
		},
	)

	SummaryChaptersSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "chapters_skipped_total",
			Help:      "Chapter files skipped because they could not be read",
		},
	)

	// 配额指标
	QuotaWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "quota",
			Name:      "wait_duration_seconds",
			Help:      "Time spent waiting on request budgets",
			Buckets:   []float64{.1, 1, 5, 15, 30, 60, 300, 3600},
		},
		[]string{"reason"}, // reason: window/daily/backoff
	)

	QuotaRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quota",
			Name:      "retries_total",
			Help:      "Total number of retries after quota errors",
		},
		[]string{"outcome"}, // outcome: retry/exhausted
	)

	QuotaPerMinute = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "quota",
			Name:      "per_minute",
			Help:      "Current per-minute request quota",
		},
	)

	// LLM 指标
	LLMTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_used_total",
			Help:      "Total tokens used for LLM calls",
		},
		[]string{"provider", "model", "type"}, // type: prompt/completion
	)

	LLMCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "call_duration_seconds",
			Help:      "LLM call duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "model"},
	)

	LLMCallTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "call_total",
			Help:      "Total number of LLM calls",
		},
		[]string{"workflow", "provider", "model", "status"},
	)

	// 队列指标
	RedisStreamProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "stream_processed_total",
			Help:      "Total number of Redis stream messages processed",
		},
		[]string{"stream", "status"},
	)
)
