// Package metrics holds the Prometheus collectors of the archive service and
// the HTTP endpoint that exposes them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Archive rebuilds
	RebuildsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bowtie_rebuilds_total",
			Help: "Total number of archive rebuilds that completed",
		},
	)

	RebuildFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bowtie_rebuild_failures_total",
			Help: "Total number of archive rebuilds that failed",
		},
	)

	RebuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bowtie_rebuild_duration_seconds",
			Help:    "Duration of archive rebuilds in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	PagesWritten = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bowtie_pages",
			Help: "Number of pages produced by the last rebuild",
		},
	)

	// Media derivation
	TranscodesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bowtie_transcodes_total",
			Help: "Total number of media derivations by variant and result",
		},
		[]string{"variant", "result"}, // result: "ok", "error"
	)

	// Publishing
	UploadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bowtie_uploads_total",
			Help: "Total number of files uploaded to the publishing remote",
		},
	)

	UploadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bowtie_upload_bytes_total",
			Help: "Total number of bytes uploaded to the publishing remote",
		},
	)

	PublisherBreakerOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bowtie_publisher_breaker_open",
			Help: "1 while the publishing circuit breaker is open",
		},
	)

	// Storage
	StoreRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bowtie_store_retries_total",
			Help: "Total number of SQLite statements retried after lock contention",
		},
	)

	// Ingestion
	EntriesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bowtie_entries_ingested_total",
			Help: "Total number of entries written by ingestion source",
		},
		[]string{"source"}, // "telegram", "feed"
	)

	MessagesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bowtie_messages_rejected_total",
			Help: "Total number of incoming messages rejected by reason",
		},
		[]string{"reason"}, // "unauthorized", "too_big", "unsupported", "animated_sticker"
	)
)
