package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Duplicate detection metrics
var (
	DuplicateChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsync_duplicate_checks_total",
			Help: "Total number of duplicate checks by outcome",
		},
		[]string{"result"}, // exact, fuzzy, unique, error, invalid
	)

	DuplicateCheckDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailsync_duplicate_check_duration_seconds",
			Help:    "Duration of duplicate checks in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
		[]string{"result"},
	)

	DuplicateConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mailsync_duplicate_confidence",
			Help:    "Confidence of fuzzy duplicate verdicts",
			Buckets: []float64{0.85, 0.9, 0.95, 0.99, 1.0},
		},
	)

	LookupRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailsync_lookup_retries_total",
			Help: "Total number of retried store lookups during duplicate detection",
		},
	)

	ExactMatchCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsync_exact_match_cache_total",
			Help: "Exact message id cache lookups by outcome",
		},
		[]string{"outcome"}, // hit, miss
	)
)

// Ingestion metrics
var (
	IngestedEmailsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsync_ingested_emails_total",
			Help: "Total number of emails processed by ingestion",
		},
		[]string{"status"}, // stored, stored_duplicate, skipped_duplicate, failed
	)

	MailboxSyncsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsync_mailbox_syncs_total",
			Help: "Total number of mailbox sync runs",
		},
		[]string{"source", "status"},
	)
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsync_http_requests_total",
			Help: "Total number of HTTP requests by route and status code",
		},
		[]string{"method", "route", "code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailsync_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// Background ingestion metrics
var (
	IngestQueueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mailsync_ingest_queue_length",
			Help: "Number of emails waiting in the background ingest queue",
		},
	)

	IngestQueueRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailsync_ingest_queue_rejected_total",
			Help: "Total number of emails rejected because the ingest queue was full",
		},
	)

	RetentionPurgedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailsync_retention_purged_total",
			Help: "Total number of stored emails removed by the retention sweep",
		},
	)
)
