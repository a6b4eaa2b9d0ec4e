// Package metrics provides Prometheus metrics for modelctl.
// Counters, gauges and histograms for blob transfers, copy operations and
// the blob server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Blob transfers ─────────────────────────────────────────────────────────

// BlobsTotal counts per-blob outcomes by topology.
var BlobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "modelctl",
	Name:      "blobs_total",
	Help:      "Blobs handled, by topology and outcome (skipped, transferred, failed).",
}, []string{"topology", "outcome"})

// BytesTransferred counts blob bytes moved by topology.
var BytesTransferred = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "modelctl",
	Name:      "bytes_transferred_total",
	Help:      "Blob bytes moved to a destination.",
}, []string{"topology"})

// TransferDuration tracks how long each transferred blob took.
var TransferDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "modelctl",
	Name:      "transfer_duration_seconds",
	Help:      "Per-blob transfer duration in seconds.",
	Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
}, []string{"topology"})

// TransfersActive tracks blobs currently in flight.
var TransfersActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "modelctl",
	Name:      "transfers_active",
	Help:      "Number of blob transfers in progress.",
})

// RelayPeakBytes records the relay buffer high-water mark of each
// remote-to-remote transfer.
var RelayPeakBytes = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "modelctl",
	Name:      "relay_peak_bytes",
	Help:      "Highest number of bytes resident in the relay buffer during one transfer.",
	Buckets:   prometheus.ExponentialBuckets(64*1024, 4, 8),
})

// ResolverAttempts counts blob source attempts by result.
var ResolverAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "modelctl",
	Name:      "resolver_attempts_total",
	Help:      "Blob source lookups, by result (ok, not_found, error).",
}, []string{"result"})

// ─── Copies ─────────────────────────────────────────────────────────────────

// CopiesTotal counts finished copy operations by status.
var CopiesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "modelctl",
	Name:      "copies_total",
	Help:      "Copy operations, by final status.",
}, []string{"status"})

// CreateFailures counts destinations that did not confirm model creation.
var CreateFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "modelctl",
	Name:      "create_failures_total",
	Help:      "Model creations whose status stream did not end in success.",
})

// ─── Blob server ────────────────────────────────────────────────────────────

// ServerRequests counts blob server requests by route and status code.
var ServerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "modelctl",
	Name:      "server_requests_total",
	Help:      "Blob server requests, by route and status code.",
}, []string{"route", "code"})

// ServerUploadBytes counts bytes accepted by the blob server.
var ServerUploadBytes = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "modelctl",
	Name:      "server_upload_bytes_total",
	Help:      "Blob bytes accepted by the blob server.",
})

// DigestMismatches counts uploads or downloads rejected for bad content.
var DigestMismatches = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "modelctl",
	Name:      "digest_mismatches_total",
	Help:      "Blobs rejected because their content did not hash to their digest.",
})
