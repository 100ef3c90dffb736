// Package metrics exposes EyeD's Prometheus counters and gauges:
// package-level vectors registered at init via promauto, incremented
// inline by the components that own the events they describe.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eyed_gateway_frames_received_total",
			Help: "Frames accepted by the gRPC ingress, by device.",
		},
		[]string{"device_id"},
	)

	FramesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eyed_gateway_frames_rejected_total",
			Help: "Frames rejected at the gRPC ingress, by reason.",
		},
		[]string{"reason"},
	)

	BreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eyed_gateway_breaker_state",
			Help: "Circuit breaker state: 0=closed, 1=half_open, 2=open.",
		},
	)

	AnalyzeRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eyed_engine_analyze_requests_total",
			Help: "Analyze requests handled by the Engine, by outcome.",
		},
		[]string{"outcome"},
	)

	AnalyzeLatencySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eyed_engine_analyze_latency_seconds",
			Help:    "End-to-end analyze latency as measured by the Engine.",
			Buckets: prometheus.DefBuckets,
		},
	)

	GallerySize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eyed_engine_gallery_size",
			Help: "Number of enrolled templates in the active gallery snapshot.",
		},
	)

	CacheQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eyed_cache_queue_depth",
			Help: "Pending enrollments in the Redis write-through queue.",
		},
	)

	DrainBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eyed_drain_batches_total",
			Help: "Batches the drainer has flushed to the database, by outcome.",
		},
		[]string{"outcome"},
	)

	DeadLettered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eyed_drain_dead_lettered_total",
			Help: "Enrollments moved to the dead-letter list after exhausting retries.",
		},
	)

	KeyServiceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eyed_engine_key_service_failures_total",
			Help: "Encrypted-match decisions failed closed because the key service was unreachable or replied with an error, by reason.",
		},
		[]string{"reason"},
	)
)

// BreakerStateValue maps a breaker.State label to the gauge encoding above.
func BreakerStateValue(state string) float64 {
	switch state {
	case "open":
		return 2
	case "half_open":
		return 1
	default:
		return 0
	}
}
