package metrics

import (
	"github.com/lyricvid/render-worker/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ClientMetrics is the shared shape for any outbound-call client (retrieve
// API, status callback): retry count, failure count and request duration,
// all broken down by host.
type ClientMetrics struct {
	RetryCount      *prometheus.GaugeVec
	FailureCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// RenderWorkerMetrics is the process-wide metric registry described in the
// observability component: per-clip gauges/histograms/counters, alignment
// gauges, and the outbound client metrics for the retrieve and status-update
// clients.
type RenderWorkerMetrics struct {
	Version prometheus.Gauge

	JobsInFlight    prometheus.Gauge
	ClipInFlight    prometheus.Gauge
	ClipDurationMs  *prometheus.HistogramVec
	ClipFailures    *prometheus.CounterVec
	ClipPlaceholder prometheus.Counter

	AlignmentAvgDeltaMs prometheus.Gauge
	AlignmentMaxDeltaMs prometheus.Gauge

	RetrieveClient ClientMetrics
	StatusClient   ClientMetrics
}

func NewMetrics() *RenderWorkerMetrics {
	m := &RenderWorkerMetrics{
		Version: promauto.NewGauge(prometheus.GaugeOpts{
			Name:        "render_worker_version",
			Help:        "Fixed at 1, labeled with the running build's version.",
			ConstLabels: prometheus.Labels{"version": config.Version},
		}),

		JobsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "render_jobs_in_flight",
			Help: "Number of render jobs currently being worked on by this process",
		}),

		ClipInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "render_clip_inflight",
			Help: "Current number of concurrently-running clip tasks",
		}),
		ClipDurationMs: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "render_clip_duration_ms",
			Help:    "Probed media duration of a verified clip, in milliseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		}, []string{"state", "source_type"}),
		ClipFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "render_clip_failures_total",
			Help: "Number of clip task failures, broken down by reason",
		}, []string{"reason"}),
		ClipPlaceholder: promauto.NewCounter(prometheus.CounterOpts{
			Name: "render_clip_placeholder_total",
			Help: "Number of clip tasks that fell all the way through to the placeholder asset",
		}),

		AlignmentAvgDeltaMs: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "render_alignment_avg_delta_ms",
			Help: "Average per-line alignment delta for the most recently completed job",
		}),
		AlignmentMaxDeltaMs: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "render_alignment_max_delta_ms",
			Help: "Max per-line alignment delta for the most recently completed job",
		}),

		RetrieveClient: ClientMetrics{
			RetryCount: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "retrieve_client_retry_count",
				Help: "Number of retried retrieve-service requests",
			}, []string{"host"}),
			FailureCount: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "retrieve_client_failure_count",
				Help: "Total number of failed retrieve-service requests",
			}, []string{"host", "status_code"}),
			RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "retrieve_client_request_duration_seconds",
				Help:    "Time taken for retrieve-service requests",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			}, []string{"host"}),
		},

		StatusClient: ClientMetrics{
			RetryCount: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "status_client_retry_count",
				Help: "Number of retried job status callbacks",
			}, []string{"host"}),
			FailureCount: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "status_client_failure_count",
				Help: "Total number of failed job status callbacks",
			}, []string{"host", "status_code"}),
			RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "status_client_request_duration_seconds",
				Help:    "Time taken to send job status callbacks",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			}, []string{"host"}),
		},
	}

	m.Version.Set(1)

	return m
}

var Metrics = NewMetrics()
