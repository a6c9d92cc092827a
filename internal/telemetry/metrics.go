/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SamplesComputed counts discretization calls issued by the scheduler.
	SamplesComputed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pathfeed_samples_computed_total",
		Help: "Total samples handed to the discretization engine",
	})

	// SampleComputeDuration tracks per-sample discretization latency.
	SampleComputeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pathfeed_sample_compute_duration_seconds",
		Help:    "Discretization latency per sample in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~800ms
	})

	// PublishDuration tracks wall-clock time of complete publish runs.
	PublishDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pathfeed_publish_duration_seconds",
		Help:    "Wall-clock duration of publish runs in seconds",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	// PublishRuns counts publish runs by outcome.
	PublishRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pathfeed_publish_runs_total",
		Help: "Publish runs by outcome",
	}, []string{"outcome"}) // done, failed, aborted

	// PublishDegraded counts runs whose average compute time reached the control period.
	PublishDegraded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pathfeed_publish_degraded_total",
		Help: "Publish runs whose average sample compute time was at least the control period",
	})

	// Watermark is the current target count of computed samples.
	Watermark = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pathfeed_watermark_samples",
		Help: "Target number of samples that should already be computed",
	})

	// BufferedLead is how many samples the publisher is ahead of real time.
	BufferedLead = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pathfeed_buffered_lead_samples",
		Help: "Samples computed beyond what the reference rate has consumed",
	})

	// FeedState reports 1 for the current feed state and 0 for the others.
	FeedState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pathfeed_feed_state",
		Help: "Current sample feed state",
	}, []string{"state"})

	// CommandsTotal counts command surface requests.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pathfeed_commands_total",
		Help: "Command surface requests by command and result",
	}, []string{"command", "result"})

	// CollaboratorCallDuration tracks gRPC calls to the planning server.
	CollaboratorCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pathfeed_collaborator_call_duration_seconds",
		Help:    "Planning server call latency in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	}, []string{"method"})

	// LeaderStatus is 1 while this instance holds the publisher lease.
	LeaderStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pathfeed_leader",
		Help: "1 if this instance is the active publisher",
	})

	// DatabaseQueryDuration tracks run history query latency.
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pathfeed_database_query_duration_seconds",
		Help:    "Database query duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	}, []string{"operation", "table"})

	// DatabaseErrorsTotal counts failed database operations.
	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pathfeed_database_errors_total",
		Help: "Database errors by operation",
	}, []string{"operation", "error_type"})

	// DatabaseConnectionsActive tracks open database connections.
	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pathfeed_database_connections_active",
		Help: "Open database connections",
	})

	// APIRequestDuration tracks HTTP request latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pathfeed_api_request_duration_seconds",
		Help:    "HTTP request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	// APIRequestsTotal counts HTTP requests.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pathfeed_api_requests_total",
		Help: "HTTP requests",
	}, []string{"method", "endpoint", "status"})

	// APIActiveConnections tracks in-flight HTTP requests.
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pathfeed_api_active_connections",
		Help: "In-flight HTTP requests",
	})

	// APIWebSocketConnections tracks open event stream connections.
	APIWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pathfeed_api_websocket_connections",
		Help: "Open event stream websocket connections",
	})
)

// SetFeedState flips the state gauge to the given state.
func SetFeedState(current string, all ...string) {
	for _, s := range all {
		if s == current {
			FeedState.WithLabelValues(s).Set(1)
		} else {
			FeedState.WithLabelValues(s).Set(0)
		}
	}
}

// Handler exposes metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
