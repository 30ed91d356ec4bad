// Package metrics holds the agent's Prometheus instrumentation. All
// collectors are registered with the default registry and served by the
// status server's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Queue kind labels.
const (
	KindData = "data"
	KindPing = "ping"
)

// Request outcome labels.
const (
	OutcomeOK     = "ok"
	OutcomeError  = "error"
	OutcomeLocked = "locked"
)

var (
	// LinesReceived counts stream lines routed into a queue.
	LinesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drover_stream_lines_total",
		Help: "Stream lines routed into a dispatch queue.",
	}, []string{"kind"})

	// LinesDropped counts stream lines discarded because a queue was full.
	LinesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drover_stream_dropped_total",
		Help: "Stream lines dropped due to a full dispatch queue.",
	}, []string{"kind"})

	// QueueDepth tracks the current number of queued items per queue.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "drover_queue_depth",
		Help: "Items currently waiting in a dispatch queue.",
	}, []string{"kind"})

	// RequestsTotal counts executed requests by outcome.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drover_requests_total",
		Help: "Requests executed by the worker pool, by outcome.",
	}, []string{"outcome"})

	// RequestDuration observes wall-clock execution time per request.
	RequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "drover_request_duration_seconds",
		Help:    "Wall-clock duration of request execution.",
		Buckets: prometheus.DefBuckets,
	})
)
