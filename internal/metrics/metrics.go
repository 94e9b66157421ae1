// Package metrics declares the process-wide Prometheus collectors shared by
// the HTTP server and the outbox publisher.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "accounting_http_requests_total",
		Help: "HTTP requests by method, route pattern and status code",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "accounting_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"method", "route"})

	EventsPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "accounting_outbox_published_total",
		Help: "Outbox events delivered and marked published",
	})

	EventsPublishFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "accounting_outbox_publish_failures_total",
		Help: "Outbox delivery attempts that failed",
	})

	OutboxPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "accounting_outbox_pending",
		Help: "Unpublished outbox rows",
	})

	IdempotentReplays = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "accounting_idempotent_replays_total",
		Help: "Write requests answered from a stored idempotency record",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		EventsPublished,
		EventsPublishFailed,
		OutboxPending,
		IdempotentReplays,
	)
}
