package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BookingsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookings_created_total",
		Help: "Total number of bookings created",
	})

	BookingsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookings_failed_total",
		Help: "Total number of failed booking creations",
	}, []string{"reason"})

	BookingsConfirmedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookings_confirmed_total",
		Help: "Total number of bookings confirmed by the PMS",
	})

	BookingsCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookings_cancelled_total",
		Help: "Total number of cancelled bookings",
	})

	IdempotentReplaysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "idempotent_replays_total",
		Help: "Total number of booking requests served from the idempotency cache",
	})

	TokenRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pms_token_refresh_total",
		Help: "Total number of PMS token refresh attempts",
	}, []string{"result"})

	PMSRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pms_requests_total",
		Help: "Total number of outbound PMS requests",
	}, []string{"method", "status"})

	PMSRequestLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pms_request_latency_seconds",
		Help:    "Latency of outbound PMS requests",
		Buckets: prometheus.DefBuckets,
	})

	ProxyRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "admin_proxy_requests_total",
		Help: "Total number of admin proxy requests",
	}, []string{"outcome"})

	WebhooksReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhooks_received_total",
		Help: "Total number of inbound webhook requests",
	}, []string{"outcome"})

	WebhooksProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhooks_processed_total",
		Help: "Total number of webhook events processed",
	}, []string{"result"})

	WebhooksDeadLetteredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhooks_dead_lettered_total",
		Help: "Total number of webhook events parked in the dead letter state",
	})

	WebhookProcessingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "webhook_processing_latency_seconds",
		Help:    "Latency of webhook event handlers",
		Buckets: prometheus.DefBuckets,
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
