package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsProcessed tracks processed webhook events by outcome
	EventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewards_events_processed_total",
			Help: "The total number of webhook events processed",
		},
		[]string{"status"}, // applied, duplicate, skipped, error
	)

	// PointsCredited tracks the total reward points credited to users
	PointsCredited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rewards_points_credited_total",
		Help: "The total number of reward points credited",
	})

	// WebhookDuration tracks time taken to handle webhook requests
	WebhookDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rewards_webhook_duration_seconds",
		Help:    "Time taken to handle a webhook request in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
	})

	// DatabaseErrors tracks ledger transactions rejected by the database
	DatabaseErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rewards_database_errors_total",
		Help: "The total number of ledger database operations that failed",
	})

	// HTTPRequestsTotal tracks HTTP requests by route and status code
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewards_http_requests_total",
			Help: "The total number of HTTP requests",
		},
		[]string{"route", "code"},
	)
)
