package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorials_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tutorials_http_request_duration_seconds",
			Help:    "Time taken to serve HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	TutorialOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorials_operations_total",
			Help: "Total number of tutorial store operations",
		},
		[]string{"op", "result"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorials_cache_lookups_total",
			Help: "Tutorial cache lookups by outcome",
		},
		[]string{"outcome"},
	)

	EventPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tutorials_event_publish_failures_total",
			Help: "Total number of change events that could not be published",
		},
	)

	BootstrapState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tutorials_bootstrap_state",
			Help: "Current startup state (0=start 1=configuring 2=connecting 3=mounting 4=listening 5=draining 6=terminated)",
		},
	)
)
