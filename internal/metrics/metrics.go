// internal/metrics/metrics.go

// Package metrics declares the process's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RankingDuration observes RankMarkets latency by operation
	RankingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketfinder_ranking_duration_seconds",
			Help:    "Time spent ranking or filtering markets",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"operation"},
	)

	// RankedMarkets tracks the size of the last ranked catalog
	RankedMarkets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketfinder_ranked_markets",
			Help: "Number of markets in the most recent ranking",
		},
	)

	// PositionAcquisitions counts one-shot reads by outcome
	// (ok, denied, timeout, error)
	PositionAcquisitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketfinder_position_acquisitions_total",
			Help: "One-shot position reads by outcome",
		},
		[]string{"source", "outcome"},
	)

	// PositionUpdates counts fixes delivered through a watch
	PositionUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketfinder_position_updates_total",
			Help: "Position updates delivered to watchers",
		},
		[]string{"source"},
	)

	// ActiveWatches is 1 while a tracker holds a subscription
	ActiveWatches = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketfinder_active_watches",
			Help: "Number of active position watch subscriptions",
		},
	)

	// CatalogFetches counts catalog reads by outcome (ok, cached, empty)
	CatalogFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketfinder_catalog_fetches_total",
			Help: "Catalog fetches by outcome",
		},
		[]string{"outcome"},
	)

	// CatalogSize is the number of markets in the last good catalog
	CatalogSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketfinder_catalog_markets",
			Help: "Markets in the last successfully fetched catalog",
		},
	)

	// CircuitBreakerState: 0=closed, 1=half-open, 2=open
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "marketfinder_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketfinder_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// EventsPublished counts NATS events by subject and result
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketfinder_events_published_total",
			Help: "Position events published to NATS",
		},
		[]string{"subject", "result"},
	)

	// WebSocketClients is the number of connected recommendation feeds
	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketfinder_websocket_clients",
			Help: "Connected recommendation websocket clients",
		},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketfinder_http_requests_total",
			Help: "HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketfinder_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)
