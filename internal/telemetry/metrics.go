/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package telemetry holds prometheus metrics, the HTTP metrics
// middleware and OTLP tracing setup.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// APIRequestsTotal counts HTTP requests by method, route and status.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audix_api_requests_total",
		Help: "Total HTTP requests processed.",
	}, []string{"method", "endpoint", "status"})

	// APIRequestDuration observes HTTP request latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "audix_api_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	// APIActiveConnections gauges in-flight HTTP requests.
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "audix_api_active_connections",
		Help: "In-flight HTTP requests.",
	})

	// PresenceConnections gauges open presence websockets.
	PresenceConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "audix_presence_connections",
		Help: "Open presence websocket connections.",
	})

	// SignalConnections gauges open signaling websockets.
	SignalConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "audix_signal_connections",
		Help: "Open signaling websocket connections.",
	})

	// StationsLive gauges currently live stations.
	StationsLive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "audix_stations_live",
		Help: "Currently live stations.",
	})

	// ListenersTotal gauges listeners across all stations.
	ListenersTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "audix_listeners_total",
		Help: "Listeners attached across all stations.",
	})

	// LoginsTotal counts successful logins.
	LoginsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audix_logins_total",
		Help: "Successful flat logins.",
	})
)
