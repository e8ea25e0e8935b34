// Package metrics exposes Prometheus collectors for the story coordinator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MapInstancesLive counts map instances currently bound to a surface.
	// A value that only grows across navigations means a leaked instance.
	MapInstancesLive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geostory_map_instances_live",
			Help: "Map instances currently bound to a rendering surface",
		},
	)

	// CaptureStreamsOpen counts open camera streams.
	CaptureStreamsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geostory_capture_streams_open",
			Help: "Capture device streams currently open",
		},
	)

	GeocodeResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geostory_geocode_results_total",
			Help: "Reverse geocode outcomes by result (resolved, fallback, stale)",
		},
		[]string{"result"},
	)

	GeocodeBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geostory_geocode_breaker_state",
			Help: "Geocoder circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	Publishes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geostory_publishes_total",
			Help: "Story publish attempts by outcome",
		},
		[]string{"outcome"},
	)

	Navigations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geostory_navigations_total",
			Help: "Page navigations by route",
		},
		[]string{"route"},
	)

	ActiveClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geostory_active_clients",
			Help: "Browser clients with live page state",
		},
	)
)
