// Package metrics exposes the daemon's Prometheus instrumentation. All
// collectors are registered on a private registry so tests can create
// isolated instances.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	SightingsIngested  *prometheus.CounterVec
	SightingsRejected  *prometheus.CounterVec
	SightingsDropped   prometheus.Counter
	DevicesTracked     prometheus.Gauge
	SessionsOpen       prometheus.Gauge
	SessionsClosed     prometheus.Counter
	PresenceEvents     *prometheus.CounterVec
	NotificationsSent  *prometheus.CounterVec
	CorrelationRefresh prometheus.Counter
	CorrelationEdges   prometheus.Gauge
	VendorLookups      *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.SightingsIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bluewatch_sightings_ingested_total",
		Help: "Sightings accepted into the pipeline, by source.",
	}, []string{"source"})
	m.SightingsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bluewatch_sightings_rejected_total",
		Help: "Sightings rejected during validation, by reason.",
	}, []string{"reason"})
	m.SightingsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bluewatch_sightings_dropped_total",
		Help: "Sightings dropped because the pipeline channel was full.",
	})
	m.DevicesTracked = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bluewatch_devices_tracked",
		Help: "Devices currently in the identity store.",
	})
	m.SessionsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bluewatch_sessions_open",
		Help: "Presence sessions currently open.",
	})
	m.SessionsClosed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bluewatch_sessions_closed_total",
		Help: "Presence sessions closed since start.",
	})
	m.PresenceEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bluewatch_presence_events_total",
		Help: "Presence transitions emitted, by kind.",
	}, []string{"kind"})
	m.NotificationsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bluewatch_notifications_total",
		Help: "Notification delivery attempts, by outcome.",
	}, []string{"outcome"})
	m.CorrelationRefresh = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bluewatch_correlation_refresh_total",
		Help: "Completed correlation recomputations.",
	})
	m.CorrelationEdges = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bluewatch_correlation_edges",
		Help: "Edges in the latest correlation view.",
	})
	m.VendorLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bluewatch_vendor_lookups_total",
		Help: "Vendor lookups, by outcome.",
	}, []string{"outcome"})

	m.registry.MustRegister(
		m.SightingsIngested, m.SightingsRejected, m.SightingsDropped,
		m.DevicesTracked, m.SessionsOpen, m.SessionsClosed,
		m.PresenceEvents, m.NotificationsSent,
		m.CorrelationRefresh, m.CorrelationEdges, m.VendorLookups,
	)
	return m
}

// Handler serves the scrape endpoint for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
