// SPDX-License-Identifier: MIT

// Package metrics exposes Prometheus collectors for the broadcast engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsTotal counts every admitted stream connection over the
	// process lifetime.
	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beacon_stream_connections_total",
		Help: "Total number of admitted stream connections",
	})

	// ConnectionsCurrent tracks the number of currently open stream connections.
	ConnectionsCurrent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "beacon_stream_connections_current",
		Help: "Number of currently open stream connections",
	})

	// ConnectionsByOrg tracks open connections per organization.
	ConnectionsByOrg = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "beacon_stream_connections_by_org",
		Help: "Number of currently open stream connections per organization",
	}, []string{"org"})

	// AdmissionRejectedTotal counts refused stream connection attempts by reason.
	AdmissionRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_admission_rejected_total",
		Help: "Total number of rejected stream connection attempts by reason",
	}, []string{"reason"})

	// EventsPublishedTotal counts events handed to the hub, by event type.
	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_events_published_total",
		Help: "Total number of events published to the hub by type",
	}, []string{"type"})

	// DeliveriesTotal counts events enqueued to subscriber sessions.
	DeliveriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beacon_event_deliveries_total",
		Help: "Total number of events enqueued for delivery to subscribers",
	})

	// DropsTotal counts events that could not be delivered, by reason.
	DropsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_event_drops_total",
		Help: "Total number of events dropped by reason",
	}, []string{"reason"})

	// HeartbeatsTotal counts heartbeat frames written to stream transports.
	HeartbeatsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beacon_stream_heartbeats_total",
		Help: "Total number of heartbeat frames sent",
	})
)

// IncDrop records a dropped delivery with a concrete reason.
func IncDrop(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	DropsTotal.WithLabelValues(reason).Inc()
}

// IncRejected records a rejected admission attempt.
func IncRejected(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	AdmissionRejectedTotal.WithLabelValues(reason).Inc()
}
