// Package metrics provides Prometheus metrics for the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks the number of live relay connections.
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "passage_active_connections",
			Help: "Number of currently active relay connections",
		},
	)

	// ConnectionsTotal counts accepted connections.
	ConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "passage_connections_total",
			Help: "Total number of relay connections accepted",
		},
	)

	// AuthFailures counts rejected handshakes by reason.
	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passage_auth_failures_total",
			Help: "Total number of rejected handshakes",
		},
		[]string{"reason"}, // "unauthorized" or "infra"
	)

	// MessagesForwarded counts relayed messages by direction.
	MessagesForwarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passage_messages_forwarded_total",
			Help: "Total number of messages relayed between client and upstream",
		},
		[]string{"direction"}, // "inbound" or "outbound"
	)

	// Teardowns counts connection teardowns by cause.
	Teardowns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passage_teardowns_total",
			Help: "Total number of connection teardowns",
		},
		[]string{"reason"},
	)

	// UpstreamConnectFailures counts upstream sessions that never established.
	UpstreamConnectFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "passage_upstream_connect_failures_total",
			Help: "Total number of failed upstream session connects",
		},
	)
)
