// Package metrics exposes Prometheus instrumentation for the monitoring
// control loop itself.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsTotal counts telemetry events accepted by the store, by kind.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitoring_events_total",
			Help: "Total telemetry events accepted by the store",
		},
		[]string{"kind"},
	)

	// AlertsCreatedTotal counts created alerts by severity.
	AlertsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitoring_alerts_created_total",
			Help: "Total alerts created",
		},
		[]string{"severity"},
	)

	// AlertsSuppressedTotal counts alerts dropped before creation.
	AlertsSuppressedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitoring_alerts_suppressed_total",
			Help: "Total alerts suppressed before creation",
		},
		[]string{"reason"},
	)

	// RuleMatchesTotal counts alert rule condition matches by rule id.
	RuleMatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitoring_rule_matches_total",
			Help: "Total alert rule condition matches",
		},
		[]string{"rule"},
	)

	// RecoveryAttemptsTotal counts executed recovery actions by result.
	RecoveryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitoring_recovery_attempts_total",
			Help: "Total recovery action executions",
		},
		[]string{"result"},
	)

	// RecoveryQueueDepth tracks pending recovery executions.
	RecoveryQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "monitoring_recovery_queue_depth",
			Help: "Recovery executions waiting for the worker",
		},
	)

	// ComponentHealthStatus reports per-component health as a gauge
	// (0 healthy, 1 degraded, 2 unhealthy).
	ComponentHealthStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "monitoring_component_health_status",
			Help: "Component health status (0 healthy, 1 degraded, 2 unhealthy)",
		},
		[]string{"component"},
	)

	// BufferSize tracks the fill level of the store's bounded buffers.
	BufferSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "monitoring_buffer_size",
			Help: "Current size of a bounded telemetry buffer",
		},
		[]string{"buffer"},
	)

	// WSClients tracks connected WebSocket dashboard clients.
	WSClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "monitoring_ws_clients",
			Help: "Connected WebSocket clients",
		},
	)
)
