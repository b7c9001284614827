// Custodus - Real-Time Threat Detection and Automated Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodus

// Package metrics provides Prometheus instrumentation for the
// detection pipeline, response engine, and API surface. Metrics are
// exposed at /metrics in Prometheus text format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion Metrics
	EventsIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "custodus_events_ingested_total",
			Help: "Total security events accepted into the ingest queue",
		},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "custodus_events_dropped_total",
			Help: "Total security events dropped because the ingest queue was full",
		},
	)

	EventsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "custodus_events_processed_total",
			Help: "Total security events run through the detection pipeline",
		},
	)

	IngestQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "custodus_ingest_queue_depth",
			Help: "Current number of events waiting in the ingest queue",
		},
	)

	// Detection Metrics
	DetectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custodus_detections_total",
			Help: "Total threat detections emitted after deduplication",
		},
		[]string{"threat_type", "threat_level"},
	)

	DetectionsDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "custodus_detections_deduplicated_total",
			Help: "Total detections suppressed by the dedup window",
		},
	)

	DetectorErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custodus_detector_errors_total",
			Help: "Total detector check failures, by detector",
		},
		[]string{"detector"},
	)

	HistoryEvents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "custodus_history_events",
			Help: "Current number of events retained in the in-memory history",
		},
	)

	// Incident Metrics
	IncidentsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custodus_incidents_created_total",
			Help: "Total security incidents created",
		},
		[]string{"severity"},
	)

	IncidentTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custodus_incident_transitions_total",
			Help: "Total incident status transitions",
		},
		[]string{"from", "to"},
	)

	ActiveIncidents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "custodus_active_incidents",
			Help: "Current number of incidents not yet resolved or closed",
		},
	)

	// Response Metrics
	ActionsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custodus_actions_executed_total",
			Help: "Total response actions executed, by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	ActionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "custodus_action_duration_seconds",
			Help:    "Response action execution time in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"action"},
	)

	RuleExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custodus_rule_executions_total",
			Help: "Total response rule executions",
		},
		[]string{"rule"},
	)

	RuleGateRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custodus_rule_gate_rejections_total",
			Help: "Total rule executions suppressed by cooldown or hourly cap",
		},
		[]string{"rule", "reason"},
	)

	LedgerEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "custodus_ledger_entries",
			Help: "Current number of active ledger entries, by kind",
		},
		[]string{"kind"},
	)

	// Notification Metrics
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custodus_notifications_total",
			Help: "Total notification deliveries, by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custodus_api_requests_total",
			Help: "Total API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "custodus_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	// WebSocket Metrics
	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "custodus_websocket_clients",
			Help: "Current number of connected WebSocket clients",
		},
	)

	WebSocketMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custodus_websocket_messages_total",
			Help: "Total WebSocket messages broadcast, by message type",
		},
		[]string{"type"},
	)
)

// RecordAction records one action execution with its outcome and
// duration.
func RecordAction(action string, success bool, duration time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	ActionsExecuted.WithLabelValues(action, outcome).Inc()
	ActionDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordNotification records one channel delivery attempt.
func RecordNotification(channel string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	NotificationsSent.WithLabelValues(channel, outcome).Inc()
}

// RecordAPIRequest records one served API request.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
