// Custodus - Real-Time Threat Detection and Automated Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodus

// Package detection analyzes normalized security events and produces
// threat detections. A Monitor routes every event through a set of
// registered Detector implementations (signature matching, statistical
// anomaly scoring, and rate heuristics), deduplicates the resulting
// detections, and hands survivors to downstream callbacks.
package detection

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/tomtom215/custodus/internal/models"
)

// Detector inspects a single event and reports zero or more threat
// detections. Implementations must be safe for concurrent use.
type Detector interface {
	// Type returns a stable identifier used in logs and metrics.
	Type() string

	// Check evaluates one event. The features map and recent actor
	// history are computed once by the Monitor and shared across
	// detectors. A nil slice with a nil error means no threat.
	Check(ctx context.Context, event *models.SecurityEvent, features map[string]float64, history []models.SecurityEvent) ([]*models.ThreatDetection, error)

	// Configure applies detector-specific settings from raw JSON.
	Configure(config json.RawMessage) error

	// Enabled reports whether the detector participates in checks.
	Enabled() bool

	// SetEnabled toggles the detector at runtime.
	SetEnabled(enabled bool)
}

// newDetection creates a detection attributed to the event's source.
func newDetection(threatType models.ThreatType, level models.ThreatLevel, event *models.SecurityEvent) *models.ThreatDetection {
	d := models.NewThreatDetection(threatType, level)
	d.SourceIP = event.SourceIP
	d.ActorID = event.ActorID
	d.Endpoint = event.Endpoint
	return d
}
