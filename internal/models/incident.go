// Custodus - Real-Time Threat Detection and Automated Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodus

package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// IncidentStatus is the lifecycle state of a security incident.
type IncidentStatus string

const (
	IncidentStatusNew           IncidentStatus = "new"
	IncidentStatusResponding    IncidentStatus = "responding"
	IncidentStatusInvestigating IncidentStatus = "investigating"
	IncidentStatusMitigated     IncidentStatus = "mitigated"
	IncidentStatusResolved      IncidentStatus = "resolved"
	IncidentStatusClosed        IncidentStatus = "closed"
)

// IncidentStatuses lists all valid incident statuses.
var IncidentStatuses = []IncidentStatus{
	IncidentStatusNew,
	IncidentStatusResponding,
	IncidentStatusInvestigating,
	IncidentStatusMitigated,
	IncidentStatusResolved,
	IncidentStatusClosed,
}

// Valid reports whether s is a known incident status.
func (s IncidentStatus) Valid() bool {
	for _, known := range IncidentStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// incidentTransitions is the allowed transition graph:
// NEW -> {RESPONDING, INVESTIGATING} -> MITIGATED -> RESOLVED -> CLOSED.
// No state skipping; CLOSED is terminal.
var incidentTransitions = map[IncidentStatus][]IncidentStatus{
	IncidentStatusNew:           {IncidentStatusResponding, IncidentStatusInvestigating},
	IncidentStatusResponding:    {IncidentStatusMitigated},
	IncidentStatusInvestigating: {IncidentStatusMitigated},
	IncidentStatusMitigated:     {IncidentStatusResolved},
	IncidentStatusResolved:      {IncidentStatusClosed},
	IncidentStatusClosed:        {},
}

// CanTransition reports whether moving from one status to another is allowed.
func CanTransition(from, to IncidentStatus) bool {
	for _, next := range incidentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ErrInvalidTransition is returned when a status update violates the
// incident transition graph.
type ErrInvalidTransition struct {
	From IncidentStatus
	To   IncidentStatus
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid incident transition: %s -> %s", e.From, e.To)
}

// SecurityIncident wraps one ThreatDetection through response and
// resolution. Incidents are created exactly once per detection, mutated only
// by the orchestrator and explicit status updates, and never deleted — only
// transitioned to closed.
type SecurityIncident struct {
	ID                 string                 `json:"id"`
	Detection          ThreatDetection        `json:"detection"`
	Status             IncidentStatus         `json:"status"`
	CreatedAt          time.Time              `json:"created_at"`
	UpdatedAt          time.Time              `json:"updated_at"`
	Severity           ThreatLevel            `json:"severity"`
	AutomatedResponses []string               `json:"automated_responses"`
	ManualResponses    []string               `json:"manual_responses,omitempty"`
	ActionResults      []ResponseActionResult `json:"action_results,omitempty"`
	EscalationLevel    int                    `json:"escalation_level"`
	AssignedTo         string                 `json:"assigned_to,omitempty"`
	ResolutionNotes    string                 `json:"resolution_notes,omitempty"`
	ForensicData       map[string]any         `json:"forensic_data,omitempty"`
}

// NewSecurityIncident creates an incident in state NEW for the given
// detection. Severity is copied from the detection's threat level at
// creation and never changes afterwards.
func NewSecurityIncident(detection *ThreatDetection) *SecurityIncident {
	now := time.Now().UTC()
	return &SecurityIncident{
		ID:                 uuid.New().String(),
		Detection:          *detection,
		Status:             IncidentStatusNew,
		CreatedAt:          now,
		UpdatedAt:          now,
		Severity:           detection.ThreatLevel,
		AutomatedResponses: []string{},
		ForensicData:       make(map[string]any),
	}
}

// Transition moves the incident to the given status, enforcing the
// transition graph. Returns *ErrInvalidTransition on a disallowed move.
func (i *SecurityIncident) Transition(to IncidentStatus) error {
	if !CanTransition(i.Status, to) {
		return &ErrInvalidTransition{From: i.Status, To: to}
	}
	i.Status = to
	i.UpdatedAt = time.Now().UTC()
	return nil
}

// RecordActionResult appends one action result and its log line. The
// automated response log length always equals the number of executor
// invocations attempted for this incident.
func (i *SecurityIncident) RecordActionResult(result ResponseActionResult) {
	outcome := "failure"
	if result.Success {
		outcome = "success"
	}
	i.AutomatedResponses = append(i.AutomatedResponses, fmt.Sprintf("%s:%s", result.ActionType, outcome))
	i.ActionResults = append(i.ActionResults, result)
	i.UpdatedAt = time.Now().UTC()
}

// Clone returns a deep copy safe to serialize or broadcast while the
// original keeps being mutated under the orchestrator's lock. Recorded
// action results are immutable, so their Details maps are shared.
func (i *SecurityIncident) Clone() *SecurityIncident {
	c := *i
	c.Detection = *i.Detection.Clone()
	c.AutomatedResponses = append([]string(nil), i.AutomatedResponses...)
	c.ManualResponses = append([]string(nil), i.ManualResponses...)
	c.ActionResults = append([]ResponseActionResult(nil), i.ActionResults...)
	if i.ForensicData != nil {
		c.ForensicData = make(map[string]any, len(i.ForensicData))
		for k, v := range i.ForensicData {
			c.ForensicData[k] = v
		}
	}
	return &c
}

// Alert builds the flat notification payload for this incident.
func (i *SecurityIncident) Alert() AlertPayload {
	return AlertPayload{
		IncidentID:         i.ID,
		ThreatType:         i.Detection.ThreatType,
		Severity:           i.Severity,
		SourceIP:           i.Detection.SourceIP,
		Endpoint:           i.Detection.Endpoint,
		Description:        i.Detection.Description,
		Timestamp:          i.CreatedAt,
		RecommendedActions: i.Detection.RecommendedActions,
	}
}
