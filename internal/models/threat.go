// Custodus - Real-Time Threat Detection and Automated Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodus

package models

import (
	"time"

	"github.com/google/uuid"
)

// ThreatType identifies the class of detected threat.
type ThreatType string

const (
	ThreatTypeInjectionAttack     ThreatType = "injection_attack"
	ThreatTypeBruteForce          ThreatType = "brute_force"
	ThreatTypeRateLimitAbuse      ThreatType = "rate_limit_abuse"
	ThreatTypeAPIAbuse            ThreatType = "api_abuse"
	ThreatTypeAnomalousBehavior   ThreatType = "anomalous_behavior"
	ThreatTypeSuspiciousPattern   ThreatType = "suspicious_pattern"
	ThreatTypeDataExfiltration    ThreatType = "data_exfiltration"
	ThreatTypePrivilegeEscalation ThreatType = "privilege_escalation"
)

// ThreatTypes lists all valid threat types.
var ThreatTypes = []ThreatType{
	ThreatTypeInjectionAttack,
	ThreatTypeBruteForce,
	ThreatTypeRateLimitAbuse,
	ThreatTypeAPIAbuse,
	ThreatTypeAnomalousBehavior,
	ThreatTypeSuspiciousPattern,
	ThreatTypeDataExfiltration,
	ThreatTypePrivilegeEscalation,
}

// Valid reports whether t is a known threat type.
func (t ThreatType) Valid() bool {
	for _, known := range ThreatTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ThreatLevel indicates detection severity.
type ThreatLevel string

const (
	ThreatLevelLow      ThreatLevel = "low"
	ThreatLevelMedium   ThreatLevel = "medium"
	ThreatLevelHigh     ThreatLevel = "high"
	ThreatLevelCritical ThreatLevel = "critical"
)

// ThreatLevels lists all valid threat levels in ascending severity.
var ThreatLevels = []ThreatLevel{
	ThreatLevelLow,
	ThreatLevelMedium,
	ThreatLevelHigh,
	ThreatLevelCritical,
}

// Valid reports whether l is a known threat level.
func (l ThreatLevel) Valid() bool {
	for _, known := range ThreatLevels {
		if l == known {
			return true
		}
	}
	return false
}

// Rank returns the ordinal severity of the level (0 = low). Unknown levels
// rank -1.
func (l ThreatLevel) Rank() int {
	for i, known := range ThreatLevels {
		if l == known {
			return i
		}
	}
	return -1
}

// ThreatDetection is a scored, classified determination that an event
// indicates malicious or anomalous activity. Detections are immutable once
// created and owned by exactly one SecurityIncident.
type ThreatDetection struct {
	ID                 string             `json:"id"`
	Timestamp          time.Time          `json:"timestamp"`
	ThreatType         ThreatType         `json:"threat_type"`
	ThreatLevel        ThreatLevel        `json:"threat_level"`
	Confidence         float64            `json:"confidence"` // [0, 1]
	SourceIP           string             `json:"source_ip"`
	ActorID            string             `json:"actor_id,omitempty"`
	Endpoint           string             `json:"endpoint,omitempty"`
	Description        string             `json:"description"`
	Evidence           map[string]any     `json:"evidence,omitempty"`
	RecommendedActions []ActionType       `json:"recommended_actions,omitempty"`
	Features           map[string]float64 `json:"features,omitempty"`
	RiskScore          float64            `json:"risk_score"`
}

// NewThreatDetection creates a detection with a fresh ID and timestamp.
func NewThreatDetection(threatType ThreatType, level ThreatLevel) *ThreatDetection {
	return &ThreatDetection{
		ID:          uuid.New().String(),
		Timestamp:   time.Now().UTC(),
		ThreatType:  threatType,
		ThreatLevel: level,
		Evidence:    make(map[string]any),
	}
}

// DedupKey groups detections that describe the same ongoing activity:
// same threat type from the same source.
func (d *ThreatDetection) DedupKey() string {
	return string(d.ThreatType) + "|" + d.SourceIP + "|" + d.ActorID
}

// Clone returns a deep copy of the detection.
func (d *ThreatDetection) Clone() *ThreatDetection {
	c := *d
	if d.Evidence != nil {
		c.Evidence = make(map[string]any, len(d.Evidence))
		for k, v := range d.Evidence {
			c.Evidence[k] = v
		}
	}
	if d.Features != nil {
		c.Features = make(map[string]float64, len(d.Features))
		for k, v := range d.Features {
			c.Features[k] = v
		}
	}
	c.RecommendedActions = append([]ActionType(nil), d.RecommendedActions...)
	return &c
}
