// Custodus - Real-Time Threat Detection and Automated Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodus

package models

import "time"

// ActionType identifies an automated response action.
type ActionType string

const (
	ActionBlockIP            ActionType = "block_ip"
	ActionRateLimitIP        ActionType = "rate_limit_ip"
	ActionBlockUser          ActionType = "block_user"
	ActionRevokeSession      ActionType = "revoke_session"
	ActionAlertSecurityTeam  ActionType = "alert_security_team"
	ActionLogEvent           ActionType = "log_event"
	ActionCollectForensics   ActionType = "collect_forensics"
	ActionNotifyStakeholders ActionType = "notify_stakeholders"
	ActionEscalateToHuman    ActionType = "escalate_to_human"
)

// ActionTypes lists all valid action types.
var ActionTypes = []ActionType{
	ActionBlockIP,
	ActionRateLimitIP,
	ActionBlockUser,
	ActionRevokeSession,
	ActionAlertSecurityTeam,
	ActionLogEvent,
	ActionCollectForensics,
	ActionNotifyStakeholders,
	ActionEscalateToHuman,
}

// Valid reports whether a is a known action type.
func (a ActionType) Valid() bool {
	for _, known := range ActionTypes {
		if a == known {
			return true
		}
	}
	return false
}

// ResponseActionResult records one attempted response action for an
// incident. Append-only; both successes and failures are recorded.
type ResponseActionResult struct {
	ActionType ActionType     `json:"action_type"`
	Success    bool           `json:"success"`
	ExecutedAt time.Time      `json:"executed_at"`
	Duration   time.Duration  `json:"duration"`
	Error      string         `json:"error,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// AlertPayload is the flat notification payload delivered to registered
// channels (email, chat, webhook integrations).
type AlertPayload struct {
	IncidentID         string       `json:"incident_id"`
	ThreatType         ThreatType   `json:"threat_type"`
	Severity           ThreatLevel  `json:"severity"`
	SourceIP           string       `json:"source_ip"`
	Endpoint           string       `json:"endpoint,omitempty"`
	Description        string       `json:"description"`
	Timestamp          time.Time    `json:"timestamp"`
	RecommendedActions []ActionType `json:"recommended_actions,omitempty"`
}
