// Custodus - Real-Time Threat Detection and Automated Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodus

package models

import (
	"reflect"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestSecurityEventNormalizeDefaults(t *testing.T) {
	e := &SecurityEvent{}
	e.Normalize()

	if e.Timestamp.IsZero() {
		t.Error("Timestamp not defaulted")
	}
	if e.EventType != EventTypeHTTPRequest {
		t.Errorf("EventType = %q, want %q", e.EventType, EventTypeHTTPRequest)
	}
	if e.SourceIP != "0.0.0.0" {
		t.Errorf("SourceIP = %q, want 0.0.0.0", e.SourceIP)
	}
	if e.Method != "GET" {
		t.Errorf("Method = %q, want GET", e.Method)
	}
	if e.Headers == nil || e.Parameters == nil {
		t.Error("maps not initialized")
	}
}

func TestSecurityEventActorKey(t *testing.T) {
	e := &SecurityEvent{SourceIP: "203.0.113.7"}
	if got := e.ActorKey(); got != "203.0.113.7" {
		t.Errorf("ActorKey() = %q, want source IP", got)
	}
	e.ActorID = "alice"
	if got := e.ActorKey(); got != "alice" {
		t.Errorf("ActorKey() = %q, want actor ID", got)
	}
}

func TestSecurityEventIsAuthFailure(t *testing.T) {
	for _, tt := range []struct {
		status int
		want   bool
	}{
		{200, false}, {401, true}, {403, true}, {404, false}, {500, false},
	} {
		e := &SecurityEvent{StatusCode: tt.status}
		if got := e.IsAuthFailure(); got != tt.want {
			t.Errorf("IsAuthFailure(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestThreatLevelRank(t *testing.T) {
	if ThreatLevelLow.Rank() >= ThreatLevelCritical.Rank() {
		t.Error("low should rank below critical")
	}
	if ThreatLevel("bogus").Rank() != -1 {
		t.Error("unknown level should rank -1")
	}
}

func TestIncidentTransitionGraph(t *testing.T) {
	tests := []struct {
		from, to IncidentStatus
		allowed  bool
	}{
		{IncidentStatusNew, IncidentStatusResponding, true},
		{IncidentStatusNew, IncidentStatusInvestigating, true},
		{IncidentStatusNew, IncidentStatusMitigated, false},
		{IncidentStatusNew, IncidentStatusClosed, false},
		{IncidentStatusResponding, IncidentStatusMitigated, true},
		{IncidentStatusResponding, IncidentStatusNew, false},
		{IncidentStatusInvestigating, IncidentStatusMitigated, true},
		{IncidentStatusMitigated, IncidentStatusResolved, true},
		{IncidentStatusMitigated, IncidentStatusClosed, false},
		{IncidentStatusResolved, IncidentStatusClosed, true},
		{IncidentStatusClosed, IncidentStatusNew, false},
		{IncidentStatusClosed, IncidentStatusClosed, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.allowed {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.allowed)
		}
	}
}

func TestIncidentTransitionEnforced(t *testing.T) {
	detection := NewThreatDetection(ThreatTypeBruteForce, ThreatLevelHigh)
	incident := NewSecurityIncident(detection)

	if incident.Status != IncidentStatusNew {
		t.Fatalf("new incident status = %s, want new", incident.Status)
	}
	if incident.Severity != ThreatLevelHigh {
		t.Fatalf("severity = %s, want high", incident.Severity)
	}

	// Direct NEW -> CLOSED jump must be rejected.
	if err := incident.Transition(IncidentStatusClosed); err == nil {
		t.Fatal("NEW -> CLOSED transition allowed, want error")
	}

	for _, status := range []IncidentStatus{
		IncidentStatusResponding,
		IncidentStatusMitigated,
		IncidentStatusResolved,
		IncidentStatusClosed,
	} {
		if err := incident.Transition(status); err != nil {
			t.Fatalf("Transition(%s) failed: %v", status, err)
		}
	}
}

func TestIncidentRecordActionResult(t *testing.T) {
	incident := NewSecurityIncident(NewThreatDetection(ThreatTypeInjectionAttack, ThreatLevelCritical))

	incident.RecordActionResult(ResponseActionResult{ActionType: ActionBlockIP, Success: true})
	incident.RecordActionResult(ResponseActionResult{ActionType: ActionLogEvent, Success: false, Error: "sink closed"})

	want := []string{"block_ip:success", "log_event:failure"}
	if !reflect.DeepEqual(incident.AutomatedResponses, want) {
		t.Errorf("AutomatedResponses = %v, want %v", incident.AutomatedResponses, want)
	}
	if len(incident.ActionResults) != 2 {
		t.Errorf("ActionResults length = %d, want 2", len(incident.ActionResults))
	}
}

func TestRuleValidate(t *testing.T) {
	valid := ResponseRule{
		ID:           "r1",
		Name:         "block injections",
		ThreatTypes:  []ThreatType{ThreatTypeInjectionAttack},
		ThreatLevels: []ThreatLevel{ThreatLevelHigh, ThreatLevelCritical},
		Actions:      []RuleAction{{Type: ActionBlockIP}},
		Enabled:      true,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid rule rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*ResponseRule)
	}{
		{"unknown threat type", func(r *ResponseRule) { r.ThreatTypes = []ThreatType{"ddos"} }},
		{"unknown threat level", func(r *ResponseRule) { r.ThreatLevels = []ThreatLevel{"extreme"} }},
		{"unknown action", func(r *ResponseRule) { r.Actions = []RuleAction{{Type: "nuke_from_orbit"}} }},
		{"missing name", func(r *ResponseRule) { r.Name = "" }},
		{"empty actions", func(r *ResponseRule) { r.Actions = nil }},
		{"negative cooldown", func(r *ResponseRule) { r.CooldownMinutes = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			if err := r.Validate(); err == nil {
				t.Errorf("rule with %s accepted, want rejection", tt.name)
			}
		})
	}
}

func TestRuleMatches(t *testing.T) {
	rule := ResponseRule{
		ID:           "r1",
		Name:         "high injections",
		ThreatTypes:  []ThreatType{ThreatTypeInjectionAttack},
		ThreatLevels: []ThreatLevel{ThreatLevelHigh},
		Actions:      []RuleAction{{Type: ActionBlockIP}},
		Enabled:      true,
		// Conditions are stored but never evaluated during matching.
		Conditions: map[string]any{"endpoint_prefix": "/api"},
	}

	match := NewThreatDetection(ThreatTypeInjectionAttack, ThreatLevelHigh)
	if !rule.Matches(match) {
		t.Error("expected match on type+level")
	}

	wrongType := NewThreatDetection(ThreatTypeBruteForce, ThreatLevelHigh)
	if rule.Matches(wrongType) {
		t.Error("matched wrong threat type")
	}

	wrongLevel := NewThreatDetection(ThreatTypeInjectionAttack, ThreatLevelLow)
	if rule.Matches(wrongLevel) {
		t.Error("matched wrong threat level")
	}

	rule.Enabled = false
	if rule.Matches(match) {
		t.Error("disabled rule matched")
	}
}

func TestSecurityIncidentRoundTrip(t *testing.T) {
	created := time.Date(2026, 2, 10, 9, 30, 0, 0, time.UTC)
	incident := &SecurityIncident{
		ID: "4f5c0d2e-5cf5-4a7a-9c07-1c9a1e1a2b3c",
		Detection: ThreatDetection{
			ID:          "9a8b7c6d-1e2f-4a3b-8c9d-0e1f2a3b4c5d",
			Timestamp:   created,
			ThreatType:  ThreatTypeInjectionAttack,
			ThreatLevel: ThreatLevelCritical,
			Confidence:  0.9,
			SourceIP:    "203.0.113.7",
			ActorID:     "alice",
			Endpoint:    "/api/admin",
			Description: "SQL injection signature match",
			Evidence: map[string]any{
				"signature": "sql_injection",
				"pattern":   "drop\\s+table",
			},
			RecommendedActions: []ActionType{ActionBlockIP, ActionCollectForensics},
			Features:           map[string]float64{"suspicious_chars": 1, "hour_of_day": 9},
			RiskScore:          0.95,
		},
		Status:             IncidentStatusResponding,
		CreatedAt:          created,
		UpdatedAt:          created.Add(2 * time.Second),
		Severity:           ThreatLevelCritical,
		AutomatedResponses: []string{"block_ip:success", "collect_forensics:success"},
		ManualResponses:    []string{"analyst review requested"},
		ActionResults: []ResponseActionResult{
			{
				ActionType: ActionBlockIP,
				Success:    true,
				ExecutedAt: created.Add(time.Second),
				Duration:   12 * time.Millisecond,
				Details:    map[string]any{"ip": "203.0.113.7"},
			},
		},
		EscalationLevel: 1,
		AssignedTo:      "secops",
		ForensicData:    map[string]any{"host": "edge-1"},
	}

	data, err := json.Marshal(incident)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded SecurityIncident
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if !reflect.DeepEqual(incident, &decoded) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", &decoded, incident)
	}
}
