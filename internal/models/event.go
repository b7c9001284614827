// Custodus - Real-Time Threat Detection and Automated Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodus

package models

import "time"

// EventType classifies the origin of a security event.
type EventType string

const (
	EventTypeHTTPRequest EventType = "http_request"
	EventTypeAuthAttempt EventType = "auth_attempt"
	EventTypeAPICall     EventType = "api_call"
)

// SecurityEvent is one security-relevant observation: an HTTP request, an
// authentication attempt, or an API call. Events are produced by an external
// ingestion collaborator and are treated as immutable once created.
type SecurityEvent struct {
	Timestamp    time.Time         `json:"timestamp"`
	EventType    EventType         `json:"event_type"`
	SourceIP     string            `json:"source_ip"`
	ActorID      string            `json:"actor_id,omitempty"`
	Endpoint     string            `json:"endpoint"`
	Method       string            `json:"method"`
	StatusCode   int               `json:"status_code"`
	UserAgent    string            `json:"user_agent,omitempty"`
	RequestSize  int64             `json:"request_size"`
	ResponseTime time.Duration     `json:"response_time"`
	Headers      map[string]string `json:"headers,omitempty"`
	Parameters   map[string]string `json:"parameters,omitempty"`
}

// Normalize fills missing fields with safe defaults. Malformed or incomplete
// events are never rejected on the ingestion hot path; they are normalized
// and processed with whatever signal they carry.
func (e *SecurityEvent) Normalize() {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.EventType == "" {
		e.EventType = EventTypeHTTPRequest
	}
	if e.SourceIP == "" {
		e.SourceIP = "0.0.0.0"
	}
	if e.Method == "" {
		e.Method = "GET"
	}
	if e.Headers == nil {
		e.Headers = make(map[string]string)
	}
	if e.Parameters == nil {
		e.Parameters = make(map[string]string)
	}
}

// ActorKey returns the history key for this event's actor: the actor ID when
// authenticated, the source IP otherwise. Per-actor ordering guarantees are
// scoped to this key.
func (e *SecurityEvent) ActorKey() string {
	if e.ActorID != "" {
		return e.ActorID
	}
	return e.SourceIP
}

// IsAuthFailure reports whether the event is a failed authentication
// (401/403 status).
func (e *SecurityEvent) IsAuthFailure() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}
