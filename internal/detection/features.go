// Custodus - Real-Time Threat Detection and Automated Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodus

package detection

import (
	"net/netip"
	"strings"
	"time"

	"github.com/tomtom215/custodus/internal/models"
)

// Feature names emitted by the extractor. Detectors and the anomaly
// scorer reference these keys instead of positional vectors.
const (
	FeatureHourOfDay          = "hour_of_day"
	FeatureDayOfWeek          = "day_of_week"
	FeatureIsBusinessHours    = "is_business_hours"
	FeatureRequestsPerHour    = "requests_per_hour"
	FeatureUniqueEndpoints    = "unique_endpoints"
	FeatureErrorRate          = "error_rate"
	FeatureAuthFailureRate    = "auth_failure_rate"
	FeatureAgentConsistency   = "agent_consistency"
	FeatureIsPrivateIP        = "is_private_ip"
	FeatureUserAgentLength    = "user_agent_length"
	FeatureUserAgentTooling   = "user_agent_tooling"
	FeatureMethodWrite        = "method_write"
	FeatureStatusClass        = "status_class"
	FeatureParameterCount     = "parameter_count"
	FeatureSuspiciousChars    = "suspicious_chars"
	FeaturePathDepth          = "path_depth"
	FeatureSecondsSinceActive = "seconds_since_active"
)

var toolingAgents = []string{
	"curl", "wget", "python-requests", "python-urllib", "go-http-client",
	"libwww", "sqlmap", "nikto", "nmap", "masscan", "dirbuster", "gobuster",
}

// FeatureExtractor derives a flat numeric feature vector from a single
// event plus the actor's recent history. Extraction is a pure function
// of its inputs; all state lives in the caller-supplied history slice.
type FeatureExtractor struct{}

// NewFeatureExtractor returns a stateless extractor.
func NewFeatureExtractor() *FeatureExtractor {
	return &FeatureExtractor{}
}

// Extract computes the full feature vector. An empty history yields
// zeroed behavioral features rather than an error so that first-seen
// actors still flow through every detector.
func (x *FeatureExtractor) Extract(event *models.SecurityEvent, history []models.SecurityEvent) map[string]float64 {
	features := make(map[string]float64, 17)

	x.temporal(event, features)
	x.behavioral(event, history, features)
	x.network(event, features)
	x.request(event, features)

	return features
}

func (x *FeatureExtractor) temporal(event *models.SecurityEvent, features map[string]float64) {
	ts := event.Timestamp.UTC()
	hour := float64(ts.Hour())
	features[FeatureHourOfDay] = hour
	features[FeatureDayOfWeek] = float64(ts.Weekday())
	features[FeatureIsBusinessHours] = 0
	if wd := ts.Weekday(); wd >= time.Monday && wd <= time.Friday && hour >= 9 && hour < 18 {
		features[FeatureIsBusinessHours] = 1
	}
}

func (x *FeatureExtractor) behavioral(event *models.SecurityEvent, history []models.SecurityEvent, features map[string]float64) {
	features[FeatureRequestsPerHour] = 0
	features[FeatureUniqueEndpoints] = 0
	features[FeatureErrorRate] = 0
	features[FeatureAuthFailureRate] = 0
	features[FeatureAgentConsistency] = 1
	features[FeatureSecondsSinceActive] = 0

	if len(history) == 0 {
		return
	}

	hourAgo := event.Timestamp.Add(-time.Hour)
	endpoints := make(map[string]struct{})
	inHour, errors, authFailures, sameAgent := 0, 0, 0, 0
	var last time.Time

	for _, prev := range history {
		if prev.Timestamp.After(last) {
			last = prev.Timestamp
		}
		if prev.UserAgent == event.UserAgent {
			sameAgent++
		}
		if prev.Timestamp.Before(hourAgo) {
			continue
		}
		inHour++
		endpoints[prev.Endpoint] = struct{}{}
		if prev.StatusCode >= 400 {
			errors++
		}
		if prev.IsAuthFailure() {
			authFailures++
		}
	}

	features[FeatureRequestsPerHour] = float64(inHour)
	features[FeatureUniqueEndpoints] = float64(len(endpoints))
	if inHour > 0 {
		features[FeatureErrorRate] = float64(errors) / float64(inHour)
		features[FeatureAuthFailureRate] = float64(authFailures) / float64(inHour)
	}
	features[FeatureAgentConsistency] = float64(sameAgent) / float64(len(history))
	if !last.IsZero() && event.Timestamp.After(last) {
		features[FeatureSecondsSinceActive] = event.Timestamp.Sub(last).Seconds()
	}
}

func (x *FeatureExtractor) network(event *models.SecurityEvent, features map[string]float64) {
	features[FeatureIsPrivateIP] = 0
	if addr, err := netip.ParseAddr(event.SourceIP); err == nil {
		if addr.IsPrivate() || addr.IsLoopback() {
			features[FeatureIsPrivateIP] = 1
		}
	}

	features[FeatureUserAgentLength] = float64(len(event.UserAgent))
	features[FeatureUserAgentTooling] = 0
	agent := strings.ToLower(event.UserAgent)
	for _, marker := range toolingAgents {
		if strings.Contains(agent, marker) {
			features[FeatureUserAgentTooling] = 1
			break
		}
	}
}

func (x *FeatureExtractor) request(event *models.SecurityEvent, features map[string]float64) {
	features[FeatureMethodWrite] = 0
	switch strings.ToUpper(event.Method) {
	case "POST", "PUT", "PATCH", "DELETE":
		features[FeatureMethodWrite] = 1
	}

	features[FeatureStatusClass] = float64(event.StatusCode / 100)
	features[FeatureParameterCount] = float64(len(event.Parameters))
	features[FeaturePathDepth] = float64(strings.Count(event.Endpoint, "/"))

	suspicious := 0.0
	haystack := event.Endpoint
	for _, v := range event.Parameters {
		haystack += " " + v
	}
	for _, marker := range []string{"'", "\"", ";", "<", ">", "../", "%00", "\\x"} {
		if strings.Contains(haystack, marker) {
			suspicious++
		}
	}
	features[FeatureSuspiciousChars] = suspicious
}
