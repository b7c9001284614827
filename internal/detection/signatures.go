// Custodus - Real-Time Threat Detection and Automated Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodus

package detection

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/goccy/go-json"

	"github.com/tomtom215/custodus/internal/models"
)

// signatureConfidence applies to every signature hit. Pattern matches
// are near-certain compared to statistical detections.
const signatureConfidence = 0.9

// ThreatSignature is a named group of patterns that map to one threat
// classification when any pattern matches the event surface.
type ThreatSignature struct {
	Name        string
	ThreatType  models.ThreatType
	ThreatLevel models.ThreatLevel
	Description string
	Actions     []models.ActionType
	Patterns    []*regexp.Regexp
}

func defaultSignatures() []ThreatSignature {
	return []ThreatSignature{
		{
			Name:        "sql_injection",
			ThreatType:  models.ThreatTypeInjectionAttack,
			ThreatLevel: models.ThreatLevelCritical,
			Description: "SQL injection pattern in request surface",
			Actions:     []models.ActionType{models.ActionBlockIP, models.ActionAlertSecurityTeam, models.ActionCollectForensics},
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)('|%27)\s*(or|and)\s+['"0-9]`),
				regexp.MustCompile(`(?i)union[\s/*]+select`),
				regexp.MustCompile(`(?i);\s*drop\s+table`),
				regexp.MustCompile(`(?i)insert\s+into\s+\w+`),
				regexp.MustCompile(`(?i)\bselect\b.+\bfrom\b.+(--|#|/\*)`),
				regexp.MustCompile(`(?i)sleep\s*\(\s*\d+\s*\)`),
			},
		},
		{
			Name:        "cross_site_scripting",
			ThreatType:  models.ThreatTypeInjectionAttack,
			ThreatLevel: models.ThreatLevelHigh,
			Description: "script injection pattern in request surface",
			Actions:     []models.ActionType{models.ActionRateLimitIP, models.ActionAlertSecurityTeam},
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)<\s*script`),
				regexp.MustCompile(`(?i)javascript\s*:`),
				regexp.MustCompile(`(?i)on(error|load|click|mouseover)\s*=`),
				regexp.MustCompile(`(?i)<\s*img[^>]+src\s*=`),
			},
		},
		{
			Name:        "path_traversal",
			ThreatType:  models.ThreatTypeSuspiciousPattern,
			ThreatLevel: models.ThreatLevelHigh,
			Description: "directory traversal attempt",
			Actions:     []models.ActionType{models.ActionBlockIP, models.ActionLogEvent},
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`\.\./`),
				regexp.MustCompile(`(?i)%2e%2e[%2f/]`),
				regexp.MustCompile(`(?i)etc/(passwd|shadow)`),
				regexp.MustCompile(`(?i)\\windows\\system32`),
			},
		},
		{
			Name:        "command_injection",
			ThreatType:  models.ThreatTypeInjectionAttack,
			ThreatLevel: models.ThreatLevelCritical,
			Description: "OS command injection attempt",
			Actions:     []models.ActionType{models.ActionBlockIP, models.ActionAlertSecurityTeam, models.ActionCollectForensics},
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)[;|&]\s*(cat|ls|id|whoami|rm|wget|curl|nc|bash|sh)\b`),
				regexp.MustCompile(`\$\([^)]*\)`),
				regexp.MustCompile("`[^`]+`"),
				regexp.MustCompile(`(?i)%0a(cat|ls|id|whoami)`),
			},
		},
		{
			Name:        "scanner_tooling",
			ThreatType:  models.ThreatTypeSuspiciousPattern,
			ThreatLevel: models.ThreatLevelMedium,
			Description: "known scanner or attack tool user agent",
			Actions:     []models.ActionType{models.ActionRateLimitIP, models.ActionLogEvent},
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(sqlmap|nikto|nmap|masscan|dirbuster|gobuster|wpscan|hydra)\b`),
			},
		},
	}
}

// SignatureMatcher checks the request surface of each event against a
// set of pattern groups. The surface is the endpoint, all parameter
// values, and the user agent joined into one haystack so encoded
// payloads split across fields still match.
type SignatureMatcher struct {
	mu         sync.RWMutex
	signatures []ThreatSignature
	enabled    bool
}

// NewSignatureMatcher returns a matcher loaded with the built-in
// signature set.
func NewSignatureMatcher() *SignatureMatcher {
	return &SignatureMatcher{
		signatures: defaultSignatures(),
		enabled:    true,
	}
}

// Type implements Detector.
func (m *SignatureMatcher) Type() string { return "signature_matcher" }

// Enabled implements Detector.
func (m *SignatureMatcher) Enabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// SetEnabled implements Detector.
func (m *SignatureMatcher) SetEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
}

type signatureConfig struct {
	Disabled []string `json:"disabled"`
	Custom   []struct {
		Name        string   `json:"name"`
		ThreatType  string   `json:"threat_type"`
		ThreatLevel string   `json:"threat_level"`
		Description string   `json:"description"`
		Patterns    []string `json:"patterns"`
	} `json:"custom"`
}

// Configure disables named built-in groups and compiles any custom
// pattern groups. A pattern that fails to compile rejects the whole
// config so a partial ruleset is never installed.
func (m *SignatureMatcher) Configure(config json.RawMessage) error {
	var cfg signatureConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return fmt.Errorf("signature config: %w", err)
	}

	disabled := make(map[string]struct{}, len(cfg.Disabled))
	for _, name := range cfg.Disabled {
		disabled[name] = struct{}{}
	}

	next := make([]ThreatSignature, 0, len(m.signatures)+len(cfg.Custom))
	for _, sig := range defaultSignatures() {
		if _, skip := disabled[sig.Name]; !skip {
			next = append(next, sig)
		}
	}
	for _, custom := range cfg.Custom {
		threatType := models.ThreatType(custom.ThreatType)
		if !threatType.Valid() {
			return fmt.Errorf("signature %q: unknown threat type %q", custom.Name, custom.ThreatType)
		}
		level := models.ThreatLevel(custom.ThreatLevel)
		if !level.Valid() {
			return fmt.Errorf("signature %q: unknown threat level %q", custom.Name, custom.ThreatLevel)
		}
		sig := ThreatSignature{
			Name:        custom.Name,
			ThreatType:  threatType,
			ThreatLevel: level,
			Description: custom.Description,
			Actions:     []models.ActionType{models.ActionLogEvent, models.ActionAlertSecurityTeam},
		}
		for _, raw := range custom.Patterns {
			re, err := regexp.Compile(raw)
			if err != nil {
				return fmt.Errorf("signature %q: pattern %q: %w", custom.Name, raw, err)
			}
			sig.Patterns = append(sig.Patterns, re)
		}
		if len(sig.Patterns) == 0 {
			return fmt.Errorf("signature %q: no patterns", custom.Name)
		}
		next = append(next, sig)
	}

	m.mu.Lock()
	m.signatures = next
	m.mu.Unlock()
	return nil
}

// Check implements Detector. At most one detection per signature group
// is emitted for a single event.
func (m *SignatureMatcher) Check(_ context.Context, event *models.SecurityEvent, features map[string]float64, _ []models.SecurityEvent) ([]*models.ThreatDetection, error) {
	haystack := buildHaystack(event)

	m.mu.RLock()
	signatures := m.signatures
	m.mu.RUnlock()

	var detections []*models.ThreatDetection
	for _, sig := range signatures {
		pattern, match := firstMatch(sig.Patterns, haystack)
		if pattern == "" {
			continue
		}
		d := newDetection(sig.ThreatType, sig.ThreatLevel, event)
		d.Confidence = signatureConfidence
		d.Description = sig.Description
		d.RecommendedActions = append(d.RecommendedActions, sig.Actions...)
		d.Features = features
		d.RiskScore = riskForLevel(sig.ThreatLevel)
		d.Evidence["signature"] = sig.Name
		d.Evidence["pattern"] = pattern
		d.Evidence["matched"] = match
		detections = append(detections, d)
	}
	return detections, nil
}

func buildHaystack(event *models.SecurityEvent) string {
	var b strings.Builder
	b.WriteString(event.Endpoint)
	for _, v := range event.Parameters {
		b.WriteByte(' ')
		b.WriteString(v)
	}
	b.WriteByte(' ')
	b.WriteString(event.UserAgent)
	return b.String()
}

func firstMatch(patterns []*regexp.Regexp, haystack string) (pattern, match string) {
	for _, re := range patterns {
		if loc := re.FindStringIndex(haystack); loc != nil {
			excerpt := haystack[loc[0]:loc[1]]
			if len(excerpt) > 120 {
				excerpt = excerpt[:120]
			}
			return re.String(), excerpt
		}
	}
	return "", ""
}

func riskForLevel(level models.ThreatLevel) float64 {
	switch level {
	case models.ThreatLevelCritical:
		return 0.95
	case models.ThreatLevelHigh:
		return 0.8
	case models.ThreatLevelMedium:
		return 0.5
	default:
		return 0.3
	}
}
