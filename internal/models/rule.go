// Custodus - Real-Time Threat Detection and Automated Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodus

package models

import (
	"fmt"

	"github.com/tomtom215/custodus/internal/validation"
)

// RuleAction is one step of a rule's ordered response plan.
type RuleAction struct {
	Type       ActionType     `json:"type" koanf:"type"`
	Parameters map[string]any `json:"parameters,omitempty" koanf:"parameters"`
}

// ResponseRule maps matching threats to an ordered list of automated
// response actions, subject to a cooldown and a rolling-hour execution cap.
// Rules are supplied as data by an external configuration collaborator and
// are read-only during matching.
type ResponseRule struct {
	ID           string        `json:"id" koanf:"id" validate:"required"`
	Name         string        `json:"name" koanf:"name" validate:"required"`
	ThreatTypes  []ThreatType  `json:"threat_types" koanf:"threat_types" validate:"required,min=1"`
	ThreatLevels []ThreatLevel `json:"threat_levels" koanf:"threat_levels" validate:"required,min=1"`

	// Conditions is accepted and stored but not evaluated during matching.
	// It is a reserved extension point for future matching predicates.
	Conditions map[string]any `json:"conditions,omitempty" koanf:"conditions"`

	Actions              []RuleAction `json:"actions" koanf:"actions" validate:"required,min=1"`
	CooldownMinutes      int          `json:"cooldown_minutes" koanf:"cooldown_minutes" validate:"gte=0"`
	MaxExecutionsPerHour int          `json:"max_executions_per_hour" koanf:"max_executions_per_hour" validate:"gte=0"`
	Enabled              bool         `json:"enabled" koanf:"enabled"`
	Description          string       `json:"description,omitempty" koanf:"description"`
}

// Validate rejects rules that reference unknown threat types, threat levels,
// or action types. Called synchronously at rule registration; a failing rule
// is rejected without affecting already-registered rules.
func (r *ResponseRule) Validate() error {
	if err := validation.ValidateStruct(r); err != nil {
		return fmt.Errorf("rule %q: %w", r.ID, err)
	}
	for _, tt := range r.ThreatTypes {
		if !tt.Valid() {
			return fmt.Errorf("rule %q: unknown threat type %q", r.ID, tt)
		}
	}
	for _, tl := range r.ThreatLevels {
		if !tl.Valid() {
			return fmt.Errorf("rule %q: unknown threat level %q", r.ID, tl)
		}
	}
	for _, action := range r.Actions {
		if !action.Type.Valid() {
			return fmt.Errorf("rule %q: unknown action type %q", r.ID, action.Type)
		}
	}
	return nil
}

// Matches reports whether the rule applies to the detection: both the threat
// type and the threat level must be listed. Conditions are intentionally not
// evaluated (see the field comment).
func (r *ResponseRule) Matches(detection *ThreatDetection) bool {
	if !r.Enabled {
		return false
	}

	typeMatch := false
	for _, tt := range r.ThreatTypes {
		if tt == detection.ThreatType {
			typeMatch = true
			break
		}
	}
	if !typeMatch {
		return false
	}

	for _, tl := range r.ThreatLevels {
		if tl == detection.ThreatLevel {
			return true
		}
	}
	return false
}
