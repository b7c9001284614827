// Custodus - Real-Time Threat Detection and Automated Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodus

package response

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/custodus/internal/logging"
	"github.com/tomtom215/custodus/internal/metrics"
	"github.com/tomtom215/custodus/internal/models"
)

// Broadcaster pushes incident lifecycle messages to live subscribers.
// Satisfied by the WebSocket hub; a nil broadcaster disables pushes.
type Broadcaster interface {
	Broadcast(messageType string, data any)
}

// Orchestrator owns the incident store and drives the automated
// response flow: detection in, incident plus executed actions out.
type Orchestrator struct {
	mu        sync.RWMutex
	incidents map[string]*models.SecurityIncident
	order     []string
	rules     map[string]*models.ResponseRule

	gate        *RuleGate
	executor    *ActionExecutor
	broadcaster Broadcaster
}

// NewOrchestrator wires the orchestrator. broadcaster may be nil.
func NewOrchestrator(executor *ActionExecutor, broadcaster Broadcaster) *Orchestrator {
	return &Orchestrator{
		incidents:   make(map[string]*models.SecurityIncident),
		rules:       make(map[string]*models.ResponseRule),
		gate:        NewRuleGate(),
		executor:    executor,
		broadcaster: broadcaster,
	}
}

// RegisterRule validates and installs a response rule. A rule with the
// same ID replaces the previous version but keeps its gate history.
func (o *Orchestrator) RegisterRule(rule *models.ResponseRule) error {
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("register rule: %w", err)
	}
	o.mu.Lock()
	o.rules[rule.ID] = rule
	o.mu.Unlock()
	logging.Info().Str("rule_id", rule.ID).Str("name", rule.Name).Bool("enabled", rule.Enabled).Msg("Response rule registered")
	return nil
}

// RemoveRule uninstalls a rule and forgets its gate state. Removing an
// unknown rule is a no-op.
func (o *Orchestrator) RemoveRule(ruleID string) bool {
	o.mu.Lock()
	_, existed := o.rules[ruleID]
	delete(o.rules, ruleID)
	o.mu.Unlock()
	if existed {
		o.gate.Forget(ruleID)
		logging.Info().Str("rule_id", ruleID).Msg("Response rule removed")
	}
	return existed
}

// Rules returns the installed rules sorted by ID.
func (o *Orchestrator) Rules() []*models.ResponseRule {
	o.mu.RLock()
	rules := make([]*models.ResponseRule, 0, len(o.rules))
	for _, r := range o.rules {
		rules = append(rules, r)
	}
	o.mu.RUnlock()
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules
}

// HandleThreat creates an incident for the detection and executes the
// automated response. Always returns the created incident; every
// detection yields exactly one incident regardless of rule outcome.
func (o *Orchestrator) HandleThreat(ctx context.Context, detection *models.ThreatDetection) *models.SecurityIncident {
	incident := models.NewSecurityIncident(detection)
	metrics.IncidentsCreated.WithLabelValues(string(incident.Severity)).Inc()
	logging.Info().
		Str("incident_id", incident.ID).
		Str("threat_type", string(detection.ThreatType)).
		Str("severity", string(incident.Severity)).
		Str("source_ip", detection.SourceIP).
		Msg("Incident created")

	o.mu.RLock()
	var matched []*models.ResponseRule
	for _, rule := range o.rules {
		if rule.Matches(detection) {
			matched = append(matched, rule)
		}
	}
	o.mu.RUnlock()
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	now := time.Now()
	var passing []*models.ResponseRule
	for _, rule := range matched {
		if o.gate.Allow(rule, now) {
			passing = append(passing, rule)
		} else {
			logging.Debug().Str("rule_id", rule.ID).Str("incident_id", incident.ID).Msg("Rule execution suppressed by gate")
		}
	}

	if len(passing) == 0 {
		o.transition(incident, models.IncidentStatusInvestigating)
		o.executor.Execute(ctx, incident, models.RuleAction{Type: models.ActionEscalateToHuman})
	} else {
		o.transition(incident, models.IncidentStatusResponding)
		for _, rule := range passing {
			for _, action := range rule.Actions {
				o.executor.Execute(ctx, incident, action)
			}
		}
	}

	// The stored pointer is mutable under o.mu from here on; hand out a
	// snapshot so readers never race with later status updates.
	o.mu.Lock()
	o.incidents[incident.ID] = incident
	o.order = append(o.order, incident.ID)
	snapshot := incident.Clone()
	o.mu.Unlock()
	o.publishActiveGauge()

	if o.broadcaster != nil {
		o.broadcaster.Broadcast("incident_created", snapshot)
	}
	return snapshot
}

func (o *Orchestrator) transition(incident *models.SecurityIncident, to models.IncidentStatus) {
	from := incident.Status
	if err := incident.Transition(to); err != nil {
		logging.Err(err).Str("incident_id", incident.ID).Msg("Incident transition rejected")
		return
	}
	metrics.IncidentTransitions.WithLabelValues(string(from), string(to)).Inc()
}

// GetIncident returns a snapshot of the incident or nil when unknown.
func (o *Orchestrator) GetIncident(id string) *models.SecurityIncident {
	o.mu.RLock()
	defer o.mu.RUnlock()
	incident := o.incidents[id]
	if incident == nil {
		return nil
	}
	return incident.Clone()
}

// UpdateIncidentStatus applies a manual status change. An unknown ID
// is a no-op returning nil incident; an invalid transition returns
// *models.ErrInvalidTransition.
func (o *Orchestrator) UpdateIncidentStatus(id string, to models.IncidentStatus, notes string) (*models.SecurityIncident, error) {
	o.mu.Lock()
	incident, ok := o.incidents[id]
	if !ok {
		o.mu.Unlock()
		logging.Warn().Str("incident_id", id).Msg("Status update for unknown incident ignored")
		return nil, nil
	}

	from := incident.Status
	if err := incident.Transition(to); err != nil {
		snapshot := incident.Clone()
		o.mu.Unlock()
		return snapshot, err
	}
	metrics.IncidentTransitions.WithLabelValues(string(from), string(to)).Inc()
	if notes != "" {
		incident.ManualResponses = append(incident.ManualResponses, notes)
		if to == models.IncidentStatusResolved || to == models.IncidentStatusClosed {
			incident.ResolutionNotes = notes
		}
	}
	snapshot := incident.Clone()
	o.mu.Unlock()

	o.publishActiveGauge()
	if o.broadcaster != nil {
		o.broadcaster.Broadcast("incident_updated", snapshot)
	}
	return snapshot, nil
}

// GetActiveIncidents returns snapshots of incidents not yet resolved
// or closed, newest first.
func (o *Orchestrator) GetActiveIncidents() []*models.SecurityIncident {
	o.mu.RLock()
	defer o.mu.RUnlock()

	active := make([]*models.SecurityIncident, 0)
	for i := len(o.order) - 1; i >= 0; i-- {
		incident := o.incidents[o.order[i]]
		if incident == nil {
			continue
		}
		switch incident.Status {
		case models.IncidentStatusResolved, models.IncidentStatusClosed:
		default:
			active = append(active, incident.Clone())
		}
	}
	return active
}

// IncidentSummary aggregates incidents created inside the window.
type IncidentSummary struct {
	WindowSeconds float64        `json:"window_seconds"`
	Total         int            `json:"total"`
	Active        int            `json:"active"`
	ByStatus      map[string]int `json:"by_status"`
	BySeverity    map[string]int `json:"by_severity"`
}

// Summary aggregates incidents created inside the trailing window.
func (o *Orchestrator) Summary(window time.Duration) IncidentSummary {
	cutoff := time.Now().Add(-window)
	summary := IncidentSummary{
		WindowSeconds: window.Seconds(),
		ByStatus:      make(map[string]int),
		BySeverity:    make(map[string]int),
	}

	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, incident := range o.incidents {
		if incident.CreatedAt.Before(cutoff) {
			continue
		}
		summary.Total++
		summary.ByStatus[string(incident.Status)]++
		summary.BySeverity[string(incident.Severity)]++
		switch incident.Status {
		case models.IncidentStatusResolved, models.IncidentStatusClosed:
		default:
			summary.Active++
		}
	}
	return summary
}

func (o *Orchestrator) publishActiveGauge() {
	o.mu.RLock()
	active := 0
	for _, incident := range o.incidents {
		switch incident.Status {
		case models.IncidentStatusResolved, models.IncidentStatusClosed:
		default:
			active++
		}
	}
	o.mu.RUnlock()
	metrics.ActiveIncidents.Set(float64(active))
}

// HandleDetection adapts HandleThreat to the detection callback shape.
func (o *Orchestrator) HandleDetection(ctx context.Context, detection *models.ThreatDetection) {
	o.HandleThreat(ctx, detection)
}
