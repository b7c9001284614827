// Custodus - Real-Time Threat Detection and Automated Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodus

package response

import (
	"sync"
	"time"

	"github.com/tomtom215/custodus/internal/metrics"
	"github.com/tomtom215/custodus/internal/models"
)

// gateWindow is the rolling window for MaxExecutionsPerHour.
const gateWindow = time.Hour

type ruleState struct {
	mu sync.Mutex

	// lastExecution outlives the rolling window so cooldowns longer
	// than an hour still see the previous execution.
	lastExecution time.Time
	executions    []time.Time
}

// RuleGate enforces per-rule cooldowns and rolling-hour execution caps.
// The check and the execution reservation are a single atomic step per
// rule, so concurrent detections cannot both claim the same slot.
type RuleGate struct {
	mu     sync.Mutex
	states map[string]*ruleState
}

// NewRuleGate creates an empty gate.
func NewRuleGate() *RuleGate {
	return &RuleGate{states: make(map[string]*ruleState)}
}

func (g *RuleGate) state(ruleID string) *ruleState {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.states[ruleID]
	if !ok {
		s = &ruleState{}
		g.states[ruleID] = s
	}
	return s
}

// Allow reports whether the rule may execute now and, if so, records
// the execution. A zero cooldown or cap disables that constraint.
func (g *RuleGate) Allow(rule *models.ResponseRule, now time.Time) bool {
	s := g.state(rule.ID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if rule.CooldownMinutes > 0 && !s.lastExecution.IsZero() {
		if now.Sub(s.lastExecution) < time.Duration(rule.CooldownMinutes)*time.Minute {
			metrics.RuleGateRejections.WithLabelValues(rule.ID, "cooldown").Inc()
			return false
		}
	}

	// The rolling window only bounds the hourly cap; the cooldown above
	// is checked against lastExecution so it survives pruning.
	cutoff := now.Add(-gateWindow)
	kept := s.executions[:0]
	for _, t := range s.executions {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.executions = kept

	if rule.MaxExecutionsPerHour > 0 && len(s.executions) >= rule.MaxExecutionsPerHour {
		metrics.RuleGateRejections.WithLabelValues(rule.ID, "hourly_cap").Inc()
		return false
	}

	s.lastExecution = now
	s.executions = append(s.executions, now)
	metrics.RuleExecutions.WithLabelValues(rule.ID).Inc()
	return true
}

// Forget discards gate state for a removed rule.
func (g *RuleGate) Forget(ruleID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.states, ruleID)
}
