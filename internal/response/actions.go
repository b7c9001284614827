// Custodus - Real-Time Threat Detection and Automated Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodus

package response

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/custodus/internal/logging"
	"github.com/tomtom215/custodus/internal/metrics"
	"github.com/tomtom215/custodus/internal/models"
)

// DefaultActionTimeout bounds one action execution.
const DefaultActionTimeout = 10 * time.Second

type actionHandler func(ctx context.Context, incident *models.SecurityIncident, action models.RuleAction) (map[string]any, error)

// ExecutorConfig tunes the action executor.
type ExecutorConfig struct {
	ActionTimeout     time.Duration
	BlockDuration     time.Duration
	RateLimitDuration time.Duration
}

// ActionExecutor runs response actions against incidents. Execution
// never returns an error to the caller: every attempt produces a
// ResponseActionResult, failures included, so the incident record is
// always complete. A panicking handler is contained and recorded as a
// failure.
type ActionExecutor struct {
	ledger     *IPLedger
	dispatcher *Dispatcher
	forensics  *ForensicsCollector
	cfg        ExecutorConfig
	handlers   map[models.ActionType]actionHandler
}

// NewActionExecutor wires the executor to its collaborators.
func NewActionExecutor(ledger *IPLedger, dispatcher *Dispatcher, forensics *ForensicsCollector, cfg ExecutorConfig) *ActionExecutor {
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = DefaultActionTimeout
	}
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = DefaultBlockDuration
	}
	if cfg.RateLimitDuration <= 0 {
		cfg.RateLimitDuration = DefaultRateLimitDuration
	}

	e := &ActionExecutor{
		ledger:     ledger,
		dispatcher: dispatcher,
		forensics:  forensics,
		cfg:        cfg,
	}
	e.handlers = map[models.ActionType]actionHandler{
		models.ActionBlockIP:            e.blockIP,
		models.ActionRateLimitIP:        e.rateLimitIP,
		models.ActionBlockUser:          e.blockUser,
		models.ActionRevokeSession:      e.revokeSession,
		models.ActionAlertSecurityTeam:  e.alert,
		models.ActionLogEvent:           e.logEvent,
		models.ActionCollectForensics:   e.collectForensics,
		models.ActionNotifyStakeholders: e.alert,
		models.ActionEscalateToHuman:    e.escalate,
	}
	return e
}

// Execute runs one action and records the outcome on the incident.
func (e *ActionExecutor) Execute(ctx context.Context, incident *models.SecurityIncident, action models.RuleAction) models.ResponseActionResult {
	start := time.Now()
	result := models.ResponseActionResult{
		ActionType: action.Type,
		ExecutedAt: start.UTC(),
	}

	handler, known := e.handlers[action.Type]
	if !known {
		result.Error = fmt.Sprintf("unknown action type %q", action.Type)
	} else {
		details, err := e.run(ctx, handler, incident, action)
		result.Details = details
		if err != nil {
			result.Error = err.Error()
		} else {
			result.Success = true
		}
	}

	result.Duration = time.Since(start)
	metrics.RecordAction(string(action.Type), result.Success, result.Duration)
	if !result.Success {
		logging.Warn().
			Str("action", string(action.Type)).
			Str("incident_id", incident.ID).
			Str("error", result.Error).
			Msg("Response action failed")
	} else {
		logging.Info().
			Str("action", string(action.Type)).
			Str("incident_id", incident.ID).
			Dur("duration", result.Duration).
			Msg("Response action executed")
	}

	incident.RecordActionResult(result)
	return result
}

// run applies the per-action timeout and contains handler panics.
func (e *ActionExecutor) run(ctx context.Context, handler actionHandler, incident *models.SecurityIncident, action models.RuleAction) (details map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panicked: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.ActionTimeout)
	defer cancel()
	return handler(ctx, incident, action)
}

// durationParam reads a "duration_minutes" parameter, falling back to
// the given default. JSON numbers decode as float64.
func durationParam(action models.RuleAction, fallback time.Duration) time.Duration {
	raw, ok := action.Parameters["duration_minutes"]
	if !ok {
		return fallback
	}
	switch v := raw.(type) {
	case float64:
		if v > 0 {
			return time.Duration(v) * time.Minute
		}
	case int:
		if v > 0 {
			return time.Duration(v) * time.Minute
		}
	}
	return fallback
}

func (e *ActionExecutor) blockIP(_ context.Context, incident *models.SecurityIncident, action models.RuleAction) (map[string]any, error) {
	ip := incident.Detection.SourceIP
	if ip == "" {
		return nil, fmt.Errorf("detection carries no source IP")
	}
	expiry := e.ledger.BlockIP(ip, durationParam(action, e.cfg.BlockDuration))
	return map[string]any{"ip": ip, "expires_at": expiry.UTC()}, nil
}

func (e *ActionExecutor) rateLimitIP(_ context.Context, incident *models.SecurityIncident, action models.RuleAction) (map[string]any, error) {
	ip := incident.Detection.SourceIP
	if ip == "" {
		return nil, fmt.Errorf("detection carries no source IP")
	}
	expiry := e.ledger.RateLimitIP(ip, durationParam(action, e.cfg.RateLimitDuration))
	return map[string]any{"ip": ip, "expires_at": expiry.UTC()}, nil
}

func (e *ActionExecutor) blockUser(_ context.Context, incident *models.SecurityIncident, action models.RuleAction) (map[string]any, error) {
	actor := incident.Detection.ActorID
	if actor == "" {
		return nil, fmt.Errorf("detection carries no actor ID")
	}
	expiry := e.ledger.BlockActor(actor, durationParam(action, e.cfg.BlockDuration))
	return map[string]any{"actor_id": actor, "expires_at": expiry.UTC()}, nil
}

// revokeSession records the revocation intent. Actual session teardown
// belongs to the external identity provider reading the incident feed.
func (e *ActionExecutor) revokeSession(_ context.Context, incident *models.SecurityIncident, _ models.RuleAction) (map[string]any, error) {
	actor := incident.Detection.ActorID
	if actor == "" {
		return nil, fmt.Errorf("detection carries no actor ID")
	}
	return map[string]any{"actor_id": actor, "revocation_requested": true}, nil
}

func (e *ActionExecutor) alert(ctx context.Context, incident *models.SecurityIncident, _ models.RuleAction) (map[string]any, error) {
	ok, outcomes := e.dispatcher.Notify(ctx, incident.Alert())
	details := make(map[string]any, len(outcomes))
	for channel, outcome := range outcomes {
		details[channel] = outcome
	}
	if !ok {
		return details, fmt.Errorf("no notification channel accepted the alert")
	}
	return details, nil
}

func (e *ActionExecutor) logEvent(_ context.Context, incident *models.SecurityIncident, _ models.RuleAction) (map[string]any, error) {
	logging.Warn().
		Str("incident_id", incident.ID).
		Str("threat_type", string(incident.Detection.ThreatType)).
		Str("severity", string(incident.Severity)).
		Str("source_ip", incident.Detection.SourceIP).
		Str("actor_id", incident.Detection.ActorID).
		Str("endpoint", incident.Detection.Endpoint).
		Msg("Security incident logged")
	return map[string]any{"logged": true}, nil
}

func (e *ActionExecutor) collectForensics(ctx context.Context, incident *models.SecurityIncident, _ models.RuleAction) (map[string]any, error) {
	snapshot := e.forensics.Collect(ctx, incident)
	for k, v := range snapshot {
		incident.ForensicData[k] = v
	}
	return map[string]any{"sections": len(snapshot)}, nil
}

func (e *ActionExecutor) escalate(ctx context.Context, incident *models.SecurityIncident, _ models.RuleAction) (map[string]any, error) {
	incident.EscalationLevel++
	details := map[string]any{"escalation_level": incident.EscalationLevel}

	// Best effort alert; the escalation itself already succeeded.
	if _, outcomes := e.dispatcher.Notify(ctx, incident.Alert()); len(outcomes) > 0 {
		details["notifications"] = outcomes
	}
	return details, nil
}
