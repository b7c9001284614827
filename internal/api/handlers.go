// Custodus - Real-Time Threat Detection and Automated Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodus

// Package api exposes the HTTP control surface: event ingestion, threat and
// incident queries, response rule management, IP ledger lookups, and the
// live WebSocket feed.
package api

import (
	"errors"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/tomtom215/custodus/internal/detection"
	"github.com/tomtom215/custodus/internal/ingest"
	"github.com/tomtom215/custodus/internal/logging"
	"github.com/tomtom215/custodus/internal/models"
	"github.com/tomtom215/custodus/internal/response"
	"github.com/tomtom215/custodus/internal/websocket"
)

// defaultSummaryWindow bounds summary queries when the client omits one.
const defaultSummaryWindow = time.Hour

// maxSummaryWindow caps client-supplied windows so a single request cannot
// walk unbounded history.
const maxSummaryWindow = 24 * time.Hour

// Server holds the handler dependencies. All fields are required except hub,
// which may be nil when the WebSocket feed is disabled.
type Server struct {
	bus          *ingest.Bus
	monitor      *detection.Monitor
	orchestrator *response.Orchestrator
	ledger       *response.IPLedger
	hub          *websocket.Hub
}

// NewServer wires the handler set over the running pipeline components.
func NewServer(bus *ingest.Bus, monitor *detection.Monitor, orchestrator *response.Orchestrator, ledger *response.IPLedger, hub *websocket.Hub) *Server {
	return &Server{
		bus:          bus,
		monitor:      monitor,
		orchestrator: orchestrator,
		ledger:       ledger,
		hub:          hub,
	}
}

// IngestEvent accepts a security event for asynchronous processing.
// Returns 202 on enqueue and 503 when the ingest queue is saturated;
// ingestion never blocks the caller.
func (s *Server) IngestEvent(w http.ResponseWriter, r *http.Request) {
	var event models.SecurityEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Malformed event payload", err)
		return
	}

	if !s.bus.AddEvent(&event) {
		respondError(w, http.StatusServiceUnavailable, "QUEUE_FULL", "Ingest queue is full, event dropped", nil)
		return
	}

	respondData(w, http.StatusAccepted, map[string]any{
		"accepted":    true,
		"queue_depth": s.bus.QueueDepth(),
	})
}

// ThreatSummary reports detection aggregates for a trailing window.
func (s *Server) ThreatSummary(w http.ResponseWriter, r *http.Request) {
	window, err := summaryWindow(r)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	respondData(w, http.StatusOK, s.monitor.Summary(window))
}

// IncidentSummary reports incident aggregates for a trailing window.
func (s *Server) IncidentSummary(w http.ResponseWriter, r *http.Request) {
	window, err := summaryWindow(r)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	respondData(w, http.StatusOK, s.orchestrator.Summary(window))
}

// ActiveIncidents lists open incidents newest first.
func (s *Server) ActiveIncidents(w http.ResponseWriter, r *http.Request) {
	respondData(w, http.StatusOK, map[string]any{
		"incidents": s.orchestrator.GetActiveIncidents(),
	})
}

// GetIncident returns one incident by ID.
func (s *Server) GetIncident(w http.ResponseWriter, r *http.Request) {
	incident := s.orchestrator.GetIncident(chi.URLParam(r, "id"))
	if incident == nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Incident not found", nil)
		return
	}

	respondData(w, http.StatusOK, incident)
}

type statusUpdateRequest struct {
	Status models.IncidentStatus `json:"status"`
	Notes  string                `json:"notes,omitempty"`
}

// UpdateIncidentStatus moves an incident along the lifecycle graph.
// Unknown incidents yield 404; disallowed transitions yield 409.
func (s *Server) UpdateIncidentStatus(w http.ResponseWriter, r *http.Request) {
	var req statusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Malformed status update", err)
		return
	}
	if !req.Status.Valid() {
		respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Unknown incident status", nil)
		return
	}

	id := chi.URLParam(r, "id")
	incident, err := s.orchestrator.UpdateIncidentStatus(id, req.Status, req.Notes)
	if err != nil {
		var invalid *models.ErrInvalidTransition
		if errors.As(err, &invalid) {
			respondError(w, http.StatusConflict, "INVALID_TRANSITION", invalid.Error(), nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Status update failed", err)
		return
	}
	if incident == nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Incident not found", nil)
		return
	}

	logging.Info().
		Str("incident_id", incident.ID).
		Str("status", string(req.Status)).
		Msg("Incident status updated via API")

	respondData(w, http.StatusOK, incident)
}

// ListRules returns every registered response rule sorted by ID.
func (s *Server) ListRules(w http.ResponseWriter, r *http.Request) {
	respondData(w, http.StatusOK, map[string]any{
		"rules": s.orchestrator.Rules(),
	})
}

// CreateRule registers or replaces a response rule.
func (s *Server) CreateRule(w http.ResponseWriter, r *http.Request) {
	var rule models.ResponseRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Malformed rule payload", err)
		return
	}

	if err := s.orchestrator.RegisterRule(&rule); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	logging.Info().Str("rule_id", rule.ID).Str("rule_name", rule.Name).Msg("Response rule registered via API")
	respondData(w, http.StatusCreated, &rule)
}

// DeleteRule removes a rule by ID.
func (s *Server) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.orchestrator.RemoveRule(id) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Rule not found", nil)
		return
	}

	respondData(w, http.StatusOK, map[string]any{"deleted": id})
}

// IPStatus reports the ledger state for one IP address.
func (s *Server) IPStatus(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	if _, err := netip.ParseAddr(ip); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Invalid IP address", nil)
		return
	}

	respondData(w, http.StatusOK, s.ledger.Status(ip))
}

// WebSocket upgrades the connection and attaches it to the broadcast hub.
func (s *Server) WebSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		respondError(w, http.StatusServiceUnavailable, "WS_DISABLED", "WebSocket feed is not enabled", nil)
		return
	}
	websocket.ServeWS(s.hub, w, r)
}

// Health reports liveness plus cheap pipeline gauges.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	blocked, rateLimited, actors := s.ledger.Counts()
	data := map[string]any{
		"status":            "ok",
		"queue_depth":       s.bus.QueueDepth(),
		"blocked_ips":       blocked,
		"rate_limited_ips":  rateLimited,
		"blocked_actors":    actors,
		"websocket_clients": 0,
	}
	if s.hub != nil {
		data["websocket_clients"] = s.hub.ClientCount()
	}

	respondData(w, http.StatusOK, data)
}

func summaryWindow(r *http.Request) (time.Duration, error) {
	raw := r.URL.Query().Get("window")
	if raw == "" {
		return defaultSummaryWindow, nil
	}

	window, err := time.ParseDuration(raw)
	if err != nil || window <= 0 {
		return 0, errors.New("window must be a positive duration such as 15m or 1h")
	}
	if window > maxSummaryWindow {
		window = maxSummaryWindow
	}
	return window, nil
}
