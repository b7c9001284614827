// Custodus - Real-Time Threat Detection and Automated Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodus

package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tomtom215/custodus/internal/detection"
	"github.com/tomtom215/custodus/internal/ingest"
	"github.com/tomtom215/custodus/internal/models"
	"github.com/tomtom215/custodus/internal/response"
)

type testAPI struct {
	handler      http.Handler
	orchestrator *response.Orchestrator
	ledger       *response.IPLedger
}

func newTestAPI(t *testing.T, queueSize int) *testAPI {
	t.Helper()

	monitor := detection.NewMonitor(detection.MonitorConfig{})
	bus := ingest.NewBus(ingest.Config{QueueSize: queueSize, Workers: 1}, monitor)
	t.Cleanup(func() { bus.Drain(100 * time.Millisecond) })

	ledger := response.NewIPLedger(time.Minute)
	dispatcher := response.NewDispatcher(16, 1, time.Second)
	forensics := response.NewForensicsCollector(monitor.History(), 10)
	executor := response.NewActionExecutor(ledger, dispatcher, forensics, response.ExecutorConfig{ActionTimeout: 2 * time.Second})
	orchestrator := response.NewOrchestrator(executor, nil)

	server := NewServer(bus, monitor, orchestrator, ledger, nil)
	router := NewRouter(server, NewMiddleware(&MiddlewareConfig{
		RateLimitRequests: 0, // disabled for handler tests
	}))

	return &testAPI{
		handler:      router.Setup(),
		orchestrator: orchestrator,
		ledger:       ledger,
	}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, *APIResponse) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	var envelope APIResponse
	if rec.Header().Get("Content-Type") == "application/json" {
		if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
			t.Fatalf("decode response envelope: %v (body %q)", err, rec.Body.String())
		}
	}
	return rec, &envelope
}

func decodeData(t *testing.T, envelope *APIResponse, out any) {
	t.Helper()
	raw, err := json.Marshal(envelope.Data)
	if err != nil {
		t.Fatalf("re-marshal data: %v", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func testRule(id string) *models.ResponseRule {
	return &models.ResponseRule{
		ID:           id,
		Name:         "Log injection attempts",
		ThreatTypes:  []models.ThreatType{models.ThreatTypeInjectionAttack},
		ThreatLevels: []models.ThreatLevel{models.ThreatLevelHigh, models.ThreatLevelCritical},
		Actions:      []models.RuleAction{{Type: models.ActionLogEvent}},
		Enabled:      true,
	}
}

func createIncident(t *testing.T, api *testAPI) *models.SecurityIncident {
	t.Helper()

	if err := api.orchestrator.RegisterRule(testRule("log-injection")); err != nil {
		t.Fatalf("register rule: %v", err)
	}
	detected := models.NewThreatDetection(models.ThreatTypeInjectionAttack, models.ThreatLevelHigh)
	detected.SourceIP = "203.0.113.7"

	incident := api.orchestrator.HandleThreat(context.Background(), detected)
	if incident == nil {
		t.Fatal("expected an incident")
	}
	return incident
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t, 16)

	rec, envelope := api.do(t, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var data map[string]any
	decodeData(t, envelope, &data)
	if data["status"] != "ok" {
		t.Fatalf("health status = %v, want ok", data["status"])
	}
}

func TestIngestEventAccepted(t *testing.T) {
	api := newTestAPI(t, 16)

	event := map[string]any{
		"event_type": "http_request",
		"source_ip":  "198.51.100.4",
		"endpoint":   "/api/orders",
	}
	rec, envelope := api.do(t, http.MethodPost, "/api/v1/events", event)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (body %s)", rec.Code, rec.Body.String())
	}
	var data map[string]any
	decodeData(t, envelope, &data)
	if data["accepted"] != true {
		t.Fatal("expected accepted=true")
	}
}

func TestIngestEventMalformed(t *testing.T) {
	api := newTestAPI(t, 16)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
}

func TestIngestEventQueueFull(t *testing.T) {
	// The bus is never started, so a single-slot queue saturates after
	// one accepted event.
	api := newTestAPI(t, 1)

	event := map[string]any{"event_type": "http_request", "source_ip": "198.51.100.4"}
	rec, _ := api.do(t, http.MethodPost, "/api/v1/events", event)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("first event status = %d, want 202", rec.Code)
	}

	rec, envelope := api.do(t, http.MethodPost, "/api/v1/events", event)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("second event status = %d, want 503", rec.Code)
	}
	if envelope.Error == nil || envelope.Error.Code != "QUEUE_FULL" {
		t.Fatalf("error = %+v, want QUEUE_FULL", envelope.Error)
	}
}

func TestThreatSummaryWindow(t *testing.T) {
	api := newTestAPI(t, 16)

	rec, envelope := api.do(t, http.MethodGet, "/api/v1/threats/summary?window=15m", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var summary detection.ThreatSummary
	decodeData(t, envelope, &summary)
	if summary.WindowSeconds != (15 * time.Minute).Seconds() {
		t.Fatalf("window_seconds = %v, want 900", summary.WindowSeconds)
	}

	rec, _ = api.do(t, http.MethodGet, "/api/v1/threats/summary?window=backwards", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid window status = %d, want 422", rec.Code)
	}
}

func TestRuleLifecycle(t *testing.T) {
	api := newTestAPI(t, 16)

	rec, _ := api.do(t, http.MethodPost, "/api/v1/rules", testRule("api-rule"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201 (body %s)", rec.Code, rec.Body.String())
	}

	rec, envelope := api.do(t, http.MethodGet, "/api/v1/rules", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", rec.Code)
	}
	var listed struct {
		Rules []models.ResponseRule `json:"rules"`
	}
	decodeData(t, envelope, &listed)
	if len(listed.Rules) != 1 || listed.Rules[0].ID != "api-rule" {
		t.Fatalf("rules = %+v, want one rule api-rule", listed.Rules)
	}

	rec, _ = api.do(t, http.MethodDelete, "/api/v1/rules/api-rule", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d, want 200", rec.Code)
	}
	rec, _ = api.do(t, http.MethodDelete, "/api/v1/rules/api-rule", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", rec.Code)
	}
}

func TestCreateRuleInvalid(t *testing.T) {
	api := newTestAPI(t, 16)

	rule := testRule("bad-rule")
	rule.Actions = nil

	rec, envelope := api.do(t, http.MethodPost, "/api/v1/rules", rule)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	if envelope.Error == nil || envelope.Error.Code != "VALIDATION_ERROR" {
		t.Fatalf("error = %+v, want VALIDATION_ERROR", envelope.Error)
	}
}

func TestIncidentEndpoints(t *testing.T) {
	api := newTestAPI(t, 16)
	incident := createIncident(t, api)

	rec, envelope := api.do(t, http.MethodGet, "/api/v1/incidents/active", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("active status = %d, want 200", rec.Code)
	}
	var active struct {
		Incidents []models.SecurityIncident `json:"incidents"`
	}
	decodeData(t, envelope, &active)
	if len(active.Incidents) != 1 || active.Incidents[0].ID != incident.ID {
		t.Fatalf("active incidents = %+v, want the created incident", active.Incidents)
	}

	rec, _ = api.do(t, http.MethodGet, "/api/v1/incidents/"+incident.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", rec.Code)
	}
	rec, _ = api.do(t, http.MethodGet, "/api/v1/incidents/no-such-id", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown get status = %d, want 404", rec.Code)
	}
}

func TestUpdateIncidentStatus(t *testing.T) {
	api := newTestAPI(t, 16)
	incident := createIncident(t, api)

	rec, _ := api.do(t, http.MethodPatch, "/api/v1/incidents/no-such-id/status",
		statusUpdateRequest{Status: models.IncidentStatusMitigated})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown incident status = %d, want 404", rec.Code)
	}

	rec, _ = api.do(t, http.MethodPatch, "/api/v1/incidents/"+incident.ID+"/status",
		map[string]any{"status": "vaporized"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bogus status = %d, want 422", rec.Code)
	}

	// A rule matched, so the incident is responding; closed is not
	// reachable from there.
	rec, envelope := api.do(t, http.MethodPatch, "/api/v1/incidents/"+incident.ID+"/status",
		statusUpdateRequest{Status: models.IncidentStatusClosed})
	if rec.Code != http.StatusConflict {
		t.Fatalf("invalid transition status = %d, want 409", rec.Code)
	}
	if envelope.Error == nil || envelope.Error.Code != "INVALID_TRANSITION" {
		t.Fatalf("error = %+v, want INVALID_TRANSITION", envelope.Error)
	}

	rec, envelope = api.do(t, http.MethodPatch, "/api/v1/incidents/"+incident.ID+"/status",
		statusUpdateRequest{Status: models.IncidentStatusMitigated, Notes: "blocked at the edge"})
	if rec.Code != http.StatusOK {
		t.Fatalf("mitigate status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	var updated models.SecurityIncident
	decodeData(t, envelope, &updated)
	if updated.Status != models.IncidentStatusMitigated {
		t.Fatalf("incident status = %s, want mitigated", updated.Status)
	}
}

func TestIPStatusEndpoint(t *testing.T) {
	api := newTestAPI(t, 16)

	rec, _ := api.do(t, http.MethodGet, "/api/v1/ips/not-an-ip", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid ip status = %d, want 422", rec.Code)
	}

	rec, envelope := api.do(t, http.MethodGet, "/api/v1/ips/203.0.113.9", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var status response.IPStatus
	decodeData(t, envelope, &status)
	if status.Blocked {
		t.Fatal("unlisted IP reported as blocked")
	}

	api.ledger.BlockIP("203.0.113.9", time.Hour)
	_, envelope = api.do(t, http.MethodGet, "/api/v1/ips/203.0.113.9", nil)
	decodeData(t, envelope, &status)
	if !status.Blocked || status.BlockExpiresAt == nil {
		t.Fatalf("status = %+v, want blocked with expiry", status)
	}
}

func TestWebSocketDisabled(t *testing.T) {
	api := newTestAPI(t, 16)

	rec, _ := api.do(t, http.MethodGet, "/ws", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 when hub is nil", rec.Code)
	}
}
