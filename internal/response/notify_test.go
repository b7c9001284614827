// Custodus - Real-Time Threat Detection and Automated Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodus

package response

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/custodus/internal/models"
)

type mockChannel struct {
	mu    sync.Mutex
	name  string
	fail  bool
	sent  []models.AlertPayload
	delay time.Duration
}

func (m *mockChannel) Name() string { return m.name }

func (m *mockChannel) Send(ctx context.Context, payload models.AlertPayload) error {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return fmt.Errorf("channel %s unavailable", m.name)
	}
	m.sent = append(m.sent, payload)
	return nil
}

func (m *mockChannel) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func startDispatcher(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.RunWithContext(ctx) //nolint:errcheck
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func testPayload() models.AlertPayload {
	return models.AlertPayload{
		IncidentID:  "inc-1",
		ThreatType:  models.ThreatTypeBruteForce,
		Severity:    models.ThreatLevelHigh,
		SourceIP:    "198.51.100.20",
		Description: "repeated auth failures",
		Timestamp:   time.Now().UTC(),
	}
}

func TestDispatcherDuplicateChannelRejected(t *testing.T) {
	d := NewDispatcher(8, 1, time.Second)
	if err := d.RegisterChannel(&mockChannel{name: "chat"}); err != nil {
		t.Fatalf("RegisterChannel() error = %v", err)
	}
	if err := d.RegisterChannel(&mockChannel{name: "chat"}); err == nil {
		t.Error("duplicate channel name accepted")
	}
}

func TestDispatcherNoChannels(t *testing.T) {
	d := NewDispatcher(8, 1, time.Second)
	startDispatcher(t, d)

	ok, outcomes := d.Notify(context.Background(), testPayload())
	if ok {
		t.Error("Notify() succeeded with no channels")
	}
	if len(outcomes) == 0 {
		t.Error("Notify() returned no outcome detail")
	}
}

func TestDispatcherFanOut(t *testing.T) {
	d := NewDispatcher(8, 2, time.Second)
	good := &mockChannel{name: "good"}
	bad := &mockChannel{name: "bad", fail: true}
	if err := d.RegisterChannel(good); err != nil {
		t.Fatal(err)
	}
	if err := d.RegisterChannel(bad); err != nil {
		t.Fatal(err)
	}
	startDispatcher(t, d)

	ok, outcomes := d.Notify(context.Background(), testPayload())
	if !ok {
		t.Errorf("Notify() failed although one channel succeeded: %v", outcomes)
	}
	if outcomes["good"] != "delivered" {
		t.Errorf("outcomes[good] = %q, want delivered", outcomes["good"])
	}
	if outcomes["bad"] == "delivered" {
		t.Error("failing channel reported delivered")
	}
	if good.sentCount() != 1 {
		t.Errorf("good channel received %d payloads, want 1", good.sentCount())
	}
}

func TestDispatcherSlowChannelTimesOut(t *testing.T) {
	d := NewDispatcher(8, 2, 50*time.Millisecond)
	slow := &mockChannel{name: "slow", delay: time.Second}
	fast := &mockChannel{name: "fast"}
	if err := d.RegisterChannel(slow); err != nil {
		t.Fatal(err)
	}
	if err := d.RegisterChannel(fast); err != nil {
		t.Fatal(err)
	}
	startDispatcher(t, d)

	ok, outcomes := d.Notify(context.Background(), testPayload())
	if !ok {
		t.Errorf("Notify() failed although the fast channel succeeded: %v", outcomes)
	}
	if outcomes["fast"] != "delivered" {
		t.Errorf("outcomes[fast] = %q, want delivered", outcomes["fast"])
	}
}

func TestWebhookChannelDelivers(t *testing.T) {
	var mu sync.Mutex
	var received []models.AlertPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload models.AlertPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode webhook body: %v", err)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if r.Header.Get("X-Custodus-Token") != "secret" {
			t.Error("custom header missing")
		}
		mu.Lock()
		received = append(received, payload)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	ch, err := NewWebhookChannel(WebhookConfig{
		Name:    "hook",
		URL:     server.URL,
		Headers: map[string]string{"X-Custodus-Token": "secret"},
	})
	if err != nil {
		t.Fatalf("NewWebhookChannel() error = %v", err)
	}

	if err := ch.Send(context.Background(), testPayload()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || received[0].IncidentID != "inc-1" {
		t.Errorf("webhook received %d payloads", len(received))
	}
}

func TestWebhookChannelServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	ch, err := NewWebhookChannel(WebhookConfig{URL: server.URL})
	if err != nil {
		t.Fatal(err)
	}
	if err := ch.Send(context.Background(), testPayload()); err == nil {
		t.Error("Send() succeeded against a 502 endpoint")
	}
}

func TestWebhookChannelRequiresURL(t *testing.T) {
	if _, err := NewWebhookChannel(WebhookConfig{}); err == nil {
		t.Error("NewWebhookChannel() accepted empty URL")
	}
}

type stubEventSource struct {
	byIP    map[string][]models.SecurityEvent
	byActor map[string][]models.SecurityEvent
}

func (s *stubEventSource) RecentForIP(ip string, _ time.Duration) []models.SecurityEvent {
	return s.byIP[ip]
}

func (s *stubEventSource) RecentForActor(key string, _ time.Duration) []models.SecurityEvent {
	return s.byActor[key]
}

func TestForensicsCollectorSnapshot(t *testing.T) {
	events := make([]models.SecurityEvent, 40)
	for i := range events {
		events[i] = models.SecurityEvent{
			Timestamp:  time.Now().UTC(),
			EventType:  models.EventTypeHTTPRequest,
			SourceIP:   "198.51.100.10",
			Endpoint:   fmt.Sprintf("/api/page/%d", i),
			Method:     "GET",
			StatusCode: 200,
		}
	}
	source := &stubEventSource{byIP: map[string][]models.SecurityEvent{"198.51.100.10": events}}
	collector := NewForensicsCollector(source, 25)

	incident := models.NewSecurityIncident(testDetection(models.ThreatTypeInjectionAttack, models.ThreatLevelCritical))
	snapshot := collector.Collect(context.Background(), incident)

	threat, ok := snapshot["threat"].(map[string]any)
	if !ok {
		t.Fatal("snapshot missing threat section")
	}
	if threat["type"] != string(models.ThreatTypeInjectionAttack) {
		t.Errorf("threat type = %v", threat["type"])
	}
	if _, ok := snapshot["system"].(map[string]any); !ok {
		t.Error("snapshot missing system section")
	}
	related, ok := snapshot["related_events"].([]map[string]any)
	if !ok {
		t.Fatal("snapshot missing related events")
	}
	if len(related) != 25 {
		t.Errorf("related events = %d, want capped at 25", len(related))
	}
}

func TestForensicsCollectorNoSource(t *testing.T) {
	collector := NewForensicsCollector(nil, 10)
	incident := models.NewSecurityIncident(testDetection(models.ThreatTypeAPIAbuse, models.ThreatLevelLow))

	snapshot := collector.Collect(context.Background(), incident)
	if _, present := snapshot["related_events"]; present {
		t.Error("snapshot includes related events without a source")
	}
	if _, ok := snapshot["collected_at"]; !ok {
		t.Error("snapshot missing collected_at")
	}
}
