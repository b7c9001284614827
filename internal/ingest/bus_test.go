// Custodus - Real-Time Threat Detection and Automated Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodus

package ingest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/custodus/internal/models"
)

type recordingProcessor struct {
	mu     sync.Mutex
	events []*models.SecurityEvent
	seen   chan struct{}
}

func newRecordingProcessor(expect int) *recordingProcessor {
	return &recordingProcessor{seen: make(chan struct{}, expect)}
}

func (p *recordingProcessor) Process(_ context.Context, event *models.SecurityEvent) {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
	p.seen <- struct{}{}
}

func (p *recordingProcessor) wait(t *testing.T, n int, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for i := 0; i < n; i++ {
		select {
		case <-p.seen:
		case <-deadline:
			t.Fatalf("timed out waiting for event %d of %d", i+1, n)
		}
	}
}

func startBus(t *testing.T, bus *Bus) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		bus.RunWithContext(ctx) //nolint:errcheck
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("bus did not stop after cancel")
		}
	})
}

func TestBusDeliversEvents(t *testing.T) {
	processor := newRecordingProcessor(10)
	bus := NewBus(Config{QueueSize: 64, Workers: 2}, processor)
	startBus(t, bus)

	for i := 0; i < 10; i++ {
		event := &models.SecurityEvent{
			SourceIP: fmt.Sprintf("10.0.0.%d", i),
			Endpoint: "/api/data",
		}
		if !bus.AddEvent(event) {
			t.Fatalf("AddEvent() rejected event %d", i)
		}
	}
	processor.wait(t, 10, 3*time.Second)

	processor.mu.Lock()
	defer processor.mu.Unlock()
	if len(processor.events) != 10 {
		t.Errorf("processed %d events, want 10", len(processor.events))
	}
	for _, e := range processor.events {
		if e.Method != "GET" {
			t.Errorf("event not normalized before processing: method %q", e.Method)
		}
	}
}

func TestBusNilEventRejected(t *testing.T) {
	bus := NewBus(Config{}, newRecordingProcessor(0))
	if bus.AddEvent(nil) {
		t.Error("AddEvent(nil) accepted")
	}
}

func TestBusDropsWhenFull(t *testing.T) {
	// Bus not started: the queue fills and overflow must be dropped,
	// never blocked on.
	bus := NewBus(Config{QueueSize: 4, Workers: 1}, newRecordingProcessor(0))

	accepted := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			if bus.AddEvent(&models.SecurityEvent{SourceIP: "10.0.0.1"}) {
				accepted++
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("AddEvent blocked on a full queue")
	}
	if accepted != 4 {
		t.Errorf("accepted %d events, want 4 (queue capacity)", accepted)
	}
}

func TestBusPerActorOrdering(t *testing.T) {
	processor := newRecordingProcessor(30)
	bus := NewBus(Config{QueueSize: 64, Workers: 4}, processor)
	startBus(t, bus)

	for i := 0; i < 30; i++ {
		event := &models.SecurityEvent{
			SourceIP:   "10.0.0.50",
			ActorID:    "actor-ordered",
			Endpoint:   fmt.Sprintf("/step/%02d", i),
			StatusCode: 200,
		}
		if !bus.AddEvent(event) {
			t.Fatalf("AddEvent() rejected event %d", i)
		}
	}
	processor.wait(t, 30, 3*time.Second)

	processor.mu.Lock()
	defer processor.mu.Unlock()
	for i, e := range processor.events {
		want := fmt.Sprintf("/step/%02d", i)
		if e.Endpoint != want {
			t.Fatalf("event %d endpoint = %q, want %q (per-actor order violated)", i, e.Endpoint, want)
		}
	}
}

func TestLaneForStable(t *testing.T) {
	a := laneFor("actor-1", 4)
	for i := 0; i < 100; i++ {
		if laneFor("actor-1", 4) != a {
			t.Fatal("laneFor not stable for the same key")
		}
	}
	if a < 0 || a >= 4 {
		t.Errorf("laneFor out of range: %d", a)
	}
}
