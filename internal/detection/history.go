// Custodus - Real-Time Threat Detection and Automated Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodus

package detection

import (
	"sync"
	"time"

	"github.com/tomtom215/custodus/internal/models"
)

const (
	// DefaultRetention bounds how long events stay queryable.
	DefaultRetention = time.Hour

	// DefaultMaxPerKey caps events kept per actor or source IP.
	DefaultMaxPerKey = 500

	// DefaultMaxGlobal caps the global event ring.
	DefaultMaxGlobal = 20000
)

// EventHistory is a bounded in-memory store of recent security events,
// indexed by actor key and source IP. It exists to feed behavioral
// feature extraction and forensic snapshots; nothing is persisted.
type EventHistory struct {
	mu        sync.RWMutex
	global    []models.SecurityEvent
	byActor   map[string][]models.SecurityEvent
	byIP      map[string][]models.SecurityEvent
	retention time.Duration
	maxPerKey int
	maxGlobal int
}

// NewEventHistory creates a history with the given retention window and
// capacity bounds. Non-positive arguments fall back to defaults.
func NewEventHistory(retention time.Duration, maxPerKey, maxGlobal int) *EventHistory {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if maxPerKey <= 0 {
		maxPerKey = DefaultMaxPerKey
	}
	if maxGlobal <= 0 {
		maxGlobal = DefaultMaxGlobal
	}
	return &EventHistory{
		byActor:   make(map[string][]models.SecurityEvent),
		byIP:      make(map[string][]models.SecurityEvent),
		retention: retention,
		maxPerKey: maxPerKey,
		maxGlobal: maxGlobal,
	}
}

// Append records one event in the global ring and both indexes.
func (h *EventHistory) Append(event *models.SecurityEvent) {
	if event == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.global = appendBounded(h.global, *event, h.maxGlobal)
	key := event.ActorKey()
	h.byActor[key] = appendBounded(h.byActor[key], *event, h.maxPerKey)
	if event.SourceIP != "" {
		h.byIP[event.SourceIP] = appendBounded(h.byIP[event.SourceIP], *event, h.maxPerKey)
	}
}

func appendBounded(events []models.SecurityEvent, event models.SecurityEvent, cap int) []models.SecurityEvent {
	events = append(events, event)
	if len(events) > cap {
		// Drop the oldest half in one move to amortize copying.
		keep := cap / 2
		events = append(events[:0], events[len(events)-keep:]...)
	}
	return events
}

// RecentForActor returns events for the actor key within the window,
// oldest first.
func (h *EventHistory) RecentForActor(key string, window time.Duration) []models.SecurityEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return filterSince(h.byActor[key], time.Now().Add(-window))
}

// RecentForIP returns events for the source IP within the window,
// oldest first.
func (h *EventHistory) RecentForIP(ip string, window time.Duration) []models.SecurityEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return filterSince(h.byIP[ip], time.Now().Add(-window))
}

// RecentGlobal returns all retained events within the window, oldest
// first. Used for anomaly model training.
func (h *EventHistory) RecentGlobal(window time.Duration) []models.SecurityEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return filterSince(h.global, time.Now().Add(-window))
}

func filterSince(events []models.SecurityEvent, cutoff time.Time) []models.SecurityEvent {
	// Events are appended in arrival order; find the first one at or
	// after the cutoff and copy the tail.
	idx := len(events)
	for i, e := range events {
		if !e.Timestamp.Before(cutoff) {
			idx = i
			break
		}
	}
	if idx == len(events) {
		return nil
	}
	out := make([]models.SecurityEvent, len(events)-idx)
	copy(out, events[idx:])
	return out
}

// Prune drops events older than the retention window and removes empty
// index entries. Returns the number of events removed.
func (h *EventHistory) Prune() int {
	cutoff := time.Now().Add(-h.retention)
	h.mu.Lock()
	defer h.mu.Unlock()

	removed := 0
	before := len(h.global)
	h.global = pruneInPlace(h.global, cutoff)
	removed += before - len(h.global)

	for key, events := range h.byActor {
		kept := pruneInPlace(events, cutoff)
		if len(kept) == 0 {
			delete(h.byActor, key)
		} else {
			h.byActor[key] = kept
		}
	}
	for ip, events := range h.byIP {
		kept := pruneInPlace(events, cutoff)
		if len(kept) == 0 {
			delete(h.byIP, ip)
		} else {
			h.byIP[ip] = kept
		}
	}
	return removed
}

func pruneInPlace(events []models.SecurityEvent, cutoff time.Time) []models.SecurityEvent {
	idx := len(events)
	for i, e := range events {
		if !e.Timestamp.Before(cutoff) {
			idx = i
			break
		}
	}
	if idx == 0 {
		return events
	}
	return append(events[:0], events[idx:]...)
}

// Size reports current totals for metrics and diagnostics.
func (h *EventHistory) Size() (global, actors, ips int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.global), len(h.byActor), len(h.byIP)
}
