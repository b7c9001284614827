// Custodus - Real-Time Threat Detection and Automated Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodus

package response

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/tomtom215/custodus/internal/logging"
	"github.com/tomtom215/custodus/internal/models"
)

// DefaultMaxRelatedEvents bounds the related event sample captured per
// incident.
const DefaultMaxRelatedEvents = 25

// relatedWindow is how far back the collector looks for events tied to
// the incident's source.
const relatedWindow = time.Hour

// EventSource supplies recent events for forensic snapshots. Satisfied
// by detection.EventHistory.
type EventSource interface {
	RecentForIP(ip string, window time.Duration) []models.SecurityEvent
	RecentForActor(key string, window time.Duration) []models.SecurityEvent
}

// ForensicsCollector captures a point-in-time snapshot for an
// incident: the triggering detection, host state, and a sample of
// related events from the same source. Collection is best effort; a
// probe failure drops that section rather than the snapshot.
type ForensicsCollector struct {
	events     EventSource
	maxRelated int
}

// NewForensicsCollector builds a collector over the given event
// source.
func NewForensicsCollector(events EventSource, maxRelated int) *ForensicsCollector {
	if maxRelated <= 0 {
		maxRelated = DefaultMaxRelatedEvents
	}
	return &ForensicsCollector{events: events, maxRelated: maxRelated}
}

// Collect builds the forensic snapshot for the incident.
func (c *ForensicsCollector) Collect(ctx context.Context, incident *models.SecurityIncident) map[string]any {
	snapshot := map[string]any{
		"collected_at": time.Now().UTC(),
		"threat": map[string]any{
			"type":       string(incident.Detection.ThreatType),
			"level":      string(incident.Detection.ThreatLevel),
			"confidence": incident.Detection.Confidence,
			"evidence":   incident.Detection.Evidence,
		},
	}
	snapshot["system"] = c.systemState(ctx)
	if related := c.relatedEvents(incident); len(related) > 0 {
		snapshot["related_events"] = related
	}
	return snapshot
}

func (c *ForensicsCollector) systemState(ctx context.Context) map[string]any {
	state := map[string]any{
		"goroutines": runtime.NumGoroutine(),
	}

	if info, err := host.InfoWithContext(ctx); err == nil {
		state["hostname"] = info.Hostname
		state["os"] = info.OS
		state["platform"] = info.Platform
		state["uptime_seconds"] = info.Uptime
	} else {
		logging.Debug().Err(err).Msg("Forensics host probe failed")
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		state["memory_used_percent"] = vm.UsedPercent
		state["memory_total_bytes"] = vm.Total
	} else {
		logging.Debug().Err(err).Msg("Forensics memory probe failed")
	}

	if counts, err := cpu.CountsWithContext(ctx, true); err == nil {
		state["cpu_count"] = counts
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		state["load_1m"] = avg.Load1
		state["load_5m"] = avg.Load5
	}
	return state
}

func (c *ForensicsCollector) relatedEvents(incident *models.SecurityIncident) []map[string]any {
	if c.events == nil {
		return nil
	}

	events := c.events.RecentForIP(incident.Detection.SourceIP, relatedWindow)
	if incident.Detection.ActorID != "" {
		actorEvents := c.events.RecentForActor(incident.Detection.ActorID, relatedWindow)
		if len(actorEvents) > len(events) {
			events = actorEvents
		}
	}
	if len(events) > c.maxRelated {
		events = events[len(events)-c.maxRelated:]
	}

	related := make([]map[string]any, 0, len(events))
	for _, e := range events {
		related = append(related, map[string]any{
			"timestamp":   e.Timestamp,
			"event_type":  string(e.EventType),
			"endpoint":    e.Endpoint,
			"method":      e.Method,
			"status_code": e.StatusCode,
		})
	}
	return related
}
