// Custodus - Real-Time Threat Detection and Automated Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodus

package detection

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/custodus/internal/logging"
	"github.com/tomtom215/custodus/internal/metrics"
	"github.com/tomtom215/custodus/internal/models"
)

const (
	// DefaultDedupTTL suppresses repeat detections with the same dedup
	// key inside this window.
	DefaultDedupTTL = 60 * time.Second

	// DefaultMaintenanceInterval paces background pruning.
	DefaultMaintenanceInterval = time.Minute

	// defaultRecentCap bounds detections retained for summaries.
	defaultRecentCap = 5000

	// actorHistoryWindow is how far back the extractor looks when
	// building behavioral features for one event.
	actorHistoryWindow = time.Hour
)

// Callback receives each deduplicated detection. Callbacks run inline
// on the processing goroutine; anything slow must hand off internally.
type Callback func(ctx context.Context, detection *models.ThreatDetection)

// MonitorConfig tunes the monitor's retention and dedup behavior.
type MonitorConfig struct {
	Retention           time.Duration
	MaxEventsPerKey     int
	MaxGlobalEvents     int
	DedupTTL            time.Duration
	MaintenanceInterval time.Duration
}

// Monitor is the detection pipeline core. Every ingested event is
// recorded in history, converted to features, run through all enabled
// detectors, and each surviving detection is fanned out to callbacks.
type Monitor struct {
	mu        sync.RWMutex
	detectors []Detector
	callbacks []Callback

	history   *EventHistory
	extractor *FeatureExtractor

	dedupMu  sync.Mutex
	dedup    map[string]time.Time
	dedupTTL time.Duration

	recentMu  sync.RWMutex
	recent    []*models.ThreatDetection
	recentCap int

	maintenanceInterval time.Duration
}

// NewMonitor builds a monitor with no detectors registered.
func NewMonitor(cfg MonitorConfig) *Monitor {
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = DefaultDedupTTL
	}
	if cfg.MaintenanceInterval <= 0 {
		cfg.MaintenanceInterval = DefaultMaintenanceInterval
	}
	return &Monitor{
		history:             NewEventHistory(cfg.Retention, cfg.MaxEventsPerKey, cfg.MaxGlobalEvents),
		extractor:           NewFeatureExtractor(),
		dedup:               make(map[string]time.Time),
		dedupTTL:            cfg.DedupTTL,
		recentCap:           defaultRecentCap,
		maintenanceInterval: cfg.MaintenanceInterval,
	}
}

// RegisterDetector adds a detector to the pipeline.
func (m *Monitor) RegisterDetector(d Detector) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detectors = append(m.detectors, d)
	logging.Info().Str("detector", d.Type()).Msg("Detector registered")
}

// RegisterCallback adds a detection consumer.
func (m *Monitor) RegisterCallback(cb Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// History exposes the event store for forensic lookups.
func (m *Monitor) History() *EventHistory { return m.history }

// Process runs one event through the full pipeline. A failing detector
// is logged and skipped; it never blocks the other detectors or the
// event stream.
func (m *Monitor) Process(ctx context.Context, event *models.SecurityEvent) {
	if event == nil {
		return
	}
	event.Normalize()

	m.history.Append(event)
	actorHistory := m.history.RecentForActor(event.ActorKey(), actorHistoryWindow)
	features := m.extractor.Extract(event, actorHistory)

	m.mu.RLock()
	detectors := m.detectors
	callbacks := m.callbacks
	m.mu.RUnlock()

	metrics.EventsProcessed.Inc()

	for _, d := range detectors {
		if !d.Enabled() {
			continue
		}
		detections, err := d.Check(ctx, event, features, actorHistory)
		if err != nil {
			metrics.DetectorErrors.WithLabelValues(d.Type()).Inc()
			logging.Err(err).Str("detector", d.Type()).Str("source_ip", event.SourceIP).Msg("Detector check failed")
			continue
		}
		for _, detection := range detections {
			if detection == nil {
				continue
			}
			if !m.admit(detection) {
				metrics.DetectionsDeduplicated.Inc()
				continue
			}
			metrics.DetectionsTotal.WithLabelValues(string(detection.ThreatType), string(detection.ThreatLevel)).Inc()
			logging.Warn().
				Str("detector", d.Type()).
				Str("threat_type", string(detection.ThreatType)).
				Str("threat_level", string(detection.ThreatLevel)).
				Str("source_ip", detection.SourceIP).
				Str("actor_id", detection.ActorID).
				Float64("confidence", detection.Confidence).
				Msg("Threat detected")
			m.remember(detection)
			for _, cb := range callbacks {
				cb(ctx, detection)
			}
		}
	}
}

// admit reserves the detection's dedup key, returning false when an
// equivalent detection was emitted inside the TTL.
func (m *Monitor) admit(detection *models.ThreatDetection) bool {
	key := detection.DedupKey()
	now := time.Now()

	m.dedupMu.Lock()
	defer m.dedupMu.Unlock()
	if last, seen := m.dedup[key]; seen && now.Sub(last) < m.dedupTTL {
		return false
	}
	m.dedup[key] = now
	return true
}

func (m *Monitor) remember(detection *models.ThreatDetection) {
	m.recentMu.Lock()
	defer m.recentMu.Unlock()
	m.recent = append(m.recent, detection)
	if len(m.recent) > m.recentCap {
		keep := m.recentCap / 2
		m.recent = append(m.recent[:0], m.recent[len(m.recent)-keep:]...)
	}
}

// SourceCount pairs a source IP with its detection count.
type SourceCount struct {
	SourceIP string `json:"source_ip"`
	Count    int    `json:"count"`
}

// ThreatSummary aggregates detections over a trailing window.
type ThreatSummary struct {
	WindowSeconds float64        `json:"window_seconds"`
	Total         int            `json:"total"`
	ByType        map[string]int `json:"by_type"`
	ByLevel       map[string]int `json:"by_level"`
	TopSources    []SourceCount  `json:"top_sources"`
}

// Summary aggregates retained detections newer than the window.
func (m *Monitor) Summary(window time.Duration) ThreatSummary {
	cutoff := time.Now().Add(-window)
	summary := ThreatSummary{
		WindowSeconds: window.Seconds(),
		ByType:        make(map[string]int),
		ByLevel:       make(map[string]int),
	}
	sources := make(map[string]int)

	m.recentMu.RLock()
	for _, d := range m.recent {
		if d.Timestamp.Before(cutoff) {
			continue
		}
		summary.Total++
		summary.ByType[string(d.ThreatType)]++
		summary.ByLevel[string(d.ThreatLevel)]++
		if d.SourceIP != "" {
			sources[d.SourceIP]++
		}
	}
	m.recentMu.RUnlock()

	for ip, count := range sources {
		summary.TopSources = append(summary.TopSources, SourceCount{SourceIP: ip, Count: count})
	}
	sort.Slice(summary.TopSources, func(i, j int) bool {
		if summary.TopSources[i].Count != summary.TopSources[j].Count {
			return summary.TopSources[i].Count > summary.TopSources[j].Count
		}
		return summary.TopSources[i].SourceIP < summary.TopSources[j].SourceIP
	})
	if len(summary.TopSources) > 10 {
		summary.TopSources = summary.TopSources[:10]
	}
	return summary
}

// RetrainAnomaly rebuilds the given detector's baseline from retained
// events. Intended to be invoked out of band, never per event.
func (m *Monitor) RetrainAnomaly(detector *AnomalyDetector, window time.Duration) error {
	events := m.history.RecentGlobal(window)
	samples := make([]map[string]float64, 0, len(events))
	for i := range events {
		event := events[i]
		actorHistory := m.history.RecentForActor(event.ActorKey(), actorHistoryWindow)
		samples = append(samples, m.extractor.Extract(&event, actorHistory))
	}
	if err := detector.Fit(samples); err != nil {
		return err
	}
	logging.Info().Int("samples", len(samples)).Msg("Anomaly baseline retrained")
	return nil
}

// RunWithContext runs periodic maintenance until the context is
// canceled. Shaped as a suture service.
func (m *Monitor) RunWithContext(ctx context.Context) error {
	ticker := time.NewTicker(m.maintenanceInterval)
	defer ticker.Stop()

	logging.Info().Dur("interval", m.maintenanceInterval).Msg("Threat monitor maintenance started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.maintain()
		}
	}
}

func (m *Monitor) maintain() {
	pruned := m.history.Prune()

	now := time.Now()
	m.dedupMu.Lock()
	for key, last := range m.dedup {
		if now.Sub(last) >= m.dedupTTL {
			delete(m.dedup, key)
		}
	}
	dedupLen := len(m.dedup)
	m.dedupMu.Unlock()

	m.mu.RLock()
	detectors := m.detectors
	m.mu.RUnlock()
	for _, d := range detectors {
		if pruner, ok := d.(interface{ PruneIdle() int }); ok {
			pruner.PruneIdle()
		}
	}

	global, actors, ips := m.history.Size()
	metrics.HistoryEvents.Set(float64(global))
	logging.Debug().
		Int("pruned_events", pruned).
		Int("history_events", global).
		Int("tracked_actors", actors).
		Int("tracked_ips", ips).
		Int("dedup_keys", dedupLen).
		Msg("Monitor maintenance pass")
}
