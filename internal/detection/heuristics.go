// Custodus - Real-Time Threat Detection and Automated Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodus

package detection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/custodus/internal/cache"
	"github.com/tomtom215/custodus/internal/models"
)

const (
	// DefaultRateAbuseThreshold flags a source IP once it exceeds this
	// many requests inside the rate window.
	DefaultRateAbuseThreshold = 50

	// DefaultRateAbuseWindow is the observation window for request
	// rate abuse.
	DefaultRateAbuseWindow = 5 * time.Minute

	// DefaultBruteForceThreshold flags an actor once it exceeds this
	// many authentication failures inside the brute force window.
	DefaultBruteForceThreshold = 5

	// DefaultBruteForceWindow is the observation window for repeated
	// authentication failures.
	DefaultBruteForceWindow = 15 * time.Minute

	// DefaultScanThreshold flags an actor once it touches more than
	// this many unique endpoints inside the scan window.
	DefaultScanThreshold = 30

	// DefaultScanWindow is the observation window for endpoint
	// enumeration.
	DefaultScanWindow = 10 * time.Minute

	heuristicBuckets = 30
	heuristicMaxKeys = 50000
)

// RateAbuseDetector counts requests per source IP over a sliding
// window and flags sources that exceed the threshold. Counting happens
// inside Check, so the detector must see every ingested event.
type RateAbuseDetector struct {
	mu        sync.RWMutex
	counters  *cache.SlidingWindowStore
	threshold int64
	window    time.Duration
	enabled   bool
}

// NewRateAbuseDetector builds a detector with the given window and
// threshold. Non-positive arguments select the defaults.
func NewRateAbuseDetector(window time.Duration, threshold int64) *RateAbuseDetector {
	if window <= 0 {
		window = DefaultRateAbuseWindow
	}
	if threshold <= 0 {
		threshold = DefaultRateAbuseThreshold
	}
	return &RateAbuseDetector{
		counters:  cache.NewSlidingWindowStore(window, heuristicBuckets, heuristicMaxKeys),
		threshold: threshold,
		window:    window,
		enabled:   true,
	}
}

// Type implements Detector.
func (r *RateAbuseDetector) Type() string { return "rate_abuse" }

// Enabled implements Detector.
func (r *RateAbuseDetector) Enabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled
}

// SetEnabled implements Detector.
func (r *RateAbuseDetector) SetEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = enabled
}

// Configure accepts {"threshold": <count>}. The window is fixed at
// construction because resizing live sliding counters would discard
// in-flight observations.
func (r *RateAbuseDetector) Configure(config json.RawMessage) error {
	var cfg struct {
		Threshold int64 `json:"threshold"`
	}
	if err := json.Unmarshal(config, &cfg); err != nil {
		return fmt.Errorf("rate abuse config: %w", err)
	}
	if cfg.Threshold <= 0 {
		return fmt.Errorf("rate abuse config: threshold must be positive, got %d", cfg.Threshold)
	}
	r.mu.Lock()
	r.threshold = cfg.Threshold
	r.mu.Unlock()
	return nil
}

// Check implements Detector.
func (r *RateAbuseDetector) Check(_ context.Context, event *models.SecurityEvent, features map[string]float64, _ []models.SecurityEvent) ([]*models.ThreatDetection, error) {
	if event.SourceIP == "" {
		return nil, nil
	}
	r.counters.Increment(event.SourceIP)
	count := r.counters.Count(event.SourceIP)

	r.mu.RLock()
	threshold := r.threshold
	window := r.window
	r.mu.RUnlock()

	if count <= threshold {
		return nil, nil
	}

	d := newDetection(models.ThreatTypeRateLimitAbuse, models.ThreatLevelHigh, event)
	d.Confidence = 0.85
	d.Description = fmt.Sprintf("source exceeded %d requests in %s", threshold, window)
	d.RecommendedActions = []models.ActionType{models.ActionRateLimitIP, models.ActionLogEvent}
	d.Features = features
	d.RiskScore = riskForLevel(models.ThreatLevelHigh)
	d.Evidence["request_count"] = count
	d.Evidence["window_seconds"] = window.Seconds()
	return []*models.ThreatDetection{d}, nil
}

// PruneIdle drops counters that have gone quiet.
func (r *RateAbuseDetector) PruneIdle() int { return r.counters.PruneIdle() }

// BruteForceDetector counts authentication failures per actor over a
// sliding window. Events that are not auth failures pass untouched.
type BruteForceDetector struct {
	mu        sync.RWMutex
	failures  *cache.SlidingWindowStore
	threshold int64
	window    time.Duration
	enabled   bool
}

// NewBruteForceDetector builds a detector with the given window and
// threshold. Non-positive arguments select the defaults.
func NewBruteForceDetector(window time.Duration, threshold int64) *BruteForceDetector {
	if window <= 0 {
		window = DefaultBruteForceWindow
	}
	if threshold <= 0 {
		threshold = DefaultBruteForceThreshold
	}
	return &BruteForceDetector{
		failures:  cache.NewSlidingWindowStore(window, heuristicBuckets, heuristicMaxKeys),
		threshold: threshold,
		window:    window,
		enabled:   true,
	}
}

// Type implements Detector.
func (b *BruteForceDetector) Type() string { return "brute_force" }

// Enabled implements Detector.
func (b *BruteForceDetector) Enabled() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.enabled
}

// SetEnabled implements Detector.
func (b *BruteForceDetector) SetEnabled(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = enabled
}

// Configure accepts {"threshold": <count>}.
func (b *BruteForceDetector) Configure(config json.RawMessage) error {
	var cfg struct {
		Threshold int64 `json:"threshold"`
	}
	if err := json.Unmarshal(config, &cfg); err != nil {
		return fmt.Errorf("brute force config: %w", err)
	}
	if cfg.Threshold <= 0 {
		return fmt.Errorf("brute force config: threshold must be positive, got %d", cfg.Threshold)
	}
	b.mu.Lock()
	b.threshold = cfg.Threshold
	b.mu.Unlock()
	return nil
}

// Check implements Detector.
func (b *BruteForceDetector) Check(_ context.Context, event *models.SecurityEvent, features map[string]float64, _ []models.SecurityEvent) ([]*models.ThreatDetection, error) {
	if !event.IsAuthFailure() {
		return nil, nil
	}
	key := event.ActorKey()
	b.failures.Increment(key)
	count := b.failures.Count(key)

	b.mu.RLock()
	threshold := b.threshold
	window := b.window
	b.mu.RUnlock()

	if count <= threshold {
		return nil, nil
	}

	d := newDetection(models.ThreatTypeBruteForce, models.ThreatLevelHigh, event)
	d.Confidence = 0.9
	d.Description = fmt.Sprintf("actor exceeded %d auth failures in %s", threshold, window)
	d.RecommendedActions = []models.ActionType{models.ActionBlockUser, models.ActionRevokeSession, models.ActionAlertSecurityTeam}
	d.Features = features
	d.RiskScore = riskForLevel(models.ThreatLevelHigh)
	d.Evidence["failure_count"] = count
	d.Evidence["window_seconds"] = window.Seconds()
	return []*models.ThreatDetection{d}, nil
}

// PruneIdle drops counters that have gone quiet.
func (b *BruteForceDetector) PruneIdle() int { return b.failures.PruneIdle() }

// EndpointScanDetector tracks unique endpoints per actor over a sliding
// window and flags enumeration-style crawling. A legitimate client hits
// a handful of endpoints; a scanner walks the surface.
type EndpointScanDetector struct {
	mu        sync.RWMutex
	endpoints *cache.UniqueValueStore
	threshold int
	window    time.Duration
	enabled   bool
}

// NewEndpointScanDetector builds a detector with the given window and
// unique-endpoint threshold. Non-positive arguments select the defaults.
func NewEndpointScanDetector(window time.Duration, threshold int) *EndpointScanDetector {
	if window <= 0 {
		window = DefaultScanWindow
	}
	if threshold <= 0 {
		threshold = DefaultScanThreshold
	}
	return &EndpointScanDetector{
		endpoints: cache.NewUniqueValueStore(window, heuristicBuckets, heuristicMaxKeys),
		threshold: threshold,
		window:    window,
		enabled:   true,
	}
}

// Type implements Detector.
func (s *EndpointScanDetector) Type() string { return "endpoint_scan" }

// Enabled implements Detector.
func (s *EndpointScanDetector) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

// SetEnabled implements Detector.
func (s *EndpointScanDetector) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
}

// Configure accepts {"threshold": <count>}.
func (s *EndpointScanDetector) Configure(config json.RawMessage) error {
	var cfg struct {
		Threshold int `json:"threshold"`
	}
	if err := json.Unmarshal(config, &cfg); err != nil {
		return fmt.Errorf("endpoint scan config: %w", err)
	}
	if cfg.Threshold <= 0 {
		return fmt.Errorf("endpoint scan config: threshold must be positive, got %d", cfg.Threshold)
	}
	s.mu.Lock()
	s.threshold = cfg.Threshold
	s.mu.Unlock()
	return nil
}

// Check implements Detector.
func (s *EndpointScanDetector) Check(_ context.Context, event *models.SecurityEvent, features map[string]float64, _ []models.SecurityEvent) ([]*models.ThreatDetection, error) {
	if event.Endpoint == "" {
		return nil, nil
	}
	key := event.ActorKey()
	s.endpoints.Add(key, event.Endpoint)
	unique := s.endpoints.CountUnique(key)

	s.mu.RLock()
	threshold := s.threshold
	window := s.window
	s.mu.RUnlock()

	if unique <= threshold {
		return nil, nil
	}

	d := newDetection(models.ThreatTypeSuspiciousPattern, models.ThreatLevelMedium, event)
	d.Confidence = 0.8
	d.Description = fmt.Sprintf("actor touched %d unique endpoints in %s", unique, window)
	d.RecommendedActions = []models.ActionType{models.ActionRateLimitIP, models.ActionCollectForensics, models.ActionLogEvent}
	d.Features = features
	d.RiskScore = riskForLevel(models.ThreatLevelMedium)
	d.Evidence["unique_endpoints"] = unique
	d.Evidence["window_seconds"] = window.Seconds()
	return []*models.ThreatDetection{d}, nil
}
