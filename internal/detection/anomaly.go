// Custodus - Real-Time Threat Detection and Automated Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodus

package detection

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/goccy/go-json"
	"gonum.org/v1/gonum/stat"

	"github.com/tomtom215/custodus/internal/models"
)

const (
	// DefaultAnomalyThreshold is the score below which an event is
	// flagged. Scores are negated mean z-distances, so more negative
	// means more anomalous.
	DefaultAnomalyThreshold = -3.0

	// DefaultMinTrainingSamples is the minimum benign sample count
	// required before Fit will build a model.
	DefaultMinTrainingSamples = 20
)

// ErrInsufficientSamples is returned by Fit when the training set is
// too small to estimate stable per-feature statistics.
var ErrInsufficientSamples = errors.New("detection: insufficient training samples")

// Scorer scores a feature vector for anomalousness. The boolean result
// reports whether the scorer has a fitted model; callers must treat a
// false return as "no opinion", not "benign".
type Scorer interface {
	Score(features map[string]float64) (float64, bool)
	Fit(samples []map[string]float64) error
}

// NoopScorer never has an opinion. Installed when anomaly detection is
// disabled so the rest of the pipeline stays uniform.
type NoopScorer struct{}

// Score implements Scorer.
func (NoopScorer) Score(map[string]float64) (float64, bool) { return 0, false }

// Fit implements Scorer.
func (NoopScorer) Fit([]map[string]float64) error { return nil }

type featureStats struct {
	mean   float64
	stddev float64
}

// GaussianScorer models each feature independently as a normal
// distribution estimated from benign traffic. The score of an event is
// the negated mean absolute z-score over the features shared between
// the event and the model.
type GaussianScorer struct {
	mu         sync.RWMutex
	stats      map[string]featureStats
	minSamples int
}

// NewGaussianScorer returns an unfitted scorer. It reports no opinion
// until Fit succeeds at least once.
func NewGaussianScorer(minSamples int) *GaussianScorer {
	if minSamples <= 0 {
		minSamples = DefaultMinTrainingSamples
	}
	return &GaussianScorer{minSamples: minSamples}
}

// Fit estimates per-feature mean and standard deviation from the given
// benign feature vectors. Constant features are kept with a unit
// deviation so they contribute distance only when an event deviates.
func (g *GaussianScorer) Fit(samples []map[string]float64) error {
	if len(samples) < g.minSamples {
		return fmt.Errorf("%w: got %d, need %d", ErrInsufficientSamples, len(samples), g.minSamples)
	}

	values := make(map[string][]float64)
	for _, sample := range samples {
		for name, v := range sample {
			values[name] = append(values[name], v)
		}
	}

	stats := make(map[string]featureStats, len(values))
	for name, vals := range values {
		if len(vals) < g.minSamples {
			continue
		}
		mean, stddev := stat.MeanStdDev(vals, nil)
		if stddev == 0 || math.IsNaN(stddev) {
			stddev = 1
		}
		stats[name] = featureStats{mean: mean, stddev: stddev}
	}
	if len(stats) == 0 {
		return fmt.Errorf("%w: no feature observed in %d samples", ErrInsufficientSamples, g.minSamples)
	}

	g.mu.Lock()
	g.stats = stats
	g.mu.Unlock()
	return nil
}

// Score implements Scorer.
func (g *GaussianScorer) Score(features map[string]float64) (float64, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.stats) == 0 {
		return 0, false
	}

	distances := make([]float64, 0, len(features))
	for name, v := range features {
		fs, ok := g.stats[name]
		if !ok {
			continue
		}
		distances = append(distances, math.Abs(v-fs.mean)/fs.stddev)
	}
	if len(distances) == 0 {
		return 0, false
	}
	return -stat.Mean(distances, nil), true
}

// AnomalyDetector adapts a Scorer to the Detector interface. Without a
// fitted model it silently passes every event, degrading detection to
// signatures and heuristics instead of failing the pipeline.
type AnomalyDetector struct {
	mu        sync.RWMutex
	scorer    Scorer
	threshold float64
	enabled   bool
}

// NewAnomalyDetector wraps the scorer with the given flagging
// threshold. A zero threshold selects the default.
func NewAnomalyDetector(scorer Scorer, threshold float64) *AnomalyDetector {
	if threshold == 0 {
		threshold = DefaultAnomalyThreshold
	}
	if scorer == nil {
		scorer = NoopScorer{}
	}
	return &AnomalyDetector{scorer: scorer, threshold: threshold, enabled: true}
}

// Type implements Detector.
func (a *AnomalyDetector) Type() string { return "anomaly_scorer" }

// Enabled implements Detector.
func (a *AnomalyDetector) Enabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// SetEnabled implements Detector.
func (a *AnomalyDetector) SetEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = enabled
}

// Configure accepts {"threshold": <negative float>}.
func (a *AnomalyDetector) Configure(config json.RawMessage) error {
	var cfg struct {
		Threshold float64 `json:"threshold"`
	}
	if err := json.Unmarshal(config, &cfg); err != nil {
		return fmt.Errorf("anomaly config: %w", err)
	}
	if cfg.Threshold >= 0 {
		return fmt.Errorf("anomaly config: threshold must be negative, got %v", cfg.Threshold)
	}
	a.mu.Lock()
	a.threshold = cfg.Threshold
	a.mu.Unlock()
	return nil
}

// Fit retrains the underlying scorer.
func (a *AnomalyDetector) Fit(samples []map[string]float64) error {
	return a.scorer.Fit(samples)
}

// Check implements Detector.
func (a *AnomalyDetector) Check(_ context.Context, event *models.SecurityEvent, features map[string]float64, _ []models.SecurityEvent) ([]*models.ThreatDetection, error) {
	score, ok := a.scorer.Score(features)
	if !ok {
		return nil, nil
	}

	a.mu.RLock()
	threshold := a.threshold
	a.mu.RUnlock()

	if score >= threshold {
		return nil, nil
	}

	level := models.ThreatLevelMedium
	if score < 2*threshold {
		level = models.ThreatLevelHigh
	}
	d := newDetection(models.ThreatTypeAnomalousBehavior, level, event)
	d.Confidence = math.Min(math.Abs(score)/math.Abs(2*threshold), 1.0)
	d.Description = "statistical deviation from learned baseline behavior"
	d.RecommendedActions = []models.ActionType{models.ActionLogEvent, models.ActionAlertSecurityTeam}
	d.Features = features
	d.RiskScore = riskForLevel(level)
	d.Evidence["anomaly_score"] = score
	d.Evidence["threshold"] = threshold
	return []*models.ThreatDetection{d}, nil
}
