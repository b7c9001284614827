// Custodus - Real-Time Threat Detection and Automated Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodus

// Package response turns threat detections into security incidents and
// executes automated response actions against them: ledger updates,
// notifications, forensic capture, and escalation. Rule matching,
// cooldowns, and execution caps govern which actions each detection
// triggers.
package response

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/custodus/internal/logging"
	"github.com/tomtom215/custodus/internal/metrics"
)

const (
	// DefaultBlockDuration applies when a block action carries no
	// explicit duration parameter.
	DefaultBlockDuration = time.Hour

	// DefaultRateLimitDuration applies when a rate limit action
	// carries no explicit duration parameter.
	DefaultRateLimitDuration = 15 * time.Minute

	// DefaultSweepInterval paces background expiry of ledger entries.
	DefaultSweepInterval = time.Minute
)

// IPLedger records which sources and actors are currently blocked or
// rate limited. It is bookkeeping only; enforcement belongs to an
// external gateway that polls this state.
type IPLedger struct {
	mu            sync.RWMutex
	blockedIPs    map[string]time.Time
	rateLimitedIPs map[string]time.Time
	blockedActors map[string]time.Time
	sweepInterval time.Duration
}

// NewIPLedger creates an empty ledger.
func NewIPLedger(sweepInterval time.Duration) *IPLedger {
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	return &IPLedger{
		blockedIPs:     make(map[string]time.Time),
		rateLimitedIPs: make(map[string]time.Time),
		blockedActors:  make(map[string]time.Time),
		sweepInterval:  sweepInterval,
	}
}

// BlockIP marks the IP blocked until now+duration. Re-blocking an
// already blocked IP extends the expiry if the new one is later.
func (l *IPLedger) BlockIP(ip string, duration time.Duration) time.Time {
	if duration <= 0 {
		duration = DefaultBlockDuration
	}
	expiry := time.Now().Add(duration)
	l.mu.Lock()
	if current, ok := l.blockedIPs[ip]; !ok || expiry.After(current) {
		l.blockedIPs[ip] = expiry
	} else {
		expiry = current
	}
	l.mu.Unlock()
	l.publishGauges()
	return expiry
}

// RateLimitIP marks the IP rate limited until now+duration.
func (l *IPLedger) RateLimitIP(ip string, duration time.Duration) time.Time {
	if duration <= 0 {
		duration = DefaultRateLimitDuration
	}
	expiry := time.Now().Add(duration)
	l.mu.Lock()
	if current, ok := l.rateLimitedIPs[ip]; !ok || expiry.After(current) {
		l.rateLimitedIPs[ip] = expiry
	} else {
		expiry = current
	}
	l.mu.Unlock()
	l.publishGauges()
	return expiry
}

// BlockActor marks the actor ID blocked until now+duration.
func (l *IPLedger) BlockActor(actorID string, duration time.Duration) time.Time {
	if duration <= 0 {
		duration = DefaultBlockDuration
	}
	expiry := time.Now().Add(duration)
	l.mu.Lock()
	if current, ok := l.blockedActors[actorID]; !ok || expiry.After(current) {
		l.blockedActors[actorID] = expiry
	} else {
		expiry = current
	}
	l.mu.Unlock()
	l.publishGauges()
	return expiry
}

// IsBlocked reports whether the IP has an unexpired block. Expired
// entries are removed lazily on lookup.
func (l *IPLedger) IsBlocked(ip string) bool {
	return l.active(l.blockedIPs, ip)
}

// IsRateLimited reports whether the IP has an unexpired rate limit.
func (l *IPLedger) IsRateLimited(ip string) bool {
	return l.active(l.rateLimitedIPs, ip)
}

// IsActorBlocked reports whether the actor has an unexpired block.
func (l *IPLedger) IsActorBlocked(actorID string) bool {
	return l.active(l.blockedActors, actorID)
}

func (l *IPLedger) active(entries map[string]time.Time, key string) bool {
	l.mu.RLock()
	expiry, ok := entries[key]
	l.mu.RUnlock()
	if !ok {
		return false
	}
	if time.Now().After(expiry) {
		l.mu.Lock()
		// Re-check under the write lock; a concurrent re-block may
		// have extended the entry.
		if current, still := entries[key]; still && time.Now().After(current) {
			delete(entries, key)
		}
		l.mu.Unlock()
		return false
	}
	return true
}

// IPStatus is the ledger view of one source IP.
type IPStatus struct {
	IP                 string     `json:"ip"`
	Blocked            bool       `json:"blocked"`
	BlockExpiresAt     *time.Time `json:"block_expires_at,omitempty"`
	RateLimited        bool       `json:"rate_limited"`
	RateLimitExpiresAt *time.Time `json:"rate_limit_expires_at,omitempty"`
}

// Status returns the current ledger state for one IP.
func (l *IPLedger) Status(ip string) IPStatus {
	now := time.Now()
	status := IPStatus{IP: ip}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if expiry, ok := l.blockedIPs[ip]; ok && expiry.After(now) {
		status.Blocked = true
		e := expiry
		status.BlockExpiresAt = &e
	}
	if expiry, ok := l.rateLimitedIPs[ip]; ok && expiry.After(now) {
		status.RateLimited = true
		e := expiry
		status.RateLimitExpiresAt = &e
	}
	return status
}

// Counts reports current entry totals, expired entries included until
// the next sweep.
func (l *IPLedger) Counts() (blocked, rateLimited, actors int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.blockedIPs), len(l.rateLimitedIPs), len(l.blockedActors)
}

// Sweep removes expired entries. Returns the number removed.
func (l *IPLedger) Sweep() int {
	now := time.Now()
	removed := 0

	l.mu.Lock()
	for _, entries := range []map[string]time.Time{l.blockedIPs, l.rateLimitedIPs, l.blockedActors} {
		for key, expiry := range entries {
			if now.After(expiry) {
				delete(entries, key)
				removed++
			}
		}
	}
	l.mu.Unlock()

	l.publishGauges()
	return removed
}

func (l *IPLedger) publishGauges() {
	blocked, rateLimited, actors := l.Counts()
	metrics.LedgerEntries.WithLabelValues("blocked_ip").Set(float64(blocked))
	metrics.LedgerEntries.WithLabelValues("rate_limited_ip").Set(float64(rateLimited))
	metrics.LedgerEntries.WithLabelValues("blocked_actor").Set(float64(actors))
}

// RunWithContext sweeps expired entries on an interval until the
// context is canceled. Shaped as a suture service.
func (l *IPLedger) RunWithContext(ctx context.Context) error {
	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()

	logging.Info().Dur("interval", l.sweepInterval).Msg("Ledger sweeper started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if removed := l.Sweep(); removed > 0 {
				logging.Debug().Int("removed", removed).Msg("Expired ledger entries swept")
			}
		}
	}
}
