// Custodus - Real-Time Threat Detection and Automated Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodus

package response

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/custodus/internal/logging"
	"github.com/tomtom215/custodus/internal/models"
)

// WebhookConfig configures one outbound webhook alert channel.
type WebhookConfig struct {
	Name          string            `json:"name"`
	URL           string            `json:"url"`
	Headers       map[string]string `json:"headers,omitempty"`
	RatePerSecond float64           `json:"rate_per_second"`
	Timeout       time.Duration     `json:"timeout"`
}

// WebhookChannel posts alert payloads as JSON to an HTTP endpoint. A
// circuit breaker stops hammering a dead endpoint and a rate limiter
// keeps alert storms from flooding it.
type WebhookChannel struct {
	name    string
	url     string
	headers map[string]string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[struct{}]
	limiter *rate.Limiter
}

// NewWebhookChannel builds a channel from config. The URL must be set.
func NewWebhookChannel(cfg WebhookConfig) (*WebhookChannel, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook channel: url is required")
	}
	name := cfg.Name
	if name == "" {
		name = "webhook"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	perSecond := cfg.RatePerSecond
	if perSecond <= 0 {
		perSecond = 5
	}

	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "webhook-" + name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(breakerName string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", breakerName).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Webhook circuit breaker state changed")
		},
	})

	return &WebhookChannel{
		name:    name,
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
		limiter: rate.NewLimiter(rate.Limit(perSecond), int(perSecond)+1),
	}, nil
}

// Name implements Channel.
func (w *WebhookChannel) Name() string { return w.name }

// Send implements Channel.
func (w *WebhookChannel) Send(ctx context.Context, payload models.AlertPayload) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("webhook %s: rate limiter: %w", w.name, err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook %s: encode payload: %w", w.name, err)
	}

	_, err = w.breaker.Execute(func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return struct{}{}, err
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range w.headers {
			req.Header.Set(k, v)
		}

		resp, err := w.client.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer func() {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
			resp.Body.Close()                                    //nolint:errcheck
		}()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return struct{}{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return struct{}{}, nil
	})
	if err != nil {
		return fmt.Errorf("webhook %s: %w", w.name, err)
	}
	return nil
}

// LogChannel writes alerts to the structured log. Always registered so
// every incident leaves an audit trail even with no external channels
// configured.
type LogChannel struct{}

// Name implements Channel.
func (LogChannel) Name() string { return "log" }

// Send implements Channel.
func (LogChannel) Send(_ context.Context, payload models.AlertPayload) error {
	logging.Warn().
		Str("incident_id", payload.IncidentID).
		Str("threat_type", string(payload.ThreatType)).
		Str("severity", string(payload.Severity)).
		Str("source_ip", payload.SourceIP).
		Str("description", payload.Description).
		Msg("Security alert")
	return nil
}
