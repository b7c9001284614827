// Custodus - Real-Time Threat Detection and Automated Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodus

// Package main is the entry point for the Custodus server.
//
// Custodus monitors a stream of security events, detects threats with
// signature, heuristic, and statistical detectors, and drives automated
// incident response through configurable rules.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered settings via Koanf v2 (defaults, YAML file,
//     CUSTODUS_* environment variables)
//  2. Detection monitor: event history, feature extraction, detectors
//  3. Response stack: IP ledger, notification dispatcher, forensics
//     collector, action executor, orchestrator
//  4. Event bus: bounded non-blocking ingestion with ordered workers
//  5. HTTP server: REST API, Prometheus metrics, WebSocket feed
//
// All long-running components run under a suture supervisor tree and are
// restarted on failure.
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM:
//   - Stops accepting new connections
//   - Drains in-flight events from the ingest queue
//   - Waits for active HTTP requests to complete
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/custodus/internal/api"
	"github.com/tomtom215/custodus/internal/config"
	"github.com/tomtom215/custodus/internal/detection"
	"github.com/tomtom215/custodus/internal/ingest"
	"github.com/tomtom215/custodus/internal/logging"
	"github.com/tomtom215/custodus/internal/models"
	"github.com/tomtom215/custodus/internal/response"
	"github.com/tomtom215/custodus/internal/supervisor"
	"github.com/tomtom215/custodus/internal/supervisor/services"
	"github.com/tomtom215/custodus/internal/websocket"
)

func main() {
	// Load configuration first to get logging settings.
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("listen_addr", cfg.Server.ListenAddr).
		Int("rules", len(cfg.Rules)).
		Bool("anomaly_enabled", cfg.Anomaly.Enabled).
		Bool("webhook_enabled", cfg.Notify.Webhook.Enabled).
		Msg("Starting Custodus")

	// Detection pipeline.
	monitor := detection.NewMonitor(detection.MonitorConfig{
		Retention:           cfg.Monitor.Retention,
		MaxEventsPerKey:     cfg.Monitor.MaxEventsPerKey,
		MaxGlobalEvents:     cfg.Monitor.MaxGlobalEvents,
		DedupTTL:            cfg.Monitor.DedupTTL,
		MaintenanceInterval: cfg.Monitor.MaintenanceInterval,
	})
	monitor.RegisterDetector(detection.NewSignatureMatcher())
	monitor.RegisterDetector(detection.NewRateAbuseDetector(cfg.Monitor.RateAbuseWindow, cfg.Monitor.RateAbuseThreshold))
	monitor.RegisterDetector(detection.NewBruteForceDetector(cfg.Monitor.BruteForceWindow, cfg.Monitor.BruteForceThreshold))
	monitor.RegisterDetector(detection.NewEndpointScanDetector(cfg.Monitor.ScanWindow, cfg.Monitor.ScanThreshold))

	var anomaly *detection.AnomalyDetector
	if cfg.Anomaly.Enabled {
		scorer := detection.NewGaussianScorer(cfg.Anomaly.MinTrainingSamples)
		anomaly = detection.NewAnomalyDetector(scorer, cfg.Anomaly.Threshold)
		monitor.RegisterDetector(anomaly)
	}

	// Response stack.
	ledger := response.NewIPLedger(cfg.Response.SweepInterval)

	dispatcher := response.NewDispatcher(cfg.Notify.QueueSize, cfg.Notify.Workers, cfg.Notify.ChannelTimeout)
	if err := dispatcher.RegisterChannel(&response.LogChannel{}); err != nil {
		logging.Fatal().Err(err).Msg("Failed to register log notification channel")
	}
	if cfg.Notify.Webhook.Enabled {
		webhook, err := response.NewWebhookChannel(response.WebhookConfig{
			Name:          "webhook",
			URL:           cfg.Notify.Webhook.URL,
			Headers:       cfg.Notify.Webhook.Headers,
			RatePerSecond: cfg.Notify.Webhook.RatePerSecond,
			Timeout:       cfg.Notify.Webhook.Timeout,
		})
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to build webhook notification channel")
		}
		if err := dispatcher.RegisterChannel(webhook); err != nil {
			logging.Fatal().Err(err).Msg("Failed to register webhook notification channel")
		}
	}

	forensics := response.NewForensicsCollector(monitor.History(), cfg.Response.MaxRelatedEvents)
	executor := response.NewActionExecutor(ledger, dispatcher, forensics, response.ExecutorConfig{
		ActionTimeout:     cfg.Response.ActionTimeout,
		BlockDuration:     cfg.Response.BlockDuration,
		RateLimitDuration: cfg.Response.RateLimitDuration,
	})

	hub := websocket.NewHub()
	orchestrator := response.NewOrchestrator(executor, hub)
	for i := range cfg.Rules {
		if err := orchestrator.RegisterRule(&cfg.Rules[i]); err != nil {
			logging.Fatal().Err(err).Str("rule_id", cfg.Rules[i].ID).Msg("Failed to register response rule")
		}
	}
	monitor.RegisterCallback(orchestrator.HandleDetection)
	monitor.RegisterCallback(func(_ context.Context, detected *models.ThreatDetection) {
		hub.Broadcast(websocket.MessageTypeThreatDetected, detected)
	})

	// Ingestion.
	bus := ingest.NewBus(ingest.Config{
		QueueSize: cfg.Ingest.QueueSize,
		Workers:   cfg.Ingest.Workers,
	}, monitor)

	// HTTP surface.
	mwCfg := api.DefaultMiddlewareConfig()
	mwCfg.CORSAllowedOrigins = cfg.Server.CORSOrigins
	mwCfg.RateLimitRequests = cfg.Server.RateLimitPerMin

	server := api.NewServer(bus, monitor, orchestrator, ledger, hub)
	router := api.NewRouter(server, api.NewMiddleware(mwCfg))

	httpServer := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Supervisor tree.
	tree := supervisor.NewTree(slog.New(logging.NewSlogHandler()), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddPipelineService(services.NewRunnerService("event-bus", bus))
	tree.AddPipelineService(services.NewRunnerService("detection-monitor", monitor))
	if anomaly != nil {
		tree.AddPipelineService(&retrainService{
			monitor:  monitor,
			detector: anomaly,
			window:   cfg.Monitor.Retention,
			interval: cfg.Monitor.Retention / 4,
		})
	}
	tree.AddResponseService(services.NewRunnerService("notify-dispatcher", dispatcher))
	tree.AddResponseService(services.NewRunnerService("ip-ledger", ledger))
	tree.AddResponseService(services.NewRunnerService("websocket-hub", hub))
	tree.AddAPIService(services.NewHTTPServerService(httpServer, cfg.Server.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("listen_addr", cfg.Server.ListenAddr).Msg("Supervisor tree starting")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal().Err(err).Msg("Supervisor tree exited with error")
	}

	bus.Drain(cfg.Server.ShutdownTimeout)
	logging.Info().Msg("Custodus stopped")
}

// retrainService periodically refits the anomaly scorer from retained
// history so the baseline tracks current traffic.
type retrainService struct {
	monitor  *detection.Monitor
	detector *detection.AnomalyDetector
	window   time.Duration
	interval time.Duration
}

func (s *retrainService) Serve(ctx context.Context) error {
	interval := s.interval
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			err := s.monitor.RetrainAnomaly(s.detector, s.window)
			switch {
			case err == nil:
				logging.Debug().Msg("Anomaly model retrained")
			case errors.Is(err, detection.ErrInsufficientSamples):
				logging.Debug().Err(err).Msg("Anomaly retraining skipped")
			default:
				logging.Warn().Err(err).Msg("Anomaly retraining failed")
			}
		}
	}
}

func (s *retrainService) String() string { return "anomaly-retrainer" }
