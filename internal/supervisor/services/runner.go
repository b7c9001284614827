// Custodus - Real-Time Threat Detection and Automated Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodus

// Package services adapts the pipeline components to suture.Service so the
// supervisor tree can run and restart them.
package services

import (
	"context"
)

// Runner matches the RunWithContext method shared by the event bus,
// detection monitor, notification dispatcher, IP ledger, and WebSocket hub.
// The interface keeps this package free of imports from the components it
// supervises.
type Runner interface {
	// RunWithContext starts the component's background processing and
	// returns when the context is canceled.
	RunWithContext(ctx context.Context) error
}

// RunnerService wraps any Runner as a supervised service. The supervisor
// restarts the service if RunWithContext returns before shutdown.
type RunnerService struct {
	runner Runner
	name   string
}

// NewRunnerService creates a service wrapper with the given name. The name
// appears in supervisor logs, so keep it stable across restarts.
func NewRunnerService(name string, runner Runner) *RunnerService {
	return &RunnerService{runner: runner, name: name}
}

// Serve implements suture.Service.
func (s *RunnerService) Serve(ctx context.Context) error {
	return s.runner.RunWithContext(ctx)
}

// String implements fmt.Stringer for logging.
func (s *RunnerService) String() string {
	return s.name
}
