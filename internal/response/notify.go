// Custodus - Real-Time Threat Detection and Automated Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodus

package response

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/custodus/internal/logging"
	"github.com/tomtom215/custodus/internal/metrics"
	"github.com/tomtom215/custodus/internal/models"
)

const (
	// DefaultNotifyQueueSize bounds pending channel deliveries.
	DefaultNotifyQueueSize = 256

	// DefaultNotifyWorkers is the delivery worker pool size.
	DefaultNotifyWorkers = 4

	// DefaultChannelTimeout bounds one channel delivery attempt.
	DefaultChannelTimeout = 10 * time.Second
)

// Channel delivers an alert to one destination (webhook, chat, email
// integration). Implementations must be safe for concurrent use.
type Channel interface {
	Name() string
	Send(ctx context.Context, payload models.AlertPayload) error
}

type channelResult struct {
	channel string
	err     error
}

type deliveryJob struct {
	channel Channel
	payload models.AlertPayload
	done    chan<- channelResult
}

// Dispatcher fans alert payloads out to all registered channels
// through a bounded queue and a fixed worker pool. One slow or failing
// channel never blocks the others; overall delivery succeeds when at
// least one channel accepts the alert.
type Dispatcher struct {
	mu             sync.RWMutex
	channels       map[string]Channel
	queue          chan deliveryJob
	workers        int
	channelTimeout time.Duration
}

// NewDispatcher creates a dispatcher. Workers start when
// RunWithContext is invoked; until then deliveries queue up and time
// out.
func NewDispatcher(queueSize, workers int, channelTimeout time.Duration) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultNotifyQueueSize
	}
	if workers <= 0 {
		workers = DefaultNotifyWorkers
	}
	if channelTimeout <= 0 {
		channelTimeout = DefaultChannelTimeout
	}
	return &Dispatcher{
		channels:       make(map[string]Channel),
		queue:          make(chan deliveryJob, queueSize),
		workers:        workers,
		channelTimeout: channelTimeout,
	}
}

// RegisterChannel adds a delivery channel. Channel names must be
// unique.
func (d *Dispatcher) RegisterChannel(ch Channel) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.channels[ch.Name()]; exists {
		return fmt.Errorf("notification channel %q already registered", ch.Name())
	}
	d.channels[ch.Name()] = ch
	logging.Info().Str("channel", ch.Name()).Msg("Notification channel registered")
	return nil
}

// ChannelNames lists registered channels for diagnostics.
func (d *Dispatcher) ChannelNames() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.channels))
	for name := range d.channels {
		names = append(names, name)
	}
	return names
}

// Notify delivers the payload to every registered channel and waits
// for the results. Returns overall success (at least one channel
// succeeded) and a per-channel outcome map.
func (d *Dispatcher) Notify(ctx context.Context, payload models.AlertPayload) (bool, map[string]string) {
	d.mu.RLock()
	channels := make([]Channel, 0, len(d.channels))
	for _, ch := range d.channels {
		channels = append(channels, ch)
	}
	d.mu.RUnlock()

	outcomes := make(map[string]string, len(channels))
	if len(channels) == 0 {
		return false, map[string]string{"error": "no notification channels registered"}
	}

	done := make(chan channelResult, len(channels))
	submitted := 0
	for _, ch := range channels {
		select {
		case d.queue <- deliveryJob{channel: ch, payload: payload, done: done}:
			submitted++
		default:
			outcomes[ch.Name()] = "failed: delivery queue full"
			metrics.RecordNotification(ch.Name(), false)
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, d.channelTimeout+time.Second)
	defer cancel()

	success := false
	for i := 0; i < submitted; i++ {
		select {
		case result := <-done:
			if result.err != nil {
				outcomes[result.channel] = "failed: " + result.err.Error()
				metrics.RecordNotification(result.channel, false)
			} else {
				outcomes[result.channel] = "delivered"
				metrics.RecordNotification(result.channel, true)
				success = true
			}
		case <-waitCtx.Done():
			// Remaining deliveries report through metrics when their
			// workers finish; mark them timed out here.
			for _, ch := range channels {
				if _, recorded := outcomes[ch.Name()]; !recorded {
					outcomes[ch.Name()] = "failed: timed out waiting for delivery"
				}
			}
			return success, outcomes
		}
	}
	return success, outcomes
}

// RunWithContext runs the delivery worker pool until the context is
// canceled. Shaped as a suture service.
func (d *Dispatcher) RunWithContext(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.worker(ctx)
		}()
	}
	logging.Info().Int("workers", d.workers).Msg("Notification dispatcher started")
	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

func (d *Dispatcher) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-d.queue:
			sendCtx, cancel := context.WithTimeout(ctx, d.channelTimeout)
			err := job.channel.Send(sendCtx, job.payload)
			cancel()
			if err != nil {
				logging.Err(err).Str("channel", job.channel.Name()).Str("incident_id", job.payload.IncidentID).Msg("Alert delivery failed")
			}
			select {
			case job.done <- channelResult{channel: job.channel.Name(), err: err}:
			default:
			}
		}
	}
}
