// Custodus - Real-Time Threat Detection and Automated Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodus

// Package ingest decouples event submission from detection. AddEvent
// never blocks the caller: events enter a bounded queue, flow through
// an in-process Pub/Sub topic, and are processed by a worker pool that
// preserves per-actor ordering via consistent hashing.
package ingest

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/tomtom215/custodus/internal/logging"
	"github.com/tomtom215/custodus/internal/metrics"
	"github.com/tomtom215/custodus/internal/models"
)

const (
	// DefaultQueueSize bounds events waiting for publication.
	DefaultQueueSize = 4096

	// DefaultWorkers is the processing pool size.
	DefaultWorkers = 4

	// eventsTopic is the in-process Pub/Sub topic for security events.
	eventsTopic = "security.events"

	// workerBuffer bounds each worker's pending events.
	workerBuffer = 256
)

// Processor consumes one event. Satisfied by detection.Monitor.
type Processor interface {
	Process(ctx context.Context, event *models.SecurityEvent)
}

// Config tunes the ingestion bus.
type Config struct {
	QueueSize int
	Workers   int
}

// Bus is the non-blocking ingestion pipeline. When the queue is full,
// events are dropped and counted rather than backpressuring the
// producer; detection degrades before the caller does.
type Bus struct {
	queue     chan *models.SecurityEvent
	pubSub    *gochannel.GoChannel
	processor Processor
	workers   int

	closeOnce sync.Once
}

// NewBus creates the bus. Processing starts when RunWithContext runs.
func NewBus(cfg Config, processor Processor) *Bus {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: int64(cfg.QueueSize),
	}, newWatermillLogger())

	return &Bus{
		queue:     make(chan *models.SecurityEvent, cfg.QueueSize),
		pubSub:    pubSub,
		processor: processor,
		workers:   cfg.Workers,
	}
}

// AddEvent submits one event for asynchronous processing. Returns
// false when the queue is full and the event was dropped.
func (b *Bus) AddEvent(event *models.SecurityEvent) bool {
	if event == nil {
		return false
	}
	event.Normalize()

	select {
	case b.queue <- event:
		metrics.EventsIngested.Inc()
		metrics.IngestQueueDepth.Set(float64(len(b.queue)))
		return true
	default:
		metrics.EventsDropped.Inc()
		logging.Warn().Str("source_ip", event.SourceIP).Msg("Ingest queue full, event dropped")
		return false
	}
}

// QueueDepth reports events waiting for publication.
func (b *Bus) QueueDepth() int { return len(b.queue) }

// RunWithContext runs the publish pump, the topic consumer, and the
// worker pool until the context is canceled. Shaped as a suture
// service.
func (b *Bus) RunWithContext(ctx context.Context) error {
	messages, err := b.pubSub.Subscribe(ctx, eventsTopic)
	if err != nil {
		return err
	}

	// Per-worker channels; events for one actor always hash to the
	// same worker, which preserves per-actor processing order.
	lanes := make([]chan *models.SecurityEvent, b.workers)
	for i := range lanes {
		lanes[i] = make(chan *models.SecurityEvent, workerBuffer)
	}

	var wg sync.WaitGroup
	for i := range lanes {
		wg.Add(1)
		go func(lane <-chan *models.SecurityEvent) {
			defer wg.Done()
			for event := range lane {
				b.processor.Process(ctx, event)
			}
		}(lanes[i])
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		b.pump(ctx)
	}()

	logging.Info().Int("workers", b.workers).Msg("Ingestion bus started")
	b.consume(ctx, messages, lanes)

	for _, lane := range lanes {
		close(lane)
	}
	wg.Wait()
	b.closeOnce.Do(func() {
		if err := b.pubSub.Close(); err != nil {
			logging.Err(err).Msg("Ingest Pub/Sub close failed")
		}
	})
	return ctx.Err()
}

// pump publishes queued events onto the topic.
func (b *Bus) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-b.queue:
			metrics.IngestQueueDepth.Set(float64(len(b.queue)))
			payload, err := json.Marshal(event)
			if err != nil {
				logging.Err(err).Msg("Event serialization failed")
				continue
			}
			msg := message.NewMessage(watermill.NewUUID(), payload)
			if err := b.pubSub.Publish(eventsTopic, msg); err != nil {
				logging.Err(err).Msg("Event publish failed")
			}
		}
	}
}

// consume decodes topic messages and dispatches them to worker lanes.
func (b *Bus) consume(ctx context.Context, messages <-chan *message.Message, lanes []chan *models.SecurityEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, open := <-messages:
			if !open {
				return
			}
			var event models.SecurityEvent
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				logging.Err(err).Str("message_id", msg.UUID).Msg("Event deserialization failed")
				msg.Ack()
				continue
			}
			lane := lanes[laneFor(event.ActorKey(), len(lanes))]
			select {
			case lane <- &event:
			case <-ctx.Done():
				msg.Nack()
				return
			}
			msg.Ack()
		}
	}
}

func laneFor(actorKey string, lanes int) int {
	h := fnv.New32a()
	h.Write([]byte(actorKey)) //nolint:errcheck
	return int(h.Sum32()) % lanes
}

// Drain gives in-flight events a bounded window to finish during
// shutdown, then returns regardless.
func (b *Bus) Drain(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for len(b.queue) > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
}
