// Custodus - Real-Time Threat Detection and Automated Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodus

// Package websocket pushes live incident and threat notifications to
// connected dashboard clients. The hub owns the client set; slow
// clients are dropped rather than allowed to stall a broadcast.
package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/tomtom215/custodus/internal/logging"
	"github.com/tomtom215/custodus/internal/metrics"
)

// Message types pushed to clients.
const (
	MessageTypeThreatDetected  = "threat_detected"
	MessageTypeIncidentCreated = "incident_created"
	MessageTypeIncidentUpdated = "incident_updated"
	MessageTypePing            = "ping"
	MessageTypePong            = "pong"
)

// Message is one WebSocket frame payload.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub maintains the set of active clients and broadcasts messages.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client
}

// NewHub creates an empty hub. Run it with RunWithContext.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
	}
}

// Broadcast queues a message for all connected clients. Drops the
// message when the broadcast buffer is full; live notifications are
// best effort and the API remains the source of truth.
func (h *Hub) Broadcast(messageType string, data any) {
	msg := Message{Type: messageType, Data: data}
	select {
	case h.broadcast <- msg:
		metrics.WebSocketMessages.WithLabelValues(messageType).Inc()
	default:
		logging.Warn().Str("type", messageType).Msg("WebSocket broadcast buffer full, message dropped")
	}
}

// ClientCount reports connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RunWithContext runs the hub loop until the context is canceled,
// then closes every client. Shaped as a suture service.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		// Lifecycle events take priority over broadcasts so the
		// client set is consistent before messages fan out.
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return ctx.Err()
		case client := <-h.Register:
			h.addClient(client)
			continue
		case client := <-h.Unregister:
			h.removeClient(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.closeAllClients()
			return ctx.Err()
		case client := <-h.Register:
			h.addClient(client)
		case client := <-h.Unregister:
			h.removeClient(client)
		case msg := <-h.broadcast:
			h.broadcastToClients(msg)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketClients.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("WebSocket client connected")
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketClients.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("WebSocket client disconnected")
}

// broadcastToClients delivers to clients in stable ID order. A client
// whose send buffer is full is disconnected.
func (h *Hub) broadcastToClients(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })

	var dropped []*Client
	for _, client := range clients {
		select {
		case client.send <- msg:
		default:
			dropped = append(dropped, client)
		}
	}
	for _, client := range dropped {
		close(client.send)
		delete(h.clients, client)
		logging.Warn().Uint64("client_id", client.id).Msg("Slow WebSocket client dropped")
	}
	if len(dropped) > 0 {
		metrics.WebSocketClients.Set(float64(len(h.clients)))
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	metrics.WebSocketClients.Set(0)
	logging.Info().Msg("WebSocket hub stopped, clients closed")
}
