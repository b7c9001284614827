// Custodus - Real-Time Threat Detection and Automated Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodus

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router assembles the middleware stack and route tree for the server.
type Router struct {
	server     *Server
	middleware *Middleware
}

// NewRouter builds the router over an assembled handler set.
func NewRouter(server *Server, mw *Middleware) *Router {
	if mw == nil {
		mw = NewMiddleware(nil)
	}
	return &Router{server: server, middleware: mw}
}

// Setup returns the fully wired http.Handler.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to every route in order. CORS must be
	// global so OPTIONS preflight requests resolve before routing.
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.middleware.CORS())

	// Operational endpoints stay outside the rate limiter so monitoring
	// keeps working while the API is saturated.
	r.Get("/healthz", router.server.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// WebSocket upgrade bypasses the JSON metrics middleware; connection
	// gauges are tracked by the hub itself.
	r.Get("/ws", router.server.WebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(router.middleware.RateLimit())
		r.Use(PrometheusMetrics)

		r.Post("/events", router.server.IngestEvent)

		r.Get("/threats/summary", router.server.ThreatSummary)

		r.Get("/incidents/summary", router.server.IncidentSummary)
		r.Get("/incidents/active", router.server.ActiveIncidents)
		r.Get("/incidents/{id}", router.server.GetIncident)
		r.Patch("/incidents/{id}/status", router.server.UpdateIncidentStatus)

		r.Get("/rules", router.server.ListRules)
		r.Post("/rules", router.server.CreateRule)
		r.Delete("/rules/{id}", router.server.DeleteRule)

		r.Get("/ips/{ip}", router.server.IPStatus)
	})

	return r
}
