// SPDX-License-Identifier: MIT

// Package api is the control surface of the broadcast engine: the stream
// endpoint plus the operator introspection endpoints.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/lumenhq/beacon/internal/admission"
	"github.com/lumenhq/beacon/internal/api/middleware"
	"github.com/lumenhq/beacon/internal/bus"
	"github.com/lumenhq/beacon/internal/config"
	"github.com/lumenhq/beacon/internal/identity"
	"github.com/lumenhq/beacon/internal/ratelimit"
)

// Server wires the hub, the admission controller, and the identity resolver
// behind the HTTP control surface. All dependencies are injected; nothing is
// reached through package state.
type Server struct {
	cfg      config.Config
	hub      *bus.Hub
	ctrl     *admission.Controller
	resolver identity.Resolver
	limiter  *ratelimit.Limiter
}

// New constructs the control surface.
func New(cfg config.Config, hub *bus.Hub, ctrl *admission.Controller, resolver identity.Resolver) *Server {
	rlCfg := ratelimit.DefaultConfig()
	if cfg.RateLimitRPS > 0 {
		rlCfg.PerIPRate = rate.Limit(cfg.RateLimitRPS)
		rlCfg.PerIPBurst = cfg.RateLimitBurst
	}
	return &Server{
		cfg:      cfg,
		hub:      hub,
		ctrl:     ctrl,
		resolver: resolver,
		limiter:  ratelimit.New(rlCfg),
	}
}

// Handler builds the router with the full middleware stack applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(s.cfg.AllowedOrigins, !s.cfg.IsProduction()))
	r.Use(middleware.Logging)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/v1/events/stream", s.handleStream)

	// Operator surface: static bearer token, then rate limits. The stream
	// route stays outside the limiter; admission is its gate.
	r.Group(func(op chi.Router) {
		op.Use(s.requireOperator)
		op.Use(s.limiter.Middleware)
		op.Get("/v1/events/subscribers", s.handleSubscribers)
		op.Get("/v1/events/stats", s.handleStats)
		op.With(httprate.LimitByIP(30, time.Second)).Post("/v1/events/emit", s.handleEmit)
		op.Method(http.MethodGet, "/metrics", promhttp.Handler())
	})

	return r
}
