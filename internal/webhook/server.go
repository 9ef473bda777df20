// Package webhook is the inbound HTTP boundary: the telephony provider's
// call events arrive here, and the analytics read API is served here. The
// raw telephony protocol never crosses this boundary; events are opaque
// JSON keyed by the provider's call id.
package webhook

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/voicecore/voicecore/internal/audit"
	"github.com/voicecore/voicecore/internal/database"
	"github.com/voicecore/voicecore/internal/dispatch"
)

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router     *chi.Mux
	dispatcher *dispatch.Dispatcher
	auditLog   *audit.Log
	records    database.CallRecordRepository
	agents     database.AgentRepository
	limiter    *RateLimiter
	jwtSecret  []byte
	metrics    http.Handler
}

// NewServer creates the HTTP handler with all routes mounted. metrics is
// the Prometheus scrape handler; it may be nil to disable the endpoint.
func NewServer(
	dispatcher *dispatch.Dispatcher,
	auditLog *audit.Log,
	records database.CallRecordRepository,
	agents database.AgentRepository,
	limiter *RateLimiter,
	jwtSecret []byte,
	metrics http.Handler,
) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		dispatcher: dispatcher,
		auditLog:   auditLog,
		records:    records,
		agents:     agents,
		limiter:    limiter,
		jwtSecret:  jwtSecret,
		metrics:    metrics,
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	// Global middleware stack.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		// Provider-facing call event webhooks, rate limited per line.
		r.Route("/webhooks", func(r chi.Router) {
			r.Use(s.limiter.Middleware)
			r.Post("/call", s.handleInboundCall)
			r.Route("/calls/{id}", func(r chi.Router) {
				r.Post("/utterance", s.handleUtterance)
				r.Post("/hangup", s.handleHangup)
			})
		})

		// Agent presence updates.
		r.Put("/agents/{id}/availability", s.handleAvailability)

		// Analytics read API, bearer-token protected.
		r.Group(func(r chi.Router) {
			r.Use(RequireAuth(s.jwtSecret))
			r.Get("/calls", s.handleListCalls)
			r.Get("/calls/{id}/audit", s.handleAuditTrail)
			r.Get("/calls/{id}/replay", s.handleReplay)
		})
	})
}

// handleHealth returns basic health status. Unauthenticated.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"active_calls": s.dispatcher.ActiveCalls(),
	})
}
