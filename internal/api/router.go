package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds each dependency check on /api/health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// The skill endpoint authenticates through the envelope's access token.
	r.Post("/aligenie", s.handleAliGenie)

	r.Get("/metrics", s.handleMetrics)
	r.Get("/api/health", s.handleHealth)

	if s.entities == nil {
		return r
	}

	r.Post("/auth/token", s.handleToken)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/", s.handleAPIRoot)

		r.Route("/states", func(r chi.Router) {
			r.Get("/", s.handleListStates)
			r.Get("/{entity_id}", s.handleGetState)
			r.Post("/{entity_id}", s.handleSetState)
			r.Delete("/{entity_id}", s.handleDeleteState)
		})

		r.Get("/services", s.handleListServices)
		r.Post("/services/{domain}/{service}", s.handleCallService)
		r.Get("/service_calls", s.handleListServiceCalls)

		r.Post("/websocket/ticket", s.handleWSTicket)
	})

	// The WebSocket authenticates with a ticket or bearer header in the handler.
	r.Get("/api/websocket", s.handleWebSocket)

	return r
}

// handleAPIRoot mirrors the host API's liveness probe.
func (s *Server) handleAPIRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "API running."})
}

// handleHealth runs every registered dependency check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.health))
	for name := range s.health {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "ok"
	checks := make(map[string]string, len(names))
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := s.health[name](ctx)
		cancel()
		if err != nil {
			checks[name] = err.Error()
			status = "degraded"
			continue
		}
		checks[name] = "ok"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":         status,
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		"checks":         checks,
	})
}
