package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/loggergw/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	// Device check-ins. Loggers cannot carry bearer tokens and do not
	// speak CORS; the gateway applies its own body limit.
	r.Mount("/gateway", s.gateway.Routes())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.corsMiddleware)
		r.Use(s.bodySizeLimitMiddleware)

		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		// WebSocket authenticates via ?token= because browsers cannot set
		// headers on the upgrade request.
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.With(s.requirePermission(auth.PermDeviceRead)).Get("/devices", s.handleListDevices)
			r.With(s.requirePermission(auth.PermDeviceManage)).Post("/devices", s.handleCreateDevice)
			r.With(s.requirePermission(auth.PermDeviceManage)).Post("/hardware-models", s.handleCreateHardwareModel)

			r.Route("/devices/{uid}", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermDeviceRead)).Get("/", s.handleGetDevice)
				r.With(s.requirePermission(auth.PermDeviceRead)).Get("/readings", s.handleListReadings)

				r.Route("/config-requests", func(r chi.Router) {
					r.With(s.requirePermission(auth.PermConfigRead)).Get("/", s.handleListConfigRequests)
					r.With(s.requirePermission(auth.PermConfigRequest)).Post("/", s.handleCreateConfigRequest)
					r.With(s.requirePermission(auth.PermConfigRead)).Get("/{id}", s.handleGetConfigRequest)
					r.With(s.requirePermission(auth.PermConfigCancel)).Post("/{id}/cancel", s.handleCancelConfigRequest)
				})
			})
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
