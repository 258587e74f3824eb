// Package server wires HTTP handlers into a chi router for the relay.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Tyrowin/gochat-relay/internal/metrics"
	"github.com/Tyrowin/gochat-relay/internal/middleware"
)

// SetupRoutes returns the application router. A nil gatherer leaves
// /metrics unmounted.
func SetupRoutes(api *API, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(api.log))
	r.Use(middleware.NewLoggingMiddleware(api.log))

	r.Get("/", api.Health)
	r.Get("/health", api.Health)
	r.Get("/ws", api.WebSocket)
	r.Get("/stats", api.Stats)
	r.Post("/register", api.Register)
	r.Post("/login", api.Login)

	r.Route("/messages", func(r chi.Router) {
		r.With(api.auth.RequireIdentity(api.writeError)).Get("/", api.ListMessages)
		r.With(api.auth.OptionalIdentity(api.writeError)).Post("/", api.PostMessage)
	})

	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(gatherer))
	}
	return r
}
