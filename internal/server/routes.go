// Package server wires HTTP handlers into a ServeMux for the relay and
// applies CORS negotiation.
package server

import (
	"net/http"

	"github.com/rs/cors"
)

// SetupRoutes configures the application routes and wraps them with CORS.
// metricsHandler is mounted at /metrics when non-nil.
func SetupRoutes(h *Handlers, metricsHandler http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /check", HealthHandler)
	mux.HandleFunc("POST /users", h.RegisterHandler)
	mux.HandleFunc("/ws", h.WebSocketHandler)
	mux.HandleFunc("GET /test", TestPageHandler)
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	return newCORS(h.origins).Handler(mux)
}

func newCORS(origins *originPolicy) *cors.Cors {
	return cors.New(cors.Options{
		AllowedOrigins: origins.corsOrigins(),
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
			http.MethodPatch,
		},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{ClaimTokenHeader},
	})
}
