package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// Endpoints mounted next to the REST API.
type Endpoints struct {
	WebSocket http.HandlerFunc
	Metrics   http.Handler
}

func (a *API) Router(allowedOrigins []string, endpoints Endpoints) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(a.Logger)
	r.Use(a.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         int((24 * time.Hour).Seconds()),
	}))

	if endpoints.WebSocket != nil {
		r.Get("/ws", endpoints.WebSocket)
	}
	if endpoints.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", endpoints.Metrics)
	}

	r.Get("/health", a.HealthHandler)

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", a.StatsHandler)
		r.Get("/rooms", a.ListRoomsHandler)
		r.Get("/rooms/{id}", a.GetRoomHandler)
		r.Get("/history", a.ListHistoryHandler)
		r.Get("/history/{id}", a.GetHistoryHandler)
	})

	return r
}
