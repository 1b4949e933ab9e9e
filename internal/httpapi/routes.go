package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/DoyleJ11/movie-sync/internal/coordinator"
	"github.com/DoyleJ11/movie-sync/internal/ws"
)

func SetupRoutes(c *coordinator.Coordinator, wsOpts ws.Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/", Status(c))
	r.Get("/health", Health(c))
	r.Get("/ws", ws.Handler(c, wsOpts))
	return r
}
