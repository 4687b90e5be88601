package main

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/visiarch/visiarch-api/internal/api"
	apiMiddleware "github.com/visiarch/visiarch-api/internal/api/middleware"
	"github.com/visiarch/visiarch-api/internal/video/provider"
	"github.com/visiarch/visiarch-api/internal/video/queue"
)

// setupRouter creates and configures the application router with all
// routes and middleware.
func setupRouter(q *queue.Queue, providers provider.Source, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	// Apply standard middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware)

	videoHandler := api.NewVideoHandler(q, providers, logger)

	r.Route("/api", func(r chi.Router) {
		r.Post("/videos", videoHandler.CreateVideo)
		r.Get("/videos", videoHandler.ListVideos)
		r.Get("/videos/{correlationID}", videoHandler.GetVideo)
		r.Delete("/videos/{correlationID}", videoHandler.DeleteVideo)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return r
}
