package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
)

// NewRouter собирает chi-маршрутизатор со всеми ручками API.
func NewRouter(h *Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}).Handler)

	r.Route("/api", func(r chi.Router) {
		r.Post("/setup", h.Setup)
		r.Post("/index", h.Index)
		r.Post("/index/batch", h.IndexBatch)
		r.Post("/search", h.Search)

		r.Get("/apartments", h.ListApartments)
		r.Get("/apartments/{id}", h.GetApartment)
		r.Delete("/apartments/{id}", h.DeleteApartment)

		r.Get("/health", h.Health)
		r.Get("/metrics", h.Metrics)
	})

	return r
}
