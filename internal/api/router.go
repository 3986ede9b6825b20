package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (h *APIHandler) commonMiddleware(r chi.Router) {
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: h.log, NoColor: true}))
	r.Use(middleware.Recoverer)
}

// SetupDataRouter serves ingestion, record CRUD, health and metrics.
func SetupDataRouter(h *APIHandler) *chi.Mux {
	r := chi.NewRouter()
	h.commonMiddleware(r)

	r.Route("/processed_agent_data", func(r chi.Router) {
		r.Post("/", h.HandleCreate)
		r.Get("/", h.HandleList)
		r.Get("/{id}", h.HandleGet)
		r.Put("/{id}", h.HandleUpdate)
		r.Delete("/{id}", h.HandleDelete)
	})
	r.Get("/healthz", h.HandleHealth)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics)
	}

	return r
}

// SetupSubscriptionRouter serves the per-user WebSocket stream.
func SetupSubscriptionRouter(h *APIHandler) *chi.Mux {
	r := chi.NewRouter()
	h.commonMiddleware(r)

	r.Get("/ws/{user_id}", h.HandleSubscribe)

	return r
}
