package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter builds the operator API router with standard middleware.
func NewRouter(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/health", h.health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", h.createCampaign)
			r.Get("/", h.listCampaigns)
			r.Post("/start_all", h.startAll)
			r.Post("/stop_all", h.stopAll)

			r.Route("/{campaignID}", func(r chi.Router) {
				r.Get("/", h.campaignStatus)
				r.Post("/start", h.startCampaign)
				r.Post("/stop", h.stopCampaign)
				r.Delete("/", h.deleteCampaign)
			})
		})

		r.Route("/provider", func(r chi.Router) {
			r.Get("/balance", h.providerBalance)
			r.Get("/orders/{orderID}", h.providerOrderStatus)
		})
	})

	return r
}
