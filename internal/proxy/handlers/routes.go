package handlers

import (
	"github.com/costspent/llm-gateway/internal/proxy/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// Routes builds the full gateway router: one surface per provider plus the
// provider-agnostic one, the feedback endpoint and the operational endpoints.
func (g *Gateway) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", HealthHandler())

	auth := middleware.CredentialAuth(g.DB)

	for _, surface := range []string{"openai", "anthropic", "google", SurfaceAuto} {
		s := surface
		r.Route("/"+s, func(r chi.Router) {
			r.Use(auth)
			r.Handle("/*", g.ProxyHandler(s))
		})
	}

	r.Route("/gateway", func(r chi.Router) {
		r.Use(auth)
		r.Post("/feedback", g.FeedbackHandler())
		r.Get("/stats", g.StatsHandler())
	})

	return r
}
