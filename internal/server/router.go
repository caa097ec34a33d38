package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// NewRouter builds the HTTP tree. A nil onboarding leaves the Lyric
// routes unmounted.
func NewRouter(api *API, onboarding *LyricOnboarding, registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", HealthHandler)
	r.Handle("/metrics", MetricsHandler(registry))

	r.Route("/api", func(apiRouter chi.Router) {
		apiRouter.Use(middleware.Timeout(30 * time.Second))
		apiRouter.Get("/thermostats", api.listThermostats)
		apiRouter.Post("/thermostats/{vendor}/{location}/{device}", api.setThermostat)
	})

	if onboarding != nil {
		r.Route("/oauth/lyric", func(oauthRouter chi.Router) {
			oauthRouter.Get("/start", onboarding.start)
			oauthRouter.Get("/callback", onboarding.callback)
		})
	}
	return r
}
