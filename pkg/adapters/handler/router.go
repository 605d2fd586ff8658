package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/wadjakorntonsri/linktally/pkg/config"
	"github.com/wadjakorntonsri/linktally/pkg/ports"
)

// NewRouter creates and configures the main application router
func NewRouter(cfg *config.Config, links ports.LinkService, redirect ports.Redirector, log zerolog.Logger) http.Handler {
	metrics := NewMetrics()
	h := NewHTTPHandler(links, redirect, metrics, log, cfg.BaseURL)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(AccessLog(log, metrics))
	r.Use(middleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(RequestTimeout(cfg.RequestTimeout))
	}

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/urls", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/stats", h.Stats)
		r.Get("/{identifier}/info", h.Info)
		r.Patch("/{identifier}/alias", h.SetAlias)
		r.Patch("/{identifier}/request-limit", h.SetRequestLimit)
		r.Delete("/{identifier}", h.Delete)
		r.Get("/{identifier}", h.Redirect)
	})

	// Public short links
	r.Get("/{identifier}", h.Redirect)

	return r
}
