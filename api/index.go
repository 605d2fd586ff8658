package handler

import (
	"context"
	"net/http"

	"github.com/wadjakorntonsri/linktally/pkg/adapters/handler"
	"github.com/wadjakorntonsri/linktally/pkg/adapters/repository"
	"github.com/wadjakorntonsri/linktally/pkg/config"
	"github.com/wadjakorntonsri/linktally/pkg/core/services"
	"github.com/wadjakorntonsri/linktally/pkg/logger"
)

var mux http.Handler

func init() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.AppEnv)

	// On Vercel a local SQLite file is ephemeral; point DATABASE_URL at
	// libsql, Postgres or Redis instead.
	repo, err := repository.Open(context.Background(), cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open link store")
	}

	gen := services.NewCodeGenerator(repo, services.GeneratorConfig{
		Length:            cfg.CodeLength,
		MaxLength:         cfg.CodeMaxLength,
		AttemptsPerLength: cfg.CodeAttempts,
	}, log)
	links := services.NewLinkService(repo, gen, log)
	redirect := services.NewRedirectService(repo, log)
	mux = handler.NewRouter(cfg, links, redirect, log)
}

// Handler is the entrypoint for Vercel
func Handler(w http.ResponseWriter, r *http.Request) {
	mux.ServeHTTP(w, r)
}
