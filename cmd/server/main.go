package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/wadjakorntonsri/linktally/pkg/adapters/handler"
	"github.com/wadjakorntonsri/linktally/pkg/adapters/repository"
	"github.com/wadjakorntonsri/linktally/pkg/config"
	"github.com/wadjakorntonsri/linktally/pkg/core/services"
	"github.com/wadjakorntonsri/linktally/pkg/logger"
	"github.com/wadjakorntonsri/linktally/pkg/ports"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.AppEnv)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Repository
	repo, err := repository.Open(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := repo.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close link store")
		}
	}()

	server := newServer(cfg, repo, log)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Str("env", cfg.AppEnv).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// newServer wires services and router on top of an open store.
func newServer(cfg *config.Config, repo ports.LinkRepository, log zerolog.Logger) *http.Server {
	gen := services.NewCodeGenerator(repo, services.GeneratorConfig{
		Length:            cfg.CodeLength,
		MaxLength:         cfg.CodeMaxLength,
		AttemptsPerLength: cfg.CodeAttempts,
	}, log)
	links := services.NewLinkService(repo, gen, log)
	redirect := services.NewRedirectService(repo, log)

	return &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.NewRouter(cfg, links, redirect, log),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
