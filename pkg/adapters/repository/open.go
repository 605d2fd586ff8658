// Package repository picks a LinkRepository implementation from a database URL.
package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/wadjakorntonsri/linktally/pkg/adapters/repository/memory"
	"github.com/wadjakorntonsri/linktally/pkg/adapters/repository/postgres"
	"github.com/wadjakorntonsri/linktally/pkg/adapters/repository/redis"
	"github.com/wadjakorntonsri/linktally/pkg/adapters/repository/sqlite"
	"github.com/wadjakorntonsri/linktally/pkg/ports"
)

type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
	BackendRedis    Backend = "redis"
)

// BackendFor maps a database URL to its backend. Anything without a known
// scheme is handed to SQLite, which also covers libsql:// and plain paths.
func BackendFor(databaseURL string) Backend {
	switch {
	case databaseURL == "memory" || strings.HasPrefix(databaseURL, "memory://"):
		return BackendMemory
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return BackendPostgres
	case strings.HasPrefix(databaseURL, "redis://"), strings.HasPrefix(databaseURL, "rediss://"):
		return BackendRedis
	default:
		return BackendSQLite
	}
}

// Open connects to the store named by databaseURL. The caller owns Close.
func Open(ctx context.Context, databaseURL string, log zerolog.Logger) (ports.LinkRepository, error) {
	backend := BackendFor(databaseURL)
	log.Info().Str("backend", string(backend)).Msg("opening link store")

	var (
		repo ports.LinkRepository
		err  error
	)
	switch backend {
	case BackendMemory:
		repo = memory.NewMemoryRepository()
	case BackendPostgres:
		repo, err = postgres.NewPostgresRepository(ctx, databaseURL, log)
	case BackendRedis:
		repo, err = redis.NewRedisRepository(ctx, databaseURL)
	default:
		repo, err = sqlite.NewSQLiteRepository(databaseURL)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", backend, err)
	}
	return repo, nil
}
