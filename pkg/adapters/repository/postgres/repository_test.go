package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/wadjakorntonsri/linktally/pkg/adapters/repository/repotest"
	"github.com/wadjakorntonsri/linktally/pkg/ports"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("linktally"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		tc.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestPostgresRepository(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()

	repo, err := NewPostgresRepository(ctx, dsn, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	repotest.Run(t, func(t *testing.T) ports.LinkRepository {
		_, err := repo.pool.Exec(ctx, `TRUNCATE visitors, identifiers, links RESTART IDENTITY`)
		require.NoError(t, err)
		return repo
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	dsn := startPostgres(t)

	require.NoError(t, Migrate(dsn, zerolog.Nop()))
	require.NoError(t, Migrate(dsn, zerolog.Nop()))

	repo, err := NewPostgresRepository(context.Background(), dsn, zerolog.Nop())
	require.NoError(t, err)
	defer repo.Close()
	assert.NoError(t, repo.Ping(context.Background()))
}
