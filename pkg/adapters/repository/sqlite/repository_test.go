package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wadjakorntonsri/linktally/pkg/adapters/repository/repotest"
	"github.com/wadjakorntonsri/linktally/pkg/core/domain"
	"github.com/wadjakorntonsri/linktally/pkg/ports"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository("file:" + filepath.Join(t.TempDir(), "links.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteRepository(t *testing.T) {
	repotest.Run(t, func(t *testing.T) ports.LinkRepository {
		return newTestRepo(t)
	})
}

func TestSQLiteRepositoryInsertKeepsStats(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	seen := time.Date(2024, 6, 2, 8, 30, 0, 0, time.UTC)
	link := domain.NewLink("imp001", "imported", "https://example.com", domain.Int64(10), seen.Add(-time.Hour))
	link.Stats = domain.LinkStats{
		AccessCount:    4,
		UniqueUsers:    2,
		AccessedFrom:   []string{"10.0.0.1", "10.0.0.2"},
		LastAccessedAt: &seen,
	}
	link.Status = domain.StatusDeleted
	require.NoError(t, repo.Insert(ctx, link))

	got, err := repo.FindByIdentifier(ctx, "imported")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeleted, got.Status)
	assert.Equal(t, int64(4), got.Stats.AccessCount)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, got.Stats.AccessedFrom)
	require.NotNil(t, got.Stats.LastAccessedAt)
	assert.True(t, seen.Equal(*got.Stats.LastAccessedAt))
}

func TestSQLiteRepositoryReopen(t *testing.T) {
	ctx := context.Background()
	path := "file:" + filepath.Join(t.TempDir(), "links.db")

	repo, err := NewSQLiteRepository(path)
	require.NoError(t, err)
	require.NoError(t, repo.Insert(ctx, domain.NewLink("keep01", "", "https://example.com", nil, time.Now())))
	require.NoError(t, repo.Close())

	repo, err = NewSQLiteRepository(path)
	require.NoError(t, err)
	defer repo.Close()

	exists, err := repo.Exists(ctx, "keep01")
	require.NoError(t, err)
	assert.True(t, exists)
}
