// Package repotest holds the behaviour every ports.LinkRepository must share.
// Adapters call Run from their own tests with a factory for an empty store.
package repotest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wadjakorntonsri/linktally/pkg/core/domain"
	"github.com/wadjakorntonsri/linktally/pkg/ports"
)

// Factory returns an empty repository. Cleanup is registered on t.
type Factory func(t *testing.T) ports.LinkRepository

func Run(t *testing.T, newRepo Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, repo ports.LinkRepository)
	}{
		{"InsertAndFind", testInsertAndFind},
		{"DuplicateCode", testDuplicateCode},
		{"DuplicateAlias", testDuplicateAlias},
		{"SharedNamespace", testSharedNamespace},
		{"Exists", testExists},
		{"RecordVisit", testRecordVisit},
		{"RecordVisitLimit", testRecordVisitLimit},
		{"Deactivate", testDeactivate},
		{"UpdateAlias", testUpdateAlias},
		{"UpdateRequestLimit", testUpdateRequestLimit},
		{"ListAndDump", testListAndDump},
		{"ConcurrentVisits", testConcurrentVisits},
		{"ConcurrentLimit", testConcurrentLimit},
		{"ConcurrentAliasInsert", testConcurrentAliasInsert},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newRepo(t))
		})
	}
}

var created = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func mustInsert(t *testing.T, repo ports.LinkRepository, code, alias string, limit *int64) *domain.Link {
	t.Helper()
	link := domain.NewLink(code, alias, "https://example.com/"+code, limit, created)
	require.NoError(t, repo.Insert(context.Background(), link))
	return link
}

func visit(repo ports.LinkRepository, identifier, client string) (*domain.Link, error) {
	return repo.RecordVisit(context.Background(), domain.Visit{
		Identifier: identifier,
		ClientID:   client,
		At:         time.Now().UTC(),
	})
}

func testInsertAndFind(t *testing.T, repo ports.LinkRepository) {
	ctx := context.Background()
	link := mustInsert(t, repo, "abc123", "docs", domain.Int64(5))
	assert.NotZero(t, link.ID)

	for _, id := range []string{"abc123", "docs"} {
		got, err := repo.FindByIdentifier(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "abc123", got.Code)
		assert.Equal(t, "docs", got.Alias)
		assert.Equal(t, "https://example.com/abc123", got.LongURL)
		assert.Equal(t, domain.StatusActive, got.Status)
		require.NotNil(t, got.RequestLimit)
		assert.Equal(t, int64(5), *got.RequestLimit)
		assert.WithinDuration(t, created, got.CreatedAt, time.Second)
		assert.Zero(t, got.Stats.AccessCount)
		assert.Empty(t, got.Stats.AccessedFrom)
		assert.Nil(t, got.Stats.LastAccessedAt)
	}

	_, err := repo.FindByIdentifier(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	plain := mustInsert(t, repo, "xyz789", "", nil)
	got, err := repo.FindByIdentifier(ctx, "xyz789")
	require.NoError(t, err)
	assert.Equal(t, plain.Code, got.Alias)
	assert.Nil(t, got.RequestLimit)
}

func testDuplicateCode(t *testing.T, repo ports.LinkRepository) {
	mustInsert(t, repo, "dup001", "", nil)

	err := repo.Insert(context.Background(), domain.NewLink("dup001", "other", "https://example.org", nil, created))
	assert.ErrorIs(t, err, domain.ErrDuplicateCode)

	exists, err := repo.Exists(context.Background(), "other")
	require.NoError(t, err)
	assert.False(t, exists, "failed insert must not reserve its alias")
}

func testDuplicateAlias(t *testing.T, repo ports.LinkRepository) {
	mustInsert(t, repo, "code01", "shared", nil)

	err := repo.Insert(context.Background(), domain.NewLink("code02", "shared", "https://example.org", nil, created))
	assert.ErrorIs(t, err, domain.ErrDuplicateAlias)

	exists, err := repo.Exists(context.Background(), "code02")
	require.NoError(t, err)
	assert.False(t, exists, "failed insert must not reserve its code")
}

func testSharedNamespace(t *testing.T, repo ports.LinkRepository) {
	ctx := context.Background()
	mustInsert(t, repo, "first1", "pretty", nil)

	// alias equal to another link's code
	err := repo.Insert(ctx, domain.NewLink("second", "first1", "https://example.org", nil, created))
	assert.ErrorIs(t, err, domain.ErrDuplicateAlias)

	// code equal to another link's alias
	err = repo.Insert(ctx, domain.NewLink("pretty", "", "https://example.org", nil, created))
	assert.ErrorIs(t, err, domain.ErrDuplicateCode)
}

func testExists(t *testing.T, repo ports.LinkRepository) {
	ctx := context.Background()
	mustInsert(t, repo, "exist1", "named", nil)

	for id, want := range map[string]bool{"exist1": true, "named": true, "nope": false} {
		got, err := repo.Exists(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got, id)
	}

	_, err := repo.Deactivate(ctx, "exist1")
	require.NoError(t, err)
	got, err := repo.Exists(ctx, "named")
	require.NoError(t, err)
	assert.True(t, got, "deleted links keep their identifiers")
}

func testRecordVisit(t *testing.T, repo ports.LinkRepository) {
	mustInsert(t, repo, "visit1", "v", nil)

	_, err := visit(repo, "visit1", "10.0.0.1")
	require.NoError(t, err)
	_, err = visit(repo, "v", "10.0.0.2")
	require.NoError(t, err)
	got, err := visit(repo, "visit1", "10.0.0.1")
	require.NoError(t, err)

	assert.Equal(t, int64(3), got.Stats.AccessCount)
	assert.Equal(t, int64(2), got.Stats.UniqueUsers)
	assert.ElementsMatch(t, []string{"10.0.0.1", "10.0.0.2"}, got.Stats.AccessedFrom)
	require.NotNil(t, got.Stats.LastAccessedAt)
	assert.WithinDuration(t, time.Now(), *got.Stats.LastAccessedAt, 5*time.Second)

	_, err = visit(repo, "ghost", "10.0.0.1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testRecordVisitLimit(t *testing.T, repo ports.LinkRepository) {
	mustInsert(t, repo, "limit1", "", domain.Int64(2))

	for i := 0; i < 2; i++ {
		_, err := visit(repo, "limit1", "10.0.0.1")
		require.NoError(t, err)
	}
	_, err := visit(repo, "limit1", "10.0.0.9")
	assert.ErrorIs(t, err, domain.ErrLimitExceeded)

	got, err := repo.FindByIdentifier(context.Background(), "limit1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Stats.AccessCount)
	assert.Equal(t, []string{"10.0.0.1"}, got.Stats.AccessedFrom)
}

func testDeactivate(t *testing.T, repo ports.LinkRepository) {
	ctx := context.Background()
	mustInsert(t, repo, "gone01", "bye", nil)
	_, err := visit(repo, "bye", "10.0.0.1")
	require.NoError(t, err)

	got, err := repo.Deactivate(ctx, "gone01")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeleted, got.Status)

	_, err = visit(repo, "gone01", "10.0.0.2")
	assert.ErrorIs(t, err, domain.ErrGone)
	_, err = visit(repo, "bye", "10.0.0.2")
	assert.ErrorIs(t, err, domain.ErrGone)

	_, err = repo.Deactivate(ctx, "gone01")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = repo.UpdateAlias(ctx, "gone01", "again")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = repo.UpdateRequestLimit(ctx, "gone01", 10)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	found, err := repo.FindByIdentifier(ctx, "bye")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeleted, found.Status)
	assert.Equal(t, int64(1), found.Stats.AccessCount, "stats are frozen after delete")
}

func testUpdateAlias(t *testing.T, repo ports.LinkRepository) {
	ctx := context.Background()
	mustInsert(t, repo, "alias1", "old", nil)
	mustInsert(t, repo, "alias2", "taken", nil)

	got, err := repo.UpdateAlias(ctx, "alias1", "new")
	require.NoError(t, err)
	assert.Equal(t, "new", got.Alias)

	found, err := repo.FindByIdentifier(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, "alias1", found.Code)

	exists, err := repo.Exists(ctx, "old")
	require.NoError(t, err)
	assert.False(t, exists, "previous alias is released")

	_, err = repo.UpdateAlias(ctx, "alias1", "taken")
	assert.ErrorIs(t, err, domain.ErrDuplicateAlias)
	_, err = repo.UpdateAlias(ctx, "alias1", "alias2")
	assert.ErrorIs(t, err, domain.ErrDuplicateAlias)

	got, err = repo.UpdateAlias(ctx, "alias1", "alias1")
	require.NoError(t, err)
	assert.Equal(t, "alias1", got.Alias)
	exists, err = repo.Exists(ctx, "new")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = repo.UpdateAlias(ctx, "nothere", "x")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testUpdateRequestLimit(t *testing.T, repo ports.LinkRepository) {
	ctx := context.Background()
	mustInsert(t, repo, "rl0001", "", nil)
	for i := 0; i < 3; i++ {
		_, err := visit(repo, "rl0001", "10.0.0.1")
		require.NoError(t, err)
	}

	_, err := repo.UpdateRequestLimit(ctx, "rl0001", 2)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	found, err := repo.FindByIdentifier(ctx, "rl0001")
	require.NoError(t, err)
	assert.Nil(t, found.RequestLimit)

	got, err := repo.UpdateRequestLimit(ctx, "rl0001", 3)
	require.NoError(t, err)
	require.NotNil(t, got.RequestLimit)
	assert.Equal(t, int64(3), *got.RequestLimit)

	_, err = visit(repo, "rl0001", "10.0.0.1")
	assert.ErrorIs(t, err, domain.ErrLimitExceeded)
}

func testListAndDump(t *testing.T, repo ports.LinkRepository) {
	ctx := context.Background()
	for _, code := range []string{"list01", "list02", "list03"} {
		mustInsert(t, repo, code, "", nil)
	}
	_, err := repo.Deactivate(ctx, "list02")
	require.NoError(t, err)

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "list01", active[0].Code)
	assert.Equal(t, "list03", active[1].Code)

	all, err := repo.Dump(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "list02", all[1].Code)
	assert.Equal(t, domain.StatusDeleted, all[1].Status)
}

func testConcurrentVisits(t *testing.T, repo ports.LinkRepository) {
	mustInsert(t, repo, "busy01", "", nil)

	const clients, perClient = 8, 6
	var wg sync.WaitGroup
	errs := make(chan error, clients*perClient)
	for c := 0; c < clients; c++ {
		for i := 0; i < perClient; i++ {
			wg.Add(1)
			go func(client string) {
				defer wg.Done()
				if _, err := visit(repo, "busy01", client); err != nil {
					errs <- err
				}
			}(fmt.Sprintf("10.1.0.%d", c))
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := repo.FindByIdentifier(context.Background(), "busy01")
	require.NoError(t, err)
	assert.Equal(t, int64(clients*perClient), got.Stats.AccessCount)
	assert.Equal(t, int64(clients), got.Stats.UniqueUsers)
	assert.Len(t, got.Stats.AccessedFrom, clients)
}

func testConcurrentLimit(t *testing.T, repo ports.LinkRepository) {
	const limit, callers = 5, 30
	mustInsert(t, repo, "cap001", "", domain.Int64(limit))

	var ok, refused atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := visit(repo, "cap001", fmt.Sprintf("10.2.0.%d", i))
			switch {
			case err == nil:
				ok.Add(1)
			case assert.ErrorIs(t, err, domain.ErrLimitExceeded):
				refused.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(limit), ok.Load())
	assert.Equal(t, int64(callers-limit), refused.Load())

	got, err := repo.FindByIdentifier(context.Background(), "cap001")
	require.NoError(t, err)
	assert.Equal(t, int64(limit), got.Stats.AccessCount)
	assert.Equal(t, int64(limit), got.Stats.UniqueUsers)
}

func testConcurrentAliasInsert(t *testing.T, repo ports.LinkRepository) {
	const callers = 10
	var ok atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			link := domain.NewLink(fmt.Sprintf("race%02d", i), "contested", "https://example.com", nil, created)
			err := repo.Insert(context.Background(), link)
			if err == nil {
				ok.Add(1)
				return
			}
			assert.ErrorIs(t, err, domain.ErrDuplicateAlias)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int64(1), ok.Load())
}
