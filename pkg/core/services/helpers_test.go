package services

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"

	"github.com/wadjakorntonsri/linktally/pkg/adapters/repository/memory"
	"github.com/wadjakorntonsri/linktally/pkg/core/domain"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	repo     *memory.MemoryRepository
	links    *LinkService
	redirect *RedirectService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo := memory.NewMemoryRepository()
	gen := NewCodeGenerator(repo, GeneratorConfig{}, zerolog.Nop())

	links := NewLinkService(repo, gen, zerolog.Nop())
	links.now = func() time.Time { return fixedNow }
	redirect := NewRedirectService(repo, zerolog.Nop())
	redirect.now = func() time.Time { return fixedNow.Add(time.Minute) }

	return &testEnv{repo: repo, links: links, redirect: redirect}
}

// mockGenerator hands out scripted codes.
type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) Generate(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// faultyRepo wraps the in-memory store and fails selected calls.
type faultyRepo struct {
	*memory.MemoryRepository
	insertErr error
	visitErr  error
}

func (r *faultyRepo) Insert(ctx context.Context, link *domain.Link) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	return r.MemoryRepository.Insert(ctx, link)
}

func (r *faultyRepo) RecordVisit(ctx context.Context, visit domain.Visit) (*domain.Link, error) {
	if r.visitErr != nil {
		return nil, r.visitErr
	}
	return r.MemoryRepository.RecordVisit(ctx, visit)
}
