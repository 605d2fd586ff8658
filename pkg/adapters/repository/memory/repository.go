package memory

import (
	"context"
	"sync"

	"github.com/wadjakorntonsri/linktally/pkg/core/domain"
	"github.com/wadjakorntonsri/linktally/pkg/ports"
)

// MemoryRepository keeps links in process. A single mutex makes every
// method one atomic step, which is what the SQL and Redis stores provide
// through transactions and scripts.
type MemoryRepository struct {
	mu     sync.RWMutex
	nextID int64
	links  map[string]*domain.Link // by code
	idents map[string]string       // code or alias -> code
	order  []string                // codes in insertion order
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		links:  make(map[string]*domain.Link),
		idents: make(map[string]string),
	}
}

func (r *MemoryRepository) FindByIdentifier(ctx context.Context, identifier string) (*domain.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	link, ok := r.lookup(identifier)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return link.Clone(), nil
}

func (r *MemoryRepository) Exists(ctx context.Context, identifier string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.idents[identifier]
	return ok, nil
}

func (r *MemoryRepository) Insert(ctx context.Context, link *domain.Link) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.idents[link.Code]; taken {
		return domain.ErrDuplicateCode
	}
	if _, taken := r.idents[link.Alias]; taken && link.Alias != link.Code {
		return domain.ErrDuplicateAlias
	}

	r.nextID++
	link.ID = r.nextID
	stored := link.Clone()
	r.links[stored.Code] = stored
	r.idents[stored.Code] = stored.Code
	r.idents[stored.Alias] = stored.Code
	r.order = append(r.order, stored.Code)
	return nil
}

func (r *MemoryRepository) RecordVisit(ctx context.Context, visit domain.Visit) (*domain.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	link, ok := r.lookup(visit.Identifier)
	switch {
	case !ok:
		return nil, domain.ErrNotFound
	case !link.IsActive():
		return nil, domain.ErrGone
	case link.LimitReached():
		return nil, domain.ErrLimitExceeded
	}

	if !link.HasVisitor(visit.ClientID) {
		link.Stats.AccessedFrom = append(link.Stats.AccessedFrom, visit.ClientID)
		link.Stats.UniqueUsers++
	}
	link.Stats.AccessCount++
	at := visit.At
	link.Stats.LastAccessedAt = &at
	return link.Clone(), nil
}

func (r *MemoryRepository) UpdateAlias(ctx context.Context, code, alias string) (*domain.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	link, ok := r.links[code]
	if !ok || !link.IsActive() {
		return nil, domain.ErrNotFound
	}
	if owner, taken := r.idents[alias]; taken && owner != code {
		return nil, domain.ErrDuplicateAlias
	}

	if link.Alias != link.Code {
		delete(r.idents, link.Alias)
	}
	link.Alias = alias
	r.idents[alias] = code
	return link.Clone(), nil
}

func (r *MemoryRepository) UpdateRequestLimit(ctx context.Context, code string, limit int64) (*domain.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	link, ok := r.links[code]
	if !ok || !link.IsActive() {
		return nil, domain.ErrNotFound
	}
	if limit < link.Stats.AccessCount {
		return nil, domain.ErrInvalidState
	}
	link.RequestLimit = domain.Int64(limit)
	return link.Clone(), nil
}

func (r *MemoryRepository) Deactivate(ctx context.Context, code string) (*domain.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	link, ok := r.links[code]
	if !ok || !link.IsActive() {
		return nil, domain.ErrNotFound
	}
	link.Status = domain.StatusDeleted
	return link.Clone(), nil
}

func (r *MemoryRepository) ListActive(ctx context.Context) ([]domain.Link, error) {
	return r.list(ctx, true)
}

func (r *MemoryRepository) Dump(ctx context.Context) ([]domain.Link, error) {
	return r.list(ctx, false)
}

func (r *MemoryRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (r *MemoryRepository) Close() error {
	return nil
}

func (r *MemoryRepository) list(ctx context.Context, activeOnly bool) ([]domain.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	links := make([]domain.Link, 0, len(r.order))
	for _, code := range r.order {
		link := r.links[code]
		if activeOnly && !link.IsActive() {
			continue
		}
		links = append(links, *link.Clone())
	}
	return links, nil
}

func (r *MemoryRepository) lookup(identifier string) (*domain.Link, bool) {
	code, ok := r.idents[identifier]
	if !ok {
		return nil, false
	}
	return r.links[code], true
}

var _ ports.LinkRepository = (*MemoryRepository)(nil)
