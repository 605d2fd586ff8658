package ports

import (
	"context"

	"github.com/wadjakorntonsri/linktally/pkg/core/domain"
)

// LinkRepository defines storage operations for links.
//
// Every mutating method is a single atomic operation against the backing
// store. Lookups by identifier match either the code or the alias. Methods
// return domain.ErrNotFound when no link matches.
type LinkRepository interface {
	FindByIdentifier(ctx context.Context, identifier string) (*domain.Link, error)
	// Exists reports whether identifier is held by any link as code or alias,
	// regardless of status.
	Exists(ctx context.Context, identifier string) (bool, error)
	// Insert stores a new link if neither its code nor its alias is taken.
	// Fails with domain.ErrDuplicateCode or domain.ErrDuplicateAlias.
	Insert(ctx context.Context, link *domain.Link) error

	// RecordVisit re-checks that the link is active and under its limit, adds
	// the client to the visitor set, bumps unique_users only if that add was
	// new, bumps access_count and stamps last_accessed_at. Fails with
	// domain.ErrGone or domain.ErrLimitExceeded without mutating anything.
	RecordVisit(ctx context.Context, visit domain.Visit) (*domain.Link, error)

	// The following only touch active links; a deleted link is ErrNotFound.
	UpdateAlias(ctx context.Context, code, alias string) (*domain.Link, error)
	// UpdateRequestLimit fails with domain.ErrInvalidState when limit is below
	// the current access count.
	UpdateRequestLimit(ctx context.Context, code string, limit int64) (*domain.Link, error)
	Deactivate(ctx context.Context, code string) (*domain.Link, error)

	ListActive(ctx context.Context) ([]domain.Link, error)
	Dump(ctx context.Context) ([]domain.Link, error) // For migration

	Ping(ctx context.Context) error
	Close() error
}

// CodeGenerator produces codes that were free at the time of the check.
type CodeGenerator interface {
	Generate(ctx context.Context) (string, error)
}

// LinkService defines the registry operations
type LinkService interface {
	Create(ctx context.Context, in domain.CreateLinkInput) (*domain.Link, error)
	SetAlias(ctx context.Context, identifier, alias string) (*domain.Link, error)
	SetRequestLimit(ctx context.Context, identifier string, limit int64) (*domain.Link, error)
	Delete(ctx context.Context, identifier string) error
	ListStats(ctx context.Context) ([]domain.StatSummary, error)
	Lookup(ctx context.Context, identifier string) (*domain.Link, error)
	Ping(ctx context.Context) error
}

// Redirector resolves identifiers on the hot path
type Redirector interface {
	Redirect(ctx context.Context, identifier, clientID string) (string, error)
}
