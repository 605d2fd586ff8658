package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/wadjakorntonsri/linktally/pkg/core/domain"
	"github.com/wadjakorntonsri/linktally/pkg/ports"
)

// RedirectService resolves identifiers and records visits. It holds no state
// besides the repository handle, so it is safe for concurrent use.
type RedirectService struct {
	repo ports.LinkRepository
	log  zerolog.Logger
	now  func() time.Time
}

func NewRedirectService(repo ports.LinkRepository, log zerolog.Logger) *RedirectService {
	return &RedirectService{
		repo: repo,
		log:  log,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Redirect returns the target of identifier and counts the visit.
//
// The read below only fails fast; the repository re-validates status and
// limit inside the same atomic update that records the visit, and it alone
// decides whether clientID is a new visitor.
func (s *RedirectService) Redirect(ctx context.Context, identifier, clientID string) (string, error) {
	link, err := s.repo.FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("%w: %q", domain.ErrNotFound, identifier)
		}
		return "", storeError("find link", err)
	}
	if !link.IsActive() {
		return "", domain.ErrGone
	}
	if link.LimitReached() {
		return "", domain.ErrLimitExceeded
	}

	if link.HasVisitor(clientID) {
		s.log.Debug().Str("code", link.Code).Str("client", clientID).Msg("returning visitor")
	}

	updated, err := s.repo.RecordVisit(ctx, domain.Visit{
		Identifier: identifier,
		ClientID:   clientID,
		At:         s.now(),
	})
	switch {
	case err == nil:
		return updated.LongURL, nil
	case errors.Is(err, domain.ErrGone), errors.Is(err, domain.ErrLimitExceeded):
		return "", err
	case errors.Is(err, domain.ErrNotFound):
		return "", fmt.Errorf("%w: %q", domain.ErrNotFound, identifier)
	default:
		s.log.Error().Err(err).Str("identifier", identifier).Msg("record visit failed")
		return "", storeError("record visit", err)
	}
}
