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

// insertAttempts bounds retries when a pre-checked code is taken between the
// check and the insert.
const insertAttempts = 5

type LinkService struct {
	repo ports.LinkRepository
	gen  ports.CodeGenerator
	log  zerolog.Logger
	now  func() time.Time
}

func NewLinkService(repo ports.LinkRepository, gen ports.CodeGenerator, log zerolog.Logger) *LinkService {
	return &LinkService{
		repo: repo,
		gen:  gen,
		log:  log,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *LinkService) Create(ctx context.Context, in domain.CreateLinkInput) (*domain.Link, error) {
	longURL, err := validateURL(in.LongURL)
	if err != nil {
		return nil, err
	}
	if in.Alias != "" {
		if err := validateAlias(in.Alias); err != nil {
			return nil, err
		}
	}
	if in.RequestLimit != nil {
		if err := validateLimit(*in.RequestLimit); err != nil {
			return nil, err
		}
	}

	if in.Alias != "" {
		taken, err := s.repo.Exists(ctx, in.Alias)
		if err != nil {
			return nil, storeError("check alias", err)
		}
		if taken {
			return nil, fmt.Errorf("%w: %q", domain.ErrAlreadyExists, in.Alias)
		}
	}

	for attempt := 0; attempt < insertAttempts; attempt++ {
		code, err := s.gen.Generate(ctx)
		if err != nil {
			return nil, err
		}

		link := domain.NewLink(code, in.Alias, longURL, in.RequestLimit, s.now())
		err = s.repo.Insert(ctx, link)
		switch {
		case err == nil:
			s.log.Info().Str("code", link.Code).Str("alias", link.Alias).Msg("link created")
			return link, nil
		case errors.Is(err, domain.ErrDuplicateCode):
			s.log.Debug().Str("code", code).Msg("code taken at insert, regenerating")
			continue
		case errors.Is(err, domain.ErrDuplicateAlias):
			return nil, fmt.Errorf("%w: %q", domain.ErrAlreadyExists, in.Alias)
		default:
			s.log.Error().Err(err).Msg("insert link failed")
			return nil, storeError("insert link", err)
		}
	}
	return nil, domain.ErrCodeSpaceExhausted
}

func (s *LinkService) SetAlias(ctx context.Context, identifier, alias string) (*domain.Link, error) {
	if err := validateAlias(alias); err != nil {
		return nil, err
	}

	link, err := s.findActive(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if link.Alias == alias {
		return link, nil
	}

	updated, err := s.repo.UpdateAlias(ctx, link.Code, alias)
	switch {
	case err == nil:
		s.log.Info().Str("code", link.Code).Str("alias", alias).Msg("alias changed")
		return updated, nil
	case errors.Is(err, domain.ErrDuplicateAlias):
		return nil, fmt.Errorf("%w: %q", domain.ErrAlreadyExists, alias)
	case errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("%w: %q", domain.ErrNotFound, identifier)
	default:
		return nil, storeError("update alias", err)
	}
}

func (s *LinkService) SetRequestLimit(ctx context.Context, identifier string, limit int64) (*domain.Link, error) {
	if err := validateLimit(limit); err != nil {
		return nil, err
	}

	link, err := s.findActive(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if limit < link.Stats.AccessCount {
		return nil, fmt.Errorf("%w: limit %d, accessed %d times", domain.ErrInvalidState, limit, link.Stats.AccessCount)
	}

	updated, err := s.repo.UpdateRequestLimit(ctx, link.Code, limit)
	switch {
	case err == nil:
		return updated, nil
	case errors.Is(err, domain.ErrInvalidState):
		return nil, err
	case errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("%w: %q", domain.ErrNotFound, identifier)
	default:
		return nil, storeError("update request limit", err)
	}
}

func (s *LinkService) Delete(ctx context.Context, identifier string) error {
	link, err := s.findActive(ctx, identifier)
	if err != nil {
		return err
	}

	if _, err := s.repo.Deactivate(ctx, link.Code); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: %q", domain.ErrNotFound, identifier)
		}
		return storeError("deactivate link", err)
	}
	s.log.Info().Str("code", link.Code).Msg("link deleted")
	return nil
}

func (s *LinkService) ListStats(ctx context.Context) ([]domain.StatSummary, error) {
	links, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, storeError("list links", err)
	}

	stats := make([]domain.StatSummary, 0, len(links))
	for i := range links {
		stats = append(stats, links[i].Summary())
	}
	return stats, nil
}

// Lookup returns the link addressed by identifier whatever its status.
func (s *LinkService) Lookup(ctx context.Context, identifier string) (*domain.Link, error) {
	link, err := s.repo.FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: %q", domain.ErrNotFound, identifier)
		}
		return nil, storeError("find link", err)
	}
	return link, nil
}

func (s *LinkService) Ping(ctx context.Context) error {
	if err := s.repo.Ping(ctx); err != nil {
		return storeError("ping", err)
	}
	return nil
}

// findActive treats deleted links as missing.
func (s *LinkService) findActive(ctx context.Context, identifier string) (*domain.Link, error) {
	link, err := s.Lookup(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if !link.IsActive() {
		return nil, fmt.Errorf("%w: %q", domain.ErrNotFound, identifier)
	}
	return link, nil
}
