package services

import (
	"fmt"
	"time"

	"github.com/wadjakorntonsri/linktally/pkg/core/domain"
)

// PrepareImport checks a link read from an export file against the rules
// Create enforces and repairs its stats so UniqueUsers matches the visitor
// set. The link is modified in place and is ready for LinkRepository.Insert.
func PrepareImport(link *domain.Link, now time.Time) error {
	if !IsValidCode(link.Code) || IsReserved(link.Code) {
		return fmt.Errorf("%w: invalid code %q", domain.ErrInvalidInput, link.Code)
	}
	longURL, err := validateURL(link.LongURL)
	if err != nil {
		return err
	}
	if link.Alias == "" {
		link.Alias = link.Code
	}
	if link.Alias != link.Code {
		if err := validateAlias(link.Alias); err != nil {
			return err
		}
	}
	if link.RequestLimit != nil {
		if err := validateLimit(*link.RequestLimit); err != nil {
			return err
		}
	}

	switch link.Status {
	case "":
		link.Status = domain.StatusActive
	case domain.StatusActive, domain.StatusDeleted:
	default:
		return fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, link.Status)
	}

	link.ID = 0
	link.LongURL = longURL
	if link.CreatedAt.IsZero() {
		link.CreatedAt = now
	}

	seen := make(map[string]struct{}, len(link.Stats.AccessedFrom))
	from := make([]string, 0, len(link.Stats.AccessedFrom))
	for _, client := range link.Stats.AccessedFrom {
		if _, dup := seen[client]; dup || client == "" {
			continue
		}
		seen[client] = struct{}{}
		from = append(from, client)
	}
	link.Stats.AccessedFrom = from
	link.Stats.UniqueUsers = int64(len(from))
	if link.Stats.AccessCount < link.Stats.UniqueUsers {
		link.Stats.AccessCount = link.Stats.UniqueUsers
	}
	return nil
}
