package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/wadjakorntonsri/linktally/pkg/core/domain"
)

const (
	maxURLLength   = 2048
	maxAliasLength = 64
)

var aliasRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// reserved identifiers collide with fixed top-level routes and would never
// redirect.
var reserved = map[string]struct{}{
	"healthz": {},
	"metrics": {},
	"urls":    {},
}

// IsReserved reports whether identifier is shadowed by a fixed route.
func IsReserved(identifier string) bool {
	_, ok := reserved[identifier]
	return ok
}

func validateURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxURLLength {
		return "", fmt.Errorf("%w: url must be 1..%d characters", domain.ErrInvalidInput, maxURLLength)
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("%w: url scheme must be http or https", domain.ErrInvalidInput)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("%w: url host is required", domain.ErrInvalidInput)
	}
	return parsed.String(), nil
}

func validateAlias(alias string) error {
	if alias == "" || len(alias) > maxAliasLength || !aliasRe.MatchString(alias) {
		return fmt.Errorf("%w: alias must be 1..%d characters of [A-Za-z0-9_-]", domain.ErrInvalidInput, maxAliasLength)
	}
	if IsReserved(alias) {
		return fmt.Errorf("%w: alias %q is reserved", domain.ErrInvalidInput, alias)
	}
	return nil
}

func validateLimit(limit int64) error {
	if limit < 1 {
		return fmt.Errorf("%w: request limit must be at least 1", domain.ErrInvalidInput)
	}
	return nil
}

// storeError maps caller timeouts to ErrUnavailable and annotates the rest.
func storeError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w: %v", op, domain.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
