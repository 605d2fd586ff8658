package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("link not found")
	ErrAlreadyExists = errors.New("alias already exists")
	ErrLimitExceeded = errors.New("request limit exceeded")
	ErrInvalidState  = errors.New("request limit is below the consumed access count")
	ErrInvalidInput  = errors.New("invalid input")
	ErrUnavailable   = errors.New("store unavailable")

	// ErrGone is also an ErrNotFound: deleted links are unresolvable.
	ErrGone = fmt.Errorf("%w: link has been deleted", ErrNotFound)

	// Store-level uniqueness violations.
	ErrDuplicateCode  = errors.New("duplicate code")
	ErrDuplicateAlias = errors.New("duplicate alias")

	ErrCodeSpaceExhausted = fmt.Errorf("%w: no free code within the configured length", ErrUnavailable)
)
